package vectorstore

import (
	"container/heap"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLiteStore implements Store.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore keeps one table per collection and answers similarity queries
// by brute-force cosine scan. Collections here are small enough (tens of
// thousands of chunks per instance) that a linear scan with a top-K heap
// stays well under interactive latency; an ANN-indexed backend can replace
// this behind the Store interface if that stops being true.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the vector database in dataDir. Pass ":memory:"
// as dataDir for an in-memory database (used by tests).
func Open(dataDir string) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "vectors.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging vector database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// tableName maps a collection to its backing table. Collection names come
// from validated profiles, but sanitizing here keeps identifiers safe even
// for a store opened against a hand-edited config.
func tableName(collection string) (string, error) {
	if collection == "" {
		return "", fmt.Errorf("collection name is required")
	}
	var b strings.Builder
	for _, r := range strings.ToLower(collection) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return "vectors_" + b.String(), nil
}

// CreateCollection ensures the collection's table exists. Idempotent.
func (s *SQLiteStore) CreateCollection(name string) error {
	table, err := tableName(name)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		embedding BLOB NOT NULL,
		text TEXT NOT NULL,
		metadata TEXT NOT NULL
	)`, table))
	if err != nil {
		return fmt.Errorf("creating collection %s: %w", name, err)
	}
	return nil
}

// Upsert writes documents into the collection inside one transaction.
// INSERT OR REPLACE makes re-adding an existing id an update.
func (s *SQLiteStore) Upsert(collection string, docs []Document) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning upsert transaction: %w", err)
	}

	stmt, err := tx.Prepare(fmt.Sprintf(
		`INSERT OR REPLACE INTO %s (id, embedding, text, metadata) VALUES (?, ?, ?, ?)`, table))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("preparing upsert statement: %w", err)
	}
	defer stmt.Close()

	for _, d := range docs {
		meta, err := json.Marshal(d.Metadata)
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("marshaling metadata for %s: %w", d.ID, err)
		}
		if _, err := stmt.Exec(d.ID, encodeFloat32s(d.Embedding), d.Text, string(meta)); err != nil {
			tx.Rollback()
			return fmt.Errorf("upserting document %s: %w", d.ID, err)
		}
	}

	return tx.Commit()
}

// Delete removes one document by id.
func (s *SQLiteStore) Delete(collection, id string) error {
	table, err := tableName(collection)
	if err != nil {
		return err
	}
	res, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s WHERE id = ?", table), id)
	if err != nil {
		return fmt.Errorf("deleting document %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	return nil
}

// idScore holds only the id and score during the scan phase of Search.
// Full documents are fetched only for the top-K winners.
type idScore struct {
	ID    string
	Score float32
}

// Search performs a brute-force cosine scan over the collection.
func (s *SQLiteStore) Search(collection string, vector []float32, limit int) ([]ScoredDocument, error) {
	table, err := tableName(collection)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.db.Query(fmt.Sprintf("SELECT id, embedding FROM %s", table))
	if err != nil {
		return nil, fmt.Errorf("scanning collection %s: %w", collection, err)
	}
	defer rows.Close()

	queryNorm := norm(vector)
	if queryNorm == 0 {
		return nil, nil
	}

	h := &idScoreHeap{}
	heap.Init(h)

	// Reusable buffer for decoding embeddings to avoid per-row allocations.
	var buf []float32

	for rows.Next() {
		var id string
		var blob []byte
		if err := rows.Scan(&id, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}

		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for %s: %w", id, err)
		}

		score := cosine(vector, buf, queryNorm)
		if h.Len() < limit {
			heap.Push(h, idScore{ID: id, Score: score})
		} else if score > (*h)[0].Score {
			(*h)[0] = idScore{ID: id, Score: score}
			heap.Fix(h, 0)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	if h.Len() == 0 {
		return nil, nil
	}

	// Fetch full documents only for the winners.
	ids := make([]string, h.Len())
	scores := make(map[string]float32, h.Len())
	for i := len(ids) - 1; i >= 0; i-- {
		item := heap.Pop(h).(idScore)
		ids[i] = item.ID
		scores[item.ID] = item.Score
	}

	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := fmt.Sprintf("SELECT id, embedding, text, metadata FROM %s WHERE id IN (?%s)",
		table, strings.Repeat(",?", len(ids)-1))

	fullRows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetching top documents: %w", err)
	}
	defer fullRows.Close()

	var results []ScoredDocument
	for fullRows.Next() {
		doc, err := scanDocument(fullRows)
		if err != nil {
			return nil, err
		}
		results = append(results, ScoredDocument{Document: doc, Score: scores[doc.ID]})
	}
	if err := fullRows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	// The IN query does not preserve score order.
	sortByScore(results)
	return results, nil
}

func scanDocument(rows *sql.Rows) (Document, error) {
	var d Document
	var blob []byte
	var meta string
	if err := rows.Scan(&d.ID, &blob, &d.Text, &meta); err != nil {
		return Document{}, fmt.Errorf("scanning document: %w", err)
	}
	embedding, err := decodeFloat32s(blob)
	if err != nil {
		return Document{}, fmt.Errorf("decoding embedding for %s: %w", d.ID, err)
	}
	d.Embedding = embedding
	if err := json.Unmarshal([]byte(meta), &d.Metadata); err != nil {
		return Document{}, fmt.Errorf("parsing metadata for %s: %w", d.ID, err)
	}
	return d, nil
}

// sortByScore sorts by score descending. Result sets are top-K sized, so
// insertion sort is fine.
func sortByScore(results []ScoredDocument) {
	for i := 1; i < len(results); i++ {
		for j := i; j > 0 && results[j].Score > results[j-1].Score; j-- {
			results[j], results[j-1] = results[j-1], results[j]
		}
	}
}

// Count returns the number of documents in the collection.
func (s *SQLiteStore) Count(collection string) (int, error) {
	table, err := tableName(collection)
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count)
	return count, err
}

// encodeFloat32s serializes a float32 slice to little-endian bytes.
func encodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decodeFloat32s deserializes little-endian bytes into a new float32 slice.
func decodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// decodeFloat32sInto decodes into the provided buffer, reusing it across
// rows during search scans.
func decodeFloat32sInto(buf []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, fmt.Errorf("byte slice length %d is not a multiple of 4", len(b))
	}
	n := len(b) / 4
	if cap(buf) < n {
		buf = make([]float32, n)
	} else {
		buf = buf[:n]
	}
	for i := range buf {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return buf, nil
}

// norm returns the L2 norm of a vector.
func norm(v []float32) float32 {
	var sum float64
	for _, f := range v {
		sum += float64(f) * float64(f)
	}
	return float32(math.Sqrt(sum))
}

// cosine computes dot(a,b) / (aNorm * bNorm) with aNorm precomputed.
func cosine(a, b []float32, aNorm float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, bNormSq float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		bNormSq += float64(b[i]) * float64(b[i])
	}
	bNorm := math.Sqrt(bNormSq)
	if bNorm == 0 {
		return 0
	}
	return float32(dot / (float64(aNorm) * bNorm))
}

// idScoreHeap is a min-heap of idScore ordered by Score, tracking top-K
// candidates during the scan phase.
type idScoreHeap []idScore

func (h idScoreHeap) Len() int           { return len(h) }
func (h idScoreHeap) Less(i, j int) bool { return h[i].Score < h[j].Score }
func (h idScoreHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *idScoreHeap) Push(x any)        { *h = append(*h, x.(idScore)) }
func (h *idScoreHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}
