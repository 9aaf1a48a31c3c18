// Package vectorstore owns one vector collection per instance and serves
// scoped and merged similarity search over them.
package vectorstore

import "errors"

// ErrUnknownInstance is returned when an operation names an instance no
// profile was registered for.
var ErrUnknownInstance = errors.New("unknown instance")

// ErrInstanceMismatch is returned when a document's metadata names a
// different instance than the collection it is being written to.
var ErrInstanceMismatch = errors.New("document instance does not match target collection")

// ErrNotFound is returned when a single-document mutation misses.
var ErrNotFound = errors.New("document not found")

// Metadata is the per-chunk payload stored beside each embedding. It is
// inherited from the paper, plus the chunk's own ordinal and length.
type Metadata struct {
	PaperID      string   `json:"paper_id"`
	ChunkIndex   int      `json:"chunk_index"`
	Title        string   `json:"title"`
	Authors      []string `json:"authors"`
	SourceType   string   `json:"source_type"`
	InstanceName string   `json:"instance_name"`
	Category     string   `json:"category"`
	ChunkLength  int      `json:"chunk_length"`
}

// Document is one indexed chunk: id = chunk id, a fixed-dimensionality
// embedding, the chunk text, and the metadata map.
type Document struct {
	ID        string
	Embedding []float32
	Text      string
	Metadata  Metadata
}

// ScoredDocument is a Document with its similarity score.
type ScoredDocument struct {
	Document
	Score float32
}

// Store is the collection-level storage backend. The SQLite implementation
// is the default; the interface keeps a server-backed vector database
// swappable without touching the service layer.
type Store interface {
	// CreateCollection ensures the named collection exists. Idempotent.
	CreateCollection(name string) error

	// Upsert writes documents into the collection. An existing id is
	// replaced, not duplicated.
	Upsert(collection string, docs []Document) error

	// Delete removes one document by id. Returns ErrNotFound on a miss.
	Delete(collection, id string) error

	// Search returns the limit nearest documents by cosine similarity,
	// best first.
	Search(collection string, vector []float32, limit int) ([]ScoredDocument, error)

	// Count returns the number of documents in the collection.
	Count(collection string) (int, error)
}
