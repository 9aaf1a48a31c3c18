// Package paperstore persists ingested papers under an instance's storage
// root:
//
//	papers/<paper_id>.pdf          raw content
//	papers/<paper_id>.json         optional embedded source metadata
//	metadata/<paper_id>.json       canonical metadata (dedup key)
//	processed/<paper_id>.json      ProcessingResult on success
//	errors/<paper_id>_error.json   ErrorRecord on failure
//
// One store serves exactly one instance; isolation across instances comes
// from each instance owning its own storage root.
package paperstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/paperbase/paperbase/internal/instance"
)

// Store is the filesystem-backed paper store for one instance.
type Store struct {
	profile instance.Profile
}

// New creates the store and its directory layout.
func New(profile instance.Profile) (*Store, error) {
	for _, dir := range []string{
		profile.PapersDir(),
		profile.MetadataDir(),
		profile.ProcessedDir(),
		profile.ErrorsDir(),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	return &Store{profile: profile}, nil
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.profile.MetadataDir(), id+".json")
}

func (s *Store) rawPath(id string) string {
	return filepath.Join(s.profile.PapersDir(), id+".pdf")
}

// Has reports whether a paper id has already been ingested. This probe is
// the sole dedup check, independent of which source produced the id.
func (s *Store) Has(id string) bool {
	_, err := os.Stat(s.metadataPath(id))
	return err == nil
}

// Save persists raw content and canonical metadata for a new paper.
// embeddedMeta, if non-nil, is written beside the PDF as
// papers/<id>.json (the source record snapshot as discovered at the origin).
func (s *Store) Save(p Paper, raw, embeddedMeta []byte) error {
	if p.ID == "" {
		return fmt.Errorf("paper id is required")
	}
	if err := os.WriteFile(s.rawPath(p.ID), raw, 0o644); err != nil {
		return fmt.Errorf("writing raw content for %s: %w", p.ID, err)
	}
	if embeddedMeta != nil {
		path := filepath.Join(s.profile.PapersDir(), p.ID+".json")
		if err := os.WriteFile(path, embeddedMeta, 0o644); err != nil {
			return fmt.Errorf("writing embedded metadata for %s: %w", p.ID, err)
		}
	}
	return s.writeMetadata(p)
}

func (s *Store) writeMetadata(p Paper) error {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling metadata for %s: %w", p.ID, err)
	}
	if err := os.WriteFile(s.metadataPath(p.ID), data, 0o644); err != nil {
		return fmt.Errorf("writing metadata for %s: %w", p.ID, err)
	}
	return nil
}

// Load reads a paper's canonical metadata. Returns ErrNotFound if the paper
// was never ingested.
func (s *Store) Load(id string) (Paper, error) {
	data, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return Paper{}, ErrNotFound
		}
		return Paper{}, fmt.Errorf("reading metadata for %s: %w", id, err)
	}
	var p Paper
	if err := json.Unmarshal(data, &p); err != nil {
		return Paper{}, fmt.Errorf("parsing metadata for %s: %w", id, err)
	}
	return p, nil
}

// RawContent reads the paper's raw content file.
func (s *Store) RawContent(id string) ([]byte, error) {
	data, err := os.ReadFile(s.rawPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("reading raw content for %s: %w", id, err)
	}
	return data, nil
}

// List returns all papers in the store, in directory order.
func (s *Store) List() ([]Paper, error) {
	entries, err := os.ReadDir(s.profile.MetadataDir())
	if err != nil {
		return nil, fmt.Errorf("reading metadata directory: %w", err)
	}

	var papers []Paper
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		p, err := s.Load(strings.TrimSuffix(e.Name(), ".json"))
		if err != nil {
			return nil, err
		}
		papers = append(papers, p)
	}
	return papers, nil
}

// SetStatus rewrites the paper's metadata with the new processing status.
func (s *Store) SetStatus(id string, status Status) error {
	p, err := s.Load(id)
	if err != nil {
		return err
	}
	p.Status = status
	return s.writeMetadata(p)
}

// WriteResult records a successful processing outcome.
func (s *Store) WriteResult(r ProcessingResult) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling result for %s: %w", r.PaperID, err)
	}
	path := filepath.Join(s.profile.ProcessedDir(), r.PaperID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing result for %s: %w", r.PaperID, err)
	}
	return nil
}

// WriteErrorRecord records a categorized per-paper failure.
func (s *Store) WriteErrorRecord(rec ErrorRecord) error {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling error record for %s: %w", rec.PaperID, err)
	}
	path := filepath.Join(s.profile.ErrorsDir(), rec.PaperID+"_error.json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing error record for %s: %w", rec.PaperID, err)
	}
	return nil
}

// LoadErrorRecord reads the error record for a paper, if any.
func (s *Store) LoadErrorRecord(id string) (ErrorRecord, error) {
	path := filepath.Join(s.profile.ErrorsDir(), id+"_error.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return ErrorRecord{}, ErrNotFound
		}
		return ErrorRecord{}, fmt.Errorf("reading error record for %s: %w", id, err)
	}
	var rec ErrorRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return ErrorRecord{}, fmt.Errorf("parsing error record for %s: %w", id, err)
	}
	return rec, nil
}

// StatusCounts tallies papers by processing status. Used by status-only runs
// to report without performing work.
func (s *Store) StatusCounts() (map[Status]int, error) {
	papers, err := s.List()
	if err != nil {
		return nil, err
	}
	counts := make(map[Status]int)
	for _, p := range papers {
		counts[p.Status]++
	}
	return counts, nil
}
