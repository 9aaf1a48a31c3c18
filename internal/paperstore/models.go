package paperstore

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested paper does not exist.
var ErrNotFound = errors.New("paper not found")

// Status is a paper's processing state. Papers enter as StatusNew and are
// moved to StatusProcessed or StatusFailed by the processor; nothing else
// mutates them.
type Status string

const (
	StatusNew       Status = "new"
	StatusProcessed Status = "processed"
	StatusFailed    Status = "failed"
)

// Paper is the persisted unit of ingestion. The JSON form of this struct is
// the canonical metadata file and doubles as the dedup key: a paper id with
// a metadata file present is never downloaded again.
type Paper struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Authors      []string  `json:"authors"`
	Abstract     string    `json:"abstract"`
	Categories   []string  `json:"categories"`
	SourceType   string    `json:"source_type"`
	InstanceName string    `json:"instance_name"`
	DownloadedAt time.Time `json:"downloaded_at"`
	Status       Status    `json:"status"`
}

// ProcessingResult records one successful processing outcome, one file per
// paper, append-only.
type ProcessingResult struct {
	RunID       string    `json:"run_id"`
	PaperID     string    `json:"paper_id"`
	Chunks      int       `json:"chunks"`
	Embeddings  int       `json:"embeddings"`
	CompletedAt time.Time `json:"completed_at"`
}

// ErrorRecord records one categorized per-paper failure. The category is
// preserved so an operator (or the orchestration layer) can decide whether a
// reprocess run is worthwhile; nothing in the core retries automatically.
type ErrorRecord struct {
	RunID      string    `json:"run_id"`
	PaperID    string    `json:"paper_id"`
	Category   string    `json:"category"`
	Message    string    `json:"message"`
	OccurredAt time.Time `json:"occurred_at"`
}
