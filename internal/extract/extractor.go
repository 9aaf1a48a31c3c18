// Package extract turns a paper's raw content into plain text. Extractors
// are selected by source type; unknown tags fall back to the abstract
// extractor so a paper with readable metadata always yields something to
// index.
package extract

import (
	"strings"

	"github.com/paperbase/paperbase/internal/paperstore"
)

// Extractor produces indexable text from raw content plus the paper's
// metadata.
type Extractor interface {
	Extract(raw []byte, meta paperstore.Paper) (string, error)
}

// Registry maps source types to extractors.
type Registry struct {
	byType   map[string]Extractor
	fallback Extractor
}

// NewRegistry creates a registry with PDF extraction for the built-in
// sources and the abstract extractor as fallback.
func NewRegistry() *Registry {
	pdf := &PDFExtractor{}
	return &Registry{
		byType: map[string]Extractor{
			"arxiv": pdf,
			"mdpi":  pdf,
		},
		fallback: &AbstractExtractor{},
	}
}

// Register binds an extractor to a source type, replacing any previous
// binding.
func (r *Registry) Register(sourceType string, e Extractor) {
	r.byType[sourceType] = e
}

// ForSourceType returns the extractor for the tag, or the fallback for
// unknown tags.
func (r *Registry) ForSourceType(tag string) Extractor {
	if e, ok := r.byType[tag]; ok {
		return e
	}
	return r.fallback
}

// AbstractExtractor builds text from the paper's own metadata. It is the
// fallback for unknown source types and the placeholder path when raw
// content is unreadable by design.
type AbstractExtractor struct{}

func (e *AbstractExtractor) Extract(_ []byte, meta paperstore.Paper) (string, error) {
	parts := make([]string, 0, 3)
	if meta.Title != "" {
		parts = append(parts, meta.Title)
	}
	if len(meta.Authors) > 0 {
		parts = append(parts, strings.Join(meta.Authors, ", "))
	}
	if meta.Abstract != "" {
		parts = append(parts, meta.Abstract)
	}
	return strings.Join(parts, "\n\n"), nil
}
