// Package process turns pending papers into indexed vector-store documents:
// extract text, split into overlapping chunks, embed, write. Papers run
// under a bounded-concurrency pool with per-paper failure isolation; one bad
// paper never takes down a run.
package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/paperbase/paperbase/internal/chunk"
	"github.com/paperbase/paperbase/internal/embed"
	"github.com/paperbase/paperbase/internal/extract"
	"github.com/paperbase/paperbase/internal/instance"
	"github.com/paperbase/paperbase/internal/paperstore"
	"github.com/paperbase/paperbase/internal/vectorstore"
)

// Options is the per-run parameter surface. Zero values fall back to the
// instance profile's limits.
type Options struct {
	// PaperIDs restricts the run to explicit papers. Empty means all pending.
	PaperIDs []string
	// Sources restricts the run to papers from the given source types.
	Sources []string
	// Reprocess treats already-processed and failed papers as pending again.
	Reprocess bool
	// StatusOnly reports counts without performing any work.
	StatusOnly bool
	// BatchSize overrides the profile's batch size when positive.
	BatchSize int
	// MaxConcurrent overrides the profile's concurrency limit when positive.
	MaxConcurrent int
}

// SourceStats is the per-source-type slice of a run's outcome.
type SourceStats struct {
	Processed int
	Failed    int
}

// Stats aggregates one processing run. Aggregation is keyed by paper id and
// commutative, so the order papers finish in within a batch does not matter.
type Stats struct {
	Processed           int
	Failed              int
	Skipped             int
	ChunksCreated       int
	EmbeddingsGenerated int
	BySource            map[string]SourceStats
}

// Processor drives the chunk/embed/index pipeline for one instance.
type Processor struct {
	profile    instance.Profile
	store      *paperstore.Store
	extractors *extract.Registry
	provider   embed.Provider
	vectors    *vectorstore.Service
	logger     *slog.Logger
}

// New creates a Processor with its collaborators passed in explicitly.
func New(
	profile instance.Profile,
	store *paperstore.Store,
	extractors *extract.Registry,
	provider embed.Provider,
	vectors *vectorstore.Service,
	logger *slog.Logger,
) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		profile:    profile,
		store:      store,
		extractors: extractors,
		provider:   provider,
		vectors:    vectors,
		logger:     logger.With("instance", profile.Name),
	}
}

// outcome is the explicit per-paper result crossing the concurrency
// boundary. No errors propagate through the pool; the aggregator reads
// outcomes and decides what to persist.
type outcome struct {
	paperID    string
	sourceType string
	kind       outcomeKind
	category   string // failure category when kind == outcomeFailed
	err        error
	chunks     int
	embeddings int
	documents  []vectorstore.Document
}

type outcomeKind int

const (
	outcomeProcessed outcomeKind = iota
	outcomeSkipped
	outcomeFailed
)

// ProcessPending runs the pipeline over pending papers in fixed-size
// batches. Batches run sequentially; within a batch at most maxConcurrent
// papers are in flight at once.
func (p *Processor) ProcessPending(ctx context.Context, opts Options) (Stats, error) {
	batchSize := opts.BatchSize
	if batchSize <= 0 {
		batchSize = p.profile.BatchSize
	}
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = p.profile.MaxConcurrent
	}

	stats := Stats{BySource: make(map[string]SourceStats)}

	pending, skipped, err := p.selectPending(opts)
	if err != nil {
		return stats, err
	}
	stats.Skipped = skipped

	if opts.StatusOnly {
		stats.Skipped += len(pending)
		return stats, nil
	}

	runID := uuid.New().String()
	p.logger.Info("processing run starting",
		"run_id", runID, "pending", len(pending),
		"batch_size", batchSize, "max_concurrent", maxConcurrent)

	splitter := chunk.Splitter{Size: p.profile.ChunkSize, Overlap: p.profile.ChunkOverlap}

	for start := 0; start < len(pending); start += batchSize {
		end := start + batchSize
		if end > len(pending) {
			end = len(pending)
		}
		batch := pending[start:end]

		outcomes := make([]outcome, len(batch))
		g, gCtx := errgroup.WithContext(ctx)
		g.SetLimit(maxConcurrent)
		for i, paper := range batch {
			i, paper := i, paper
			g.Go(func() error {
				outcomes[i] = p.processOne(gCtx, splitter, paper)
				return nil
			})
		}
		// Workers never return errors; Wait is a pure barrier so the whole
		// batch lands before aggregation.
		_ = g.Wait()

		for _, o := range outcomes {
			p.apply(runID, o, &stats)
		}
	}

	p.logger.Info("processing run complete",
		"run_id", runID,
		"processed", stats.Processed, "failed", stats.Failed, "skipped", stats.Skipped,
		"chunks", stats.ChunksCreated, "embeddings", stats.EmbeddingsGenerated)
	return stats, nil
}

// selectPending picks the papers this run will touch and counts the ones
// skipped for already being processed (or failed, absent the reprocess
// flag). Explicit paper ids with no metadata record get a synthesized
// placeholder rather than failing the selection.
func (p *Processor) selectPending(opts Options) ([]paperstore.Paper, int, error) {
	var candidates []paperstore.Paper
	if len(opts.PaperIDs) > 0 {
		for _, id := range opts.PaperIDs {
			paper, err := p.store.Load(id)
			if errors.Is(err, paperstore.ErrNotFound) {
				paper = paperstore.Paper{
					ID:           id,
					InstanceName: p.profile.Name,
					Status:       paperstore.StatusNew,
				}
			} else if err != nil {
				return nil, 0, err
			}
			candidates = append(candidates, paper)
		}
	} else {
		all, err := p.store.List()
		if err != nil {
			return nil, 0, err
		}
		candidates = all
	}

	if len(opts.Sources) > 0 {
		allowed := make(map[string]bool, len(opts.Sources))
		for _, s := range opts.Sources {
			allowed[s] = true
		}
		filtered := candidates[:0]
		for _, paper := range candidates {
			if allowed[paper.SourceType] {
				filtered = append(filtered, paper)
			}
		}
		candidates = filtered
	}

	var pending []paperstore.Paper
	skipped := 0
	for _, paper := range candidates {
		if paper.Status != paperstore.StatusNew && !opts.Reprocess {
			skipped++
			continue
		}
		pending = append(pending, paper)
	}
	return pending, skipped, nil
}

// processOne executes the extract/chunk/embed steps for one paper. Vector
// writes and record keeping happen in the aggregator; this function only
// builds the documents, so the store sees a single writer.
func (p *Processor) processOne(ctx context.Context, splitter chunk.Splitter, paper paperstore.Paper) outcome {
	o := outcome{paperID: paper.ID, sourceType: paper.SourceType}

	raw, err := p.store.RawContent(paper.ID)
	if err != nil && !errors.Is(err, paperstore.ErrNotFound) {
		return o.fail("metadata", fmt.Errorf("loading raw content: %w", err))
	}

	extractor := p.extractors.ForSourceType(paper.SourceType)
	text, err := extractor.Extract(raw, paper)
	if err != nil {
		return o.fail("extraction", err)
	}

	chunks := splitter.Split(paper.ID, text)
	if len(chunks) == 0 {
		o.kind = outcomeSkipped
		return o
	}

	docs := make([]vectorstore.Document, 0, len(chunks))
	for _, c := range chunks {
		vec, err := p.provider.Embed(ctx, c.Text)
		if err != nil {
			return o.fail("embedding", fmt.Errorf("chunk %d: %w", c.Index, err))
		}
		docs = append(docs, vectorstore.Document{
			ID:        c.ID(),
			Embedding: embed.Normalize(vec, p.profile.EmbeddingDim),
			Text:      c.Text,
			Metadata: vectorstore.Metadata{
				PaperID:      paper.ID,
				ChunkIndex:   c.Index,
				Title:        paper.Title,
				Authors:      paper.Authors,
				SourceType:   paper.SourceType,
				InstanceName: p.profile.Name,
				Category:     firstCategory(paper.Categories),
				ChunkLength:  c.Length,
			},
		})
	}

	o.kind = outcomeProcessed
	o.chunks = len(chunks)
	o.embeddings = len(docs)
	o.documents = docs
	return o
}

func (o outcome) fail(category string, err error) outcome {
	o.kind = outcomeFailed
	o.category = category
	o.err = err
	return o
}

// apply folds one outcome into the stats and persists its records. All
// store and vector writes happen here, after the batch barrier.
func (p *Processor) apply(runID string, o outcome, stats *Stats) {
	switch o.kind {
	case outcomeSkipped:
		stats.Skipped++
		return

	case outcomeProcessed:
		if err := p.vectors.AddDocuments(p.profile.Name, o.documents); err != nil {
			o = o.fail("store", err)
			break
		}
		stats.Processed++
		stats.ChunksCreated += o.chunks
		stats.EmbeddingsGenerated += o.embeddings
		bySource := stats.BySource[o.sourceType]
		bySource.Processed++
		stats.BySource[o.sourceType] = bySource

		result := paperstore.ProcessingResult{
			RunID:       runID,
			PaperID:     o.paperID,
			Chunks:      o.chunks,
			Embeddings:  o.embeddings,
			CompletedAt: time.Now().UTC(),
		}
		if err := p.store.WriteResult(result); err != nil {
			p.logger.Error("failed to write result record", "paper_id", o.paperID, "error", err)
		}
		if err := p.store.SetStatus(o.paperID, paperstore.StatusProcessed); err != nil &&
			!errors.Is(err, paperstore.ErrNotFound) {
			p.logger.Error("failed to update status", "paper_id", o.paperID, "error", err)
		}
		return
	}

	// Failure path, including store-write failures demoted above.
	stats.Failed++
	bySource := stats.BySource[o.sourceType]
	bySource.Failed++
	stats.BySource[o.sourceType] = bySource

	p.logger.Warn("paper processing failed",
		"paper_id", o.paperID, "category", o.category, "error", o.err)

	rec := paperstore.ErrorRecord{
		RunID:      runID,
		PaperID:    o.paperID,
		Category:   o.category,
		Message:    o.err.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if err := p.store.WriteErrorRecord(rec); err != nil {
		p.logger.Error("failed to write error record", "paper_id", o.paperID, "error", err)
	}
	if err := p.store.SetStatus(o.paperID, paperstore.StatusFailed); err != nil &&
		!errors.Is(err, paperstore.ErrNotFound) {
		p.logger.Error("failed to update status", "paper_id", o.paperID, "error", err)
	}
}

func firstCategory(categories []string) string {
	if len(categories) == 0 {
		return ""
	}
	return categories[0]
}
