// Package download orchestrates the source handlers for one instance:
// listing recent items, filtering them through the instance's category
// predicate, suppressing duplicates against the metadata index, and
// persisting what remains.
package download

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/paperbase/paperbase/internal/instance"
	"github.com/paperbase/paperbase/internal/paperstore"
	"github.com/paperbase/paperbase/internal/source"
)

// Stats aggregates one download run.
type Stats struct {
	Downloaded        int
	DuplicatesSkipped int
	Errors            int
}

// Downloader pulls recent items for one instance. All collaborators are
// passed in at construction; the downloader holds no global state.
type Downloader struct {
	profile  instance.Profile
	handlers []source.Handler
	store    *paperstore.Store
	logger   *slog.Logger
}

// New creates a Downloader for the given profile and handlers.
func New(profile instance.Profile, handlers []source.Handler, store *paperstore.Store, logger *slog.Logger) *Downloader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Downloader{
		profile:  profile,
		handlers: handlers,
		store:    store,
		logger:   logger.With("instance", profile.Name),
	}
}

// DownloadRecent ingests items published within the last daysBack days.
//
// Per-item fetch failures are classified, recorded as error records, and
// counted without stopping the run. A source-level failure (the listing
// itself cannot be read) aborts the run and is returned alongside the stats
// accumulated so far.
//
// The operation is idempotent: a paper id with a metadata record present is
// counted as a duplicate and skipped, so overlapping windows never
// re-download.
func (d *Downloader) DownloadRecent(ctx context.Context, daysBack int) (Stats, error) {
	runID := uuid.New().String()
	var stats Stats

	for _, h := range d.handlers {
		records, err := h.ListRecent(ctx, daysBack)
		if err != nil {
			return stats, fmt.Errorf("source %s: %w", h.Type(), err)
		}
		d.logger.Info("listed recent items",
			"source", h.Type(), "days_back", daysBack, "items", len(records))

		for _, rec := range records {
			if !d.profile.MatchesCategory(rec.Categories) {
				continue
			}

			id := rec.PaperID()
			if d.store.Has(id) {
				stats.DuplicatesSkipped++
				continue
			}

			if err := d.downloadOne(ctx, h, rec); err != nil {
				stats.Errors++
				d.recordError(runID, id, err)
				continue
			}
			stats.Downloaded++
		}
	}

	d.logger.Info("download run complete",
		"downloaded", stats.Downloaded,
		"duplicates_skipped", stats.DuplicatesSkipped,
		"errors", stats.Errors)
	return stats, nil
}

func (d *Downloader) downloadOne(ctx context.Context, h source.Handler, rec source.Record) error {
	raw, err := h.Fetch(ctx, rec)
	if err != nil {
		return fmt.Errorf("fetching %s: %w", rec.ExternalID, err)
	}

	embedded, err := json.Marshal(rec)
	if err != nil {
		embedded = nil // snapshot is optional; the canonical metadata suffices
	}

	paper := paperstore.Paper{
		ID:           rec.PaperID(),
		Title:        rec.Title,
		Authors:      rec.Authors,
		Abstract:     rec.Abstract,
		Categories:   rec.Categories,
		SourceType:   h.Type(),
		InstanceName: d.profile.Name,
		DownloadedAt: time.Now().UTC(),
		Status:       paperstore.StatusNew,
	}
	if err := d.store.Save(paper, raw, embedded); err != nil {
		return fmt.Errorf("persisting %s: %w", paper.ID, err)
	}
	return nil
}

func (d *Downloader) recordError(runID, paperID string, err error) {
	category := source.Classify(err)
	d.logger.Warn("item download failed",
		"paper_id", paperID, "category", category, "error", err)

	rec := paperstore.ErrorRecord{
		RunID:      runID,
		PaperID:    paperID,
		Category:   category,
		Message:    err.Error(),
		OccurredAt: time.Now().UTC(),
	}
	if werr := d.store.WriteErrorRecord(rec); werr != nil {
		d.logger.Error("failed to write error record", "paper_id", paperID, "error", werr)
	}
}
