package process

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/paperbase/paperbase/internal/extract"
	"github.com/paperbase/paperbase/internal/instance"
	"github.com/paperbase/paperbase/internal/paperstore"
	"github.com/paperbase/paperbase/internal/vectorstore"
)

// stubProvider returns a fixed vector and instruments in-flight concurrency.
type stubProvider struct {
	vec      []float32
	embedFn  func(text string) ([]float32, error)
	inFlight atomic.Int32
	maxSeen  atomic.Int32
	calls    atomic.Int32
}

func (s *stubProvider) Embed(_ context.Context, text string) ([]float32, error) {
	cur := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		max := s.maxSeen.Load()
		if cur <= max || s.maxSeen.CompareAndSwap(max, cur) {
			break
		}
	}
	s.calls.Add(1)
	time.Sleep(2 * time.Millisecond) // widen the overlap window

	if s.embedFn != nil {
		return s.embedFn(text)
	}
	if s.vec != nil {
		return s.vec, nil
	}
	return []float32{1, 0, 0}, nil
}

// failingExtractor fails for the listed paper ids and falls back to the
// abstract extractor otherwise.
type failingExtractor struct {
	failIDs map[string]bool
	inner   extract.Extractor
}

func (f *failingExtractor) Extract(raw []byte, meta paperstore.Paper) (string, error) {
	if f.failIDs[meta.ID] {
		return "", errors.New("simulated extraction failure")
	}
	return f.inner.Extract(raw, meta)
}

type fixture struct {
	profile  instance.Profile
	store    *paperstore.Store
	vectors  *vectorstore.Service
	provider *stubProvider
	registry *extract.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	profile := instance.Profile{
		Name:          "quant",
		StorageRoot:   t.TempDir(),
		Collection:    "quant_papers",
		Categories:    []string{"q-fin.*"},
		BatchSize:     10,
		MaxConcurrent: 2,
		ChunkSize:     200,
		ChunkOverlap:  50,
		EmbeddingDim:  3,
	}
	store, err := paperstore.New(profile)
	if err != nil {
		t.Fatalf("paperstore.New: %v", err)
	}

	sqlite, err := vectorstore.Open(":memory:")
	if err != nil {
		t.Fatalf("vectorstore.Open: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	vectors, err := vectorstore.NewService(sqlite, []instance.Profile{profile}, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}

	registry := extract.NewRegistry()
	// Route the test source type to the abstract extractor so fixtures
	// don't need real PDFs.
	registry.Register("stub", &extract.AbstractExtractor{})

	return &fixture{
		profile:  profile,
		store:    store,
		vectors:  vectors,
		provider: &stubProvider{},
		registry: registry,
	}
}

func (f *fixture) processor(t *testing.T) *Processor {
	t.Helper()
	return New(f.profile, f.store, f.registry, f.provider, f.vectors, nil)
}

func (f *fixture) addPaper(t *testing.T, id string) {
	t.Helper()
	p := paperstore.Paper{
		ID:           id,
		Title:        "Paper " + id,
		Authors:      []string{"Jane Doe"},
		Abstract:     "A reasonably long abstract about quantitative finance and markets.",
		Categories:   []string{"q-fin.CP"},
		SourceType:   "stub",
		InstanceName: "quant",
		DownloadedAt: time.Now().UTC(),
		Status:       paperstore.StatusNew,
	}
	if err := f.store.Save(p, []byte("raw"), nil); err != nil {
		t.Fatalf("Save(%s): %v", id, err)
	}
}

func TestProcessPending_AllSucceed(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 3; i++ {
		f.addPaper(t, fmt.Sprintf("paper_%d", i))
	}

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 3 || stats.Failed != 0 {
		t.Errorf("stats = %+v, want processed=3", stats)
	}
	if stats.ChunksCreated == 0 || stats.EmbeddingsGenerated != stats.ChunksCreated {
		t.Errorf("chunk/embedding counts = %d/%d", stats.ChunksCreated, stats.EmbeddingsGenerated)
	}
	if stats.BySource["stub"].Processed != 3 {
		t.Errorf("BySource = %v", stats.BySource)
	}

	// Papers transitioned to processed.
	for i := 0; i < 3; i++ {
		p, err := f.store.Load(fmt.Sprintf("paper_%d", i))
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		if p.Status != paperstore.StatusProcessed {
			t.Errorf("paper_%d status = %q", i, p.Status)
		}
	}

	// Documents landed in the instance collection.
	counts, err := f.vectors.CollectionCounts()
	if err != nil {
		t.Fatalf("CollectionCounts: %v", err)
	}
	if counts["quant"] != stats.ChunksCreated {
		t.Errorf("collection count = %d, want %d", counts["quant"], stats.ChunksCreated)
	}
}

func TestProcessPending_BatchSplitting(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 5; i++ {
		f.addPaper(t, fmt.Sprintf("paper_%d", i))
	}

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{BatchSize: 2})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 5 {
		t.Errorf("processed = %d, want 5 across batches of 2,2,1", stats.Processed)
	}
}

func TestProcessPending_ConcurrencyBound(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 8; i++ {
		f.addPaper(t, fmt.Sprintf("paper_%d", i))
	}

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{MaxConcurrent: 2})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 8 {
		t.Fatalf("processed = %d, want 8", stats.Processed)
	}
	if max := f.provider.maxSeen.Load(); max > 2 {
		t.Errorf("observed %d concurrent embedding calls, bound is 2", max)
	}
}

func TestProcessPending_PartialFailureIsolation(t *testing.T) {
	f := newFixture(t)
	for _, id := range []string{"paper_0", "paper_1", "paper_2"} {
		f.addPaper(t, id)
	}
	f.registry.Register("stub", &failingExtractor{
		failIDs: map[string]bool{"paper_1": true},
		inner:   &extract.AbstractExtractor{},
	})

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 2 || stats.Failed != 1 {
		t.Errorf("stats = %+v, want processed=2 failed=1", stats)
	}

	rec, err := f.store.LoadErrorRecord("paper_1")
	if err != nil {
		t.Fatalf("LoadErrorRecord: %v", err)
	}
	if rec.Category != "extraction" {
		t.Errorf("error category = %q, want extraction", rec.Category)
	}
	p, _ := f.store.Load("paper_1")
	if p.Status != paperstore.StatusFailed {
		t.Errorf("paper_1 status = %q, want failed", p.Status)
	}
}

func TestProcessPending_EmbeddingFailureCategory(t *testing.T) {
	f := newFixture(t)
	f.addPaper(t, "paper_0")
	f.provider.embedFn = func(string) ([]float32, error) {
		return nil, errors.New("model offline")
	}

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Failed != 1 {
		t.Fatalf("stats = %+v, want failed=1", stats)
	}
	rec, err := f.store.LoadErrorRecord("paper_0")
	if err != nil {
		t.Fatalf("LoadErrorRecord: %v", err)
	}
	if rec.Category != "embedding" {
		t.Errorf("error category = %q, want embedding", rec.Category)
	}
}

func TestProcessPending_SkipsProcessedUnlessReprocess(t *testing.T) {
	f := newFixture(t)
	f.addPaper(t, "paper_0")

	proc := f.processor(t)
	if _, err := proc.ProcessPending(context.Background(), Options{}); err != nil {
		t.Fatalf("first run: %v", err)
	}

	second, err := proc.ProcessPending(context.Background(), Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Processed != 0 || second.Skipped != 1 {
		t.Errorf("second run = %+v, want skipped=1", second)
	}

	third, err := proc.ProcessPending(context.Background(), Options{Reprocess: true})
	if err != nil {
		t.Fatalf("reprocess run: %v", err)
	}
	if third.Processed != 1 {
		t.Errorf("reprocess run = %+v, want processed=1", third)
	}

	// Reprocessing upserts by chunk id, so the collection does not grow.
	counts, err := f.vectors.CollectionCounts()
	if err != nil {
		t.Fatalf("CollectionCounts: %v", err)
	}
	if counts["quant"] != third.ChunksCreated {
		t.Errorf("collection count = %d after reprocess, want %d", counts["quant"], third.ChunksCreated)
	}
}

func TestProcessPending_StatusOnly(t *testing.T) {
	f := newFixture(t)
	f.addPaper(t, "paper_0")
	f.addPaper(t, "paper_1")

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{StatusOnly: true})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 0 || stats.Skipped != 2 {
		t.Errorf("status-only stats = %+v, want skipped=2 and no work", stats)
	}
	if f.provider.calls.Load() != 0 {
		t.Errorf("status-only run made %d embedding calls", f.provider.calls.Load())
	}
	counts, _ := f.vectors.CollectionCounts()
	if counts["quant"] != 0 {
		t.Errorf("status-only run wrote %d documents", counts["quant"])
	}
}

func TestProcessPending_ExplicitPaperIDs(t *testing.T) {
	f := newFixture(t)
	f.addPaper(t, "paper_0")
	f.addPaper(t, "paper_1")

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{
		PaperIDs: []string{"paper_1"},
	})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 1 {
		t.Errorf("stats = %+v, want processed=1", stats)
	}
	p, _ := f.store.Load("paper_0")
	if p.Status != paperstore.StatusNew {
		t.Errorf("paper_0 touched by restricted run: status %q", p.Status)
	}
}

func TestProcessPending_MissingMetadataPlaceholder(t *testing.T) {
	f := newFixture(t)

	// The placeholder paper has no metadata, no raw content, and an
	// unknown source type: the abstract fallback yields no text, so the
	// paper is skipped, not failed.
	stats, err := f.processor(t).ProcessPending(context.Background(), Options{
		PaperIDs: []string{"ghost_paper"},
	})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Failed != 0 || stats.Skipped != 1 {
		t.Errorf("stats = %+v, want skipped=1", stats)
	}
}

func TestProcessPending_SourceFilter(t *testing.T) {
	f := newFixture(t)
	f.addPaper(t, "paper_0")

	other := paperstore.Paper{
		ID:           "other_0",
		Title:        "Other",
		Abstract:     "From another origin.",
		SourceType:   "elsewhere",
		InstanceName: "quant",
		Status:       paperstore.StatusNew,
	}
	if err := f.store.Save(other, []byte("raw"), nil); err != nil {
		t.Fatalf("Save: %v", err)
	}

	stats, err := f.processor(t).ProcessPending(context.Background(), Options{
		Sources: []string{"stub"},
	})
	if err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}
	if stats.Processed != 1 {
		t.Errorf("stats = %+v, want processed=1 (source filter)", stats)
	}
	if _, ok := stats.BySource["elsewhere"]; ok {
		t.Error("filtered source appears in per-source stats")
	}
}

func TestProcessPending_EmbeddingDimensionality(t *testing.T) {
	f := newFixture(t)
	f.addPaper(t, "paper_0")
	// Provider returns a longer vector than the instance dimension.
	f.provider.vec = []float32{1, 0, 0, 0.5, 0.5}

	if _, err := f.processor(t).ProcessPending(context.Background(), Options{}); err != nil {
		t.Fatalf("ProcessPending: %v", err)
	}

	results, err := f.vectors.Search("quant", []float32{1, 0, 0}, 10)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) == 0 {
		t.Fatal("no documents indexed")
	}
	for _, r := range results {
		if len(r.Embedding) != f.profile.EmbeddingDim {
			t.Errorf("document %s embedding length = %d, want %d",
				r.ID, len(r.Embedding), f.profile.EmbeddingDim)
		}
	}
}
