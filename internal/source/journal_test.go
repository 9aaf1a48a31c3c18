package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func journalPage(now time.Time) string {
	recent := now.AddDate(0, 0, -2).Format(time.RFC3339)
	stale := now.AddDate(0, 0, -40).Format(time.RFC3339)
	return fmt.Sprintf(`<!DOCTYPE html>
<html><body>
<section id="latest">
  <article class="paper-entry" data-id="jrfm-17-00123" data-categories="q-fin.RM, q-fin.PM">
    <a class="paper-title" href="/articles/jrfm-17-00123.pdf">Risk  Management
      in Volatile Markets</a>
    <span class="paper-authors">A. One, B. Two</span>
    <div class="paper-abstract">We examine risk.</div>
    <time datetime="%s"></time>
  </article>
  <article class="paper-entry" data-id="jrfm-16-00999" data-categories="q-fin.RM">
    <a class="paper-title" href="/articles/jrfm-16-00999.pdf">Stale Paper</a>
    <time datetime="%s"></time>
  </article>
  <article class="paper-entry">
    <a class="paper-title" href="/broken.pdf">Entry without id</a>
  </article>
</section>
</body></html>`, recent, stale)
}

func TestJournalListRecent(t *testing.T) {
	now := time.Now().UTC()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, journalPage(now))
	}))
	defer srv.Close()

	h := NewJournalHandler("mdpi", srv.URL+"/latest", 0)
	recs, err := h.ListRecent(context.Background(), 7)
	if err != nil {
		t.Fatalf("ListRecent: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("ListRecent returned %d records, want 1 (stale and malformed entries skipped)", len(recs))
	}

	rec := recs[0]
	if rec.ExternalID != "mdpi:jrfm-17-00123" {
		t.Errorf("ExternalID = %q", rec.ExternalID)
	}
	if rec.Title != "Risk Management in Volatile Markets" {
		t.Errorf("Title = %q", rec.Title)
	}
	if len(rec.Authors) != 2 || rec.Authors[1] != "B. Two" {
		t.Errorf("Authors = %v", rec.Authors)
	}
	if len(rec.Categories) != 2 || rec.Categories[0] != "q-fin.RM" {
		t.Errorf("Categories = %v", rec.Categories)
	}
	if rec.Abstract != "We examine risk." {
		t.Errorf("Abstract = %q", rec.Abstract)
	}
	if want := srv.URL + "/articles/jrfm-17-00123.pdf"; rec.ContentURL != want {
		t.Errorf("ContentURL = %q, want %q (relative href resolved)", rec.ContentURL, want)
	}
}

func TestJournalListRecent_ListingDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	}))
	defer srv.Close()

	h := NewJournalHandler("mdpi", srv.URL, 0)
	if _, err := h.ListRecent(context.Background(), 7); err == nil {
		t.Fatal("ListRecent = nil error, want source-level failure")
	}
}

func TestJournalFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("%PDF-1.5 content"))
	}))
	defer srv.Close()

	h := NewJournalHandler("mdpi", srv.URL, 0)
	body, err := h.Fetch(context.Background(), Record{ContentURL: srv.URL + "/a.pdf"})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(body) != "%PDF-1.5 content" {
		t.Errorf("Fetch body = %q", body)
	}
}
