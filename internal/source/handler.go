// Package source implements the per-origin handlers the downloader pulls
// from. Each handler knows how to list recent items from one origin and
// fetch the raw content of a single item; everything past that (filtering,
// dedup, persistence) belongs to the downloader.
package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Record is a raw item as discovered at the origin. It is transient: the
// downloader either rejects it or converts it into a persisted paper.
type Record struct {
	// ExternalID is globally qualified ("arxiv:2401.12345",
	// "mdpi:jrfm-17-00123") so that two handlers surfacing the same
	// canonical item resolve to the same paper id.
	ExternalID string
	Title      string
	Authors    []string
	Abstract   string
	Categories []string
	Published  time.Time
	ContentURL string
}

// PaperID derives the filesystem- and collection-safe paper id from the
// record's external id. This is the sole dedup key within an instance.
func (r Record) PaperID() string {
	return SanitizeID(r.ExternalID)
}

// SanitizeID maps an external id to [a-z0-9_-] so it can double as a file
// name and a vector-store document id prefix.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range strings.ToLower(id) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// Handler lists and fetches items from one origin type. Implementations are
// stateless beyond their HTTP/parsing machinery and safe for use by a single
// downloader at a time.
type Handler interface {
	// Type tags papers from this handler and selects the text extractor.
	Type() string

	// ListRecent returns items published within the last daysBack days.
	// An error here is a source-level failure and aborts the download run.
	ListRecent(ctx context.Context, daysBack int) ([]Record, error)

	// Fetch downloads the raw content for one record. Errors are per-item
	// and classified by Classify.
	Fetch(ctx context.Context, rec Record) ([]byte, error)
}

// FetchError is a per-item download failure carrying its category
// ("network", "http_<status>", "parse").
type FetchError struct {
	Category string
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func networkErr(err error) *FetchError {
	return &FetchError{Category: "network", Err: err}
}

func httpErr(status int) *FetchError {
	return &FetchError{
		Category: fmt.Sprintf("http_%d", status),
		Err:      fmt.Errorf("unexpected status %d", status),
	}
}

func parseErr(err error) *FetchError {
	return &FetchError{Category: "parse", Err: err}
}

// Classify returns the error's download category, or "unknown" for errors
// that did not come out of a handler.
func Classify(err error) string {
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Category
	}
	return "unknown"
}

// newHTTPClient is shared by handlers: every origin call carries its own
// timeout so a stuck origin cannot wedge a run.
func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{Timeout: timeout}
}

// fetchURL downloads a single content URL, classifying failures.
func fetchURL(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, parseErr(err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, networkErr(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, httpErr(resp.StatusCode)
	}
	return readAll(resp)
}
