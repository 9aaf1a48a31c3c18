package source

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultArxivBaseURL = "http://export.arxiv.org/api/query"

// arxivPageSize bounds one feed request; listing pages until the window is
// exhausted keeps memory flat for long windows.
const arxivPageSize = 100

// ArxivHandler lists recent submissions from the arXiv Atom API for a set of
// categories.
type ArxivHandler struct {
	baseURL    string
	categories []string
	httpClient *http.Client
}

// NewArxivHandler creates a handler querying the given arXiv categories
// (exact tags; wildcard filtering happens later in the downloader's profile
// predicate, the feed query just needs the families).
func NewArxivHandler(categories []string, timeout time.Duration) *ArxivHandler {
	return &ArxivHandler{
		baseURL:    defaultArxivBaseURL,
		categories: categories,
		httpClient: newHTTPClient(timeout),
	}
}

// WithBaseURL points the handler at a different API root. Used by tests.
func (h *ArxivHandler) WithBaseURL(u string) *ArxivHandler {
	h.baseURL = strings.TrimRight(u, "/")
	return h
}

func (h *ArxivHandler) Type() string { return "arxiv" }

// atomFeed mirrors the subset of the arXiv Atom response we consume.
type atomFeed struct {
	Entries []atomEntry `xml:"entry"`
}

type atomEntry struct {
	ID         string         `xml:"id"`
	Title      string         `xml:"title"`
	Summary    string         `xml:"summary"`
	Published  string         `xml:"published"`
	Authors    []atomAuthor   `xml:"author"`
	Categories []atomCategory `xml:"category"`
	Links      []atomLink     `xml:"link"`
}

type atomAuthor struct {
	Name string `xml:"name"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

type atomLink struct {
	Href  string `xml:"href,attr"`
	Title string `xml:"title,attr"`
}

// ListRecent pages through the feed, newest first, until entries fall
// outside the daysBack window. Feed transport or parse failures are
// source-level: the whole run aborts.
func (h *ArxivHandler) ListRecent(ctx context.Context, daysBack int) ([]Record, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)

	var records []Record
	for start := 0; ; start += arxivPageSize {
		feed, err := h.fetchPage(ctx, start)
		if err != nil {
			return nil, err
		}
		if len(feed.Entries) == 0 {
			break
		}

		done := false
		for _, e := range feed.Entries {
			rec, err := h.toRecord(e)
			if err != nil {
				return nil, fmt.Errorf("arxiv feed entry %q: %w", e.ID, err)
			}
			if rec.Published.Before(cutoff) {
				done = true
				break
			}
			records = append(records, rec)
		}
		if done || len(feed.Entries) < arxivPageSize {
			break
		}
	}
	return records, nil
}

func (h *ArxivHandler) fetchPage(ctx context.Context, start int) (*atomFeed, error) {
	q := url.Values{}
	q.Set("search_query", h.searchQuery())
	q.Set("sortBy", "submittedDate")
	q.Set("sortOrder", "descending")
	q.Set("start", fmt.Sprintf("%d", start))
	q.Set("max_results", fmt.Sprintf("%d", arxivPageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.baseURL+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating feed request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting arxiv feed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("arxiv feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading arxiv feed: %w", err)
	}

	var feed atomFeed
	if err := xml.Unmarshal(body, &feed); err != nil {
		return nil, fmt.Errorf("parsing arxiv feed: %w", err)
	}
	return &feed, nil
}

// searchQuery builds "cat:q-fin.CP OR cat:q-fin.ST ...". Wildcard families
// are widened to their prefix so the feed returns the whole family.
func (h *ArxivHandler) searchQuery() string {
	terms := make([]string, 0, len(h.categories))
	for _, c := range h.categories {
		if prefix, ok := strings.CutSuffix(c, ".*"); ok {
			c = prefix + "*"
		}
		terms = append(terms, "cat:"+c)
	}
	if len(terms) == 0 {
		return "all"
	}
	return strings.Join(terms, " OR ")
}

func (h *ArxivHandler) toRecord(e atomEntry) (Record, error) {
	published, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Published))
	if err != nil {
		return Record{}, fmt.Errorf("parsing published date: %w", err)
	}

	// Entry id is the abstract URL: http://arxiv.org/abs/2401.12345v1
	abs := strings.TrimSpace(e.ID)
	idx := strings.LastIndex(abs, "/abs/")
	if idx < 0 {
		return Record{}, fmt.Errorf("entry id %q is not an abstract URL", abs)
	}
	shortID := abs[idx+len("/abs/"):]
	if shortID == "" {
		return Record{}, fmt.Errorf("entry id %q has an empty identifier", abs)
	}
	if i := strings.LastIndex(shortID, "v"); i > 0 {
		shortID = shortID[:i]
	}

	authors := make([]string, 0, len(e.Authors))
	for _, a := range e.Authors {
		authors = append(authors, strings.TrimSpace(a.Name))
	}
	categories := make([]string, 0, len(e.Categories))
	for _, c := range e.Categories {
		categories = append(categories, c.Term)
	}

	pdfURL := strings.Replace(abs, "/abs/", "/pdf/", 1)
	for _, l := range e.Links {
		if l.Title == "pdf" {
			pdfURL = l.Href
		}
	}

	return Record{
		ExternalID: "arxiv:" + shortID,
		Title:      collapseWhitespace(e.Title),
		Authors:    authors,
		Abstract:   collapseWhitespace(e.Summary),
		Categories: categories,
		Published:  published.UTC(),
		ContentURL: pdfURL,
	}, nil
}

// Fetch downloads the paper PDF.
func (h *ArxivHandler) Fetch(ctx context.Context, rec Record) ([]byte, error) {
	return fetchURL(ctx, h.httpClient, rec.ContentURL)
}

// collapseWhitespace flattens the newline-wrapped text arXiv returns in
// titles and abstracts.
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func readAll(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkErr(err)
	}
	return body, nil
}
