package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/html"
)

// JournalHandler scrapes a journal's recent-articles listing page. Journals
// without a feed publish a plain HTML index; the handler walks the parsed
// tree looking for article entries:
//
//	<article class="paper-entry" data-id="jrfm-17-00123" data-categories="q-fin.RM,q-fin.PM">
//	  <a class="paper-title" href="/articles/jrfm-17-00123.pdf">...</a>
//	  <span class="paper-authors">A. One, B. Two</span>
//	  <div class="paper-abstract">...</div>
//	  <time datetime="2026-08-12T00:00:00Z"></time>
//	</article>
type JournalHandler struct {
	name       string
	listingURL string
	httpClient *http.Client
}

// NewJournalHandler creates a handler for one scraped journal. name tags the
// source type and qualifies external ids ("mdpi:jrfm-17-00123").
func NewJournalHandler(name, listingURL string, timeout time.Duration) *JournalHandler {
	return &JournalHandler{
		name:       name,
		listingURL: listingURL,
		httpClient: newHTTPClient(timeout),
	}
}

func (h *JournalHandler) Type() string { return h.name }

// ListRecent fetches and parses the listing page. Transport and parse
// failures here are source-level and abort the run; a malformed individual
// entry is skipped.
func (h *JournalHandler) ListRecent(ctx context.Context, daysBack int) ([]Record, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.listingURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating listing request: %w", err)
	}
	resp, err := h.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting %s listing: %w", h.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s listing returned status %d", h.name, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s listing: %w", h.name, err)
	}

	doc, err := html.Parse(strings.NewReader(string(body)))
	if err != nil {
		return nil, fmt.Errorf("parsing %s listing: %w", h.name, err)
	}

	cutoff := time.Now().UTC().AddDate(0, 0, -daysBack)

	var records []Record
	for _, node := range findAllByClass(doc, "article", "paper-entry") {
		rec, ok := h.parseEntry(node)
		if !ok {
			continue
		}
		if rec.Published.Before(cutoff) {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (h *JournalHandler) parseEntry(n *html.Node) (Record, bool) {
	id := attr(n, "data-id")
	if id == "" {
		return Record{}, false
	}

	titleNode := findByClass(n, "a", "paper-title")
	if titleNode == nil {
		return Record{}, false
	}

	contentURL := attr(titleNode, "href")
	if u, err := url.Parse(contentURL); err == nil && !u.IsAbs() {
		if base, err := url.Parse(h.listingURL); err == nil {
			contentURL = base.ResolveReference(u).String()
		}
	}

	published := time.Time{}
	if timeNode := findByTag(n, "time"); timeNode != nil {
		if t, err := time.Parse(time.RFC3339, attr(timeNode, "datetime")); err == nil {
			published = t.UTC()
		}
	}
	if published.IsZero() {
		return Record{}, false
	}

	var authors []string
	if authorsNode := findByClass(n, "span", "paper-authors"); authorsNode != nil {
		for _, a := range strings.Split(textContent(authorsNode), ",") {
			if a = strings.TrimSpace(a); a != "" {
				authors = append(authors, a)
			}
		}
	}

	var abstract string
	if absNode := findByClass(n, "div", "paper-abstract"); absNode != nil {
		abstract = collapseWhitespace(textContent(absNode))
	}

	var categories []string
	for _, c := range strings.Split(attr(n, "data-categories"), ",") {
		if c = strings.TrimSpace(c); c != "" {
			categories = append(categories, c)
		}
	}

	return Record{
		ExternalID: h.name + ":" + id,
		Title:      collapseWhitespace(textContent(titleNode)),
		Authors:    authors,
		Abstract:   abstract,
		Categories: categories,
		Published:  published,
		ContentURL: contentURL,
	}, true
}

// Fetch downloads the article PDF.
func (h *JournalHandler) Fetch(ctx context.Context, rec Record) ([]byte, error) {
	return fetchURL(ctx, h.httpClient, rec.ContentURL)
}

// --- html tree helpers ---

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}

func findAllByClass(root *html.Node, tag, class string) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == tag && hasClass(n, class) {
			out = append(out, n)
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return out
}

func findByClass(root *html.Node, tag, class string) *html.Node {
	if nodes := findAllByClass(root, tag, class); len(nodes) > 0 {
		return nodes[0]
	}
	return nil
}

func findByTag(root *html.Node, tag string) *html.Node {
	var found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if found != nil {
			return
		}
		if n.Type == html.ElementNode && n.Data == tag {
			found = n
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return found
}

func textContent(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
