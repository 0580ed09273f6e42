// Package arxiv is the arXiv Atom export API client.
package arxiv

import (
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strings"

	"github.com/djjay0131/agentic-kg/cache"
	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/sources"
)

const defaultBaseURL = "http://export.arxiv.org/api/query"

// Record is one Atom <entry> from the export API.
type Record struct {
	ID        string `xml:"id"` // http://arxiv.org/abs/2101.00001v1
	Title     string `xml:"title"`
	Summary   string `xml:"summary"`
	Published string `xml:"published"` // RFC3339
	DOI       string `xml:"doi"`
	Authors   []struct {
		Name        string `xml:"name"`
		Affiliation string `xml:"affiliation"`
	} `xml:"author"`
	Links []struct {
		Href  string `xml:"href,attr"`
		Rel   string `xml:"rel,attr"`
		Title string `xml:"title,attr"`
		Type  string `xml:"type,attr"`
	} `xml:"link"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
	JournalRef string `xml:"journal_ref"`
}

// RecordSource implements sources.Record.
func (Record) RecordSource() paper.Source { return paper.SourceArxiv }

// ArxivID extracts the bare id (with version trimmed) from the Atom id URL.
func (r Record) ArxivID() string {
	id := r.ID
	if i := strings.LastIndex(id, "/abs/"); i >= 0 {
		id = id[i+len("/abs/"):]
	}
	// Strip the version suffix; the graph keys papers by versionless id.
	if i := strings.LastIndex(id, "v"); i > 0 && strings.IndexFunc(id[i+1:], notDigit) < 0 && id[i+1:] != "" {
		id = id[:i]
	}
	return id
}

// PDFURL returns the pdf link when the feed carries one.
func (r Record) PDFURL() string {
	for _, l := range r.Links {
		if l.Title == "pdf" || l.Type == "application/pdf" {
			return l.Href
		}
	}
	return ""
}

func notDigit(r rune) bool { return r < '0' || r > '9' }

type feed struct {
	XMLName xml.Name `xml:"feed"`
	Entries []Record `xml:"entry"`
}

// Client talks to the arXiv export API through the shared middleware stack.
type Client struct {
	stack   *sources.Stack
	baseURL string
}

// New creates a client.
func New(stack *sources.Stack) *Client {
	return &Client{stack: stack, baseURL: defaultBaseURL}
}

// Source implements sources.Client.
func (c *Client) Source() paper.Source { return paper.SourceArxiv }

// SupportsID implements sources.Client. arXiv serves its own ids; DOIs are
// not resolvable here.
func (c *Client) SupportsID(t paper.IDType) bool { return t == paper.IDArxiv }

// GetPaper implements sources.Client.
func (c *Client) GetPaper(ctx context.Context, id string, opts sources.RequestOptions) (sources.Record, error) {
	u := fmt.Sprintf("%s?id_list=%s&max_results=1", c.baseURL, url.QueryEscape(id))
	key := cache.Key{Kind: cache.KindPaper, ID: "arxiv:" + id}

	entries, err := c.fetchFeed(ctx, u, key, opts.BypassCache)
	if err != nil {
		return nil, err
	}
	// The export API answers an unknown id with an empty feed, not a 404.
	if len(entries) == 0 || entries[0].Title == "" {
		return nil, faults.New(faults.KindNotFound, "arxiv", "no record for "+id)
	}
	return entries[0], nil
}

// SearchPapers implements sources.Client.
func (c *Client) SearchPapers(ctx context.Context, query string, limit, offset int) ([]sources.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	u := fmt.Sprintf("%s?search_query=all:%s&start=%d&max_results=%d",
		c.baseURL, url.QueryEscape(query), offset, limit)
	key := cache.Key{Kind: cache.KindSearch, ID: fmt.Sprintf("arxiv:q=%s;l=%d;o=%d", query, limit, offset)}

	entries, err := c.fetchFeed(ctx, u, key, false)
	if err != nil {
		return nil, err
	}
	out := make([]sources.Record, 0, len(entries))
	for _, e := range entries {
		out = append(out, e)
	}
	return out, nil
}

// GetPDFBytes implements sources.PDFProvider.
func (c *Client) GetPDFBytes(ctx context.Context, id string) ([]byte, error) {
	rec, err := c.GetPaper(ctx, id, sources.RequestOptions{})
	if err != nil {
		return nil, err
	}
	pdfURL := rec.(Record).PDFURL()
	if pdfURL == "" {
		pdfURL = "https://arxiv.org/pdf/" + id
	}
	return c.stack.Fetch(ctx, pdfURL, cache.Key{}, false)
}

func (c *Client) fetchFeed(ctx context.Context, u string, key cache.Key, bypass bool) ([]Record, error) {
	body, err := c.stack.Fetch(ctx, u, key, bypass)
	if err != nil {
		return nil, err
	}
	var f feed
	if err := xml.Unmarshal(body, &f); err != nil {
		return nil, faults.Wrap(faults.KindNormalization, "arxiv", fmt.Errorf("decode atom feed: %w", err))
	}
	return f.Entries, nil
}
