// Package semanticscholar is the Semantic Scholar Graph API client.
package semanticscholar

import (
	"context"
	"fmt"
	"net/url"

	"github.com/djjay0131/agentic-kg/cache"
	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/sources"
)

const (
	defaultBaseURL = "https://api.semanticscholar.org/graph/v1"
	paperFields    = "paperId,externalIds,title,abstract,venue,year,citationCount,isOpenAccess,openAccessPdf,fieldsOfStudy,authors.name,authors.authorId"
)

// Record is the raw Graph API paper payload.
type Record struct {
	PaperID     string `json:"paperId"`
	ExternalIDs struct {
		DOI      string `json:"DOI"`
		ArXiv    string `json:"ArXiv"`
		CorpusID int64  `json:"CorpusId"`
	} `json:"externalIds"`
	Title         string `json:"title"`
	Abstract      string `json:"abstract"`
	Venue         string `json:"venue"`
	Year          int    `json:"year"`
	CitationCount int    `json:"citationCount"`
	IsOpenAccess  bool   `json:"isOpenAccess"`
	OpenAccessPdf *struct {
		URL string `json:"url"`
	} `json:"openAccessPdf"`
	FieldsOfStudy []string `json:"fieldsOfStudy"`
	Authors       []struct {
		AuthorID string `json:"authorId"`
		Name     string `json:"name"`
	} `json:"authors"`
	Embedding *struct {
		Model  string    `json:"model"`
		Vector []float32 `json:"vector"`
	} `json:"embedding"`
}

// RecordSource implements sources.Record.
func (Record) RecordSource() paper.Source { return paper.SourceS2 }

// AuthorRecord is the raw author payload.
type AuthorRecord struct {
	AuthorID     string   `json:"authorId"`
	Name         string   `json:"name"`
	ORCID        string   `json:"orcid"`
	Affiliations []string `json:"affiliations"`
}

// RecordSource implements sources.Record.
func (AuthorRecord) RecordSource() paper.Source { return paper.SourceS2 }

// Client talks to the Semantic Scholar Graph API through the shared
// middleware stack.
type Client struct {
	stack   *sources.Stack
	baseURL string
}

// New creates a client. An apiKey may be empty (public tier).
func New(stack *sources.Stack, apiKey string) *Client {
	if apiKey != "" {
		if stack.Headers == nil {
			stack.Headers = make(map[string]string)
		}
		stack.Headers["x-api-key"] = apiKey
	}
	return &Client{stack: stack, baseURL: defaultBaseURL}
}

// Source implements sources.Client.
func (c *Client) Source() paper.Source { return paper.SourceS2 }

// SupportsID implements sources.Client. S2 resolves DOIs, arXiv ids, and its
// own ids.
func (c *Client) SupportsID(t paper.IDType) bool {
	return t == paper.IDDoi || t == paper.IDArxiv || t == paper.IDS2
}

// GetPaper implements sources.Client.
func (c *Client) GetPaper(ctx context.Context, id string, opts sources.RequestOptions) (sources.Record, error) {
	u := fmt.Sprintf("%s/paper/%s?fields=%s", c.baseURL, url.PathEscape(apiID(id)), paperFields)
	var rec Record
	key := cache.Key{Kind: cache.KindPaper, ID: "s2:" + id}
	if err := c.stack.FetchJSON(ctx, u, key, opts.BypassCache, &rec); err != nil {
		return nil, err
	}
	if rec.PaperID == "" {
		return nil, faults.New(faults.KindNotFound, "s2", "empty record for "+id)
	}
	return rec, nil
}

// SearchPapers implements sources.Client.
func (c *Client) SearchPapers(ctx context.Context, query string, limit, offset int) ([]sources.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	u := fmt.Sprintf("%s/paper/search?query=%s&limit=%d&offset=%d&fields=%s",
		c.baseURL, url.QueryEscape(query), limit, offset, paperFields)

	var resp struct {
		Total int      `json:"total"`
		Data  []Record `json:"data"`
	}
	key := cache.Key{Kind: cache.KindSearch, ID: fmt.Sprintf("s2:q=%s;l=%d;o=%d", query, limit, offset)}
	if err := c.stack.FetchJSON(ctx, u, key, false, &resp); err != nil {
		return nil, err
	}
	out := make([]sources.Record, 0, len(resp.Data))
	for _, r := range resp.Data {
		out = append(out, r)
	}
	return out, nil
}

// GetCitations implements sources.CitationsProvider: papers citing id.
func (c *Client) GetCitations(ctx context.Context, id string, limit int) ([]sources.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	u := fmt.Sprintf("%s/paper/%s/citations?limit=%d&fields=%s", c.baseURL, url.PathEscape(apiID(id)), limit, paperFields)
	var resp struct {
		Data []struct {
			CitingPaper Record `json:"citingPaper"`
		} `json:"data"`
	}
	key := cache.Key{Kind: cache.KindPaper, ID: "s2:citations:" + id}
	if err := c.stack.FetchJSON(ctx, u, key, false, &resp); err != nil {
		return nil, err
	}
	out := make([]sources.Record, 0, len(resp.Data))
	for _, d := range resp.Data {
		out = append(out, d.CitingPaper)
	}
	return out, nil
}

// GetAuthor implements sources.AuthorProvider.
func (c *Client) GetAuthor(ctx context.Context, id string) (sources.Record, error) {
	u := fmt.Sprintf("%s/author/%s?fields=authorId,name,orcid,affiliations", c.baseURL, url.PathEscape(id))
	var rec AuthorRecord
	key := cache.Key{Kind: cache.KindAuthor, ID: "s2:" + id}
	if err := c.stack.FetchJSON(ctx, u, key, false, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// GetEmbedding implements sources.EmbeddingProvider (SPECTER vectors).
func (c *Client) GetEmbedding(ctx context.Context, id string) ([]float32, error) {
	u := fmt.Sprintf("%s/paper/%s?fields=embedding", c.baseURL, url.PathEscape(apiID(id)))
	var rec Record
	key := cache.Key{Kind: cache.KindPaper, ID: "s2:embedding:" + id}
	if err := c.stack.FetchJSON(ctx, u, key, false, &rec); err != nil {
		return nil, err
	}
	if rec.Embedding == nil {
		return nil, faults.New(faults.KindNotFound, "s2", "no embedding for "+id)
	}
	return rec.Embedding.Vector, nil
}

// GetPDFBytes implements sources.PDFProvider by following the open-access
// PDF link on the record.
func (c *Client) GetPDFBytes(ctx context.Context, id string) ([]byte, error) {
	rec, err := c.GetPaper(ctx, id, sources.RequestOptions{})
	if err != nil {
		return nil, err
	}
	s2rec := rec.(Record)
	if s2rec.OpenAccessPdf == nil || s2rec.OpenAccessPdf.URL == "" {
		return nil, faults.New(faults.KindNotFound, "s2", "no open-access pdf for "+id)
	}
	return c.stack.Fetch(ctx, s2rec.OpenAccessPdf.URL, cache.Key{}, false)
}

// apiID maps a cleaned identifier onto the Graph API addressing scheme.
func apiID(id string) string {
	switch paper.Detect(id) {
	case paper.IDDoi:
		return "DOI:" + id
	case paper.IDArxiv:
		return "ARXIV:" + id
	default:
		return id
	}
}
