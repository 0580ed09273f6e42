// Package openalex is the OpenAlex works API client.
package openalex

import (
	"context"
	"fmt"
	"net/url"

	"github.com/djjay0131/agentic-kg/cache"
	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/sources"
)

const defaultBaseURL = "https://api.openalex.org"

// Record is a raw OpenAlex work.
type Record struct {
	ID                    string           `json:"id"`  // https://openalex.org/W…
	DOI                   string           `json:"doi"` // https://doi.org/10.…
	Title                 string           `json:"title"`
	PublicationYear       int              `json:"publication_year"`
	AbstractInvertedIndex map[string][]int `json:"abstract_inverted_index"`
	CitedByCount          int              `json:"cited_by_count"`
	OpenAccess            struct {
		IsOA  bool   `json:"is_oa"`
		OAURL string `json:"oa_url"`
	} `json:"open_access"`
	PrimaryLocation *struct {
		PdfURL string `json:"pdf_url"`
		Source *struct {
			DisplayName string `json:"display_name"`
		} `json:"source"`
	} `json:"primary_location"`
	Authorships []struct {
		AuthorPosition string `json:"author_position"`
		Author         struct {
			ID          string `json:"id"`
			DisplayName string `json:"display_name"`
			ORCID       string `json:"orcid"`
		} `json:"author"`
		Institutions []struct {
			DisplayName string `json:"display_name"`
		} `json:"institutions"`
	} `json:"authorships"`
	Concepts []struct {
		DisplayName string  `json:"display_name"`
		Score       float64 `json:"score"`
	} `json:"concepts"`
	IDs struct {
		OpenAlex string `json:"openalex"`
		DOI      string `json:"doi"`
		MAG      string `json:"mag"`
	} `json:"ids"`
}

// RecordSource implements sources.Record.
func (Record) RecordSource() paper.Source { return paper.SourceOpenAlex }

// AuthorRecord is a raw OpenAlex author.
type AuthorRecord struct {
	ID                    string `json:"id"`
	DisplayName           string `json:"display_name"`
	ORCID                 string `json:"orcid"`
	LastKnownInstitutions []struct {
		DisplayName string `json:"display_name"`
	} `json:"last_known_institutions"`
}

// RecordSource implements sources.Record.
func (AuthorRecord) RecordSource() paper.Source { return paper.SourceOpenAlex }

// Client talks to the OpenAlex API through the shared middleware stack.
type Client struct {
	stack   *sources.Stack
	baseURL string
	mailto  string
}

// New creates a client. mailto joins the polite pool when set.
func New(stack *sources.Stack, mailto string) *Client {
	return &Client{stack: stack, baseURL: defaultBaseURL, mailto: mailto}
}

// Source implements sources.Client.
func (c *Client) Source() paper.Source { return paper.SourceOpenAlex }

// SupportsID implements sources.Client.
func (c *Client) SupportsID(t paper.IDType) bool {
	return t == paper.IDDoi || t == paper.IDOpenAlex
}

// GetPaper implements sources.Client.
func (c *Client) GetPaper(ctx context.Context, id string, opts sources.RequestOptions) (sources.Record, error) {
	var path string
	switch paper.Detect(id) {
	case paper.IDDoi:
		path = "/works/doi:" + url.PathEscape(id)
	case paper.IDOpenAlex:
		path = "/works/" + url.PathEscape(id)
	default:
		return nil, faults.New(faults.KindValidation, "openalex", "unsupported identifier: "+id)
	}

	var rec Record
	key := cache.Key{Kind: cache.KindPaper, ID: "openalex:" + id}
	if err := c.stack.FetchJSON(ctx, c.withMailto(c.baseURL+path), key, opts.BypassCache, &rec); err != nil {
		return nil, err
	}
	if rec.ID == "" {
		return nil, faults.New(faults.KindNotFound, "openalex", "empty record for "+id)
	}
	return rec, nil
}

// SearchPapers implements sources.Client.
func (c *Client) SearchPapers(ctx context.Context, query string, limit, offset int) ([]sources.Record, error) {
	if limit <= 0 {
		limit = 10
	}
	page := offset/limit + 1
	u := fmt.Sprintf("%s/works?search=%s&per-page=%d&page=%d", c.baseURL, url.QueryEscape(query), limit, page)

	var resp struct {
		Results []Record `json:"results"`
	}
	key := cache.Key{Kind: cache.KindSearch, ID: fmt.Sprintf("openalex:q=%s;l=%d;o=%d", query, limit, offset)}
	if err := c.stack.FetchJSON(ctx, c.withMailto(u), key, false, &resp); err != nil {
		return nil, err
	}
	out := make([]sources.Record, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r)
	}
	return out, nil
}

// GetCitations implements sources.CitationsProvider: works citing id.
func (c *Client) GetCitations(ctx context.Context, id string, limit int) ([]sources.Record, error) {
	if limit <= 0 {
		limit = 100
	}
	oaID := paper.CleanOpenAlexID(id)
	if oaID == "" {
		return nil, faults.New(faults.KindValidation, "openalex", "citations need an OpenAlex id: "+id)
	}
	u := fmt.Sprintf("%s/works?filter=cites:%s&per-page=%d", c.baseURL, oaID, limit)

	var resp struct {
		Results []Record `json:"results"`
	}
	key := cache.Key{Kind: cache.KindPaper, ID: "openalex:citations:" + oaID}
	if err := c.stack.FetchJSON(ctx, c.withMailto(u), key, false, &resp); err != nil {
		return nil, err
	}
	out := make([]sources.Record, 0, len(resp.Results))
	for _, r := range resp.Results {
		out = append(out, r)
	}
	return out, nil
}

// GetAuthor implements sources.AuthorProvider.
func (c *Client) GetAuthor(ctx context.Context, id string) (sources.Record, error) {
	var rec AuthorRecord
	key := cache.Key{Kind: cache.KindAuthor, ID: "openalex:" + id}
	u := c.baseURL + "/authors/" + url.PathEscape(id)
	if err := c.stack.FetchJSON(ctx, c.withMailto(u), key, false, &rec); err != nil {
		return nil, err
	}
	return rec, nil
}

func (c *Client) withMailto(u string) string {
	if c.mailto == "" {
		return u
	}
	sep := "?"
	for _, r := range u {
		if r == '?' {
			sep = "&"
			break
		}
	}
	return u + sep + "mailto=" + url.QueryEscape(c.mailto)
}
