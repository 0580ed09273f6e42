package openalex

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/retry"
	"github.com/djjay0131/agentic-kg/sources"
)

const workJSON = `{
	"id": "https://openalex.org/W2741809807",
	"doi": "https://doi.org/10.18653/v1/N18-1202",
	"title": "Deep Contextualized Word Representations",
	"publication_year": 2018,
	"cited_by_count": 11000,
	"open_access": {"is_oa": true, "oa_url": "https://example.org/pdf"},
	"authorships": [
		{"author_position": "first",
		 "author": {"id": "https://openalex.org/A1", "display_name": "M. Peters"}}
	],
	"concepts": [{"display_name": "Natural language processing", "score": 0.9}]
}`

func newClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	stack := sources.NewStack("openalex", nil, nil, nil,
		retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1, MaxRetries: 0}, nil)
	c := New(stack, "dev@example.org")
	c.baseURL = srv.URL
	return c
}

func TestGetPaperByDOI(t *testing.T) {
	var gotURL string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(workJSON))
	})

	rec, err := c.GetPaper(context.Background(), "10.18653/v1/N18-1202", sources.RequestOptions{})
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	work := rec.(Record)
	if work.PublicationYear != 2018 || !work.OpenAccess.IsOA {
		t.Errorf("record = %+v", work)
	}
	if !strings.Contains(gotURL, "/works/doi:") {
		t.Errorf("url = %q, want doi: addressing", gotURL)
	}
	// The polite-pool mailto rides along on every request.
	if !strings.Contains(gotURL, "mailto=dev%40example.org") && !strings.Contains(gotURL, "mailto=dev@example.org") {
		t.Errorf("url = %q, want mailto param", gotURL)
	}
}

func TestGetPaperUnsupportedID(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(workJSON))
	})
	_, err := c.GetPaper(context.Background(), "not-an-identifier !!", sources.RequestOptions{})
	if !faults.Is(err, faults.KindValidation) {
		t.Errorf("err = %v, want validation", err)
	}
}

func TestGetPaperEmptyRecordIsNotFound(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	})
	_, err := c.GetPaper(context.Background(), "W2741809807", sources.RequestOptions{})
	if !faults.Is(err, faults.KindNotFound) {
		t.Errorf("err = %v, want not found", err)
	}
}

func TestGetCitations(t *testing.T) {
	var gotURL string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`{"results": [` + workJSON + `]}`))
	})
	recs, err := c.GetCitations(context.Background(), "W2741809807", 25)
	if err != nil {
		t.Fatalf("GetCitations: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("results = %d", len(recs))
	}
	if !strings.Contains(gotURL, "filter=cites:W2741809807") {
		t.Errorf("url = %q", gotURL)
	}
}

func TestGetAuthor(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id": "https://openalex.org/A1",
			"display_name": "M. Peters",
			"orcid": "https://orcid.org/0000-0001-0000-0000"}`))
	})
	rec, err := c.GetAuthor(context.Background(), "A1")
	if err != nil {
		t.Fatalf("GetAuthor: %v", err)
	}
	author := rec.(AuthorRecord)
	if author.DisplayName != "M. Peters" {
		t.Errorf("author = %+v", author)
	}
}

func TestSearchPapers(t *testing.T) {
	var gotURL string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotURL = r.URL.String()
		w.Write([]byte(`{"results": [` + workJSON + `]}`))
	})
	recs, err := c.SearchPapers(context.Background(), "word representations", 10, 20)
	if err != nil {
		t.Fatalf("SearchPapers: %v", err)
	}
	if len(recs) != 1 {
		t.Fatalf("results = %d", len(recs))
	}
	// offset 20 at page size 10 is page 3.
	if !strings.Contains(gotURL, "page=3") {
		t.Errorf("url = %q", gotURL)
	}
}
