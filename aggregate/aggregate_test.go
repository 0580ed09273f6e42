package aggregate

import (
	"context"
	"testing"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/sources"
	"github.com/djjay0131/agentic-kg/sources/openalex"
	"github.com/djjay0131/agentic-kg/sources/semanticscholar"
)

type fakeClient struct {
	source   paper.Source
	supports map[paper.IDType]bool
	papers   map[string]sources.Record
	search   []sources.Record
	err      error
	calls    int
}

func (f *fakeClient) Source() paper.Source           { return f.source }
func (f *fakeClient) SupportsID(t paper.IDType) bool { return f.supports[t] }

func (f *fakeClient) GetPaper(ctx context.Context, id string, opts sources.RequestOptions) (sources.Record, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	rec, ok := f.papers[id]
	if !ok {
		return nil, faults.New(faults.KindNotFound, string(f.source), "no record")
	}
	return rec, nil
}

func (f *fakeClient) SearchPapers(ctx context.Context, query string, limit, offset int) ([]sources.Record, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.search, nil
}

func s2Record(doi, title string, citations int, open bool) semanticscholar.Record {
	var r semanticscholar.Record
	r.PaperID = "649def34f8be52c8b66281af98ae884c09aef38b"
	r.ExternalIDs.DOI = doi
	r.Title = title
	r.CitationCount = citations
	r.IsOpenAccess = open
	r.Authors = []struct {
		AuthorID string `json:"authorId"`
		Name     string `json:"name"`
	}{{AuthorID: "1", Name: "M. Peters"}}
	return r
}

func oaRecord(doi, title string, citations int, open bool) openalex.Record {
	var r openalex.Record
	r.ID = "https://openalex.org/W2963341956"
	r.DOI = "https://doi.org/" + doi
	r.Title = title
	r.CitedByCount = citations
	r.OpenAccess.IsOA = open
	return r
}

func TestGetPaper_MergesAcrossSources(t *testing.T) {
	const doi = "10.18653/v1/N18-1202"
	s2 := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true, paper.IDS2: true},
		papers:   map[string]sources.Record{doi: s2Record(doi, "Deep contextualized word representations", 100, false)},
	}
	oa := &fakeClient{
		source:   paper.SourceOpenAlex,
		supports: map[paper.IDType]bool{paper.IDDoi: true, paper.IDOpenAlex: true},
		papers:   map[string]sources.Record{doi: oaRecord(doi, "Deep contextualized word representations", 120, true)},
	}
	agg := New([]sources.Client{s2, oa}, nil)

	p, err := agg.GetPaper(context.Background(), doi, sources.RequestOptions{})
	if err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if p.DOI != doi {
		t.Errorf("DOI = %q", p.DOI)
	}
	if p.CitationCount != 120 {
		t.Errorf("CitationCount = %d, want max 120", p.CitationCount)
	}
	if !p.IsOpenAccess {
		t.Error("IsOpenAccess should be OR of sources")
	}
	if p.S2ID == "" || p.OpenAlexID == "" {
		t.Errorf("merged record lost a source id: s2=%q openalex=%q", p.S2ID, p.OpenAlexID)
	}
	if len(p.Authors) != 1 {
		t.Errorf("authors = %v", p.Authors)
	}
}

func TestGetPaper_RoutesByIDType(t *testing.T) {
	s2 := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true, paper.IDArxiv: true, paper.IDS2: true},
		papers:   map[string]sources.Record{"1802.05365": s2Record("", "ELMo", 10, true)},
	}
	oa := &fakeClient{
		source:   paper.SourceOpenAlex,
		supports: map[paper.IDType]bool{paper.IDDoi: true, paper.IDOpenAlex: true},
	}
	agg := New([]sources.Client{s2, oa}, nil)

	if _, err := agg.GetPaper(context.Background(), "arXiv:1802.05365", sources.RequestOptions{}); err != nil {
		t.Fatalf("GetPaper: %v", err)
	}
	if s2.calls != 1 {
		t.Errorf("s2 calls = %d, want 1", s2.calls)
	}
	if oa.calls != 0 {
		t.Errorf("openalex queried for an arXiv id: %d calls", oa.calls)
	}
}

func TestGetPaper_PartialFailureTolerated(t *testing.T) {
	const doi = "10.1000/xyz"
	broken := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
		err:      faults.New(faults.KindTransient, "s2", "down"),
	}
	oa := &fakeClient{
		source:   paper.SourceOpenAlex,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
		papers:   map[string]sources.Record{doi: oaRecord(doi, "Solo", 5, false)},
	}
	agg := New([]sources.Client{broken, oa}, nil)

	p, err := agg.GetPaper(context.Background(), doi, sources.RequestOptions{})
	if err != nil {
		t.Fatalf("one healthy source should suffice: %v", err)
	}
	if p.Title != "Solo" {
		t.Errorf("Title = %q", p.Title)
	}
}

func TestGetPaper_AllSourcesFailing(t *testing.T) {
	broken := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
		err:      faults.New(faults.KindTransient, "s2", "down"),
	}
	agg := New([]sources.Client{broken}, nil)
	_, err := agg.GetPaper(context.Background(), "10.1000/xyz", sources.RequestOptions{})
	if !faults.Is(err, faults.KindTransient) {
		t.Errorf("want surfaced transient failure, got %v", err)
	}
}

func TestGetPaper_AllSourcesMissing(t *testing.T) {
	empty := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
	}
	agg := New([]sources.Client{empty}, nil)
	_, err := agg.GetPaper(context.Background(), "10.1000/xyz", sources.RequestOptions{})
	if !faults.Is(err, faults.KindNotFound) {
		t.Errorf("want not_found, got %v", err)
	}
}

func TestGetPaper_UnknownIdentifier(t *testing.T) {
	agg := New(nil, nil)
	_, err := agg.GetPaper(context.Background(), "not an identifier", sources.RequestOptions{})
	if !faults.Is(err, faults.KindValidation) {
		t.Errorf("want validation, got %v", err)
	}
}

func TestSearchPapers_DedupsByCanonicalID(t *testing.T) {
	const doi = "10.18653/v1/N18-1202"
	s2 := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
		search: []sources.Record{
			s2Record(doi, "Deep contextualized word representations", 100, false),
			s2Record("10.1000/only-s2", "Unique to S2", 1, false),
		},
	}
	oa := &fakeClient{
		source:   paper.SourceOpenAlex,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
		search: []sources.Record{
			oaRecord(doi, "Deep contextualized word representations", 120, true),
		},
	}
	agg := New([]sources.Client{s2, oa}, nil)

	out, err := agg.SearchPapers(context.Background(), "elmo", 10)
	if err != nil {
		t.Fatalf("SearchPapers: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d results, want 2 after dedup: %+v", len(out), out)
	}
	if out[0].DOI != doi {
		t.Errorf("first result DOI = %q", out[0].DOI)
	}
	if out[0].CitationCount != 120 {
		t.Errorf("duplicate was not merged: citations = %d", out[0].CitationCount)
	}
}

func TestSearchPapers_AllSourcesFailing(t *testing.T) {
	broken := &fakeClient{
		source:   paper.SourceS2,
		supports: map[paper.IDType]bool{paper.IDDoi: true},
		err:      faults.New(faults.KindTransient, "s2", "down"),
	}
	agg := New([]sources.Client{broken}, nil)
	if _, err := agg.SearchPapers(context.Background(), "q", 5); err == nil {
		t.Error("want error when every source fails")
	}
}

func TestDedup_FirstAppearanceFixesPosition(t *testing.T) {
	a := paper.Paper{DOI: "10.1/a", Title: "A"}
	b := paper.Paper{DOI: "10.1/b", Title: "B"}
	dup := paper.Paper{DOI: "10.1/a", Title: "A", CitationCount: 9}

	out := Dedup([][]paper.Paper{{a, b}, {dup}})
	if len(out) != 2 {
		t.Fatalf("len = %d", len(out))
	}
	if out[0].DOI != "10.1/a" || out[1].DOI != "10.1/b" {
		t.Errorf("order changed: %v, %v", out[0].DOI, out[1].DOI)
	}
	if out[0].CitationCount != 9 {
		t.Errorf("duplicate not merged: %d", out[0].CitationCount)
	}
}
