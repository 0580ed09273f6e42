package app

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/extract"
	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/ingest"
	"github.com/djjay0131/agentic-kg/match"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/pdfcache"
	"github.com/djjay0131/agentic-kg/sources"
)

type fakeFetcher struct {
	paper     paper.Paper
	pdf       []byte
	pdfErr    error
	citations []paper.Paper
	pdfCalls  int
}

func (f *fakeFetcher) GetPaper(ctx context.Context, rawID string, opts sources.RequestOptions) (paper.Paper, error) {
	return f.paper, nil
}

func (f *fakeFetcher) GetPDF(ctx context.Context, rawID string) ([]byte, paper.Source, error) {
	f.pdfCalls++
	if f.pdfErr != nil {
		return nil, "", f.pdfErr
	}
	return f.pdf, paper.SourceArxiv, nil
}

func (f *fakeFetcher) GetCitations(ctx context.Context, rawID string, limit int) ([]paper.Paper, error) {
	return f.citations, nil
}

type fakeExtractor struct {
	problems []extract.ExtractedProblem
	sections []extract.Section
}

func (f *fakeExtractor) ExtractAll(ctx context.Context, title string, sections []extract.Section) ([]extract.ExtractedProblem, error) {
	f.sections = sections
	return f.problems, nil
}

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	vec := make([]float32, graphstore.EmbeddingDim)
	vec[0] = 1
	return vec, nil
}

type fakeMatcher struct {
	outcomes []match.Outcome
	mentions []graphstore.ProblemMention
}

func (f *fakeMatcher) Run(ctx context.Context, m graphstore.ProblemMention) (match.Outcome, error) {
	f.mentions = append(f.mentions, m)
	out := f.outcomes[len(f.mentions)-1]
	return out, nil
}

func testProblem(statement string) extract.ExtractedProblem {
	return extract.ExtractedProblem{
		Statement:     statement,
		Confidence:    0.9,
		QuotedText:    statement,
		Domain:        "nlp",
		Section:       extract.SectionLimitations,
		PromptVersion: "problem-extraction/v2",
	}
}

func newTestPipeline(t *testing.T, fetcher *fakeFetcher, ex *fakeExtractor, em Embedder, mm MentionMatcher) (*Pipeline, *graphstore.MemoryStore) {
	t.Helper()
	store := graphstore.NewMemoryStore()
	importer := ingest.New(store, ingest.Options{}, zap.NewNop())
	p := NewPipeline(fetcher, importer, store, ex, em, mm, nil,
		PipelineOptions{ExtractionModel: "gpt-test"}, zap.NewNop())
	return p, store
}

func TestProcessPaperFromAbstract(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		paper: paper.Paper{
			DOI:      "10.1/abs",
			Title:    "Sparse Attention at Scale",
			Abstract: "Attention cost grows quadratically with sequence length in current models.",
		},
		pdfErr: faults.New(faults.KindNotFound, "aggregate", "no PDF"),
	}
	ex := &fakeExtractor{problems: []extract.ExtractedProblem{
		testProblem("Quadratic attention cost limits usable sequence length."),
		testProblem("Long-context evaluation benchmarks lack agreed metrics."),
	}}
	em := &fakeEmbedder{}
	mm := &fakeMatcher{outcomes: []match.Outcome{
		{Action: match.ActionLinked, Tier: match.TierHigh, ConceptID: "c-1"},
		{Action: match.ActionCreated, Tier: match.TierRejected, ConceptID: "c-2"},
	}}
	p, store := newTestPipeline(t, fetcher, ex, em, mm)

	rep, err := p.ProcessPaper(ctx, "10.1/abs")
	if err != nil {
		t.Fatalf("ProcessPaper: %v", err)
	}
	if rep.Import != ingest.StatusCreated {
		t.Errorf("Import = %q", rep.Import)
	}
	if rep.Problems != 2 || rep.Linked != 1 || rep.Created != 1 || rep.Escalated != 0 {
		t.Errorf("report = %+v", rep)
	}
	if len(rep.Failures) != 0 {
		t.Errorf("Failures = %v", rep.Failures)
	}

	if len(ex.sections) != 1 || ex.sections[0].Type != extract.SectionAbstract {
		t.Fatalf("sections = %+v, want abstract fallback", ex.sections)
	}
	if !strings.Contains(ex.sections[0].Content, "quadratically") {
		t.Errorf("abstract content not passed through")
	}

	probs, err := store.ListProblems(ctx, graphstore.ProblemFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(probs) != 2 {
		t.Fatalf("problems in store = %d", len(probs))
	}
	for _, pr := range probs {
		if pr.Evidence.SourceDOI != "10.1/abs" || pr.Evidence.SourceTitle != "Sparse Attention at Scale" {
			t.Errorf("evidence = %+v", pr.Evidence)
		}
		if pr.Extraction.Model != "gpt-test" || pr.Extraction.Version != "problem-extraction/v2" {
			t.Errorf("extraction metadata = %+v", pr.Extraction)
		}
		if len(pr.Embedding) != graphstore.EmbeddingDim {
			t.Errorf("problem embedding dim = %d", len(pr.Embedding))
		}
	}

	if len(mm.mentions) != 2 {
		t.Fatalf("matcher saw %d mentions", len(mm.mentions))
	}
	for _, m := range mm.mentions {
		if m.ID == "" || m.PaperDOI != "10.1/abs" || m.Domain != "nlp" {
			t.Errorf("mention = %+v", m)
		}
	}
}

func TestProcessPaperEmbeddingFailureSkipsMatch(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		paper: paper.Paper{
			DOI:      "10.1/noembed",
			Title:    "A Paper",
			Abstract: "Some abstract about an open problem in model calibration today.",
		},
		pdfErr: faults.New(faults.KindNotFound, "aggregate", "no PDF"),
	}
	ex := &fakeExtractor{problems: []extract.ExtractedProblem{
		testProblem("Calibration error compounds under distribution shift."),
	}}
	em := &fakeEmbedder{err: faults.New(faults.KindTransient, "embed", "rate limited")}
	mm := &fakeMatcher{}
	p, store := newTestPipeline(t, fetcher, ex, em, mm)

	rep, err := p.ProcessPaper(ctx, "10.1/noembed")
	if err != nil {
		t.Fatalf("ProcessPaper: %v", err)
	}
	if len(rep.Failures) != 1 {
		t.Fatalf("Failures = %v, want the skipped match recorded", rep.Failures)
	}
	if len(mm.mentions) != 0 {
		t.Error("matcher should not run without an embedding")
	}
	// The nodes still land, unmatched.
	probs, _ := store.ListProblems(ctx, graphstore.ProblemFilter{})
	if len(probs) != 1 {
		t.Fatalf("problems = %d", len(probs))
	}
	if probs[0].Embedding != nil {
		t.Error("problem should have no embedding")
	}
}

func TestProcessPaperImportsCitations(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{
		paper:  paper.Paper{DOI: "10.1/root", Title: "Root"},
		pdfErr: faults.New(faults.KindNotFound, "aggregate", "no PDF"),
		citations: []paper.Paper{
			{DOI: "10.1/cited-a", Title: "Cited A"},
			{Title: "No DOI, skipped"},
			{DOI: "10.1/cited-b", Title: "Cited B"},
		},
	}
	p, store := newTestPipeline(t, fetcher, &fakeExtractor{}, &fakeEmbedder{}, &fakeMatcher{})
	p.opts.CitationLimit = 10

	rep, err := p.ProcessPaper(ctx, "10.1/root")
	if err != nil {
		t.Fatalf("ProcessPaper: %v", err)
	}
	if rep.Citations != 2 {
		t.Errorf("Citations = %d", rep.Citations)
	}
	out, err := store.Citations(ctx, "10.1/root")
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 2 {
		t.Errorf("citation edges = %v", out)
	}
	if _, err := store.GetPaper(ctx, "10.1/cited-a"); err != nil {
		t.Errorf("cited paper not imported: %v", err)
	}
}

func TestPipelinePDFCacheRoundTrip(t *testing.T) {
	// fetchPDF consult order: cache, then source, then cache write.
	ctx := context.Background()
	fetcher := &fakeFetcher{
		paper: paper.Paper{DOI: "10.1/pdf", Title: "PDF Paper"},
		pdf:   []byte("%PDF-1.4 not really parseable"),
	}
	p, _ := newTestPipeline(t, fetcher, &fakeExtractor{}, &fakeEmbedder{}, &fakeMatcher{})

	pdfs, err := pdfcache.New(filepath.Join(t.TempDir(), "pdfs"), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	p.SetPDFCache(pdfs)

	if _, _, err := p.fetchPDF(ctx, "10.1/pdf"); err != nil {
		t.Fatalf("fetchPDF: %v", err)
	}
	if _, src, err := p.fetchPDF(ctx, "10.1/pdf"); err != nil || src != "cache" {
		t.Fatalf("second fetch = %q, %v; want cache hit", src, err)
	}
	if fetcher.pdfCalls != 1 {
		t.Errorf("source fetched %d times, want 1", fetcher.pdfCalls)
	}
}

func TestHeadTruncates(t *testing.T) {
	long := strings.Repeat("x", 80)
	if got := head(long, 60); len([]rune(got)) != 61 {
		t.Errorf("head = %d runes", len([]rune(got)))
	}
	if got := head("short", 60); got != "short" {
		t.Errorf("head = %q", got)
	}
}
