package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/embed"
	"github.com/djjay0131/agentic-kg/extract"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/ingest"
	"github.com/djjay0131/agentic-kg/match"
	"github.com/djjay0131/agentic-kg/metrics"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/pdfcache"
	"github.com/djjay0131/agentic-kg/sources"
)

// Fetcher acquires paper metadata and full text from the source layer.
type Fetcher interface {
	GetPaper(ctx context.Context, rawID string, opts sources.RequestOptions) (paper.Paper, error)
	GetPDF(ctx context.Context, rawID string) ([]byte, paper.Source, error)
	GetCitations(ctx context.Context, rawID string, limit int) ([]paper.Paper, error)
}

// Embedder produces a fixed-dimension vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Extractor pulls problem records out of segmented paper text.
type Extractor interface {
	ExtractAll(ctx context.Context, paperTitle string, sections []extract.Section) ([]extract.ExtractedProblem, error)
}

// MentionMatcher resolves a mention against the concept layer.
type MentionMatcher interface {
	Run(ctx context.Context, m graphstore.ProblemMention) (match.Outcome, error)
}

// PipelineOptions tune a Pipeline.
type PipelineOptions struct {
	// CitationLimit bounds how many citing/cited papers are imported per
	// paper. Zero disables citation import.
	CitationLimit int
	// ExtractionModel labels the extraction metadata on created problems.
	ExtractionModel string
}

// Pipeline runs the full path for one paper: fetch, import, extract,
// embed, and match every extracted problem against the concept layer.
type Pipeline struct {
	fetcher   Fetcher
	importer  *ingest.Importer
	store     graphstore.Store
	extractor Extractor
	embedder  Embedder
	matcher   MentionMatcher
	metrics   *metrics.Metrics
	pdfs      *pdfcache.Cache
	opts      PipelineOptions
	logger    *zap.Logger
}

func NewPipeline(fetcher Fetcher, importer *ingest.Importer, store graphstore.Store,
	extractor Extractor, embedder Embedder, matcher MentionMatcher,
	m *metrics.Metrics, opts PipelineOptions, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		fetcher:   fetcher,
		importer:  importer,
		store:     store,
		extractor: extractor,
		embedder:  embedder,
		matcher:   matcher,
		metrics:   m,
		opts:      opts,
		logger:    logger,
	}
}

// SetPDFCache enables content-addressed caching of fetched PDFs.
func (p *Pipeline) SetPDFCache(c *pdfcache.Cache) { p.pdfs = c }

// Report summarises one ProcessPaper call. Failures holds per-problem
// errors that did not abort the run.
type Report struct {
	DOI       string        `json:"doi"`
	Title     string        `json:"title"`
	Import    ingest.Status `json:"import"`
	Citations int           `json:"citations"`
	Problems  int           `json:"problems"`
	Linked    int           `json:"linked"`
	Created   int           `json:"created"`
	Escalated int           `json:"escalated"`
	Failures  []string      `json:"failures,omitempty"`
}

// ProcessPaper fetches one paper by identifier, imports it and its
// citation neighbourhood, extracts problems from the full text, and runs
// each through the matching workflow. Per-problem failures are recorded
// in the report; only fetch and import failures abort.
func (p *Pipeline) ProcessPaper(ctx context.Context, rawID string) (Report, error) {
	pp, err := p.fetcher.GetPaper(ctx, rawID, sources.RequestOptions{})
	if err != nil {
		return Report{}, fmt.Errorf("failed to fetch paper %s: %w", rawID, err)
	}
	rep := Report{DOI: pp.DOI, Title: pp.Title}

	status, err := p.importer.ImportPaper(ctx, pp)
	if err != nil {
		return rep, fmt.Errorf("failed to import paper %s: %w", pp.BestID(), err)
	}
	rep.Import = status
	if p.metrics != nil {
		p.metrics.PaperImported(string(status))
	}

	rep.Citations = p.importCitations(ctx, pp)

	sections := p.fullText(ctx, pp, &rep)
	if len(sections) == 0 {
		return rep, nil
	}

	extracted, err := p.extractor.ExtractAll(ctx, pp.Title, sections)
	if err != nil {
		rep.Failures = append(rep.Failures, fmt.Sprintf("extract: %v", err))
		return rep, nil
	}
	rep.Problems = len(extracted)

	for _, ex := range extracted {
		if err := p.processProblem(ctx, pp, ex, &rep); err != nil {
			rep.Failures = append(rep.Failures, fmt.Sprintf("problem %q: %v", head(ex.Statement, 60), err))
		}
	}
	return rep, nil
}

// importCitations pulls the citation neighbourhood and records the edges.
// Failures here degrade the graph but never abort the paper.
func (p *Pipeline) importCitations(ctx context.Context, pp paper.Paper) int {
	if p.opts.CitationLimit <= 0 {
		return 0
	}
	cited, err := p.fetcher.GetCitations(ctx, pp.BestID(), p.opts.CitationLimit)
	if err != nil {
		p.logger.Warn("citation fetch failed",
			zap.String("paper", pp.BestID()), zap.Error(err))
		return 0
	}
	imported := 0
	for _, c := range cited {
		if c.DOI == "" {
			continue
		}
		if _, err := p.importer.ImportPaper(ctx, c); err != nil {
			p.logger.Warn("citation import failed",
				zap.String("doi", c.DOI), zap.Error(err))
			continue
		}
		if pp.DOI != "" {
			if err := p.store.AddCitation(ctx, pp.DOI, c.DOI); err != nil {
				p.logger.Warn("citation edge failed",
					zap.String("from", pp.DOI), zap.String("to", c.DOI), zap.Error(err))
				continue
			}
		}
		imported++
	}
	return imported
}

// fullText returns the sections to extract from: the segmented PDF when
// one can be fetched, otherwise the abstract as a single section.
func (p *Pipeline) fullText(ctx context.Context, pp paper.Paper, rep *Report) []extract.Section {
	data, src, err := p.fetchPDF(ctx, pp.BestID())
	if err == nil {
		text, err := extract.ExtractPDF(data)
		if err == nil {
			p.logger.Debug("pdf extracted",
				zap.String("paper", pp.BestID()), zap.String("source", src))
			return extract.Segment(extract.CleanText(text.Text()))
		}
		rep.Failures = append(rep.Failures, fmt.Sprintf("pdf parse: %v", err))
	} else {
		p.logger.Info("no pdf, falling back to abstract",
			zap.String("paper", pp.BestID()), zap.Error(err))
	}
	if pp.Abstract == "" {
		return nil
	}
	return []extract.Section{{
		Type:     extract.SectionAbstract,
		Title:    "Abstract",
		Content:  pp.Abstract,
		Priority: extract.SectionAbstract.Priority(),
	}}
}

// fetchPDF reads through the PDF cache when one is configured.
func (p *Pipeline) fetchPDF(ctx context.Context, id string) ([]byte, string, error) {
	if p.pdfs != nil {
		if b, err := p.pdfs.Get(id); err == nil {
			return b, "cache", nil
		}
	}
	b, src, err := p.fetcher.GetPDF(ctx, id)
	if err != nil {
		return nil, "", err
	}
	if p.pdfs != nil {
		if _, err := p.pdfs.Store(id, string(src), b); err != nil {
			p.logger.Warn("pdf cache write failed", zap.String("paper", id), zap.Error(err))
		}
	}
	return b, string(src), nil
}

// processProblem writes the Problem and Mention nodes for one extracted
// record and resolves the mention against the concept layer.
func (p *Pipeline) processProblem(ctx context.Context, pp paper.Paper, ex extract.ExtractedProblem, rep *Report) error {
	domain := ex.Domain
	if domain == "" && len(pp.FieldsOfStudy) > 0 {
		domain = pp.FieldsOfStudy[0]
	}

	vec, err := p.embedder.Embed(ctx, embed.ProblemText(domain, ex.Statement, ex.Assumptions))
	if err != nil {
		p.logger.Warn("embedding failed", zap.Error(err))
		vec = nil
	}

	prob := graphstore.Problem{
		Statement:   ex.Statement,
		Domain:      domain,
		Status:      graphstore.StatusOpen,
		Assumptions: ex.Assumptions,
		Constraints: ex.Constraints,
		Datasets:    ex.Datasets,
		Metrics:     ex.Metrics,
		Baselines:   ex.Baselines,
		Embedding:   vec,
		Evidence: graphstore.Evidence{
			SourceDOI:   pp.DOI,
			SourceTitle: pp.Title,
			Section:     string(ex.Section),
			QuotedText:  ex.QuotedText,
		},
		Extraction: graphstore.ExtractionMetadata{
			Model:           p.opts.ExtractionModel,
			Version:         ex.PromptVersion,
			ConfidenceScore: ex.Confidence,
		},
	}
	if err := p.store.CreateProblem(ctx, &prob); err != nil {
		return fmt.Errorf("failed to create problem: %w", err)
	}
	if p.metrics != nil {
		p.metrics.ProblemExtracted(string(ex.Section))
	}

	mention := graphstore.ProblemMention{
		Statement: ex.Statement,
		Embedding: vec,
		PaperDOI:  pp.DOI,
		Domain:    domain,
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.CreateMention(ctx, &mention); err != nil {
		return fmt.Errorf("failed to create mention: %w", err)
	}

	if vec == nil {
		return fmt.Errorf("mention %s has no embedding, skipping match", mention.ID)
	}
	out, err := p.matcher.Run(ctx, mention)
	if err != nil {
		return fmt.Errorf("match failed: %w", err)
	}
	if p.metrics != nil {
		p.metrics.MatchDecision(string(out.Tier), string(out.Action))
	}
	switch out.Action {
	case match.ActionLinked:
		rep.Linked++
	case match.ActionCreated:
		rep.Created++
	case match.ActionEscalated:
		rep.Escalated++
	}
	return nil
}

func head(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
