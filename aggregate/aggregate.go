// Package aggregate fans a lookup out across the registered source clients
// and merges their answers into a single canonical paper record.
package aggregate

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/normalize"
	"github.com/djjay0131/agentic-kg/paper"
	"github.com/djjay0131/agentic-kg/sources"
)

// DefaultConcurrency bounds the per-call fan-out.
const DefaultConcurrency = 3

// Aggregator routes identifiers to the clients that can serve them, queries
// those clients concurrently, and merges the normalized results. A partial
// answer is still an answer: per-source failures are logged and tolerated
// unless every routed source fails.
type Aggregator struct {
	clients     []sources.Client
	concurrency int
	logger      *zap.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithConcurrency caps how many sources are queried at once.
func WithConcurrency(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.concurrency = n
		}
	}
}

// New builds an aggregator over the given clients. Order matters only for
// search result interleaving; merges are order-insensitive.
func New(clients []sources.Client, logger *zap.Logger, opts ...Option) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Aggregator{
		clients:     clients,
		concurrency: DefaultConcurrency,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Clients returns the clients that can serve the identifier type.
func (a *Aggregator) Clients(t paper.IDType) []sources.Client {
	var out []sources.Client
	for _, c := range a.clients {
		if c.SupportsID(t) {
			out = append(out, c)
		}
	}
	return out
}

// Client returns the registered client for a source, or nil.
func (a *Aggregator) Client(src paper.Source) sources.Client {
	for _, c := range a.clients {
		if c.Source() == src {
			return c
		}
	}
	return nil
}

// GetPaper resolves one identifier across every source that supports its
// type and merges the results. All-sources-missing yields not_found;
// all-sources-failing yields the first failure.
func (a *Aggregator) GetPaper(ctx context.Context, rawID string, opts sources.RequestOptions) (paper.Paper, error) {
	idType := paper.Detect(rawID)
	if idType == paper.IDUnknown || idType == paper.IDURL {
		return paper.Paper{}, faults.New(faults.KindValidation, "aggregate", "unrecognized identifier: "+rawID)
	}
	id := paper.Clean(rawID, idType)
	if id == "" {
		return paper.Paper{}, faults.New(faults.KindValidation, "aggregate", "identifier failed normalization: "+rawID)
	}

	routed := a.Clients(idType)
	if len(routed) == 0 {
		return paper.Paper{}, faults.New(faults.KindNotFound, "aggregate", "no source serves identifier type "+string(idType))
	}

	var (
		mu       sync.Mutex
		papers   []paper.Paper
		firstErr error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for _, c := range routed {
		g.Go(func() error {
			rec, err := c.GetPaper(gctx, id, opts)
			if err != nil {
				mu.Lock()
				if !faults.Is(err, faults.KindNotFound) && firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				a.logger.Warn("source lookup failed",
					zap.String("source", string(c.Source())),
					zap.String("id", id),
					zap.Error(err))
				return nil
			}
			p, err := normalize.Record(rec)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				a.logger.Warn("normalize failed",
					zap.String("source", string(c.Source())),
					zap.Error(err))
				return nil
			}
			mu.Lock()
			papers = append(papers, p)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if len(papers) == 0 {
		if firstErr != nil {
			return paper.Paper{}, firstErr
		}
		return paper.Paper{}, faults.New(faults.KindNotFound, "aggregate", "no source has a record for "+id)
	}

	merged := papers[0]
	for _, p := range papers[1:] {
		merged = paper.Merge(merged, p)
	}
	return merged, nil
}

// SearchPapers queries every client concurrently and unions the results,
// deduplicating by canonical identifier. Papers seen by more than one source
// are merged rather than repeated.
func (a *Aggregator) SearchPapers(ctx context.Context, query string, limit int) ([]paper.Paper, error) {
	if limit <= 0 {
		limit = 20
	}

	results := make([][]paper.Paper, len(a.clients))
	var (
		mu       sync.Mutex
		firstErr error
		failed   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.concurrency)
	for i, c := range a.clients {
		g.Go(func() error {
			recs, err := c.SearchPapers(gctx, query, limit, 0)
			if err != nil {
				mu.Lock()
				failed++
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				a.logger.Warn("source search failed",
					zap.String("source", string(c.Source())),
					zap.String("query", query),
					zap.Error(err))
				return nil
			}
			var ps []paper.Paper
			for _, rec := range recs {
				p, err := normalize.Record(rec)
				if err != nil {
					continue
				}
				ps = append(ps, p)
			}
			results[i] = ps
			return nil
		})
	}
	_ = g.Wait()

	if failed == len(a.clients) && firstErr != nil {
		return nil, firstErr
	}

	merged := Dedup(results)
	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// Dedup interleaves per-source result lists round-robin, merging papers that
// resolve to the same canonical identifier. First appearance fixes position.
func Dedup(lists [][]paper.Paper) []paper.Paper {
	var (
		order []string
		byID  = make(map[string]paper.Paper)
	)
	for round := 0; ; round++ {
		advanced := false
		for _, list := range lists {
			if round >= len(list) {
				continue
			}
			advanced = true
			p := list[round]
			id := p.BestID()
			if id == "" {
				id = p.Title
			}
			if prev, ok := byID[id]; ok {
				byID[id] = paper.Merge(prev, p)
				continue
			}
			byID[id] = p
			order = append(order, id)
		}
		if !advanced {
			break
		}
	}
	out := make([]paper.Paper, 0, len(order))
	for _, id := range order {
		out = append(out, byID[id])
	}
	return out
}

// GetCitations lists papers citing the identifier, asking the first routed
// client with citation capability.
func (a *Aggregator) GetCitations(ctx context.Context, rawID string, limit int) ([]paper.Paper, error) {
	idType := paper.Detect(rawID)
	id := paper.Clean(rawID, idType)
	if id == "" {
		return nil, faults.New(faults.KindValidation, "aggregate", "unrecognized identifier: "+rawID)
	}
	for _, c := range a.Clients(idType) {
		cp, ok := c.(sources.CitationsProvider)
		if !ok {
			continue
		}
		recs, err := cp.GetCitations(ctx, id, limit)
		if err != nil {
			if faults.Is(err, faults.KindNotFound) {
				continue
			}
			return nil, err
		}
		out := make([]paper.Paper, 0, len(recs))
		for _, rec := range recs {
			p, nerr := normalize.Record(rec)
			if nerr != nil {
				continue
			}
			out = append(out, p)
		}
		return out, nil
	}
	return nil, faults.New(faults.KindNotFound, "aggregate", "no citation source for "+id)
}

// GetPDF fetches PDF bytes from the first capable routed source.
func (a *Aggregator) GetPDF(ctx context.Context, rawID string) ([]byte, paper.Source, error) {
	idType := paper.Detect(rawID)
	id := paper.Clean(rawID, idType)
	if id == "" {
		return nil, "", faults.New(faults.KindValidation, "aggregate", "unrecognized identifier: "+rawID)
	}
	var firstErr error
	for _, c := range a.Clients(idType) {
		pp, ok := c.(sources.PDFProvider)
		if !ok {
			continue
		}
		b, err := pp.GetPDFBytes(ctx, id)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		return b, c.Source(), nil
	}
	if firstErr != nil {
		return nil, "", firstErr
	}
	return nil, "", faults.New(faults.KindNotFound, "aggregate", "no PDF available for "+id)
}
