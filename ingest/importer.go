// Package ingest writes papers and authors into the knowledge graph.
package ingest

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/paper"
)

// Status classifies the outcome of importing one paper.
type Status string

const (
	StatusCreated Status = "created"
	StatusUpdated Status = "updated"
	StatusSkipped Status = "skipped"
	StatusFailed  Status = "failed"
)

// Progress is invoked after each paper in a batch completes. done counts
// finished papers including this one.
type Progress func(done, total int, doi string, status Status)

// BatchResult summarises a batch import.
type BatchResult struct {
	Total   int
	Created int
	Updated int
	Skipped int
	Failed  int
	// Errors maps the paper's best identifier to its failure.
	Errors map[string]error
}

// Options tune an Importer.
type Options struct {
	// UpdateExisting merges an incoming paper into an already-stored one.
	// When false, papers already present are skipped untouched.
	UpdateExisting bool
	// Concurrency bounds how many papers a batch imports at once.
	Concurrency int
	Progress    Progress
}

// Importer upserts Paper and Author nodes and their AUTHORED_BY edges.
type Importer struct {
	store  graphstore.Store
	opts   Options
	logger *zap.Logger
}

// New creates an Importer.
func New(store graphstore.Store, opts Options, logger *zap.Logger) *Importer {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Importer{store: store, opts: opts, logger: logger}
}

// ImportPaper upserts one paper with its authors. An existing paper is
// skipped unless UpdateExisting is set, in which case the incoming fields
// merge into the stored node.
func (im *Importer) ImportPaper(ctx context.Context, p paper.Paper) (Status, error) {
	_, err := im.store.GetPaper(ctx, p.DOI)
	exists := err == nil
	if err != nil && !errors.Is(err, graphstore.ErrNotFound) {
		return StatusFailed, err
	}
	if exists && !im.opts.UpdateExisting {
		return StatusSkipped, nil
	}

	created, err := im.store.UpsertPaper(ctx, p)
	if err != nil {
		return StatusFailed, err
	}

	for pos, a := range p.Authors {
		stored, _, err := im.store.UpsertAuthor(ctx, a)
		if err != nil {
			im.logger.Warn("author upsert failed",
				zap.String("doi", p.DOI),
				zap.String("author", a.Name),
				zap.Error(err))
			continue
		}
		if err := im.store.SetAuthorship(ctx, p.DOI, stored.ID, pos); err != nil {
			im.logger.Warn("authorship write failed",
				zap.String("doi", p.DOI),
				zap.Int("position", pos),
				zap.Error(err))
		}
	}

	if created {
		return StatusCreated, nil
	}
	return StatusUpdated, nil
}

// ImportBatch imports papers concurrently, bounded by Concurrency, and
// reports per-paper progress. One paper's failure never aborts the batch.
func (im *Importer) ImportBatch(ctx context.Context, papers []paper.Paper) BatchResult {
	result := BatchResult{Total: len(papers), Errors: make(map[string]error)}
	sem := semaphore.NewWeighted(int64(im.opts.Concurrency))

	var (
		mu   sync.Mutex
		wg   sync.WaitGroup
		done int
	)
	for _, p := range papers {
		if err := sem.Acquire(ctx, 1); err != nil {
			mu.Lock()
			result.Failed++
			result.Errors[p.BestID()] = err
			done++
			mu.Unlock()
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)

			status, err := im.ImportPaper(ctx, p)

			mu.Lock()
			defer mu.Unlock()
			done++
			switch status {
			case StatusCreated:
				result.Created++
			case StatusUpdated:
				result.Updated++
			case StatusSkipped:
				result.Skipped++
			case StatusFailed:
				result.Failed++
				result.Errors[p.BestID()] = err
				im.logger.Warn("paper import failed",
					zap.String("id", p.BestID()),
					zap.Error(err))
			}
			if im.opts.Progress != nil {
				im.opts.Progress(done, result.Total, p.DOI, status)
			}
		}()
	}
	wg.Wait()
	return result
}
