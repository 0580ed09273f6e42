// Package match decides how a freshly extracted problem mention attaches to
// the concept layer of the graph: auto-link, single-evaluator review,
// adversarial debate, or the human review queue.
package match

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
)

// Tier classifies the best candidate by similarity.
type Tier string

const (
	TierHigh     Tier = "HIGH"
	TierMedium   Tier = "MEDIUM"
	TierLow      Tier = "LOW"
	TierRejected Tier = "REJECTED"
)

// Tiering thresholds on raw similarity. The citation boost affects candidate
// ordering, never the tier.
const (
	highThreshold   = 0.95
	mediumThreshold = 0.80
	lowThreshold    = 0.50

	// CitationBoost is added to a candidate's final score when the
	// mention's paper cites, within one hop, a paper already linked to
	// that candidate.
	CitationBoost = 0.20
)

// TierOf maps a similarity onto its tier.
func TierOf(similarity float64) Tier {
	switch {
	case similarity >= highThreshold:
		return TierHigh
	case similarity >= mediumThreshold:
		return TierMedium
	case similarity >= lowThreshold:
		return TierLow
	default:
		return TierRejected
	}
}

// Candidate is one scored concept match.
type Candidate struct {
	Concept    graphstore.ProblemConcept
	Similarity float64
	Boosted    bool
	FinalScore float64
}

// Decision is the matcher's verdict for one mention. The caller (normally
// the matching workflow) performs the graph writes; the matcher only writes
// when AutoLinkHighConfidence is set.
type Decision struct {
	Tier       Tier
	Best       *Candidate
	Candidates []Candidate
	// AutoLinked is set when the matcher itself wrote the INSTANCE_OF edge.
	AutoLinked bool
}

// Suggested converts the candidate list into review-queue suggestions.
func (d Decision) Suggested() []graphstore.SuggestedConcept {
	out := make([]graphstore.SuggestedConcept, len(d.Candidates))
	for i, c := range d.Candidates {
		out[i] = graphstore.SuggestedConcept{
			ConceptID:  c.Concept.ID,
			Similarity: c.Similarity,
			FinalScore: c.FinalScore,
		}
	}
	return out
}

// Options tune the matcher.
type Options struct {
	// TopK bounds the candidate list. Zero means 5.
	TopK int
	// AutoLinkHighConfidence makes the matcher write the INSTANCE_OF edge
	// itself on a HIGH-tier result rather than leaving the write to the
	// workflow. Off by default so all writes flow through one place.
	AutoLinkHighConfidence bool
}

// Matcher scores concept candidates for a mention.
type Matcher struct {
	store  graphstore.Store
	opts   Options
	logger *zap.Logger
}

func NewMatcher(store graphstore.Store, opts Options, logger *zap.Logger) *Matcher {
	if opts.TopK <= 0 {
		opts.TopK = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Matcher{store: store, opts: opts, logger: logger}
}

// Match runs the vector query, applies the citation boost, and tiers the
// best candidate. An empty concept index yields TierRejected with no
// candidates.
func (m *Matcher) Match(ctx context.Context, mention graphstore.ProblemMention) (Decision, error) {
	if len(mention.Embedding) == 0 {
		return Decision{}, faults.New(faults.KindValidation, "match", "mention has no embedding")
	}

	hits, err := m.store.SearchConcepts(ctx, mention.Embedding, m.opts.TopK)
	if err != nil {
		return Decision{}, fmt.Errorf("failed to search concepts: %w", err)
	}
	if len(hits) == 0 {
		return Decision{Tier: TierRejected}, nil
	}

	cited, err := m.citedPapers(ctx, mention.PaperDOI)
	if err != nil {
		// The boost is an enrichment; a citation lookup failure must not
		// block matching.
		m.logger.Warn("citation lookup failed, skipping boost",
			zap.String("doi", mention.PaperDOI), zap.Error(err))
		cited = nil
	}

	candidates := make([]Candidate, 0, len(hits))
	for _, h := range hits {
		concept, err := m.store.GetConcept(ctx, h.ID)
		if err != nil {
			return Decision{}, fmt.Errorf("failed to load concept %s: %w", h.ID, err)
		}
		c := Candidate{Concept: concept, Similarity: h.Similarity, FinalScore: h.Similarity}
		if len(cited) > 0 {
			boosted, err := m.citesConcept(ctx, cited, concept.ID)
			if err != nil {
				return Decision{}, err
			}
			if boosted {
				c.Boosted = true
				c.FinalScore += CitationBoost
			}
		}
		candidates = append(candidates, c)
	}

	rankCandidates(candidates, mention.Domain)

	best := candidates[0]
	d := Decision{Tier: TierOf(best.Similarity), Best: &best, Candidates: candidates}

	if d.Tier == TierHigh && m.opts.AutoLinkHighConfidence {
		if err := m.store.LinkInstanceOf(ctx, mention.ID, best.Concept.ID); err != nil {
			return Decision{}, fmt.Errorf("failed to auto-link mention: %w", err)
		}
		d.AutoLinked = true
	}
	return d, nil
}

// citedPapers returns the set of DOIs the mention's paper cites directly.
func (m *Matcher) citedPapers(ctx context.Context, doi string) (map[string]bool, error) {
	if doi == "" {
		return nil, nil
	}
	dois, err := m.store.Citations(ctx, doi)
	if err != nil {
		if faults.Is(err, faults.KindNotFound) {
			return nil, nil
		}
		return nil, err
	}
	set := make(map[string]bool, len(dois))
	for _, d := range dois {
		set[d] = true
	}
	return set, nil
}

func (m *Matcher) citesConcept(ctx context.Context, cited map[string]bool, conceptID string) (bool, error) {
	dois, err := m.store.ConceptPaperDOIs(ctx, conceptID)
	if err != nil {
		return false, fmt.Errorf("failed to load concept papers: %w", err)
	}
	for _, d := range dois {
		if cited[d] {
			return true, nil
		}
	}
	return false, nil
}

// rankCandidates orders by final score, breaking ties by domain match, then
// mention count, then concept id.
func rankCandidates(candidates []Candidate, domain string) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		am, bm := a.Concept.Domain == domain, b.Concept.Domain == domain
		if am != bm {
			return am
		}
		if a.Concept.MentionCount != b.Concept.MentionCount {
			return a.Concept.MentionCount > b.Concept.MentionCount
		}
		return a.Concept.ID < b.Concept.ID
	})
}
