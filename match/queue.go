package match

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
)

// SLA per priority class.
var slaByPriority = map[graphstore.Priority]time.Duration{
	graphstore.PriorityHigh:   4 * time.Hour,
	graphstore.PriorityNormal: 24 * time.Hour,
	graphstore.PriorityLow:    72 * time.Hour,
}

// DefaultHighImpactDomains are auto-upgraded to high priority regardless of
// escalation reason.
var DefaultHighImpactDomains = []string{
	"medicine",
	"public health",
	"climate science",
	"security",
}

// QueueOptions tune the review queue.
type QueueOptions struct {
	// HighImpactDomains overrides DefaultHighImpactDomains when non-nil.
	HighImpactDomains []string
	// ClaimTTL is how long a reviewer holds a claimed entry. Zero means 1h.
	ClaimTTL time.Duration
}

// ReviewQueue persists escalated matching decisions for human reviewers.
type ReviewQueue struct {
	store      graphstore.Store
	highImpact map[string]bool
	claimTTL   time.Duration
	logger     *zap.Logger
	now        func() time.Time
}

func NewReviewQueue(store graphstore.Store, opts QueueOptions, logger *zap.Logger) *ReviewQueue {
	domains := opts.HighImpactDomains
	if domains == nil {
		domains = DefaultHighImpactDomains
	}
	set := make(map[string]bool, len(domains))
	for _, d := range domains {
		set[d] = true
	}
	ttl := opts.ClaimTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReviewQueue{store: store, highImpact: set, claimTTL: ttl, logger: logger, now: time.Now}
}

// priorityFor derives the queue priority from the escalation reason, with
// the high-impact domain override applied on top.
func (q *ReviewQueue) priorityFor(domain string, reason graphstore.EscalationReason) graphstore.Priority {
	if q.highImpact[domain] {
		return graphstore.PriorityHigh
	}
	switch reason {
	case graphstore.EscalationLowConfidence:
		return graphstore.PriorityLow
	default:
		return graphstore.PriorityNormal
	}
}

// Enqueue files a mention for human review and marks it escalated. It is
// idempotent on the mention: re-enqueueing returns the existing entry
// unchanged.
func (q *ReviewQueue) Enqueue(ctx context.Context, mention graphstore.ProblemMention, suggested []graphstore.SuggestedConcept, reason graphstore.EscalationReason) (graphstore.PendingReview, error) {
	now := q.now()
	priority := q.priorityFor(mention.Domain, reason)
	r := graphstore.PendingReview{
		MentionID:         mention.ID,
		Domain:            mention.Domain,
		SuggestedConcepts: suggested,
		Priority:          priority,
		EscalationReason:  reason,
		SLADeadline:       now.Add(slaByPriority[priority]),
		CreatedAt:         now,
	}
	if err := q.store.SaveReview(ctx, &r); err != nil {
		return graphstore.PendingReview{}, fmt.Errorf("failed to enqueue review: %w", err)
	}
	if err := q.store.SetMentionStatus(ctx, mention.ID, graphstore.ReviewEscalated); err != nil {
		return graphstore.PendingReview{}, fmt.Errorf("failed to mark mention escalated: %w", err)
	}
	return r, nil
}

// List returns queue entries matching the filter, unresolved first within
// the store's priority-then-deadline order.
func (q *ReviewQueue) List(ctx context.Context, f graphstore.ReviewFilter) ([]graphstore.PendingReview, error) {
	return q.store.ListReviews(ctx, f)
}

// Claim checks an entry out for a reviewer. A claim on an already claimed,
// unexpired entry fails with a duplicate fault.
func (q *ReviewQueue) Claim(ctx context.Context, reviewID, reviewer string) (graphstore.PendingReview, error) {
	r, err := q.store.GetReview(ctx, reviewID)
	if err != nil {
		return graphstore.PendingReview{}, err
	}
	if r.Resolved() {
		return graphstore.PendingReview{}, faults.New(faults.KindValidation, "match", "review already resolved")
	}
	now := q.now()
	if r.ClaimedBy != "" && r.ClaimedBy != reviewer && now.Before(r.ClaimExpires) {
		return graphstore.PendingReview{}, faults.New(faults.KindDuplicate, "match",
			fmt.Sprintf("review claimed by %s", r.ClaimedBy))
	}
	r.ClaimedBy = reviewer
	r.ClaimExpires = now.Add(q.claimTTL)
	if err := q.store.UpdateReview(ctx, r); err != nil {
		return graphstore.PendingReview{}, fmt.Errorf("failed to claim review: %w", err)
	}
	return r, nil
}

// ReleaseExpired clears claims whose ttl has passed, putting the entries
// back in the pool. Returns how many were released.
func (q *ReviewQueue) ReleaseExpired(ctx context.Context) (int, error) {
	unresolved := false
	reviews, err := q.store.ListReviews(ctx, graphstore.ReviewFilter{Resolved: &unresolved})
	if err != nil {
		return 0, err
	}
	now := q.now()
	released := 0
	for _, r := range reviews {
		if r.ClaimedBy == "" || now.Before(r.ClaimExpires) {
			continue
		}
		r.ClaimedBy = ""
		r.ClaimExpires = time.Time{}
		if err := q.store.UpdateReview(ctx, r); err != nil {
			return released, fmt.Errorf("failed to release review %s: %w", r.ID, err)
		}
		released++
	}
	return released, nil
}

// Resolve records the reviewer's decision and performs the graph write:
// "link" attaches the mention to resolution.ConceptID, "create_new"
// promotes the mention to a fresh concept.
func (q *ReviewQueue) Resolve(ctx context.Context, reviewID string, resolution graphstore.Resolution) (graphstore.PendingReview, error) {
	r, err := q.store.GetReview(ctx, reviewID)
	if err != nil {
		return graphstore.PendingReview{}, err
	}
	if r.Resolved() {
		return graphstore.PendingReview{}, faults.New(faults.KindDuplicate, "match", "review already resolved")
	}

	mention, err := q.store.GetMention(ctx, r.MentionID)
	if err != nil {
		return graphstore.PendingReview{}, err
	}

	switch resolution.Decision {
	case "link":
		if resolution.ConceptID == "" {
			return graphstore.PendingReview{}, faults.New(faults.KindValidation, "match", "link resolution needs a concept id")
		}
		if err := q.store.LinkInstanceOf(ctx, mention.ID, resolution.ConceptID); err != nil {
			return graphstore.PendingReview{}, fmt.Errorf("failed to link mention: %w", err)
		}
	case "create_new":
		conceptID, err := promoteMention(ctx, q.store, mention)
		if err != nil {
			return graphstore.PendingReview{}, err
		}
		resolution.ConceptID = conceptID
	default:
		return graphstore.PendingReview{}, faults.New(faults.KindValidation, "match",
			fmt.Sprintf("unknown resolution decision %q", resolution.Decision))
	}

	resolution.ResolvedAt = q.now()
	r.Resolution = &resolution
	if err := q.store.UpdateReview(ctx, r); err != nil {
		return graphstore.PendingReview{}, fmt.Errorf("failed to record resolution: %w", err)
	}
	q.logger.Info("review resolved",
		zap.String("review_id", r.ID),
		zap.String("decision", resolution.Decision),
		zap.String("reviewer", resolution.Reviewer))
	return r, nil
}

// promoteMention creates a new concept from the mention and links it.
func promoteMention(ctx context.Context, store graphstore.Store, mention graphstore.ProblemMention) (string, error) {
	c := graphstore.ProblemConcept{
		CanonicalStatement: mention.Statement,
		Domain:             mention.Domain,
		Embedding:          mention.Embedding,
		Status:             graphstore.StatusOpen,
	}
	if err := store.CreateConcept(ctx, &c); err != nil {
		return "", fmt.Errorf("failed to promote mention to concept: %w", err)
	}
	if err := store.LinkInstanceOf(ctx, mention.ID, c.ID); err != nil {
		return "", fmt.Errorf("failed to link promoted mention: %w", err)
	}
	return c.ID, nil
}
