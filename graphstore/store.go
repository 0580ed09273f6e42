package graphstore

import (
	"context"
	"errors"

	"github.com/djjay0131/agentic-kg/paper"
)

// Sentinel errors returned by every Store implementation.
var (
	ErrNotFound  = errors.New("graphstore: not found")
	ErrDuplicate = errors.New("graphstore: duplicate")
)

// ProblemFilter narrows ListProblems.
type ProblemFilter struct {
	Status ProblemStatus
	Domain string
	Limit  int
	Offset int
}

// ReviewFilter narrows ListReviews.
type ReviewFilter struct {
	Resolved *bool
	Priority Priority
	Domain   string
	Limit    int
	Offset   int
}

// Hit is one vector-search result.
type Hit struct {
	ID         string
	Similarity float64
}

// Store is the knowledge-graph repository contract. Implementations are safe
// for concurrent use; writes to the same entity are serialised by the
// caller's per-run lock, not by the store.
type Store interface {
	// Papers. UpsertPaper creates or merges on DOI and reports whether a new
	// node was created.
	UpsertPaper(ctx context.Context, p paper.Paper) (created bool, err error)
	GetPaper(ctx context.Context, doi string) (paper.Paper, error)
	ListPapers(ctx context.Context, limit, offset int) ([]paper.Paper, error)

	// Authors. UpsertAuthor matches on ORCID first, then normalized name,
	// and returns the stored author with its stable id.
	UpsertAuthor(ctx context.Context, a paper.Author) (paper.Author, bool, error)
	// SetAuthorship records the AUTHORED_BY edge for a (paper, position).
	// Writing the same position again replaces the previous author.
	SetAuthorship(ctx context.Context, doi, authorID string, position int) error
	PaperAuthors(ctx context.Context, doi string) ([]paper.Author, error)

	// Citations (CITES edges). AddCitation is idempotent.
	AddCitation(ctx context.Context, fromDOI, toDOI string) error
	Citations(ctx context.Context, doi string) ([]string, error)

	// Problems. CreateProblem assigns Version=1 and timestamps.
	// UpdateProblem increments Version on every write.
	CreateProblem(ctx context.Context, p *Problem) error
	GetProblem(ctx context.Context, id string) (Problem, error)
	UpdateProblem(ctx context.Context, p Problem) (Problem, error)
	ListProblems(ctx context.Context, f ProblemFilter) ([]Problem, error)
	// SoftDeleteProblem sets status deprecated; nodes are never removed.
	SoftDeleteProblem(ctx context.Context, id string) error

	// Mentions.
	CreateMention(ctx context.Context, m *ProblemMention) error
	GetMention(ctx context.Context, id string) (ProblemMention, error)
	// SetMentionStatus records an unlinked state change (pending, escalated).
	SetMentionStatus(ctx context.Context, id string, status ReviewStatus) error

	// Concepts.
	CreateConcept(ctx context.Context, c *ProblemConcept) error
	GetConcept(ctx context.Context, id string) (ProblemConcept, error)
	ListConcepts(ctx context.Context, domain string, limit, offset int) ([]ProblemConcept, error)
	// LinkInstanceOf writes the mention→concept edge, marks the mention
	// matched, and keeps the concept's mention_count equal to its incoming
	// edge degree. Linking an already-linked mention fails with ErrDuplicate.
	LinkInstanceOf(ctx context.Context, mentionID, conceptID string) error
	// ConceptPaperDOIs lists the papers whose mentions are linked to the
	// concept. Used for the one-hop citation boost.
	ConceptPaperDOIs(ctx context.Context, conceptID string) ([]string, error)

	// Vector search, cosine similarity, descending.
	SearchConcepts(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
	SearchProblems(ctx context.Context, embedding []float32, topK int) ([]Hit, error)
	SearchMentions(ctx context.Context, embedding []float32, topK int) ([]Hit, error)

	// Problem-to-problem relations.
	CreateRelation(ctx context.Context, r Relation) error
	// Relations returns every edge touching the problem, both directions.
	Relations(ctx context.Context, problemID string) ([]Relation, error)

	// Pending reviews. SaveReview upserts keyed on MentionID (idempotent
	// enqueue); UpdateReview replaces an entry by ID.
	SaveReview(ctx context.Context, r *PendingReview) error
	GetReview(ctx context.Context, id string) (PendingReview, error)
	GetReviewByMention(ctx context.Context, mentionID string) (PendingReview, error)
	UpdateReview(ctx context.Context, r PendingReview) error
	ListReviews(ctx context.Context, f ReviewFilter) ([]PendingReview, error)

	Stats(ctx context.Context) (Stats, error)
	Close() error
}
