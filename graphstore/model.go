// Package graphstore is the knowledge-graph repository: node and relation
// models, the store contract, and the memory and SQLite implementations.
package graphstore

import (
	"math"
	"time"

	"github.com/djjay0131/agentic-kg/faults"
)

// EmbeddingDim is the fixed dimensionality of every stored vector.
const EmbeddingDim = 1536

// ProblemStatus is the lifecycle state of a research problem.
type ProblemStatus string

const (
	StatusOpen       ProblemStatus = "open"
	StatusInProgress ProblemStatus = "in_progress"
	StatusResolved   ProblemStatus = "resolved"
	StatusDeprecated ProblemStatus = "deprecated"
)

// ReviewStatus tracks how a mention's matching decision stands.
type ReviewStatus string

const (
	ReviewMatched   ReviewStatus = "matched"
	ReviewPending   ReviewStatus = "pending"
	ReviewEscalated ReviewStatus = "escalated"
	ReviewResolved  ReviewStatus = "resolved"
)

// ConstraintType classifies a problem constraint.
type ConstraintType string

const (
	ConstraintComputational  ConstraintType = "computational"
	ConstraintData           ConstraintType = "data"
	ConstraintMethodological ConstraintType = "methodological"
	ConstraintTheoretical    ConstraintType = "theoretical"
)

// Constraint is one bounded condition on a problem.
type Constraint struct {
	Text       string         `json:"text"`
	Type       ConstraintType `json:"type"`
	Confidence float64        `json:"confidence"`
}

// Evidence anchors a problem to the paper text it came from.
type Evidence struct {
	SourceDOI   string `json:"source_doi"`
	SourceTitle string `json:"source_title"`
	Section     string `json:"section"`
	QuotedText  string `json:"quoted_text"`
}

// ExtractionMetadata records how a problem was produced.
type ExtractionMetadata struct {
	Model           string  `json:"model"`
	Version         string  `json:"version"`
	ConfidenceScore float64 `json:"confidence_score"`
	Reviewed        bool    `json:"reviewed"`
}

// Problem is a research problem node. Version increments on every write.
type Problem struct {
	ID          string             `json:"id"`
	Statement   string             `json:"statement"`
	Domain      string             `json:"domain"`
	Status      ProblemStatus      `json:"status"`
	Assumptions []string           `json:"assumptions,omitempty"`
	Constraints []Constraint       `json:"constraints,omitempty"`
	Datasets    []string           `json:"datasets,omitempty"`
	Metrics     []string           `json:"metrics,omitempty"`
	Baselines   []string           `json:"baselines,omitempty"`
	Evidence    Evidence           `json:"evidence"`
	Extraction  ExtractionMetadata `json:"extraction_metadata"`
	Embedding   []float32          `json:"embedding,omitempty"`
	Version     int                `json:"version"`
	CreatedAt   time.Time          `json:"created_at"`
	UpdatedAt   time.Time          `json:"updated_at"`
}

// ProblemMention is one occurrence of a problem in one paper. Mentions are
// never mutated after creation except to record a matching decision.
type ProblemMention struct {
	ID           string       `json:"id"`
	Statement    string       `json:"statement"`
	Embedding    []float32    `json:"embedding,omitempty"`
	PaperDOI     string       `json:"paper_doi"`
	Domain       string       `json:"domain"`
	ReviewStatus ReviewStatus `json:"review_status"`
	// ConceptID is set once the mention is linked to its concept.
	ConceptID string    `json:"concept_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ProblemConcept is the canonical cross-paper identity of a problem.
// MentionCount always equals the concept's incoming INSTANCE_OF degree.
type ProblemConcept struct {
	ID                 string        `json:"id"`
	CanonicalStatement string        `json:"canonical_statement"`
	Domain             string        `json:"domain"`
	Embedding          []float32     `json:"embedding,omitempty"`
	MentionCount       int           `json:"mention_count"`
	Status             ProblemStatus `json:"status"`
	CreatedAt          time.Time     `json:"created_at"`
}

// Priority is a review-queue priority class.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// EscalationReason explains why a matching decision needs a human.
type EscalationReason string

const (
	EscalationConsensusNotReached EscalationReason = "consensus_not_reached"
	EscalationEvaluatorEscalated  EscalationReason = "evaluator_escalated"
	EscalationLowConfidence       EscalationReason = "low_confidence"
)

// SuggestedConcept is one ranked candidate attached to a review entry.
type SuggestedConcept struct {
	ConceptID  string  `json:"concept_id"`
	Similarity float64 `json:"similarity"`
	FinalScore float64 `json:"final_score"`
}

// Resolution records a reviewer's decision on a pending review.
type Resolution struct {
	Decision   string    `json:"decision"` // "link" or "create_new"
	ConceptID  string    `json:"concept_id,omitempty"`
	Reviewer   string    `json:"reviewer"`
	ResolvedAt time.Time `json:"resolved_at"`
	Notes      string    `json:"notes,omitempty"`
}

// PendingReview is one unresolved matching decision awaiting a human.
type PendingReview struct {
	ID                string             `json:"id"`
	MentionID         string             `json:"mention_id"`
	Domain            string             `json:"domain"`
	SuggestedConcepts []SuggestedConcept `json:"suggested_concepts,omitempty"`
	Priority          Priority           `json:"priority"`
	EscalationReason  EscalationReason   `json:"escalation_reason"`
	SLADeadline       time.Time          `json:"sla_deadline"`
	// ClaimedBy and ClaimExpires track a reviewer checkout.
	ClaimedBy    string      `json:"claimed_by,omitempty"`
	ClaimExpires time.Time   `json:"claim_expires,omitempty"`
	Resolution   *Resolution `json:"resolution,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// Resolved reports whether the review has a recorded decision.
func (r *PendingReview) Resolved() bool { return r.Resolution != nil }

// RelationKind types a directed problem-to-problem relation.
type RelationKind string

const (
	RelExtends     RelationKind = "EXTENDS"
	RelContradicts RelationKind = "CONTRADICTS"
	RelDependsOn   RelationKind = "DEPENDS_ON"
	RelReframes    RelationKind = "REFRAMES"
)

// ValidRelationKind reports whether k is one of the typed relation kinds.
func ValidRelationKind(k RelationKind) bool {
	switch k {
	case RelExtends, RelContradicts, RelDependsOn, RelReframes:
		return true
	}
	return false
}

// Relation is a directed, typed, confidence-weighted edge between problems.
type Relation struct {
	FromID     string       `json:"from_id"`
	ToID       string       `json:"to_id"`
	Kind       RelationKind `json:"kind"`
	Confidence float64      `json:"confidence"`
	CreatedAt  time.Time    `json:"created_at"`
}

// Stats is the aggregate shape behind the stats surface.
type Stats struct {
	Papers         int            `json:"papers"`
	Authors        int            `json:"authors"`
	Problems       int            `json:"problems"`
	Mentions       int            `json:"mentions"`
	Concepts       int            `json:"concepts"`
	Relations      int            `json:"relations"`
	PendingReviews int            `json:"pending_reviews"`
	ByStatus       map[string]int `json:"by_status"`
	ByDomain       map[string]int `json:"by_domain"`
}

// ValidateEmbedding enforces the fixed dimension and rejects non-finite
// components. A nil embedding is allowed (absent, not invalid).
func ValidateEmbedding(v []float32) error {
	if v == nil {
		return nil
	}
	if len(v) != EmbeddingDim {
		return faults.New(faults.KindValidation, "graphstore",
			"embedding must have 1536 dimensions")
	}
	for _, x := range v {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return faults.New(faults.KindValidation, "graphstore",
				"embedding contains a non-finite component")
		}
	}
	return nil
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
