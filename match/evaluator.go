package match

import (
	"context"
	"fmt"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
)

// EvaluatorVerdict is the single-reviewer decision for a MEDIUM-tier match.
type EvaluatorVerdict string

const (
	VerdictApprove  EvaluatorVerdict = "approve"
	VerdictReject   EvaluatorVerdict = "reject"
	VerdictEscalate EvaluatorVerdict = "escalate"
)

// Evaluation is the evaluator's reply.
type Evaluation struct {
	Verdict    EvaluatorVerdict `json:"verdict"`
	Confidence float64          `json:"confidence"`
	Rationale  string           `json:"rationale"`
}

// Evaluator reviews a single borderline match. Implemented by the LLM
// evaluator below; the workflow accepts the interface so tests can stub it.
type Evaluator interface {
	Evaluate(ctx context.Context, mention graphstore.ProblemMention, candidate Candidate) (Evaluation, error)
}

// LLMEvaluator asks a chat model whether the mention and the candidate
// concept describe the same research problem.
type LLMEvaluator struct {
	model llm.ChatModel
}

func NewLLMEvaluator(model llm.ChatModel) *LLMEvaluator {
	return &LLMEvaluator{model: model}
}

const evaluatorSystem = `You review whether a newly extracted research problem is the same underlying problem as an existing canonical one.
Reply with JSON only: {"verdict": "approve"|"reject"|"escalate", "confidence": 0.0-1.0, "rationale": "..."}.
approve means they are the same problem. reject means they are distinct problems. escalate means you cannot tell and a human should decide.`

func (e *LLMEvaluator) Evaluate(ctx context.Context, mention graphstore.ProblemMention, candidate Candidate) (Evaluation, error) {
	prompt := fmt.Sprintf(
		"New problem (domain %q):\n%s\n\nExisting concept (domain %q, %d prior mentions, similarity %.2f):\n%s",
		mention.Domain, mention.Statement,
		candidate.Concept.Domain, candidate.Concept.MentionCount, candidate.Similarity,
		candidate.Concept.CanonicalStatement)

	out, err := llm.Structured[Evaluation](ctx, e.model, []llm.Message{
		llm.System(evaluatorSystem),
		llm.User(prompt),
	})
	if err != nil {
		return Evaluation{}, fmt.Errorf("failed to evaluate match: %w", err)
	}
	switch out.Verdict {
	case VerdictApprove, VerdictReject, VerdictEscalate:
	default:
		return Evaluation{}, faults.New(faults.KindLLM, "match",
			fmt.Sprintf("evaluator returned unknown verdict %q", out.Verdict))
	}
	return out, nil
}
