package match

import (
	"context"
	"fmt"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
)

// MaxRounds bounds the maker/hater/arbiter debate.
const MaxRounds = 3

// arbiterMinConfidence is the confidence an arbiter decision needs to
// finalise a round.
const arbiterMinConfidence = 0.7

// DebateDecision is what the arbiter can conclude.
type DebateDecision string

const (
	DebateLink      DebateDecision = "link"
	DebateCreateNew DebateDecision = "create_new"
	// DebateUndecided means no round produced a confident arbiter call.
	DebateUndecided DebateDecision = "undecided"
)

// DebateResult summarises the full debate.
type DebateResult struct {
	Decision   DebateDecision
	Confidence float64
	Rounds     int
	Rationale  string
}

// ArbiterCall is the arbiter's structured reply for one round.
type ArbiterCall struct {
	Decision   DebateDecision `json:"decision"`
	Confidence float64        `json:"confidence"`
	Rationale  string         `json:"rationale"`
}

// Debater runs an adversarial match debate. The workflow accepts the
// interface so tests can stub it.
type Debater interface {
	Debate(ctx context.Context, mention graphstore.ProblemMention, candidate Candidate) (DebateResult, error)
}

// LLMDebater argues a LOW-tier match: a maker argues the mention matches the
// candidate, a hater argues it does not, and an arbiter decides. Each role
// sees the transcript so far.
type LLMDebater struct {
	model llm.ChatModel
}

func NewLLMDebater(model llm.ChatModel) *LLMDebater {
	return &LLMDebater{model: model}
}

const (
	makerSystem = `You argue FOR two research problem statements describing the same underlying problem. Make the strongest honest case in at most three sentences. Reply with plain text.`

	haterSystem = `You argue AGAINST two research problem statements describing the same underlying problem. Make the strongest honest case in at most three sentences. Reply with plain text.`

	arbiterSystem = `You judge a debate about whether two research problem statements describe the same underlying problem.
Reply with JSON only: {"decision": "link"|"create_new", "confidence": 0.0-1.0, "rationale": "..."}.
link means same problem, create_new means distinct problems. Confidence reflects how certain you are in the decision itself.`
)

func (d *LLMDebater) Debate(ctx context.Context, mention graphstore.ProblemMention, candidate Candidate) (DebateResult, error) {
	subject := fmt.Sprintf(
		"Statement A (new, domain %q):\n%s\n\nStatement B (existing concept, domain %q, similarity %.2f):\n%s",
		mention.Domain, mention.Statement,
		candidate.Concept.Domain, candidate.Similarity,
		candidate.Concept.CanonicalStatement)

	var transcript string
	for round := 1; round <= MaxRounds; round++ {
		maker, err := d.argue(ctx, makerSystem, subject, transcript)
		if err != nil {
			return DebateResult{}, fmt.Errorf("failed maker argument in round %d: %w", round, err)
		}
		transcript += fmt.Sprintf("\n\nRound %d maker: %s", round, maker)

		hater, err := d.argue(ctx, haterSystem, subject, transcript)
		if err != nil {
			return DebateResult{}, fmt.Errorf("failed hater argument in round %d: %w", round, err)
		}
		transcript += fmt.Sprintf("\nRound %d hater: %s", round, hater)

		call, err := llm.Structured[ArbiterCall](ctx, d.model, []llm.Message{
			llm.System(arbiterSystem),
			llm.User(subject + "\n\nDebate so far:" + transcript),
		})
		if err != nil {
			return DebateResult{}, fmt.Errorf("failed arbiter call in round %d: %w", round, err)
		}
		if call.Decision != DebateLink && call.Decision != DebateCreateNew {
			return DebateResult{}, faults.New(faults.KindLLM, "match",
				fmt.Sprintf("arbiter returned unknown decision %q", call.Decision))
		}
		if call.Confidence >= arbiterMinConfidence {
			return DebateResult{
				Decision:   call.Decision,
				Confidence: call.Confidence,
				Rounds:     round,
				Rationale:  call.Rationale,
			}, nil
		}
		transcript += fmt.Sprintf("\nRound %d arbiter: undecided (%s)", round, call.Rationale)
	}
	return DebateResult{Decision: DebateUndecided, Rounds: MaxRounds}, nil
}

func (d *LLMDebater) argue(ctx context.Context, system, subject, transcript string) (string, error) {
	user := subject
	if transcript != "" {
		user += "\n\nDebate so far:" + transcript
	}
	out, err := d.model.Chat(ctx, []llm.Message{llm.System(system), llm.User(user)})
	if err != nil {
		return "", err
	}
	return out.Text, nil
}
