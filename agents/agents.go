// Package agents holds the four research agents that drive a workflow run:
// ranking, continuation, evaluation, and synthesis. Agents are stateless;
// everything they read or produce lives in the shared run State.
package agents

import (
	"context"

	"github.com/djjay0131/agentic-kg/graphstore"
)

// StartParams select the problem pool a run draws from.
type StartParams struct {
	Domain string                   `json:"domain,omitempty"`
	Status graphstore.ProblemStatus `json:"status,omitempty"`
	Limit  int                      `json:"limit,omitempty"`
}

// RankedProblem is one scored candidate from the ranking agent.
type RankedProblem struct {
	ProblemID string  `json:"problem_id"`
	Score     float64 `json:"score"`
	Rationale string  `json:"rationale"`
}

// ContinuationProposal is the continuation agent's research plan.
type ContinuationProposal struct {
	Title             string   `json:"title"`
	Methodology       string   `json:"methodology"`
	ExperimentalSteps []string `json:"experimental_steps"`
	ExpectedOutcome   string   `json:"expected_outcome"`
	Confidence        float64  `json:"confidence"`
}

// Verdict is the evaluation agent's conclusion.
type Verdict string

const (
	VerdictPromising    Verdict = "promising"
	VerdictInconclusive Verdict = "inconclusive"
	VerdictNotViable    Verdict = "not_viable"
)

// EvaluationResult is the evaluation agent's full output.
type EvaluationResult struct {
	Verdict         Verdict  `json:"verdict"`
	Feasibility     float64  `json:"feasibility"`
	Script          string   `json:"script,omitempty"`
	Stdout          string   `json:"stdout,omitempty"`
	TimedOut        bool     `json:"timed_out"`
	ExitCode        int      `json:"exit_code"`
	ImprovedMetrics []string `json:"improved_metrics,omitempty"`
	Analysis        string   `json:"analysis,omitempty"`
}

// ProposedProblem is a follow-up statement from synthesis.
type ProposedProblem struct {
	Statement string `json:"statement"`
	Rationale string `json:"rationale,omitempty"`
}

// ProposedRelation is an extra edge from synthesis; it is written only when
// both endpoints resolve.
type ProposedRelation struct {
	FromID string                  `json:"from_id"`
	ToID   string                  `json:"to_id"`
	Kind   graphstore.RelationKind `json:"kind"`
}

// SynthesisReport summarises the run and the writes it produced.
type SynthesisReport struct {
	Summary          string   `json:"summary"`
	CreatedProblems  []string `json:"created_problems,omitempty"`
	CreatedRelations int      `json:"created_relations"`
}

// State is the shared record a run threads through its agents.
type State struct {
	RunID  string      `json:"run_id"`
	Params StartParams `json:"params"`

	Ranked            []RankedProblem       `json:"ranked,omitempty"`
	SelectedProblemID string                `json:"selected_problem_id,omitempty"`
	Proposal          *ContinuationProposal `json:"proposal,omitempty"`
	Evaluation        *EvaluationResult     `json:"evaluation,omitempty"`
	Report            *SynthesisReport      `json:"report,omitempty"`

	// Errors collects non-fatal failures for the humans at the next
	// checkpoint.
	Errors []string `json:"errors,omitempty"`
}

// Agent is the common contract: mutate the state, never hold your own.
type Agent interface {
	Name() string
	Run(ctx context.Context, st *State) error
}
