package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
)

// ContinuationAgent turns the selected problem plus its one-hop context
// into a typed research proposal.
type ContinuationAgent struct {
	store  graphstore.Store
	model  llm.ChatModel
	logger *zap.Logger
}

func NewContinuationAgent(store graphstore.Store, model llm.ChatModel, logger *zap.Logger) *ContinuationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContinuationAgent{store: store, model: model, logger: logger}
}

func (a *ContinuationAgent) Name() string { return "continuation" }

const continuationSystem = `You propose the next concrete research step for an open problem.
Reply with JSON only:
{"title": "...", "methodology": "...", "experimental_steps": ["..."], "expected_outcome": "...", "confidence": 0.0-1.0}.
The methodology must respect every stated constraint and use the stated datasets and metrics where they exist.`

func (a *ContinuationAgent) Run(ctx context.Context, st *State) error {
	if st.SelectedProblemID == "" {
		return faults.New(faults.KindValidation, "agents", "no problem selected")
	}
	problem, err := a.store.GetProblem(ctx, st.SelectedProblemID)
	if err != nil {
		return fmt.Errorf("failed to load selected problem: %w", err)
	}

	prompt, err := a.buildContext(ctx, problem)
	if err != nil {
		return err
	}

	proposal, err := llm.Structured[ContinuationProposal](ctx, a.model, []llm.Message{
		llm.System(continuationSystem),
		llm.User(prompt),
	})
	if err != nil {
		return fmt.Errorf("failed to generate proposal: %w", err)
	}
	if strings.TrimSpace(proposal.Title) == "" || len(proposal.ExperimentalSteps) == 0 {
		return faults.New(faults.KindLLM, "agents", "proposal missing title or steps")
	}

	st.Proposal = &proposal
	return nil
}

// buildContext renders the problem and its one-hop relation neighborhood.
func (a *ContinuationAgent) buildContext(ctx context.Context, problem graphstore.Problem) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Problem (domain %s):\n%s\n", problem.Domain, problem.Statement)
	if len(problem.Assumptions) > 0 {
		fmt.Fprintf(&b, "Assumptions: %s\n", strings.Join(problem.Assumptions, "; "))
	}
	for _, c := range problem.Constraints {
		fmt.Fprintf(&b, "Constraint (%s): %s\n", c.Type, c.Text)
	}
	if len(problem.Datasets) > 0 {
		fmt.Fprintf(&b, "Datasets: %s\n", strings.Join(problem.Datasets, ", "))
	}
	if len(problem.Metrics) > 0 {
		fmt.Fprintf(&b, "Metrics: %s\n", strings.Join(problem.Metrics, ", "))
	}
	if len(problem.Baselines) > 0 {
		fmt.Fprintf(&b, "Baselines: %s\n", strings.Join(problem.Baselines, ", "))
	}

	relations, err := a.store.Relations(ctx, problem.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load relations: %w", err)
	}
	for _, r := range relations {
		otherID := r.ToID
		direction := "to"
		if otherID == problem.ID {
			otherID = r.FromID
			direction = "from"
		}
		other, err := a.store.GetProblem(ctx, otherID)
		if err != nil {
			// A dangling relation should not sink the proposal.
			a.logger.Warn("skipping unreadable related problem",
				zap.String("problem_id", otherID), zap.Error(err))
			continue
		}
		fmt.Fprintf(&b, "Related (%s %s): %s\n", r.Kind, direction, other.Statement)
	}
	return b.String(), nil
}
