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

// SynthesisAgent summarises the run and writes its follow-ups back into the
// graph. All writes are best-effort: a failed write lands in state.Errors
// and synthesis keeps going.
type SynthesisAgent struct {
	store  graphstore.Store
	model  llm.ChatModel
	logger *zap.Logger
}

func NewSynthesisAgent(store graphstore.Store, model llm.ChatModel, logger *zap.Logger) *SynthesisAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SynthesisAgent{store: store, model: model, logger: logger}
}

func (a *SynthesisAgent) Name() string { return "synthesis" }

const synthesisSystem = `You summarise a completed research-evaluation run and propose follow-ups.
Reply with JSON only:
{"summary": "...", "new_problems": [{"statement": "...", "rationale": "..."}], "relations": [{"from_id": "...", "to_id": "...", "kind": "EXTENDS"|"CONTRADICTS"|"DEPENDS_ON"|"REFRAMES"}]}.
new_problems must be concrete open research problems, not tasks. relations may only reference problem ids you were given.`

type synthesisReply struct {
	Summary     string             `json:"summary"`
	NewProblems []ProposedProblem  `json:"new_problems"`
	Relations   []ProposedRelation `json:"relations"`
}

func (a *SynthesisAgent) Run(ctx context.Context, st *State) error {
	if st.Evaluation == nil {
		return faults.New(faults.KindValidation, "agents", "no evaluation to synthesise")
	}
	source, err := a.store.GetProblem(ctx, st.SelectedProblemID)
	if err != nil {
		return fmt.Errorf("failed to load source problem: %w", err)
	}

	reply, err := llm.Structured[synthesisReply](ctx, a.model, []llm.Message{
		llm.System(synthesisSystem),
		llm.User(a.describeRun(source, *st)),
	})
	if err != nil {
		return fmt.Errorf("failed to synthesise run: %w", err)
	}

	report := SynthesisReport{Summary: reply.Summary}
	fail := func(what string, err error) {
		a.logger.Warn("synthesis write failed", zap.String("what", what), zap.Error(err))
		st.Errors = append(st.Errors, fmt.Sprintf("synthesis %s: %v", what, err))
	}

	for _, np := range reply.NewProblems {
		if strings.TrimSpace(np.Statement) == "" {
			continue
		}
		p := graphstore.Problem{
			Statement: np.Statement,
			Domain:    source.Domain,
			Status:    graphstore.StatusOpen,
			Evidence:  source.Evidence,
			Extraction: graphstore.ExtractionMetadata{
				Model:   a.model.Name(),
				Version: "synthesis",
			},
		}
		if err := a.store.CreateProblem(ctx, &p); err != nil {
			fail("create problem", err)
			continue
		}
		report.CreatedProblems = append(report.CreatedProblems, p.ID)
		if err := a.store.CreateRelation(ctx, graphstore.Relation{
			FromID:     source.ID,
			ToID:       p.ID,
			Kind:       graphstore.RelExtends,
			Confidence: st.Evaluation.Feasibility,
		}); err != nil {
			fail("create extends relation", err)
			continue
		}
		report.CreatedRelations++
	}

	for _, pr := range reply.Relations {
		if !graphstore.ValidRelationKind(pr.Kind) {
			fail("create relation", faults.New(faults.KindValidation, "agents",
				fmt.Sprintf("unknown relation kind %q", pr.Kind)))
			continue
		}
		if err := a.store.CreateRelation(ctx, graphstore.Relation{
			FromID: pr.FromID,
			ToID:   pr.ToID,
			Kind:   pr.Kind,
		}); err != nil {
			fail("create relation", err)
			continue
		}
		report.CreatedRelations++
	}

	if st.Evaluation.Verdict == VerdictPromising && source.Status == graphstore.StatusOpen {
		source.Status = graphstore.StatusInProgress
		if _, err := a.store.UpdateProblem(ctx, source); err != nil {
			fail("advance problem status", err)
		}
	}

	st.Report = &report
	return nil
}

func (a *SynthesisAgent) describeRun(source graphstore.Problem, st State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Source problem (id %s, domain %s):\n%s\n\n", source.ID, source.Domain, source.Statement)
	if st.Proposal != nil {
		fmt.Fprintf(&b, "Proposal: %s\nMethodology: %s\n\n", st.Proposal.Title, st.Proposal.Methodology)
	}
	fmt.Fprintf(&b, "Evaluation verdict: %s (feasibility %.1f)\n", st.Evaluation.Verdict, st.Evaluation.Feasibility)
	if st.Evaluation.Analysis != "" {
		fmt.Fprintf(&b, "Analysis: %s\n", st.Evaluation.Analysis)
	}
	if len(st.Evaluation.ImprovedMetrics) > 0 {
		fmt.Fprintf(&b, "Improved metrics: %s\n", strings.Join(st.Evaluation.ImprovedMetrics, ", "))
	}
	return b.String()
}
