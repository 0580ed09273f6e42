package agents

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
	"github.com/djjay0131/agentic-kg/sandbox"
)

// Feasibility scores fixed by verdict condition.
const (
	feasibilityTimedOut  = 0.1
	feasibilityFailed    = 0.3
	feasibilityImproved  = 0.8
	feasibilityOtherwise = 0.5
)

// ScriptRunner is what the agent needs from the sandbox.
type ScriptRunner interface {
	Run(ctx context.Context, script string) (sandbox.Result, error)
}

// EvaluationAgent generates a quick evaluation script from the proposal,
// executes it in the sandbox, and turns the outcome into a verdict. The
// LLM judges metric movement against the problem's baselines; the verdict
// and feasibility follow a fixed table from there.
type EvaluationAgent struct {
	store  graphstore.Store
	model  llm.ChatModel
	runner ScriptRunner
	logger *zap.Logger
}

func NewEvaluationAgent(store graphstore.Store, model llm.ChatModel, runner ScriptRunner, logger *zap.Logger) *EvaluationAgent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EvaluationAgent{store: store, model: model, runner: runner, logger: logger}
}

func (a *EvaluationAgent) Name() string { return "evaluation" }

const scriptSystem = `You write a short, self-contained Python 3 script that sanity-checks the feasibility of a research proposal with synthetic or downloadable-free data.
The script must finish quickly, print progress to stdout, and print a single-line JSON object of metric name to numeric value as its LAST stdout line.
Reply with the script only. No explanations.`

const interpretSystem = `You interpret the output of an evaluation script against a problem's baseline values.
Reply with JSON only: {"improved_metrics": ["metric", ...], "analysis": "..."}.
improved_metrics lists exactly the metrics whose measured value beats the corresponding baseline; leave it empty when none do or no baseline applies.`

type interpretReply struct {
	ImprovedMetrics []string `json:"improved_metrics"`
	Analysis        string   `json:"analysis"`
}

func (a *EvaluationAgent) Run(ctx context.Context, st *State) error {
	if st.Proposal == nil {
		return faults.New(faults.KindValidation, "agents", "no proposal to evaluate")
	}
	problem, err := a.store.GetProblem(ctx, st.SelectedProblemID)
	if err != nil {
		return fmt.Errorf("failed to load problem: %w", err)
	}

	script, err := a.generateScript(ctx, *st.Proposal)
	if err != nil {
		return err
	}

	res, err := a.runner.Run(ctx, script)
	if err != nil {
		return fmt.Errorf("failed to run evaluation script: %w", err)
	}

	eval := EvaluationResult{
		Script:   script,
		Stdout:   res.Stdout,
		TimedOut: res.TimedOut,
		ExitCode: res.ExitCode,
	}

	switch {
	case res.TimedOut:
		eval.Verdict, eval.Feasibility = VerdictNotViable, feasibilityTimedOut
	case res.ExitCode != 0:
		eval.Verdict, eval.Feasibility = VerdictInconclusive, feasibilityFailed
	default:
		improved, analysis, err := a.interpret(ctx, problem, res)
		if err != nil {
			// Interpretation is advisory; a parse failure downgrades to
			// inconclusive rather than failing the run.
			a.logger.Warn("interpretation failed", zap.Error(err))
			st.Errors = append(st.Errors, fmt.Sprintf("evaluation interpretation: %v", err))
			eval.Verdict, eval.Feasibility = VerdictInconclusive, feasibilityOtherwise
			break
		}
		eval.ImprovedMetrics, eval.Analysis = improved, analysis
		if len(improved) > 0 {
			eval.Verdict, eval.Feasibility = VerdictPromising, feasibilityImproved
		} else {
			eval.Verdict, eval.Feasibility = VerdictInconclusive, feasibilityOtherwise
		}
	}

	st.Evaluation = &eval
	return nil
}

func (a *EvaluationAgent) generateScript(ctx context.Context, proposal ContinuationProposal) (string, error) {
	prompt := fmt.Sprintf("Proposal: %s\n\nMethodology:\n%s\n\nSteps:\n- %s",
		proposal.Title, proposal.Methodology, strings.Join(proposal.ExperimentalSteps, "\n- "))
	out, err := a.model.Chat(ctx, []llm.Message{llm.System(scriptSystem), llm.User(prompt)})
	if err != nil {
		return "", fmt.Errorf("failed to generate script: %w", err)
	}
	script := llm.StripFences(out.Text)
	if strings.TrimSpace(script) == "" {
		return "", faults.New(faults.KindLLM, "agents", "model returned an empty script")
	}
	return script, nil
}

func (a *EvaluationAgent) interpret(ctx context.Context, problem graphstore.Problem, res sandbox.Result) ([]string, string, error) {
	metrics := res.ParseMetrics()
	metricsJSON, _ := json.Marshal(metrics)

	prompt := fmt.Sprintf("Problem metrics: %s\nBaselines: %s\n\nScript stdout (tail):\n%s\n\nParsed metrics: %s",
		strings.Join(problem.Metrics, ", "),
		strings.Join(problem.Baselines, ", "),
		tail(res.Stdout, 2000),
		metricsJSON)

	reply, err := llm.Structured[interpretReply](ctx, a.model, []llm.Message{
		llm.System(interpretSystem),
		llm.User(prompt),
	})
	if err != nil {
		return nil, "", err
	}
	return reply.ImprovedMetrics, reply.Analysis, nil
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
