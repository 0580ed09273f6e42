package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/agents"
	"github.com/djjay0131/agentic-kg/events"
	"github.com/djjay0131/agentic-kg/faults"
)

// stage is one pipeline slot: either an agent node or an interrupt-before
// checkpoint.
type stage struct {
	node       agents.Agent
	checkpoint Checkpoint
}

// Gates controls which checkpoints interrupt a run. A disabled gate is
// auto-approved with its default decision instead of awaiting input.
type Gates struct {
	SelectProblem    bool
	ApproveProposal  bool
	ReviewEvaluation bool
}

// AllGates enables every checkpoint.
func AllGates() Gates {
	return Gates{SelectProblem: true, ApproveProposal: true, ReviewEvaluation: true}
}

func (g Gates) enabled(c Checkpoint) bool {
	switch c {
	case CheckpointSelectProblem:
		return g.SelectProblem
	case CheckpointApproveProposal:
		return g.ApproveProposal
	case CheckpointReviewEvaluation:
		return g.ReviewEvaluation
	}
	return true
}

// Engine runs the research DAG. Runs are single-flight through a per-run
// lock; different runs proceed fully in parallel.
type Engine struct {
	pipeline []stage
	gates    Gates
	runs     RunStore
	bus      *events.Bus
	logger   *zap.Logger

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	cancels map[string]context.CancelFunc
}

func NewEngine(ranking, continuation, evaluation, synthesis agents.Agent, gates Gates, runs RunStore, bus *events.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pipeline: []stage{
			{node: ranking},
			{checkpoint: CheckpointSelectProblem},
			{node: continuation},
			{checkpoint: CheckpointApproveProposal},
			{node: evaluation},
			{checkpoint: CheckpointReviewEvaluation},
			{node: synthesis},
		},
		gates:   gates,
		runs:    runs,
		bus:     bus,
		logger:  logger,
		locks:   make(map[string]*sync.Mutex),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (e *Engine) lock(runID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	l, ok := e.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[runID] = l
	}
	return l
}

// Start creates a run and advances it to the first checkpoint before
// returning its id.
func (e *Engine) Start(ctx context.Context, params agents.StartParams) (Run, error) {
	now := time.Now().UTC()
	run := Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		State:     agents.State{Params: params},
		CreatedAt: now,
		UpdatedAt: now,
	}
	run.State.RunID = run.ID
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("failed to persist new run: %w", err)
	}

	l := e.lock(run.ID)
	l.Lock()
	defer l.Unlock()
	return e.advance(ctx, run)
}

// Resume applies a checkpoint decision and advances to the next interrupt
// or END.
func (e *Engine) Resume(ctx context.Context, runID string, checkpoint Checkpoint, d Decision) (Run, error) {
	l := e.lock(runID)
	l.Lock()
	defer l.Unlock()

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return Run{}, err
	}
	if run.Status != StatusAwaiting {
		return Run{}, faults.New(faults.KindValidation, "workflow",
			fmt.Sprintf("run is %s, not awaiting a decision", run.Status))
	}
	if run.Checkpoint != checkpoint {
		return Run{}, faults.New(faults.KindValidation, "workflow",
			fmt.Sprintf("run awaits %s, not %s", run.Checkpoint, checkpoint))
	}

	if d.Feedback != "" {
		run.Feedback = append(run.Feedback, d.Feedback)
	}
	e.emit(events.CheckpointResolved, run.ID, string(checkpoint), map[string]any{"decision": d.Decision})

	switch d.Decision {
	case DecisionReject:
		// Short-circuit to END.
		run.Status = StatusCompleted
		run.Checkpoint = ""
		run.UpdatedAt = time.Now().UTC()
		if err := e.runs.SaveRun(ctx, run); err != nil {
			return Run{}, fmt.Errorf("failed to persist run: %w", err)
		}
		e.emit(events.WorkflowCompleted, run.ID, "", map[string]any{"decision": DecisionReject})
		return run, nil
	case DecisionApprove, DecisionEdit:
		if err := e.applyDecision(&run, checkpoint, d); err != nil {
			return Run{}, err
		}
	default:
		return Run{}, faults.New(faults.KindValidation, "workflow",
			fmt.Sprintf("unknown decision %q", d.Decision))
	}

	run.Status = StatusRunning
	run.Checkpoint = ""
	run.Position++
	return e.advance(ctx, run)
}

// applyDecision applies the checkpoint-specific selection or patch.
func (e *Engine) applyDecision(run *Run, checkpoint Checkpoint, d Decision) error {
	switch checkpoint {
	case CheckpointSelectProblem:
		var patch struct {
			ProblemID string `json:"problem_id"`
		}
		if len(d.EditedData) > 0 {
			if err := json.Unmarshal(d.EditedData, &patch); err != nil {
				return faults.Wrap(faults.KindValidation, "workflow", fmt.Errorf("bad edited_data: %w", err))
			}
		}
		if patch.ProblemID == "" {
			if len(run.State.Ranked) == 0 {
				return faults.New(faults.KindValidation, "workflow", "no ranked problems to select from")
			}
			patch.ProblemID = run.State.Ranked[0].ProblemID
		} else {
			known := false
			for _, r := range run.State.Ranked {
				if r.ProblemID == patch.ProblemID {
					known = true
					break
				}
			}
			if !known {
				return faults.New(faults.KindValidation, "workflow",
					fmt.Sprintf("problem %s is not among the ranked candidates", patch.ProblemID))
			}
		}
		run.State.SelectedProblemID = patch.ProblemID

	case CheckpointApproveProposal:
		if len(d.EditedData) > 0 {
			if run.State.Proposal == nil {
				return faults.New(faults.KindValidation, "workflow", "no proposal to edit")
			}
			if err := json.Unmarshal(d.EditedData, run.State.Proposal); err != nil {
				return faults.Wrap(faults.KindValidation, "workflow", fmt.Errorf("bad edited_data: %w", err))
			}
		}

	case CheckpointReviewEvaluation:
		if len(d.EditedData) > 0 {
			if run.State.Evaluation == nil {
				return faults.New(faults.KindValidation, "workflow", "no evaluation to edit")
			}
			if err := json.Unmarshal(d.EditedData, run.State.Evaluation); err != nil {
				return faults.Wrap(faults.KindValidation, "workflow", fmt.Errorf("bad edited_data: %w", err))
			}
		}
	}
	return nil
}

// advance executes stages from the run's cursor until an interrupt, END, or
// cancellation. Node failures are recorded into the run's error list and
// execution continues to the next checkpoint, where a human can reject;
// a failure with no checkpoint left fails the run.
func (e *Engine) advance(ctx context.Context, run Run) (Run, error) {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancels[run.ID] = cancel
	e.mu.Unlock()
	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.cancels, run.ID)
		e.mu.Unlock()
	}()

	for run.Position < len(e.pipeline) {
		if cancelled, err := e.checkCancelled(ctx, &run); err != nil || cancelled {
			return run, err
		}

		st := e.pipeline[run.Position]
		if st.checkpoint != "" {
			if !e.gates.enabled(st.checkpoint) {
				if err := e.applyDecision(&run, st.checkpoint, Decision{Decision: DecisionApprove}); err != nil {
					run.Status = StatusFailed
					run.Checkpoint = ""
					run.State.Errors = append(run.State.Errors,
						fmt.Sprintf("%s: %v", st.checkpoint, err))
					run.UpdatedAt = time.Now().UTC()
					if saveErr := e.runs.SaveRun(ctx, run); saveErr != nil {
						return Run{}, fmt.Errorf("failed to persist run: %w", saveErr)
					}
					e.emit(events.WorkflowFailed, run.ID, string(st.checkpoint),
						map[string]any{"error": err.Error()})
					return run, nil
				}
				e.emit(events.CheckpointResolved, run.ID, string(st.checkpoint),
					map[string]any{"decision": DecisionApprove, "auto": true})
				run.Position++
				continue
			}
			run.Status = StatusAwaiting
			run.Checkpoint = st.checkpoint
			run.UpdatedAt = time.Now().UTC()
			if err := e.runs.SaveRun(ctx, run); err != nil {
				return Run{}, fmt.Errorf("failed to persist checkpoint: %w", err)
			}
			e.emit(events.CheckpointReached, run.ID, string(st.checkpoint), nil)
			return run, nil
		}

		e.emit(events.StepStarted, run.ID, st.node.Name(), nil)
		started := time.Now()
		err := st.node.Run(runCtx, &run.State)
		payload := map[string]any{"duration_ms": time.Since(started).Milliseconds()}
		if err != nil {
			payload["error"] = err.Error()
			run.State.Errors = append(run.State.Errors,
				fmt.Sprintf("%s: %v", st.node.Name(), err))
			e.logger.Warn("node failed",
				zap.String("run_id", run.ID),
				zap.String("node", st.node.Name()),
				zap.Error(err))
			if !e.checkpointAfter(run.Position) {
				run.Status = StatusFailed
				run.Checkpoint = ""
				run.UpdatedAt = time.Now().UTC()
				if saveErr := e.runs.SaveRun(ctx, run); saveErr != nil {
					return Run{}, fmt.Errorf("failed to persist run: %w", saveErr)
				}
				e.emit(events.WorkflowFailed, run.ID, st.node.Name(), payload)
				return run, nil
			}
		}
		e.emit(events.StepCompleted, run.ID, st.node.Name(), payload)

		run.Position++
		run.UpdatedAt = time.Now().UTC()
		if err := e.runs.SaveRun(ctx, run); err != nil {
			return Run{}, fmt.Errorf("failed to persist run: %w", err)
		}
	}

	run.Status = StatusCompleted
	run.Checkpoint = ""
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return Run{}, fmt.Errorf("failed to persist run: %w", err)
	}
	e.emit(events.WorkflowCompleted, run.ID, "", nil)
	return run, nil
}

// checkpointAfter reports whether any later stage is a checkpoint.
func (e *Engine) checkpointAfter(position int) bool {
	for i := position + 1; i < len(e.pipeline); i++ {
		if e.pipeline[i].checkpoint != "" {
			return true
		}
	}
	return false
}

// checkCancelled reloads the run's status so a cancel landed from another
// goroutine is observed at the next stage boundary.
func (e *Engine) checkCancelled(ctx context.Context, run *Run) (bool, error) {
	stored, err := e.runs.GetRun(ctx, run.ID)
	if err != nil {
		return false, err
	}
	if stored.Status != StatusCancelled {
		return false, nil
	}
	run.Status = StatusCancelled
	return true, nil
}

// GetState returns the persisted run.
func (e *Engine) GetState(ctx context.Context, runID string) (Run, error) {
	return e.runs.GetRun(ctx, runID)
}

// List returns all runs, newest first.
func (e *Engine) List(ctx context.Context) ([]Run, error) {
	return e.runs.ListRuns(ctx)
}

// Cancel marks the run cancelled and interrupts any in-flight node. It is
// idempotent.
func (e *Engine) Cancel(ctx context.Context, runID string) error {
	e.mu.Lock()
	if cancel, ok := e.cancels[runID]; ok {
		cancel()
	}
	e.mu.Unlock()

	l := e.lock(runID)
	l.Lock()
	defer l.Unlock()

	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return err
	}
	switch run.Status {
	case StatusCancelled:
		return nil
	case StatusCompleted, StatusFailed:
		return faults.New(faults.KindValidation, "workflow",
			fmt.Sprintf("run already %s", run.Status))
	}
	run.Status = StatusCancelled
	run.Checkpoint = ""
	run.UpdatedAt = time.Now().UTC()
	if err := e.runs.SaveRun(ctx, run); err != nil {
		return fmt.Errorf("failed to persist cancellation: %w", err)
	}
	e.emit(events.WorkflowCancelled, runID, "", nil)
	return nil
}

func (e *Engine) emit(kind events.Kind, runID, step string, payload map[string]any) {
	if e.bus == nil {
		return
	}
	e.bus.Emit(events.Event{Kind: kind, RunID: runID, Step: step, Payload: payload})
}
