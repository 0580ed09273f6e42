// Package workflow drives the seven-node research DAG with interrupt-before
// checkpoints and durable, resumable run state.
package workflow

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/djjay0131/agentic-kg/agents"
	"github.com/djjay0131/agentic-kg/faults"
)

// Status of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusAwaiting  Status = "awaiting_decision"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Checkpoint names an interrupt-before node.
type Checkpoint string

const (
	CheckpointSelectProblem    Checkpoint = "select_problem"
	CheckpointApproveProposal  Checkpoint = "approve_proposal"
	CheckpointReviewEvaluation Checkpoint = "review_evaluation"
)

// Decision is an external verdict at a checkpoint.
type Decision struct {
	// Decision is approve, reject, or edit.
	Decision string `json:"decision"`
	Feedback string `json:"feedback,omitempty"`
	// EditedData is a typed patch for the next node's input; its shape
	// depends on the checkpoint.
	EditedData json.RawMessage `json:"edited_data,omitempty"`
}

const (
	DecisionApprove = "approve"
	DecisionReject  = "reject"
	DecisionEdit    = "edit"
)

// Run is one persisted workflow execution.
type Run struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
	// Checkpoint is set while the run awaits a decision.
	Checkpoint Checkpoint `json:"checkpoint,omitempty"`
	// Position is the cursor into the pipeline; runs resume from here.
	Position  int          `json:"position"`
	State     agents.State `json:"state"`
	Feedback  []string     `json:"feedback,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// RunStore persists runs. SaveRun overwrites by id.
type RunStore interface {
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, error)
	ListRuns(ctx context.Context) ([]Run, error)
	Close() error
}

// MemoryRunStore keeps runs in the process, newest first on list.
type MemoryRunStore struct {
	mu   sync.RWMutex
	runs map[string]Run
}

func NewMemoryRunStore() *MemoryRunStore {
	return &MemoryRunStore{runs: make(map[string]Run)}
}

func (s *MemoryRunStore) SaveRun(ctx context.Context, r Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[r.ID] = r
	return nil
}

func (s *MemoryRunStore) GetRun(ctx context.Context, id string) (Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return Run{}, faults.New(faults.KindNotFound, "workflow", "run not found: "+id)
	}
	return r, nil
}

func (s *MemoryRunStore) ListRuns(ctx context.Context) ([]Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryRunStore) Close() error { return nil }
