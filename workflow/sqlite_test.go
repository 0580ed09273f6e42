package workflow

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/djjay0131/agentic-kg/agents"
)

// A run interrupted at a checkpoint must survive a process restart: a new
// engine over the same database resumes it.
func TestSQLiteRunStoreSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "runs.db")

	store, err := NewSQLiteRunStore(path)
	if err != nil {
		t.Fatal(err)
	}
	r, c, ev, s := happyAgents()
	engine := NewEngine(r, c, ev, s, AllGates(), store, nil, nil)

	run, err := engine.Start(ctx, agents.StartParams{Domain: "nlp"})
	if err != nil {
		t.Fatal(err)
	}
	if run.Checkpoint != CheckpointSelectProblem {
		t.Fatalf("run = %+v", run)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	store2, err := NewSQLiteRunStore(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store2.Close()
	r2, c2, ev2, s2 := happyAgents()
	engine2 := NewEngine(r2, c2, ev2, s2, AllGates(), store2, nil, nil)

	got, err := engine2.GetState(ctx, run.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != StatusAwaiting || len(got.State.Ranked) != 2 {
		t.Fatalf("restored run = %+v", got)
	}

	resumed, err := engine2.Resume(ctx, run.ID, CheckpointSelectProblem, Decision{Decision: DecisionApprove})
	if err != nil {
		t.Fatal(err)
	}
	if resumed.Checkpoint != CheckpointApproveProposal {
		t.Fatalf("resumed = %+v", resumed)
	}
	// The ranking agent must not rerun on resume.
	if r2.callCount() != 0 {
		t.Errorf("ranking reran %d times", r2.callCount())
	}
}

func TestSQLiteRunStoreList(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteRunStore(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	r, c, ev, s := happyAgents()
	engine := NewEngine(r, c, ev, s, AllGates(), store, nil, nil)
	for i := 0; i < 3; i++ {
		if _, err := engine.Start(ctx, agents.StartParams{}); err != nil {
			t.Fatal(err)
		}
	}
	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 3 {
		t.Errorf("runs = %d", len(runs))
	}
}
