package match

import (
	"context"
	"errors"
	"testing"

	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/llm"
)

type stubEvaluator struct {
	eval Evaluation
	err  error
}

func (s stubEvaluator) Evaluate(ctx context.Context, mention graphstore.ProblemMention, candidate Candidate) (Evaluation, error) {
	return s.eval, s.err
}

type stubDebater struct {
	result DebateResult
	err    error
}

func (s stubDebater) Debate(ctx context.Context, mention graphstore.ProblemMention, candidate Candidate) (DebateResult, error) {
	return s.result, s.err
}

type captureSink struct{ traces []Trace }

func (c *captureSink) Emit(t Trace) { c.traces = append(c.traces, t) }

func newWorkflow(store graphstore.Store, evaluator Evaluator, debater Debater) (*Workflow, *captureSink) {
	matcher := NewMatcher(store, Options{}, nil)
	queue := NewReviewQueue(store, QueueOptions{}, nil)
	w := NewWorkflow(matcher, evaluator, debater, queue, store, nil)
	sink := &captureSink{}
	w.SetTraceSink(sink)
	return w, sink
}

func steps(traces []Trace) []string {
	out := make([]string, len(traces))
	for i, tr := range traces {
		out[i] = tr.Step
	}
	return out
}

func TestWorkflowHighTierAutoLinks(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore()
	best := newConcept(t, store, "Improve transformer attention memory use", "nlp", 0.97)
	newConcept(t, store, "Scale graph neural networks", "ml", 0.82)
	newConcept(t, store, "Reduce annotation cost", "nlp", 0.60)
	mention := newMention(t, store, "Improve transformer attention efficiency", "", "nlp")

	w, sink := newWorkflow(store, stubEvaluator{}, stubDebater{})
	out, err := w.Run(ctx, mention)
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionLinked || out.Tier != TierHigh || out.ConceptID != best.ID {
		t.Fatalf("outcome = %+v", out)
	}

	got, err := store.GetMention(ctx, mention.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.ConceptID != best.ID || got.ReviewStatus != graphstore.ReviewMatched {
		t.Errorf("mention = %+v", got)
	}
	c, err := store.GetConcept(ctx, best.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.MentionCount != 1 {
		t.Errorf("mention_count = %d", c.MentionCount)
	}

	want := []string{"classify", "high_link", "finalize"}
	gotSteps := steps(sink.traces)
	if len(gotSteps) != len(want) {
		t.Fatalf("steps = %v", gotSteps)
	}
	for i := range want {
		if gotSteps[i] != want[i] {
			t.Errorf("step %d = %s, want %s", i, gotSteps[i], want[i])
		}
	}
	for _, tr := range sink.traces {
		if tr.TraceID == "" || tr.RunID == "" {
			t.Errorf("trace missing ids: %+v", tr)
		}
	}
}

func TestWorkflowMediumTier(t *testing.T) {
	ctx := context.Background()

	t.Run("approve links", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		c := newConcept(t, store, "canonical statement", "nlp", 0.85)
		mention := newMention(t, store, "borderline duplicate", "", "nlp")

		w, _ := newWorkflow(store, stubEvaluator{eval: Evaluation{Verdict: VerdictApprove, Confidence: 0.9}}, stubDebater{})
		out, err := w.Run(ctx, mention)
		if err != nil {
			t.Fatal(err)
		}
		if out.Action != ActionLinked || out.ConceptID != c.ID {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("reject promotes to new concept", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		existing := newConcept(t, store, "canonical statement", "nlp", 0.85)
		mention := newMention(t, store, "actually a distinct problem", "", "nlp")

		w, _ := newWorkflow(store, stubEvaluator{eval: Evaluation{Verdict: VerdictReject, Confidence: 0.9}}, stubDebater{})
		out, err := w.Run(ctx, mention)
		if err != nil {
			t.Fatal(err)
		}
		if out.Action != ActionCreated || out.ConceptID == existing.ID {
			t.Fatalf("outcome = %+v", out)
		}
		c, err := store.GetConcept(ctx, out.ConceptID)
		if err != nil {
			t.Fatal(err)
		}
		if c.CanonicalStatement != mention.Statement || c.MentionCount != 1 {
			t.Errorf("promoted concept = %+v", c)
		}
	})

	t.Run("escalate queues with evaluator reason", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		newConcept(t, store, "canonical statement", "nlp", 0.85)
		mention := newMention(t, store, "cannot tell", "", "nlp")

		w, _ := newWorkflow(store, stubEvaluator{eval: Evaluation{Verdict: VerdictEscalate, Confidence: 0.4}}, stubDebater{})
		out, err := w.Run(ctx, mention)
		if err != nil {
			t.Fatal(err)
		}
		if out.Action != ActionEscalated || out.ReviewID == "" {
			t.Fatalf("outcome = %+v", out)
		}
		r, err := store.GetReview(ctx, out.ReviewID)
		if err != nil {
			t.Fatal(err)
		}
		if r.EscalationReason != graphstore.EscalationEvaluatorEscalated || len(r.SuggestedConcepts) == 0 {
			t.Errorf("review = %+v", r)
		}
		m, err := store.GetMention(ctx, mention.ID)
		if err != nil {
			t.Fatal(err)
		}
		if m.ReviewStatus != graphstore.ReviewEscalated {
			t.Errorf("mention status = %s", m.ReviewStatus)
		}
	})

	t.Run("evaluator failure aborts the run", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		newConcept(t, store, "canonical statement", "nlp", 0.85)
		mention := newMention(t, store, "borderline", "", "nlp")

		w, _ := newWorkflow(store, stubEvaluator{err: errors.New("model down")}, stubDebater{})
		if _, err := w.Run(ctx, mention); err == nil {
			t.Fatal("expected error")
		}
	})
}

func TestWorkflowLowTier(t *testing.T) {
	ctx := context.Background()

	t.Run("confident arbiter links", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		c := newConcept(t, store, "canonical statement", "nlp", 0.60)
		mention := newMention(t, store, "a loose paraphrase", "", "nlp")

		w, _ := newWorkflow(store, stubEvaluator{}, stubDebater{result: DebateResult{Decision: DebateLink, Confidence: 0.85, Rounds: 2}})
		out, err := w.Run(ctx, mention)
		if err != nil {
			t.Fatal(err)
		}
		if out.Action != ActionLinked || out.ConceptID != c.ID || out.Rounds != 2 {
			t.Fatalf("outcome = %+v", out)
		}
	})

	t.Run("undecided debate escalates", func(t *testing.T) {
		store := graphstore.NewMemoryStore()
		newConcept(t, store, "canonical statement", "nlp", 0.60)
		mention := newMention(t, store, "a loose paraphrase", "", "nlp")

		w, _ := newWorkflow(store, stubEvaluator{}, stubDebater{result: DebateResult{Decision: DebateUndecided, Rounds: MaxRounds}})
		out, err := w.Run(ctx, mention)
		if err != nil {
			t.Fatal(err)
		}
		if out.Action != ActionEscalated || out.Rounds != MaxRounds {
			t.Fatalf("outcome = %+v", out)
		}
		r, err := store.GetReview(ctx, out.ReviewID)
		if err != nil {
			t.Fatal(err)
		}
		if r.EscalationReason != graphstore.EscalationConsensusNotReached {
			t.Errorf("reason = %s", r.EscalationReason)
		}
	})
}

func TestWorkflowRejectedTierCreatesConcept(t *testing.T) {
	ctx := context.Background()
	store := graphstore.NewMemoryStore()
	newConcept(t, store, "an unrelated concept", "vision", 0.30)
	mention := newMention(t, store, "a genuinely new problem statement", "", "nlp")

	w, _ := newWorkflow(store, stubEvaluator{}, stubDebater{})
	out, err := w.Run(ctx, mention)
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != ActionCreated || out.Tier != TierRejected {
		t.Fatalf("outcome = %+v", out)
	}
	m, err := store.GetMention(ctx, mention.ID)
	if err != nil {
		t.Fatal(err)
	}
	if m.ConceptID != out.ConceptID || m.ReviewStatus != graphstore.ReviewMatched {
		t.Errorf("mention = %+v", m)
	}
}

func TestLLMDebater(t *testing.T) {
	mention := graphstore.ProblemMention{ID: "m", Statement: "statement a", Domain: "nlp"}
	candidate := Candidate{Concept: graphstore.ProblemConcept{ID: "c", CanonicalStatement: "statement b"}, Similarity: 0.6}

	t.Run("finalises when the arbiter is confident", func(t *testing.T) {
		mock := &llm.Mock{Responses: []llm.ChatOut{
			{Text: "they share the goal"},
			{Text: "the methods differ"},
			{Text: `{"decision": "link", "confidence": 0.5, "rationale": "unsure"}`},
			{Text: "same underlying bottleneck"},
			{Text: "still distinct settings"},
			{Text: `{"decision": "link", "confidence": 0.9, "rationale": "same problem"}`},
		}}
		got, err := NewLLMDebater(mock).Debate(context.Background(), mention, candidate)
		if err != nil {
			t.Fatal(err)
		}
		if got.Decision != DebateLink || got.Rounds != 2 || got.Confidence != 0.9 {
			t.Errorf("result = %+v", got)
		}
		if mock.CallCount() != 6 {
			t.Errorf("calls = %d", mock.CallCount())
		}
	})

	t.Run("runs out of rounds undecided", func(t *testing.T) {
		mock := &llm.Mock{Responses: []llm.ChatOut{
			{Text: "argument"},
			{Text: "counter"},
			{Text: `{"decision": "create_new", "confidence": 0.4, "rationale": "weak"}`},
		}}
		got, err := NewLLMDebater(mock).Debate(context.Background(), mention, candidate)
		if err != nil {
			t.Fatal(err)
		}
		if got.Decision != DebateUndecided || got.Rounds != MaxRounds {
			t.Errorf("result = %+v", got)
		}
		// Three calls per round.
		if mock.CallCount() != 3*MaxRounds {
			t.Errorf("calls = %d", mock.CallCount())
		}
	})
}

func TestLLMEvaluator(t *testing.T) {
	mention := graphstore.ProblemMention{Statement: "statement a", Domain: "nlp"}
	candidate := Candidate{Concept: graphstore.ProblemConcept{CanonicalStatement: "statement b"}, Similarity: 0.85}

	t.Run("parses the verdict", func(t *testing.T) {
		mock := &llm.Mock{Responses: []llm.ChatOut{
			{Text: `{"verdict": "approve", "confidence": 0.88, "rationale": "same problem"}`},
		}}
		got, err := NewLLMEvaluator(mock).Evaluate(context.Background(), mention, candidate)
		if err != nil {
			t.Fatal(err)
		}
		if got.Verdict != VerdictApprove || got.Confidence != 0.88 {
			t.Errorf("evaluation = %+v", got)
		}
	})

	t.Run("unknown verdict is an error", func(t *testing.T) {
		mock := &llm.Mock{Responses: []llm.ChatOut{{Text: `{"verdict": "maybe"}`}}}
		if _, err := NewLLMEvaluator(mock).Evaluate(context.Background(), mention, candidate); err == nil {
			t.Fatal("expected error")
		}
	})
}
