package match

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/graphstore"
)

// Action is the terminal outcome of a matching run.
type Action string

const (
	ActionLinked    Action = "linked"
	ActionCreated   Action = "created"
	ActionEscalated Action = "escalated"
)

// Trace is one audit record per state transition.
type Trace struct {
	TraceID    string  `json:"trace_id"`
	RunID      string  `json:"run_id"`
	Step       string  `json:"step"`
	DurationMS int64   `json:"duration_ms"`
	Decision   string  `json:"decision"`
	Confidence float64 `json:"confidence"`
}

// TraceSink receives audit records. Emit must not block the workflow.
type TraceSink interface {
	Emit(Trace)
}

type zapTraceSink struct{ logger *zap.Logger }

func (s zapTraceSink) Emit(t Trace) {
	s.logger.Info("match transition",
		zap.String("trace_id", t.TraceID),
		zap.String("run_id", t.RunID),
		zap.String("step", t.Step),
		zap.Int64("duration_ms", t.DurationMS),
		zap.String("decision", t.Decision),
		zap.Float64("confidence", t.Confidence))
}

// Outcome is the result of running the matching workflow for one mention.
type Outcome struct {
	Action Action
	Tier   Tier
	// ConceptID is the linked or newly created concept, when Action is not
	// escalated.
	ConceptID string
	// ReviewID is set when the mention went to the human queue.
	ReviewID string
	// Rounds is the debate round count, zero outside the LOW tier.
	Rounds int
	Traces []Trace
}

// Workflow drives one mention through classify, the tier branch, and
// finalize.
type Workflow struct {
	matcher   *Matcher
	evaluator Evaluator
	debater   Debater
	queue     *ReviewQueue
	store     graphstore.Store
	sink      TraceSink
	tracer    trace.Tracer
	logger    *zap.Logger
	now       func() time.Time
}

func NewWorkflow(matcher *Matcher, evaluator Evaluator, debater Debater, queue *ReviewQueue, store graphstore.Store, logger *zap.Logger) *Workflow {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Workflow{
		matcher:   matcher,
		evaluator: evaluator,
		debater:   debater,
		queue:     queue,
		store:     store,
		sink:      zapTraceSink{logger: logger},
		tracer:    otel.Tracer("agentic-kg/match"),
		logger:    logger,
		now:       time.Now,
	}
}

// SetTraceSink replaces the default log-backed audit sink.
func (w *Workflow) SetTraceSink(sink TraceSink) { w.sink = sink }

// Run matches one mention end to end. The mention must already carry its
// embedding.
func (w *Workflow) Run(ctx context.Context, mention graphstore.ProblemMention) (Outcome, error) {
	traceID := uuid.NewString()
	runID := uuid.NewString()
	out := Outcome{}

	ctx, span := w.tracer.Start(ctx, "match.run", trace.WithAttributes(
		attribute.String("mention_id", mention.ID),
		attribute.String("domain", mention.Domain)))
	defer span.End()

	record := func(step, decision string, confidence float64, started time.Time) {
		t := Trace{
			TraceID:    traceID,
			RunID:      runID,
			Step:       step,
			DurationMS: w.now().Sub(started).Milliseconds(),
			Decision:   decision,
			Confidence: confidence,
		}
		out.Traces = append(out.Traces, t)
		w.sink.Emit(t)
	}

	started := w.now()
	decision, err := w.matcher.Match(ctx, mention)
	if err != nil {
		return Outcome{}, fmt.Errorf("failed to classify mention: %w", err)
	}
	out.Tier = decision.Tier
	bestSim := 0.0
	if decision.Best != nil {
		bestSim = decision.Best.Similarity
	}
	record("classify", string(decision.Tier), bestSim, started)

	started = w.now()
	switch decision.Tier {
	case TierHigh:
		conceptID := decision.Best.Concept.ID
		if !decision.AutoLinked {
			if err := w.store.LinkInstanceOf(ctx, mention.ID, conceptID); err != nil {
				return Outcome{}, fmt.Errorf("failed to link mention: %w", err)
			}
		}
		out.Action, out.ConceptID = ActionLinked, conceptID
		record("high_link", "link", bestSim, started)

	case TierMedium:
		eval, err := w.evaluator.Evaluate(ctx, mention, *decision.Best)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed evaluator review: %w", err)
		}
		record("medium_evaluator", string(eval.Verdict), eval.Confidence, started)
		switch eval.Verdict {
		case VerdictApprove:
			if err := w.store.LinkInstanceOf(ctx, mention.ID, decision.Best.Concept.ID); err != nil {
				return Outcome{}, fmt.Errorf("failed to link mention: %w", err)
			}
			out.Action, out.ConceptID = ActionLinked, decision.Best.Concept.ID
		case VerdictReject:
			conceptID, err := promoteMention(ctx, w.store, mention)
			if err != nil {
				return Outcome{}, err
			}
			out.Action, out.ConceptID = ActionCreated, conceptID
		case VerdictEscalate:
			r, err := w.queue.Enqueue(ctx, mention, decision.Suggested(), graphstore.EscalationEvaluatorEscalated)
			if err != nil {
				return Outcome{}, err
			}
			out.Action, out.ReviewID = ActionEscalated, r.ID
		}

	case TierLow:
		result, err := w.debater.Debate(ctx, mention, *decision.Best)
		if err != nil {
			return Outcome{}, fmt.Errorf("failed consensus debate: %w", err)
		}
		out.Rounds = result.Rounds
		record("low_consensus", string(result.Decision), result.Confidence, started)
		switch result.Decision {
		case DebateLink:
			if err := w.store.LinkInstanceOf(ctx, mention.ID, decision.Best.Concept.ID); err != nil {
				return Outcome{}, fmt.Errorf("failed to link mention: %w", err)
			}
			out.Action, out.ConceptID = ActionLinked, decision.Best.Concept.ID
		case DebateCreateNew:
			conceptID, err := promoteMention(ctx, w.store, mention)
			if err != nil {
				return Outcome{}, err
			}
			out.Action, out.ConceptID = ActionCreated, conceptID
		case DebateUndecided:
			r, err := w.queue.Enqueue(ctx, mention, decision.Suggested(), graphstore.EscalationConsensusNotReached)
			if err != nil {
				return Outcome{}, err
			}
			out.Action, out.ReviewID = ActionEscalated, r.ID
		}

	case TierRejected:
		conceptID, err := promoteMention(ctx, w.store, mention)
		if err != nil {
			return Outcome{}, err
		}
		out.Action, out.ConceptID = ActionCreated, conceptID
		record("reject_create", "create_new", 0, started)
	}

	record("finalize", string(out.Action), 0, w.now())
	span.SetAttributes(
		attribute.String("action", string(out.Action)),
		attribute.String("tier", string(out.Tier)))
	return out, nil
}
