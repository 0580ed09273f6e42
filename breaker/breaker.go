// Package breaker provides the per-source circuit breaker used by the
// acquisition clients.
//
// The breaker never wraps calls itself: the caller drives it with Check /
// RecordSuccess / RecordFailure so the retry engine stays free to interpret
// outcomes. State keeping is delegated to sony/gobreaker's two-step breaker;
// this package pins its settings to the consecutive-failure semantics the
// acquisition layer needs and maps its errors into the faults taxonomy.
package breaker

import (
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
)

// State mirrors the three breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Config controls trip and recovery behavior.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the breaker.
	FailureThreshold uint32
	// SuccessThreshold is the consecutive successes in half-open that close it.
	SuccessThreshold uint32
	// CooldownPeriod is how long an open breaker blocks before probing.
	CooldownPeriod time.Duration
}

// DefaultConfig matches the acquisition layer defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CooldownPeriod:   30 * time.Second,
	}
}

// Stats is an observability snapshot.
type Stats struct {
	Source               string
	State                State
	ConsecutiveFailures  uint32
	ConsecutiveSuccesses uint32
	TotalFailures        uint32
	TotalSuccesses       uint32
}

// Breaker guards one source.
type Breaker struct {
	source string
	cb     *gobreaker.TwoStepCircuitBreaker
	logger *zap.Logger

	mu      sync.Mutex
	pending []func(success bool)
}

// New creates a breaker for source. A nil logger is replaced with a no-op.
func New(source string, cfg Config, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.SuccessThreshold == 0 {
		cfg.SuccessThreshold = DefaultConfig().SuccessThreshold
	}
	if cfg.CooldownPeriod == 0 {
		cfg.CooldownPeriod = DefaultConfig().CooldownPeriod
	}

	b := &Breaker{source: source, logger: logger}
	b.cb = gobreaker.NewTwoStepCircuitBreaker(gobreaker.Settings{
		Name: source,
		// Half-open closes after SuccessThreshold consecutive successes.
		MaxRequests: cfg.SuccessThreshold,
		Timeout:     cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Info("circuit breaker state change",
				zap.String("source", name),
				zap.String("from", mapState(from).string()),
				zap.String("to", mapState(to).string()),
			)
		},
	})
	return b
}

// Check fails fast with a circuit_open fault while the breaker is open (or
// half-open with its probe quota exhausted). On success it parks a pending
// outcome slot that the next RecordSuccess/RecordFailure consumes.
func (b *Breaker) Check() error {
	done, err := b.cb.Allow()
	if err != nil {
		return &faults.Error{
			Kind:    faults.KindCircuitOpen,
			Source:  b.source,
			Message: "source temporarily blocked by circuit breaker",
			Err:     err,
		}
	}
	b.mu.Lock()
	b.pending = append(b.pending, done)
	b.mu.Unlock()
	return nil
}

// RecordSuccess resolves the oldest pending check as a success.
func (b *Breaker) RecordSuccess() { b.resolve(true) }

// RecordFailure resolves the oldest pending check as a failure. In half-open
// this reopens the breaker immediately.
func (b *Breaker) RecordFailure() { b.resolve(false) }

func (b *Breaker) resolve(success bool) {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}
	done := b.pending[0]
	b.pending = b.pending[1:]
	b.mu.Unlock()
	done(success)
}

// State returns the current breaker state.
func (b *Breaker) State() State { return mapState(b.cb.State()) }

// Stats returns a snapshot of the breaker counters.
func (b *Breaker) Stats() Stats {
	counts := b.cb.Counts()
	return Stats{
		Source:               b.source,
		State:                b.State(),
		ConsecutiveFailures:  counts.ConsecutiveFailures,
		ConsecutiveSuccesses: counts.ConsecutiveSuccesses,
		TotalFailures:        counts.TotalFailures,
		TotalSuccesses:       counts.TotalSuccesses,
	}
}

func (s State) string() string { return string(s) }

func mapState(s gobreaker.State) State {
	switch s {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Registry owns per-source breakers; the application root constructs one.
type Registry struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      Config
	logger   *zap.Logger
}

// NewRegistry creates a registry applying cfg to every new breaker.
func NewRegistry(cfg Config, logger *zap.Logger) *Registry {
	return &Registry{breakers: make(map[string]*Breaker), cfg: cfg, logger: logger}
}

// GetOrCreate returns the breaker for source, creating it on first use.
func (r *Registry) GetOrCreate(source string) *Breaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[source]; ok {
		return b
	}
	b := New(source, r.cfg, r.logger)
	r.breakers[source] = b
	return b
}

// Stats returns snapshots for every registered breaker.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Stats())
	}
	return out
}
