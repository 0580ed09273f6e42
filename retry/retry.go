// Package retry implements the classify-and-backoff wrapper used around
// every fallible acquisition and LLM operation.
//
// The policy is an explicit value passed to Do; there is no hidden state.
// Only outcomes the faults taxonomy marks retryable are re-attempted, and a
// server-provided retry-after always overrides the computed backoff.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
)

// Policy configures backoff behavior. Zero values fall back to defaults.
type Policy struct {
	// InitialBackoff is the delay before the first retry.
	InitialBackoff time.Duration
	// MaxBackoff caps the exponential growth.
	MaxBackoff time.Duration
	// Multiplier is the exponential base (attempt k waits initial×multiplier^k).
	Multiplier float64
	// Jitter is the fractional random increase, e.g. 0.2 adds U[0, 20%].
	Jitter float64
	// MaxRetries is the number of re-attempts after the initial call.
	MaxRetries int
}

// DefaultPolicy matches the acquisition layer defaults.
func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff: 500 * time.Millisecond,
		MaxBackoff:     30 * time.Second,
		Multiplier:     2.0,
		Jitter:         0.2,
		MaxRetries:     3,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = d.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = d.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	return p
}

// Backoff computes the delay before retry attempt (zero-based):
//
//	min(MaxBackoff, InitialBackoff × Multiplier^attempt) × (1 + U[0, Jitter])
func (p Policy) Backoff(attempt int, rng *rand.Rand) time.Duration {
	p = p.withDefaults()
	base := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(attempt))
	if base > float64(p.MaxBackoff) {
		base = float64(p.MaxBackoff)
	}
	if p.Jitter > 0 {
		var u float64
		if rng != nil {
			u = rng.Float64()
		} else {
			u = rand.Float64() // #nosec G404 -- jitter timing, not security
		}
		base *= 1 + u*p.Jitter
	}
	return time.Duration(base)
}

// MaxTotalBackoff bounds the cumulative sleep across all retries.
func (p Policy) MaxTotalBackoff() time.Duration {
	p = p.withDefaults()
	var total float64
	for k := 0; k < p.MaxRetries; k++ {
		b := float64(p.InitialBackoff) * math.Pow(p.Multiplier, float64(k))
		if b > float64(p.MaxBackoff) {
			b = float64(p.MaxBackoff)
		}
		total += b * (1 + p.Jitter)
	}
	return time.Duration(total)
}

// Do runs op, retrying retryable outcomes per the policy. The final error is
// returned unchanged so callers can still classify it.
func Do[T any](ctx context.Context, policy Policy, logger *zap.Logger, source string, op func(ctx context.Context) (T, error)) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	policyEff := policy.withDefaults()

	var zero T
	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		lastErr = err

		if !retryable(err) {
			return zero, err
		}
		if attempt >= policyEff.MaxRetries {
			return zero, lastErr
		}

		delay := policyEff.Backoff(attempt, nil)
		if ra := faults.RetryAfterOf(err); ra > 0 {
			delay = ra
		}
		logger.Info("retrying after failure",
			zap.String("source", source),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.String("kind", faults.KindOf(err).String()),
			zap.Error(err),
		)

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		}
	}
}

// retryable extends the taxonomy check with transport-level errors that may
// arrive unclassified (timeouts, DNS failures, connection resets).
func retryable(err error) bool {
	if faults.KindOf(err) != faults.KindInternal {
		return faults.Retryable(err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
