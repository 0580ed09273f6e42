// Package faults defines the semantic error taxonomy shared by the
// acquisition, extraction, and workflow layers.
//
// Every failure crossing a component boundary is classified into a Kind so
// that callers (the retry engine in particular) can decide behavior without
// inspecting provider-specific error types. The taxonomy is deliberately
// small; anything unclassified is KindInternal.
package faults

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure for propagation and retry decisions.
type Kind int

const (
	// KindInternal is the fallback for unclassified failures.
	KindInternal Kind = iota

	// KindNotFound means the identifier has no record at the source.
	KindNotFound

	// KindDuplicate means a unique-constraint violation.
	KindDuplicate

	// KindValidation means inputs violate schema or invariants.
	KindValidation

	// KindRateLimit means the source signalled 429 or equivalent.
	KindRateLimit

	// KindTransient covers timeouts, connection resets, and 5xx responses.
	KindTransient

	// KindCircuitOpen means a source is temporarily blocked by its breaker.
	KindCircuitOpen

	// KindNormalization means a raw record could not be mapped to the
	// unified model. Fatal for that source, not for an aggregate call.
	KindNormalization

	// KindLLM means a typed-output parse failure or LLM API failure.
	KindLLM
)

// String returns the snake_case name used in logs and API error bodies.
func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindDuplicate:
		return "duplicate"
	case KindValidation:
		return "validation"
	case KindRateLimit:
		return "rate_limit"
	case KindTransient:
		return "transient"
	case KindCircuitOpen:
		return "circuit_open"
	case KindNormalization:
		return "normalization"
	case KindLLM:
		return "llm_error"
	default:
		return "internal"
	}
}

// Error is a classified failure. Source identifies the subsystem or
// bibliographic source that produced it; RetryAfter carries a
// server-provided backoff hint when the source supplied one.
type Error struct {
	Kind       Kind
	Source     string
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.Source != "" {
		return fmt.Sprintf("%s: %s: %s", e.Source, e.Kind, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the wrapped cause.
func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, source, message string) *Error {
	return &Error{Kind: kind, Source: source, Message: message}
}

// Wrap classifies an existing error.
func Wrap(kind Kind, source string, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Source: source, Message: err.Error(), Err: err}
}

// KindOf extracts the Kind from err, unwrapping as needed.
// Errors outside the taxonomy report KindInternal.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the retry engine may re-attempt the operation.
// Rate limits and transient transport failures are retryable; circuit-open
// is retryable only after the breaker cooldown, which the retry engine
// honours through RetryAfter. LLM failures are retryable because the
// typed-output contract tolerates re-asking.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindRateLimit, KindTransient, KindLLM:
		return true
	case KindCircuitOpen:
		return true
	default:
		return false
	}
}

// RetryAfterOf returns a server-provided backoff hint, or zero.
func RetryAfterOf(err error) time.Duration {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.RetryAfter
	}
	return 0
}

// HTTPStatus maps a Kind to the status code the external API layer uses.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return 404
	case KindDuplicate:
		return 409
	case KindValidation:
		return 400
	case KindRateLimit:
		return 429
	case KindTransient, KindCircuitOpen:
		return 503
	default:
		return 500
	}
}
