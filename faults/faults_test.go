package faults

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestKindOf(t *testing.T) {
	t.Run("classified error", func(t *testing.T) {
		err := New(KindNotFound, "s2", "no record for DOI")
		if KindOf(err) != KindNotFound {
			t.Errorf("expected KindNotFound, got %v", KindOf(err))
		}
	})

	t.Run("wrapped classified error", func(t *testing.T) {
		inner := New(KindRateLimit, "arxiv", "429")
		err := fmt.Errorf("fetch failed: %w", inner)
		if KindOf(err) != KindRateLimit {
			t.Errorf("expected KindRateLimit through wrapping, got %v", KindOf(err))
		}
	})

	t.Run("plain error is internal", func(t *testing.T) {
		if KindOf(errors.New("boom")) != KindInternal {
			t.Error("plain errors must classify as internal")
		}
	})
}

func TestRetryable(t *testing.T) {
	cases := []struct {
		kind Kind
		want bool
	}{
		{KindRateLimit, true},
		{KindTransient, true},
		{KindCircuitOpen, true},
		{KindLLM, true},
		{KindNotFound, false},
		{KindDuplicate, false},
		{KindValidation, false},
		{KindNormalization, false},
		{KindInternal, false},
	}
	for _, c := range cases {
		t.Run(c.kind.String(), func(t *testing.T) {
			err := New(c.kind, "test", "x")
			if Retryable(err) != c.want {
				t.Errorf("Retryable(%s) = %v, want %v", c.kind, !c.want, c.want)
			}
		})
	}
}

func TestRetryAfterOf(t *testing.T) {
	err := &Error{Kind: KindRateLimit, Source: "s2", Message: "429", RetryAfter: 3 * time.Second}
	if got := RetryAfterOf(err); got != 3*time.Second {
		t.Errorf("expected 3s retry-after, got %v", got)
	}
	if got := RetryAfterOf(errors.New("plain")); got != 0 {
		t.Errorf("expected zero retry-after for plain error, got %v", got)
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Kind]int{
		KindNotFound:    404,
		KindDuplicate:   409,
		KindValidation:  400,
		KindRateLimit:   429,
		KindTransient:   503,
		KindCircuitOpen: 503,
		KindInternal:    500,
		KindLLM:         500,
	}
	for kind, want := range cases {
		if got := HTTPStatus(kind); got != want {
			t.Errorf("HTTPStatus(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := Wrap(KindTransient, "openalex", cause)
	if !errors.Is(err, cause) {
		t.Error("Wrap must preserve the cause chain")
	}
}
