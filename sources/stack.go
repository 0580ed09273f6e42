package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/breaker"
	"github.com/djjay0131/agentic-kg/cache"
	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/ratelimit"
	"github.com/djjay0131/agentic-kg/retry"
)

// maxResponseBytes caps a single upstream response body.
const maxResponseBytes = 32 << 20

// Stack composes the middleware every client call goes through, in order:
// breaker check, rate-limit acquire, cache lookup, HTTP request with status
// classification and retry, breaker recording, cache set.
type Stack struct {
	Source     string
	Breaker    *breaker.Breaker
	Limiter    *ratelimit.Limiter
	Cache      *cache.Response
	Policy     retry.Policy
	HTTPClient *http.Client
	Logger     *zap.Logger
	// Headers are added to every request (API keys, user agent).
	Headers map[string]string
}

// NewStack wires a stack with sane defaults for nil fields.
func NewStack(source string, b *breaker.Breaker, l *ratelimit.Limiter, c *cache.Response, policy retry.Policy, logger *zap.Logger) *Stack {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stack{
		Source:     source,
		Breaker:    b,
		Limiter:    l,
		Cache:      c,
		Policy:     policy,
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
		Logger:     logger,
	}
}

// FetchJSON runs the full middleware chain for a GET returning JSON,
// decoding the (possibly cached) body into out.
func (s *Stack) FetchJSON(ctx context.Context, url string, key cache.Key, bypass bool, out any) error {
	body, err := s.Fetch(ctx, url, key, bypass)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return faults.Wrap(faults.KindNormalization, s.Source, fmt.Errorf("decode %s response: %w", s.Source, err))
	}
	return nil
}

// Fetch runs the full middleware chain for a GET returning the raw body.
// An empty cache key disables caching for the call.
func (s *Stack) Fetch(ctx context.Context, url string, key cache.Key, bypass bool) ([]byte, error) {
	if s.Breaker != nil {
		if err := s.Breaker.Check(); err != nil {
			return nil, err
		}
	}
	if s.Limiter != nil {
		if _, err := s.Limiter.Acquire(ctx, 1); err != nil {
			s.recordOutcome(fmt.Errorf("rate limiter: %w", err))
			return nil, err
		}
	}
	if s.Cache != nil && key.ID != "" {
		if v, ok := s.Cache.Get(key, bypass); ok {
			// The upstream was never hit; settle the breaker slot.
			s.recordOutcome(nil)
			return v.([]byte), nil
		}
	}

	body, err := retry.Do(ctx, s.Policy, s.Logger, s.Source, func(ctx context.Context) ([]byte, error) {
		return s.doRequest(ctx, url)
	})
	s.recordOutcome(err)
	if err != nil {
		return nil, err
	}

	if s.Cache != nil && key.ID != "" {
		s.Cache.Set(key, body, 0)
	}
	return body, nil
}

func (s *Stack) recordOutcome(err error) {
	if s.Breaker == nil {
		return
	}
	// A not-found is a valid upstream answer, not a source failure.
	if err == nil || faults.Is(err, faults.KindNotFound) {
		s.Breaker.RecordSuccess()
		return
	}
	s.Breaker.RecordFailure()
}

func (s *Stack) doRequest(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, faults.Wrap(faults.KindValidation, s.Source, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, faults.Wrap(faults.KindTransient, s.Source, err)
	}
	defer resp.Body.Close()

	if err := s.ClassifyStatus(resp); err != nil {
		// Drain a little so the connection can be reused.
		_, _ = io.CopyN(io.Discard, resp.Body, 4096)
		return nil, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, faults.Wrap(faults.KindTransient, s.Source, err)
	}
	return body, nil
}

// ClassifyStatus maps an HTTP response status into the faults taxonomy:
// 404 → not_found, 429 → rate_limit (with Retry-After), ≥500 → transient,
// any other 4xx → validation (non-retryable).
func (s *Stack) ClassifyStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return faults.New(faults.KindNotFound, s.Source, "no record for identifier")
	case resp.StatusCode == http.StatusTooManyRequests:
		return &faults.Error{
			Kind:       faults.KindRateLimit,
			Source:     s.Source,
			Message:    "upstream rate limit",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return faults.New(faults.KindTransient, s.Source, fmt.Sprintf("upstream %d", resp.StatusCode))
	default:
		return faults.New(faults.KindValidation, s.Source, fmt.Sprintf("upstream rejected request: %d", resp.StatusCode))
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
