// Package embed turns text into the fixed 1536-dimensional vectors the
// graph indexes, batching and retrying around the OpenAI embeddings API.
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/retry"
)

const (
	// DefaultModel supports requesting reduced output dimensions.
	DefaultModel     = "text-embedding-3-small"
	DefaultBatchSize = 100
)

// api is the minimal surface the service needs from the embeddings client.
type api interface {
	create(ctx context.Context, texts []string) ([][]float32, error)
}

// Service embeds single texts and batches. Batches larger than BatchSize
// split into chunks; input order is preserved and inputs that could not be
// embedded come back nil rather than failing the whole batch.
type Service struct {
	client    api
	model     string
	batchSize int
	policy    retry.Policy
	logger    *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithBatchSize overrides the chunk size.
func WithBatchSize(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithRetryPolicy overrides the retry policy.
func WithRetryPolicy(p retry.Policy) Option {
	return func(s *Service) { s.policy = p }
}

// withAPI swaps the client, for tests.
func withAPI(a api) Option {
	return func(s *Service) { s.client = a }
}

// New creates a Service backed by the OpenAI embeddings API.
func New(apiKey, model string, logger *zap.Logger, opts ...Option) *Service {
	if model == "" {
		model = DefaultModel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		client:    newOpenAIAPI(apiKey, model),
		model:     model,
		batchSize: DefaultBatchSize,
		policy:    retry.DefaultPolicy(),
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Model reports the embedding model in use.
func (s *Service) Model() string { return s.model }

// Embed embeds one text.
func (s *Service) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, faults.New(faults.KindValidation, "embed", "empty input text")
	}
	vectors, err := retry.Do(ctx, s.policy, s.logger, "embed", func(ctx context.Context) ([][]float32, error) {
		return s.client.create(ctx, []string{text})
	})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, faults.New(faults.KindLLM, "embed", "embedding count mismatch")
	}
	if err := graphstore.ValidateEmbedding(vectors[0]); err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in input order. A chunk that fails after retries
// yields nil vectors for its inputs; the rest of the batch proceeds. The
// error reports the first chunk failure, if any, alongside partial results.
func (s *Service) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	var firstErr error
	for start := 0; start < len(texts); start += s.batchSize {
		end := start + s.batchSize
		if end > len(texts) {
			end = len(texts)
		}
		chunk := texts[start:end]
		vectors, err := retry.Do(ctx, s.policy, s.logger, "embed", func(ctx context.Context) ([][]float32, error) {
			return s.client.create(ctx, chunk)
		})
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			s.logger.Warn("embedding chunk failed",
				zap.Int("offset", start),
				zap.Int("size", len(chunk)),
				zap.Error(err))
			continue
		}
		if len(vectors) != len(chunk) {
			if firstErr == nil {
				firstErr = faults.New(faults.KindLLM, "embed", "embedding count mismatch")
			}
			continue
		}
		copy(out[start:end], vectors)
	}
	return out, firstErr
}

// ProblemText fixes the embedded representation of a problem so recomputed
// vectors stay stable: domain tag, statement, then up to three assumptions.
func ProblemText(domain, statement string, assumptions []string) string {
	var b strings.Builder
	if domain != "" {
		fmt.Fprintf(&b, "[Domain: %s] ", domain)
	}
	b.WriteString(statement)
	if len(assumptions) > 0 {
		top := assumptions
		if len(top) > 3 {
			top = top[:3]
		}
		b.WriteString(" Assumptions: ")
		b.WriteString(strings.Join(top, "; "))
	}
	return b.String()
}

// EmbedProblem embeds a problem using the fixed text protocol.
func (s *Service) EmbedProblem(ctx context.Context, p graphstore.Problem) ([]float32, error) {
	return s.Embed(ctx, ProblemText(p.Domain, p.Statement, p.Assumptions))
}

// openaiAPI is the production embeddings client.
type openaiAPI struct {
	client *oai.Client
	model  string
}

func newOpenAIAPI(apiKey, model string) *openaiAPI {
	client := oai.NewClient(option.WithAPIKey(apiKey))
	return &openaiAPI{client: &client, model: model}
}

func (a *openaiAPI) create(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := a.client.Embeddings.New(ctx, oai.EmbeddingNewParams{
		Model: oai.EmbeddingModel(a.model),
		Input: oai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Dimensions: oai.Int(graphstore.EmbeddingDim),
	})
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			switch {
			case apiErr.StatusCode == 429:
				return nil, faults.Wrap(faults.KindRateLimit, "embed", err)
			case apiErr.StatusCode >= 500:
				return nil, faults.Wrap(faults.KindTransient, "embed", err)
			}
		}
		return nil, faults.Wrap(faults.KindLLM, "embed", err)
	}
	out := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		v := make([]float32, len(d.Embedding))
		for i, x := range d.Embedding {
			v[i] = float32(x)
		}
		out[d.Index] = v
	}
	return out, nil
}
