package embed

import (
	"context"
	"testing"
	"time"

	"github.com/djjay0131/agentic-kg/faults"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/retry"
)

type fakeAPI struct {
	chunks [][]string
	fail   map[int]bool // chunk index → fail
	calls  int
}

func (f *fakeAPI) create(ctx context.Context, texts []string) ([][]float32, error) {
	idx := len(f.chunks)
	f.chunks = append(f.chunks, texts)
	f.calls++
	if f.fail[idx] {
		return nil, faults.New(faults.KindTransient, "embed", "upstream 503")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, graphstore.EmbeddingDim)
		v[0] = float32(len(texts[i]))
		out[i] = v
	}
	return out, nil
}

func fastRetry() retry.Policy {
	return retry.Policy{InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond, Multiplier: 1, MaxRetries: 0}
}

func newTestService(f *fakeAPI) *Service {
	return New("", "", nil, withAPI(f), WithBatchSize(2), WithRetryPolicy(fastRetry()))
}

func TestEmbedSingle(t *testing.T) {
	f := &fakeAPI{}
	s := newTestService(f)
	v, err := s.Embed(context.Background(), "hello")
	if err != nil {
		t.Fatal(err)
	}
	if len(v) != graphstore.EmbeddingDim {
		t.Errorf("dim = %d", len(v))
	}
	if _, err := s.Embed(context.Background(), "   "); !faults.Is(err, faults.KindValidation) {
		t.Errorf("empty input: %v", err)
	}
}

func TestEmbedBatch_ChunksPreserveOrder(t *testing.T) {
	f := &fakeAPI{}
	s := newTestService(f)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee"}
	out, err := s.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 5 {
		t.Fatalf("out = %d", len(out))
	}
	if len(f.chunks) != 3 {
		t.Errorf("chunks = %d, want 3 for batch size 2", len(f.chunks))
	}
	for i, text := range texts {
		if out[i] == nil || out[i][0] != float32(len(text)) {
			t.Errorf("position %d out of order", i)
		}
	}
}

func TestEmbedBatch_FailedChunkYieldsAbsent(t *testing.T) {
	f := &fakeAPI{fail: map[int]bool{1: true}}
	s := newTestService(f)

	out, err := s.EmbedBatch(context.Background(), []string{"a", "b", "c", "d", "e"})
	if err == nil {
		t.Fatal("expected surfaced chunk error")
	}
	// Chunk 1 covers inputs 2 and 3.
	for i, v := range out {
		absent := i == 2 || i == 3
		if absent && v != nil {
			t.Errorf("input %d should be absent", i)
		}
		if !absent && v == nil {
			t.Errorf("input %d lost to an unrelated failure", i)
		}
	}
}

func TestProblemText(t *testing.T) {
	cases := []struct {
		name        string
		domain      string
		statement   string
		assumptions []string
		want        string
	}{
		{
			name:        "full",
			domain:      "nlp",
			statement:   "Attention is quadratic",
			assumptions: []string{"A1", "A2", "A3", "A4"},
			want:        "[Domain: nlp] Attention is quadratic Assumptions: A1; A2; A3",
		},
		{
			name:      "no assumptions",
			domain:    "nlp",
			statement: "Attention is quadratic",
			want:      "[Domain: nlp] Attention is quadratic",
		},
		{
			name:      "no domain",
			statement: "Attention is quadratic",
			want:      "Attention is quadratic",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ProblemText(tc.domain, tc.statement, tc.assumptions); got != tc.want {
				t.Errorf("got %q, want %q", got, tc.want)
			}
		})
	}
}
