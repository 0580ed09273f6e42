package app

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/config"
	"github.com/djjay0131/agentic-kg/llm/openai"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load()
	if err != nil {
		t.Fatal(err)
	}
	dir := t.TempDir()
	cfg.GraphPath = filepath.Join(dir, "graph.db")
	cfg.RunsPath = filepath.Join(dir, "runs.db")
	cfg.PDFCacheDir = filepath.Join(dir, "pdfs")
	return cfg
}

func TestNewWiresEverything(t *testing.T) {
	a, err := New(testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	for name, ok := range map[string]bool{
		"store":    a.Store != nil,
		"runs":     a.Runs != nil,
		"sources":  a.Sources != nil,
		"pipeline": a.Pipeline != nil,
		"queue":    a.Queue != nil,
		"engine":   a.Engine != nil,
		"bus":      a.Bus != nil,
		"hub":      a.Hub != nil,
		"metrics":  a.Metrics != nil,
	} {
		if !ok {
			t.Errorf("%s not wired", name)
		}
	}
	if mfs, err := a.Metrics.Registry().Gather(); err != nil || len(mfs) == 0 {
		t.Errorf("metrics registry empty: %v", err)
	}
}

func TestDebateModelSelection(t *testing.T) {
	cfg := testConfig(t)
	chat := openai.New("sk-chat", cfg.ChatModel)

	cfg.AnthropicKey = "sk-ant"
	cfg.GoogleKey = "g-key"
	if got := debateModel(cfg, chat); got.Name() != cfg.DebateModel {
		t.Errorf("with anthropic key: %s", got.Name())
	}

	cfg.AnthropicKey = ""
	if got := debateModel(cfg, chat); got.Name() != "gemini-1.5-flash" {
		t.Errorf("with google key: %s", got.Name())
	}

	cfg.GoogleKey = ""
	if got := debateModel(cfg, chat); got != chat {
		t.Errorf("without keys: %s", got.Name())
	}
}

func TestCheckHealth(t *testing.T) {
	ctx := context.Background()
	a, err := New(testConfig(t), zap.NewNop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	h := a.CheckHealth(ctx)
	if h.Status != "ok" || !h.GraphConnected || h.Version != Version {
		t.Errorf("health = %+v", h)
	}

	stats, err := a.GraphStats(ctx)
	if err != nil {
		t.Fatalf("GraphStats: %v", err)
	}
	if stats.Papers != 0 || stats.Problems != 0 {
		t.Errorf("fresh store stats = %+v", stats)
	}

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	h = a.CheckHealth(ctx)
	if h.GraphConnected {
		t.Error("health should report a closed store as disconnected")
	}
}
