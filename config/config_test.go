package config

import (
	"testing"
	"time"

	"github.com/djjay0131/agentic-kg/faults"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GraphPath != "agentic-kg.db" {
		t.Errorf("GraphPath = %q", cfg.GraphPath)
	}
	if cfg.SandboxTimeout != 300*time.Second {
		t.Errorf("SandboxTimeout = %v", cfg.SandboxTimeout)
	}
	if cfg.CacheSize != 1024 || cfg.CacheTTL != time.Hour {
		t.Errorf("cache defaults = %d, %v", cfg.CacheSize, cfg.CacheTTL)
	}
	if cfg.ArxivRatePerSec != 0.33 {
		t.Errorf("ArxivRatePerSec = %v", cfg.ArxivRatePerSec)
	}
	if !cfg.RequireSelectProblem || !cfg.RequireApproveProposal || !cfg.RequireReviewEvaluation {
		t.Error("checkpoints should default to required")
	}
	if cfg.SandboxMemoryBytes != 2<<30 || cfg.SandboxCPUSeconds != 300 {
		t.Errorf("sandbox limits = %d bytes, %d cpu seconds", cfg.SandboxMemoryBytes, cfg.SandboxCPUSeconds)
	}
	if cfg.SandboxAllowNetwork {
		t.Error("SandboxAllowNetwork should default to false")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KG_GRAPH_PATH", "/tmp/graph.db")
	t.Setenv("KG_SANDBOX_TIMEOUT", "45s")
	t.Setenv("KG_S2_RATE", "2.5")
	t.Setenv("KG_SOURCE_BURST", "7")
	t.Setenv("KG_REQUIRE_SELECT_PROBLEM", "false")
	t.Setenv("KG_SANDBOX_MEMORY_BYTES", "536870912")
	t.Setenv("KG_SANDBOX_ALLOW_NETWORK", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GraphPath != "/tmp/graph.db" {
		t.Errorf("GraphPath = %q", cfg.GraphPath)
	}
	if cfg.SandboxTimeout != 45*time.Second {
		t.Errorf("SandboxTimeout = %v", cfg.SandboxTimeout)
	}
	if cfg.S2RatePerSec != 2.5 {
		t.Errorf("S2RatePerSec = %v", cfg.S2RatePerSec)
	}
	if cfg.SourceBurst != 7 {
		t.Errorf("SourceBurst = %d", cfg.SourceBurst)
	}
	if cfg.RequireSelectProblem {
		t.Error("RequireSelectProblem should be false")
	}
	if cfg.SandboxMemoryBytes != 536870912 {
		t.Errorf("SandboxMemoryBytes = %d", cfg.SandboxMemoryBytes)
	}
	if !cfg.SandboxAllowNetwork {
		t.Error("SandboxAllowNetwork should be true")
	}
}

func TestLoadMalformed(t *testing.T) {
	cases := map[string]string{
		"KG_SOURCE_BURST":           "many",
		"KG_CACHE_TTL":              "soon",
		"KG_S2_RATE":                "fast",
		"KG_REQUIRE_SELECT_PROBLEM": "yep",
		"KG_SANDBOX_MEMORY_BYTES":   "huge",
	}
	for key, val := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, val)
			_, err := Load()
			if !faults.Is(err, faults.KindValidation) {
				t.Fatalf("err = %v, want validation fault", err)
			}
		})
	}
}
