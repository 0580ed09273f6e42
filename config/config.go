// Package config binds every tunable to an environment variable with a
// default, loaded once at startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/djjay0131/agentic-kg/faults"
)

// Config is the full process configuration.
type Config struct {
	// Graph store.
	GraphPath string // sqlite file path, ":memory:" for ephemeral
	GraphURI  string // mysql DSN for the durable run store, empty = sqlite
	RunsPath  string // sqlite file for workflow runs

	// LLM and embeddings.
	OpenAIKey      string
	AnthropicKey   string
	GoogleKey      string
	ChatModel      string
	DebateModel    string
	EmbeddingModel string

	// Per-source rate limits (requests per second) and burst.
	S2RatePerSec       float64
	ArxivRatePerSec    float64
	OpenAlexRatePerSec float64
	SourceBurst        int

	// Response cache.
	CacheSize int
	CacheTTL  time.Duration
	// PDF cache directory.
	PDFCacheDir string

	// Circuit breaker.
	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerCooldown         time.Duration

	// HTTP client.
	RequestTimeout time.Duration

	// Sandbox.
	SandboxInterpreter  string
	SandboxTimeout      time.Duration
	SandboxBaseDir      string
	SandboxMemoryBytes  int64
	SandboxCPUSeconds   int
	SandboxAllowNetwork bool

	// Checkpoint gates. A disabled checkpoint auto-approves.
	RequireSelectProblem    bool
	RequireApproveProposal  bool
	RequireReviewEvaluation bool

	// Listen address for the HTTP surface.
	ListenAddr string
}

// Load reads the environment once. A malformed value is a configuration
// error, not a silent fallback.
func Load() (Config, error) {
	var firstErr error
	capture := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	cfg := Config{
		GraphPath: envStr("KG_GRAPH_PATH", "agentic-kg.db"),
		GraphURI:  envStr("KG_GRAPH_URI", ""),
		RunsPath:  envStr("KG_RUNS_PATH", "agentic-kg-runs.db"),

		OpenAIKey:      envStr("KG_OPENAI_API_KEY", os.Getenv("OPENAI_API_KEY")),
		AnthropicKey:   envStr("KG_ANTHROPIC_API_KEY", os.Getenv("ANTHROPIC_API_KEY")),
		GoogleKey:      envStr("KG_GOOGLE_API_KEY", os.Getenv("GOOGLE_API_KEY")),
		ChatModel:      envStr("KG_CHAT_MODEL", "gpt-4o-mini"),
		DebateModel:    envStr("KG_DEBATE_MODEL", "claude-sonnet-4-20250514"),
		EmbeddingModel: envStr("KG_EMBEDDING_MODEL", "text-embedding-3-small"),

		PDFCacheDir: envStr("KG_PDF_CACHE_DIR", "pdf-cache"),

		SandboxInterpreter: envStr("KG_SANDBOX_INTERPRETER", "python3"),
		SandboxBaseDir:     envStr("KG_SANDBOX_DIR", ""),

		ListenAddr: envStr("KG_LISTEN_ADDR", ":8080"),
	}

	cfg.S2RatePerSec = envFloat("KG_S2_RATE", 1, capture)
	cfg.ArxivRatePerSec = envFloat("KG_ARXIV_RATE", 0.33, capture)
	cfg.OpenAlexRatePerSec = envFloat("KG_OPENALEX_RATE", 10, capture)
	cfg.SourceBurst = envInt("KG_SOURCE_BURST", 3, capture)

	cfg.CacheSize = envInt("KG_CACHE_SIZE", 1024, capture)
	cfg.CacheTTL = envDuration("KG_CACHE_TTL", time.Hour, capture)

	cfg.BreakerFailureThreshold = envInt("KG_BREAKER_FAILURES", 5, capture)
	cfg.BreakerSuccessThreshold = envInt("KG_BREAKER_SUCCESSES", 2, capture)
	cfg.BreakerCooldown = envDuration("KG_BREAKER_COOLDOWN", 30*time.Second, capture)

	cfg.RequestTimeout = envDuration("KG_REQUEST_TIMEOUT", 30*time.Second, capture)

	cfg.SandboxTimeout = envDuration("KG_SANDBOX_TIMEOUT", 300*time.Second, capture)
	cfg.SandboxMemoryBytes = envInt64("KG_SANDBOX_MEMORY_BYTES", 2<<30, capture)
	cfg.SandboxCPUSeconds = envInt("KG_SANDBOX_CPU_SECONDS", 300, capture)
	cfg.SandboxAllowNetwork = envBool("KG_SANDBOX_ALLOW_NETWORK", false, capture)

	cfg.RequireSelectProblem = envBool("KG_REQUIRE_SELECT_PROBLEM", true, capture)
	cfg.RequireApproveProposal = envBool("KG_REQUIRE_APPROVE_PROPOSAL", true, capture)
	cfg.RequireReviewEvaluation = envBool("KG_REQUIRE_REVIEW_EVALUATION", true, capture)

	if firstErr != nil {
		return Config{}, firstErr
	}
	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int, capture func(error)) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		capture(faults.New(faults.KindValidation, "config",
			fmt.Sprintf("%s: %q is not an integer", key, v)))
		return fallback
	}
	return n
}

func envInt64(key string, fallback int64, capture func(error)) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		capture(faults.New(faults.KindValidation, "config",
			fmt.Sprintf("%s: %q is not an integer", key, v)))
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64, capture func(error)) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		capture(faults.New(faults.KindValidation, "config",
			fmt.Sprintf("%s: %q is not a number", key, v)))
		return fallback
	}
	return f
}

func envDuration(key string, fallback time.Duration, capture func(error)) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		capture(faults.New(faults.KindValidation, "config",
			fmt.Sprintf("%s: %q is not a duration", key, v)))
		return fallback
	}
	return d
}

func envBool(key string, fallback bool, capture func(error)) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		capture(faults.New(faults.KindValidation, "config",
			fmt.Sprintf("%s: %q is not a boolean", key, v)))
		return fallback
	}
	return b
}
