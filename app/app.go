// Package app wires the acquisition, graph, extraction, matching, and
// progression subsystems into one process.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/djjay0131/agentic-kg/agents"
	"github.com/djjay0131/agentic-kg/aggregate"
	"github.com/djjay0131/agentic-kg/breaker"
	"github.com/djjay0131/agentic-kg/cache"
	"github.com/djjay0131/agentic-kg/config"
	"github.com/djjay0131/agentic-kg/embed"
	"github.com/djjay0131/agentic-kg/events"
	"github.com/djjay0131/agentic-kg/extract"
	"github.com/djjay0131/agentic-kg/graphstore"
	"github.com/djjay0131/agentic-kg/ingest"
	"github.com/djjay0131/agentic-kg/llm"
	"github.com/djjay0131/agentic-kg/llm/anthropic"
	"github.com/djjay0131/agentic-kg/llm/google"
	"github.com/djjay0131/agentic-kg/llm/openai"
	"github.com/djjay0131/agentic-kg/match"
	"github.com/djjay0131/agentic-kg/metrics"
	"github.com/djjay0131/agentic-kg/pdfcache"
	"github.com/djjay0131/agentic-kg/ratelimit"
	"github.com/djjay0131/agentic-kg/retry"
	"github.com/djjay0131/agentic-kg/sandbox"
	"github.com/djjay0131/agentic-kg/sources"
	"github.com/djjay0131/agentic-kg/sources/arxiv"
	"github.com/djjay0131/agentic-kg/sources/openalex"
	"github.com/djjay0131/agentic-kg/sources/semanticscholar"
	"github.com/djjay0131/agentic-kg/workflow"
)

// Version is the process version reported by Health.
const Version = "0.4.0"

// maxPDFCacheBytes bounds the on-disk PDF cache.
const maxPDFCacheBytes = 1 << 30

// App owns every subsystem. Build one with New, shut it down with Close.
type App struct {
	cfg    config.Config
	logger *zap.Logger

	Store    graphstore.Store
	Runs     workflow.RunStore
	Sources  *aggregate.Aggregator
	Pipeline *Pipeline
	Queue    *match.ReviewQueue
	Engine   *workflow.Engine
	Bus      *events.Bus
	Hub      *events.Hub
	Metrics  *metrics.Metrics
}

// New builds the full application from configuration. Fails fast on
// anything that would leave a subsystem unusable.
func New(cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	store, err := graphstore.NewSQLiteStore(cfg.GraphPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open graph store: %w", err)
	}

	var runs workflow.RunStore
	if cfg.GraphURI != "" {
		runs, err = workflow.NewMySQLRunStore(cfg.GraphURI)
	} else {
		runs, err = workflow.NewSQLiteRunStore(cfg.RunsPath)
	}
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to open run store: %w", err)
	}

	m := metrics.New()
	agg := buildSources(cfg, logger)

	chat := openai.New(cfg.OpenAIKey, cfg.ChatModel)
	debate := debateModel(cfg, chat)
	embedder := embed.New(cfg.OpenAIKey, cfg.EmbeddingModel, logger)

	importer := ingest.New(store, ingest.Options{}, logger)
	extractor := extract.NewProblemExtractor(chat, extract.DefaultExtractorOptions(), logger)

	queue := match.NewReviewQueue(store, match.QueueOptions{}, logger)
	matcher := match.NewMatcher(store, match.Options{}, logger)
	matchWF := match.NewWorkflow(matcher,
		match.NewLLMEvaluator(chat),
		match.NewLLMDebater(debate),
		queue, store, logger)

	pipeline := NewPipeline(agg, importer, store, extractor, embedder, matchWF, m,
		PipelineOptions{CitationLimit: 20, ExtractionModel: chat.Name()}, logger)
	if cfg.PDFCacheDir != "" {
		pdfs, err := pdfcache.New(cfg.PDFCacheDir, maxPDFCacheBytes)
		if err != nil {
			logger.Warn("pdf cache disabled", zap.Error(err))
		} else {
			pipeline.SetPDFCache(pdfs)
		}
	}

	runner := sandbox.NewRunner(sandbox.Options{
		Interpreter:      cfg.SandboxInterpreter,
		Timeout:          cfg.SandboxTimeout,
		BaseDir:          cfg.SandboxBaseDir,
		MemoryLimitBytes: cfg.SandboxMemoryBytes,
		CPUSeconds:       cfg.SandboxCPUSeconds,
		AllowNetwork:     cfg.SandboxAllowNetwork,
	}, logger)

	bus := events.NewBus(logger)
	hub := events.NewHub(logger)
	bus.Subscribe(events.Bridge(hub))

	gates := workflow.Gates{
		SelectProblem:    cfg.RequireSelectProblem,
		ApproveProposal:  cfg.RequireApproveProposal,
		ReviewEvaluation: cfg.RequireReviewEvaluation,
	}
	engine := workflow.NewEngine(
		agents.NewRankingAgent(store, chat, logger),
		agents.NewContinuationAgent(store, chat, logger),
		agents.NewEvaluationAgent(store, chat, runner, logger),
		agents.NewSynthesisAgent(store, chat, logger),
		gates, runs, bus, logger)

	return &App{
		cfg:      cfg,
		logger:   logger,
		Store:    store,
		Runs:     runs,
		Sources:  agg,
		Pipeline: pipeline,
		Queue:    queue,
		Engine:   engine,
		Bus:      bus,
		Hub:      hub,
		Metrics:  m,
	}, nil
}

// debateModel picks a second model family for the debate tier: Anthropic
// when keyed, Gemini otherwise, falling back to the chat model itself.
func debateModel(cfg config.Config, chat llm.ChatModel) llm.ChatModel {
	switch {
	case cfg.AnthropicKey != "":
		return anthropic.New(cfg.AnthropicKey, cfg.DebateModel)
	case cfg.GoogleKey != "":
		return google.New(cfg.GoogleKey, "")
	}
	return chat
}

// buildSources assembles the three source clients behind their shared
// resilience stack: per-source rate limiter and breaker, shared cache.
func buildSources(cfg config.Config, logger *zap.Logger) *aggregate.Aggregator {
	resp := cache.NewResponse(cfg.CacheSize)
	limits := ratelimit.NewRegistry()
	breakers := breaker.NewRegistry(breaker.Config{
		FailureThreshold: uint32(cfg.BreakerFailureThreshold),
		SuccessThreshold: uint32(cfg.BreakerSuccessThreshold),
		CooldownPeriod:   cfg.BreakerCooldown,
	}, logger)
	policy := retry.DefaultPolicy()
	burst := float64(cfg.SourceBurst)

	stack := func(name string, perSec float64) *sources.Stack {
		return sources.NewStack(name,
			breakers.GetOrCreate(name),
			limits.GetOrCreate(name, perSec, burst),
			resp, policy, logger)
	}

	clients := []sources.Client{
		semanticscholar.New(stack("semantic_scholar", cfg.S2RatePerSec), ""),
		arxiv.New(stack("arxiv", cfg.ArxivRatePerSec)),
		openalex.New(stack("openalex", cfg.OpenAlexRatePerSec), ""),
	}
	return aggregate.New(clients, logger)
}

// Health is the liveness surface.
type Health struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	GraphConnected bool   `json:"graph_connected"`
}

// CheckHealth probes the graph store.
func (a *App) CheckHealth(ctx context.Context) Health {
	h := Health{Status: "ok", Version: Version, GraphConnected: true}
	if _, err := a.Store.Stats(ctx); err != nil {
		h.Status = "degraded"
		h.GraphConnected = false
	}
	return h
}

// GraphStats reports node and edge counts.
func (a *App) GraphStats(ctx context.Context) (graphstore.Stats, error) {
	return a.Store.Stats(ctx)
}

// Close shuts down in dependency order. The bus closes first so no
// handler observes a closed store.
func (a *App) Close() error {
	a.Bus.Close()
	var firstErr error
	if err := a.Runs.Close(); err != nil {
		firstErr = err
	}
	if err := a.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
