// Package metrics exposes Prometheus collectors for the ingestion and
// matching pipelines. All metrics are namespaced "agentickg_".
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every collector. Create one per process with a private
// registry and expose it through promhttp.
type Metrics struct {
	// Source fetches, labeled by source and outcome
	// (ok/not_found/rate_limited/error).
	sourceRequests *prometheus.CounterVec
	sourceLatency  *prometheus.HistogramVec

	// Papers imported, labeled by status (created/updated/skipped/failed).
	papersImported *prometheus.CounterVec

	// Problems extracted per section type.
	problemsExtracted *prometheus.CounterVec

	// Matching decisions per tier and action.
	matchDecisions *prometheus.CounterVec

	// Review queue depth by priority.
	reviewQueueDepth *prometheus.GaugeVec

	// LLM calls, labeled by provider and outcome.
	llmCalls   *prometheus.CounterVec
	llmLatency *prometheus.HistogramVec

	// Workflow runs by terminal status.
	workflowRuns *prometheus.CounterVec
	// Nodes executing right now.
	inflightNodes prometheus.Gauge

	registry *prometheus.Registry
}

var latencyBuckets = []float64{10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		sourceRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentickg_source_requests_total",
			Help: "Paper-source API requests by source and outcome.",
		}, []string{"source", "outcome"}),
		sourceLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentickg_source_latency_ms",
			Help:    "Paper-source request latency in milliseconds.",
			Buckets: latencyBuckets,
		}, []string{"source"}),
		papersImported: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentickg_papers_imported_total",
			Help: "Papers processed by the importer, by status.",
		}, []string{"status"}),
		problemsExtracted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentickg_problems_extracted_total",
			Help: "Problems extracted, by section type.",
		}, []string{"section"}),
		matchDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentickg_match_decisions_total",
			Help: "Matching workflow outcomes by tier and action.",
		}, []string{"tier", "action"}),
		reviewQueueDepth: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "agentickg_review_queue_depth",
			Help: "Unresolved review-queue entries by priority.",
		}, []string{"priority"}),
		llmCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentickg_llm_calls_total",
			Help: "LLM chat and embedding calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		llmLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "agentickg_llm_latency_ms",
			Help:    "LLM call latency in milliseconds.",
			Buckets: latencyBuckets,
		}, []string{"provider"}),
		workflowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "agentickg_workflow_runs_total",
			Help: "Research workflow runs by terminal status.",
		}, []string{"status"}),
		inflightNodes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "agentickg_inflight_nodes",
			Help: "Workflow nodes executing right now.",
		}),
		registry: registry,
	}
}

// Registry returns the backing registry for promhttp exposure.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) ObserveSourceRequest(source, outcome string, elapsed time.Duration) {
	m.sourceRequests.WithLabelValues(source, outcome).Inc()
	m.sourceLatency.WithLabelValues(source).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) PaperImported(status string) {
	m.papersImported.WithLabelValues(status).Inc()
}

func (m *Metrics) ProblemExtracted(section string) {
	m.problemsExtracted.WithLabelValues(section).Inc()
}

func (m *Metrics) MatchDecision(tier, action string) {
	m.matchDecisions.WithLabelValues(tier, action).Inc()
}

func (m *Metrics) SetReviewQueueDepth(priority string, depth int) {
	m.reviewQueueDepth.WithLabelValues(priority).Set(float64(depth))
}

func (m *Metrics) ObserveLLMCall(provider, outcome string, elapsed time.Duration) {
	m.llmCalls.WithLabelValues(provider, outcome).Inc()
	m.llmLatency.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) WorkflowRun(status string) {
	m.workflowRuns.WithLabelValues(status).Inc()
}

func (m *Metrics) NodeStarted()  { m.inflightNodes.Inc() }
func (m *Metrics) NodeFinished() { m.inflightNodes.Dec() }
