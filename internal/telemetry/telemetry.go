package telemetry

import (
	"log"
	"net/http"
	"time"

	"github.com/counselgraph/counselgraph/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry tracks request outcomes, capability executions, retrieval
// volume and LLM spend on a dedicated prometheus registry.
type Telemetry struct {
	cfg      config.TelemetryConfig
	logger   *log.Logger
	registry *prometheus.Registry

	requestsTotal  *prometheus.CounterVec
	requestSeconds prometheus.Histogram
	taskTotal      *prometheus.CounterVec
	taskSeconds    *prometheus.HistogramVec
	retrievedDocs  prometheus.Histogram
	streamEvents   *prometheus.CounterVec
	llmCostDollars *prometheus.CounterVec
	llmTokens      *prometheus.CounterVec
}

func New(cfg config.TelemetryConfig) *Telemetry {
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		cfg:      cfg,
		logger:   log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags),
		registry: reg,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselgraph_requests_total",
			Help: "Research requests by outcome.",
		}, []string{"outcome"}),
		requestSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counselgraph_request_seconds",
			Help:    "End-to-end research request latency.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}),
		taskTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselgraph_tasks_total",
			Help: "Capability task executions by capability and status.",
		}, []string{"capability", "status"}),
		taskSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "counselgraph_task_seconds",
			Help:    "Capability task duration.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"capability"}),
		retrievedDocs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "counselgraph_retrieved_docs",
			Help:    "Documents surviving rerank per request.",
			Buckets: prometheus.LinearBuckets(0, 3, 6),
		}),
		streamEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselgraph_stream_events_total",
			Help: "Stream events emitted by type.",
		}, []string{"type"}),
		llmCostDollars: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselgraph_llm_cost_dollars_total",
			Help: "Estimated LLM spend by model.",
		}, []string{"model"}),
		llmTokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "counselgraph_llm_tokens_total",
			Help: "LLM tokens by model and direction.",
		}, []string{"model", "direction"}),
	}

	reg.MustRegister(
		t.requestsTotal, t.requestSeconds,
		t.taskTotal, t.taskSeconds,
		t.retrievedDocs, t.streamEvents,
		t.llmCostDollars, t.llmTokens,
	)
	return t
}

// Handler serves the registry for the /metrics route.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}

func (t *Telemetry) RecordRequest(outcome string, d time.Duration) {
	if !t.cfg.Enabled {
		return
	}
	t.requestsTotal.WithLabelValues(outcome).Inc()
	t.requestSeconds.Observe(d.Seconds())
}

func (t *Telemetry) RecordTask(capability, status string, d time.Duration) {
	if !t.cfg.Enabled {
		return
	}
	t.taskTotal.WithLabelValues(capability, status).Inc()
	t.taskSeconds.WithLabelValues(capability).Observe(d.Seconds())
	if t.cfg.PeriodicLogs {
		t.logger.Printf("task %s finished status=%s duration=%v", capability, status, d)
	}
}

func (t *Telemetry) RecordRetrievedDocs(n int) {
	if !t.cfg.Enabled {
		return
	}
	t.retrievedDocs.Observe(float64(n))
}

func (t *Telemetry) RecordStreamEvent(eventType string) {
	if !t.cfg.Enabled {
		return
	}
	t.streamEvents.WithLabelValues(eventType).Inc()
}

func (t *Telemetry) RecordLLMUsage(model string, inputTokens, outputTokens int64, cost float64) {
	if !t.cfg.Enabled {
		return
	}
	t.llmTokens.WithLabelValues(model, "input").Add(float64(inputTokens))
	t.llmTokens.WithLabelValues(model, "output").Add(float64(outputTokens))
	t.llmCostDollars.WithLabelValues(model).Add(cost)
}
