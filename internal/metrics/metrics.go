// Package metrics provides Prometheus metrics for the digest pipeline
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all pipeline metrics. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	RunsTotal           *prometheus.CounterVec
	ChatOutcomesTotal   *prometheus.CounterVec
	MessagesIngested    prometheus.Counter
	IngestErrorsTotal   *prometheus.CounterVec
	TokensTotal         *prometheus.CounterVec
	SummarizeDuration   prometheus.Histogram
	LastClosedWindowEnd prometheus.Gauge
	DigestsTotal        *prometheus.CounterVec
}

// NewMetrics creates all metrics on a dedicated registry
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatdigest_runs_total",
				Help: "Runs finished, by final status",
			},
			[]string{"status"},
		),
		ChatOutcomesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatdigest_chat_outcomes_total",
				Help: "Per-chat terminal outcomes within runs",
			},
			[]string{"outcome"},
		),
		MessagesIngested: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "chatdigest_messages_ingested_total",
				Help: "Messages newly stored by ingestion",
			},
		),
		IngestErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatdigest_ingest_errors_total",
				Help: "Fetch failures, by kind (transient, permanent)",
			},
			[]string{"kind"},
		),
		TokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatdigest_llm_tokens_total",
				Help: "Language model tokens consumed, by kind (prompt, completion)",
			},
			[]string{"kind"},
		),
		SummarizeDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chatdigest_summarize_duration_seconds",
				Help:    "Duration of summarizer calls",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
		),
		LastClosedWindowEnd: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chatdigest_last_closed_window_end_seconds",
				Help: "Unix time of the end of the most recently closed window",
			},
		),
		DigestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chatdigest_digests_total",
				Help: "Run digest deliveries, by result (sent, failed, empty)",
			},
			[]string{"result"},
		),
	}
}

// Handler returns the HTTP handler exposing the registry
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RunFinished records a run reaching a terminal status
func (m *Metrics) RunFinished(status string, windowEnd time.Time) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(status).Inc()
	if status == "closed" {
		m.LastClosedWindowEnd.Set(float64(windowEnd.Unix()))
	}
}

// ChatOutcome records one chat's terminal outcome
func (m *Metrics) ChatOutcome(outcome string) {
	if m == nil {
		return
	}
	m.ChatOutcomesTotal.WithLabelValues(outcome).Inc()
}

// Ingested records newly stored messages
func (m *Metrics) Ingested(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.MessagesIngested.Add(float64(n))
}

// IngestError records a fetch failure
func (m *Metrics) IngestError(permanent bool) {
	if m == nil {
		return
	}
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	m.IngestErrorsTotal.WithLabelValues(kind).Inc()
}

// Summarized records one summarizer call
func (m *Metrics) Summarized(d time.Duration, promptTokens, completionTokens int) {
	if m == nil {
		return
	}
	m.SummarizeDuration.Observe(d.Seconds())
	m.TokensTotal.WithLabelValues("prompt").Add(float64(promptTokens))
	m.TokensTotal.WithLabelValues("completion").Add(float64(completionTokens))
}

// DigestDelivered records one digest delivery attempt
func (m *Metrics) DigestDelivered(result string) {
	if m == nil {
		return
	}
	m.DigestsTotal.WithLabelValues(result).Inc()
}
