// Package observability exposes Prometheus collectors and the OTLP tracer
// provider used by the daemon.
package observability

import (
	"strconv"
	"time"

	"github.com/desduvauchelle/tamias-sub001/internal/domain/ports"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "tamias"

// Metrics holds the daemon collectors. It implements daemon.Metrics.
type Metrics struct {
	jobDuration        *prometheus.HistogramVec
	candidateFailures  *prometheus.CounterVec
	sessionsActive     prometheus.Gauge
	subagentTransition *prometheus.CounterVec
	tokens             *prometheus.CounterVec
	generations        *prometheus.CounterVec
	httpRequests       *prometheus.CounterVec
	httpLatency        *prometheus.HistogramVec
	sseClients         prometheus.Gauge
}

// MustNewMetrics constructs Metrics on reg. Registration errors panic, which
// mirrors the promauto helpers; pass a fresh registry in tests.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "job_duration_seconds",
			Help:      "Duration of processed session jobs by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}, []string{"outcome"}),
		candidateFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "candidate_failures_total",
			Help:      "Model candidates skipped or failed while walking the fallback chain.",
		}, []string{"reason"}),
		sessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "sessions_active",
			Help:      "Number of sessions held by the registry.",
		}),
		subagentTransition: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "subagent_transitions_total",
			Help:      "Sub-agent status transitions.",
		}, []string{"status"}),
		tokens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "tokens_total",
			Help:      "Tokens reported or estimated per connection and direction.",
		}, []string{"connection", "model", "direction"}),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "llm",
			Name:      "generations_total",
			Help:      "Attempted generations per connection.",
		}, []string{"connection", "model", "success"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
		httpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		sseClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "stream_clients",
			Help:      "Connected SSE and WebSocket clients.",
		}),
	}
	reg.MustRegister(
		m.jobDuration, m.candidateFailures, m.sessionsActive, m.subagentTransition,
		m.tokens, m.generations, m.httpRequests, m.httpLatency, m.sseClients,
	)
	return m
}

func (m *Metrics) JobFinished(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (m *Metrics) CandidateFailed(reason string) {
	if m == nil {
		return
	}
	m.candidateFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) SessionsActive(count int) {
	if m == nil {
		return
	}
	m.sessionsActive.Set(float64(count))
}

func (m *Metrics) SubagentTransition(status string) {
	if m == nil {
		return
	}
	m.subagentTransition.WithLabelValues(status).Inc()
}

// ObserveUsage counts a usage record; it is installed as the usage logger
// observer.
func (m *Metrics) ObserveUsage(record ports.UsageRecord) {
	if m == nil {
		return
	}
	m.generations.WithLabelValues(record.Connection, record.Model, strconv.FormatBool(record.Success)).Inc()
	if record.PromptTokens > 0 {
		m.tokens.WithLabelValues(record.Connection, record.Model, "prompt").Add(float64(record.PromptTokens))
	}
	if record.CompletionTokens > 0 {
		m.tokens.WithLabelValues(record.Connection, record.Model, "completion").Add(float64(record.CompletionTokens))
	}
}

// HTTPRequest records one served request.
func (m *Metrics) HTTPRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.httpLatency.WithLabelValues(method, route).Observe(duration.Seconds())
}

// StreamClientDelta adjusts the connected stream client gauge.
func (m *Metrics) StreamClientDelta(delta int) {
	if m == nil {
		return
	}
	m.sseClients.Add(float64(delta))
}
