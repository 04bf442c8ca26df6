package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "castmatch"
	subsystem = "api"
)

var (
	// HTTP
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPThrottledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "http_throttled_total",
			Help:      "Requests rejected by the per-client HTTP limiter",
		},
	)

	// AI rate limiter
	RateLimitDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ai_rate_limit_decisions_total",
			Help:      "AI rate limit bucket decisions",
		},
		[]string{"bucket", "outcome"},
	)

	RateLimitFailOpenTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ai_rate_limit_fail_open_total",
			Help:      "Checks allowed because the bucket store failed",
		},
		[]string{"bucket"},
	)

	// AI provider
	AICompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ai_completions_total",
			Help:      "AI completions by provider, mode and outcome",
		},
		[]string{"provider", "mode", "outcome"},
	)

	AIDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ai_duration_seconds",
			Help:      "AI completion duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"provider", "mode"},
	)

	AIStreamChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ai_stream_chunks_total",
			Help:      "Streamed completion chunks forwarded to clients",
		},
		[]string{"provider"},
	)

	ProviderHealth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "provider_health",
			Help:      "Provider health status (1=healthy, 0=unhealthy)",
		},
		[]string{"provider"},
	)

	// Circuit breaker
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "circuit_breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	// Relay
	RelayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_connections",
			Help:      "Open WebSocket connections on this instance",
		},
	)

	RelayEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_events_total",
			Help:      "Relay events by name and direction",
		},
		[]string{"event", "direction"},
	)

	RelayDroppedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "relay_dropped_total",
			Help:      "Relay frames dropped",
		},
		[]string{"reason"},
	)

	// Store
	ConversationsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "conversations_created_total",
			Help:      "Total conversations created",
		},
	)

	MessagesCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "messages_created_total",
			Help:      "Total messages created by author kind",
		},
		[]string{"author"},
	)

	CronRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "cron_runs_total",
			Help:      "Scheduled job runs",
		},
		[]string{"job", "outcome"},
	)
)

// RecordRequest records an HTTP request.
func RecordRequest(method, endpoint, status string, durationSec float64) {
	RequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	RequestDuration.WithLabelValues(method, endpoint, status).Observe(durationSec)
}

// SetProviderHealth sets the health status of a provider
func SetProviderHealth(provider string, healthy bool) {
	val := 0.0
	if healthy {
		val = 1.0
	}
	ProviderHealth.WithLabelValues(provider).Set(val)
}

// RecordMessage counts a created message.
func RecordMessage(ai bool) {
	author := "user"
	if ai {
		author = "ai"
	}
	MessagesCreatedTotal.WithLabelValues(author).Inc()
}

// RecordCronRun counts a scheduled job run.
func RecordCronRun(job string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	CronRunsTotal.WithLabelValues(job, outcome).Inc()
}

// Recorder adapts the collectors to the domain observer interfaces.
type Recorder struct{}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (Recorder) ObserveDecision(bucket string, allowed bool) {
	outcome := "allowed"
	if !allowed {
		outcome = "rejected"
	}
	RateLimitDecisionsTotal.WithLabelValues(bucket, outcome).Inc()
}

func (Recorder) ObserveFailOpen(bucket string) {
	RateLimitFailOpenTotal.WithLabelValues(bucket).Inc()
}

func (Recorder) ObserveCompletion(provider, mode, outcome string, elapsed time.Duration) {
	AICompletionsTotal.WithLabelValues(provider, mode, outcome).Inc()
	AIDuration.WithLabelValues(provider, mode).Observe(elapsed.Seconds())
}

func (Recorder) ObserveChunk(provider string) {
	AIStreamChunksTotal.WithLabelValues(provider).Inc()
}

func (Recorder) ObserveProviderHealth(provider string, healthy bool) {
	SetProviderHealth(provider, healthy)
}

func (Recorder) ObserveConnection(delta int) {
	RelayConnections.Add(float64(delta))
}

func (Recorder) ObserveEvent(event, direction string) {
	RelayEventsTotal.WithLabelValues(event, direction).Inc()
}

func (Recorder) ObserveDrop(reason string) {
	RelayDroppedTotal.WithLabelValues(reason).Inc()
}

func (Recorder) ObserveBreakerState(name string, state float64) {
	CircuitBreakerState.WithLabelValues(name).Set(state)
}

func (Recorder) ObserveBreakerTransition(name, from, to string) {
	CircuitBreakerTransitions.WithLabelValues(name, from, to).Inc()
}
