package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API surface, upstream, cache, and tenant-gate instrumentation.

var (
	// HTTP surface
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests",
	}, []string{"endpoint", "method", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tokenflow",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request processing duration",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"endpoint"})

	// Upstream adapter
	UpstreamCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "upstream",
		Name:      "calls_total",
		Help:      "Total upstream provider calls",
	}, []string{"method", "status"})

	UpstreamCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tokenflow",
		Subsystem: "upstream",
		Name:      "call_duration_seconds",
		Help:      "Upstream call duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"method"})

	UpstreamBreakerState = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "tokenflow",
		Subsystem: "upstream",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	})

	// Cache
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total KV cache hits",
	}, []string{"kind"})

	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total KV cache misses",
	}, []string{"kind"})

	// Tenant gate
	AuthFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "tenant",
		Name:      "auth_failures_total",
		Help:      "Total failed API key authentications",
	})

	QuotaRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "tenant",
		Name:      "quota_rejections_total",
		Help:      "Total requests rejected for exhausted monthly quota",
	})

	RateLimitRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "tenant",
		Name:      "rate_limit_rejections_total",
		Help:      "Total requests rejected by the per-key rate limiter",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "tenant",
		Name:      "webhook_events_total",
		Help:      "Total webhook events received",
	}, []string{"event_type", "outcome"})

	// Engines
	FlowPathsBuiltTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "flowgraph",
		Name:      "paths_built_total",
		Help:      "Total flow paths produced by traversals",
	}, []string{"direction"})

	TraversalTruncationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "flowgraph",
		Name:      "traversal_truncations_total",
		Help:      "Traversals cut short by a safety bound",
	}, []string{"bound"})

	RiskAssessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "risk",
		Name:      "assessments_total",
		Help:      "Total risk assessments performed",
	}, []string{"level"})

	IntentPredictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tokenflow",
		Subsystem: "intent",
		Name:      "predictions_total",
		Help:      "Total intent predictions",
	}, []string{"source"}) // cache | service | fallback
)
