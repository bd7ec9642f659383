// Package metrics exposes the gateway's Prometheus collector (C8),
// grounded on the teacher's metrics.Collector: promauto-registered
// CounterVec/HistogramVec/GaugeVec fields plus Record* methods, reshaped
// to spec.md §4.8's exact metric names, labels, and histogram buckets.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/maxpetrusenko/deterministic-llm-service/internal/breaker"
)

// Collector is the gateway's process-wide metrics registry.
type Collector struct {
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	providerLatency *prometheus.HistogramVec
	tokensTotal     *prometheus.CounterVec

	cacheHitsTotal   *prometheus.CounterVec
	cacheMissesTotal *prometheus.CounterVec

	circuitBreakerState *prometheus.GaugeVec

	rateLimitExceededTotal *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewCollector creates a Collector registered against a fresh, isolated
// Prometheus registry (no reliance on the global default registerer, so
// multiple Collectors — e.g. one per test — never collide).
func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,

		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_gateway_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.3, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status_code"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_gateway_http_requests_total",
				Help: "Total HTTP requests handled.",
			},
			[]string{"method", "route", "status_code"},
		),
		providerLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "llm_gateway_provider_latency_seconds",
				Help:    "Upstream provider call latency in seconds.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"provider", "model", "status"},
		),
		tokensTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_gateway_tokens_total",
				Help: "Total tokens accounted for, by provider/model/type.",
			},
			[]string{"provider", "model", "type"},
		),
		cacheHitsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_gateway_cache_hits_total",
				Help: "Total idempotency cache hits.",
			},
			[]string{"type"},
		),
		cacheMissesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_gateway_cache_misses_total",
				Help: "Total idempotency cache misses.",
			},
			[]string{"type"},
		),
		circuitBreakerState: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "llm_gateway_circuit_breaker_state",
				Help: "Circuit breaker state (0=closed, 1=open, 2=half-open).",
			},
			[]string{"provider"},
		),
		rateLimitExceededTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "llm_gateway_rate_limit_exceeded_total",
				Help: "Total requests rejected by the rate limiter.",
			},
			[]string{"key"},
		),
	}

	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "llm_gateway_build_info",
		Help: "Always 1; present so the registry carries at least one static series.",
	}, func() float64 { return 1 })

	return c
}

// RecordHTTPRequest records one completed HTTP request.
func (c *Collector) RecordHTTPRequest(method, route string, statusCode int, duration time.Duration) {
	status := statusCodeLabel(statusCode)
	c.httpRequestsTotal.WithLabelValues(method, route, status).Inc()
	c.httpRequestDuration.WithLabelValues(method, route, status).Observe(duration.Seconds())
}

// RecordProviderCall records one completed upstream provider invocation.
func (c *Collector) RecordProviderCall(provider, model, status string, duration time.Duration) {
	c.providerLatency.WithLabelValues(provider, model, status).Observe(duration.Seconds())
}

// RecordTokens records prompt/completion token usage for one completion.
func (c *Collector) RecordTokens(provider, model string, prompt, completion int) {
	if prompt > 0 {
		c.tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		c.tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completion))
	}
}

// RecordCacheHit records an idempotency cache hit.
func (c *Collector) RecordCacheHit(cacheType string) {
	c.cacheHitsTotal.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records an idempotency cache miss.
func (c *Collector) RecordCacheMiss(cacheType string) {
	c.cacheMissesTotal.WithLabelValues(cacheType).Inc()
}

// RecordRateLimitExceeded records one rejected request for key.
func (c *Collector) RecordRateLimitExceeded(key string) {
	c.rateLimitExceededTotal.WithLabelValues(key).Inc()
}

// BreakerStateObserver returns a callback suitable for breaker.Config's
// OnStateChange, keeping the circuit_breaker_state gauge in sync.
func (c *Collector) BreakerStateObserver() func(provider string, state breaker.State) {
	return func(provider string, state breaker.State) {
		c.circuitBreakerState.WithLabelValues(provider).Set(float64(state))
	}
}

// Handler returns the Prometheus text-exposition HTTP handler for this
// Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func statusCodeLabel(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
