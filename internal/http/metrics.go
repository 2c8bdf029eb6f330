package httpx

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	histogramBuckets = []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10}
)

func (r *Router) initMetrics() {
	r.metricsOnce.Do(func() {
		r.requestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingo",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Count of processed HTTP requests",
		}, []string{"method", "route", "status"})

		r.requestLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lingo",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "Latency distribution of HTTP handlers",
			Buckets:   histogramBuckets,
		}, []string{"method", "route", "status"})

		r.rateLimitHits = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingo",
			Subsystem: "api",
			Name:      "rate_limit_hits_total",
			Help:      "Number of rate-limited responses",
		}, []string{"route", "key"})

		r.ingestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingo",
			Subsystem: "ingest",
			Name:      "error_reports_total",
			Help:      "Error reports received, by outcome",
		}, []string{"outcome"})

		r.tokenRejections = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lingo",
			Subsystem: "api",
			Name:      "project_token_rejections_total",
			Help:      "Public API requests rejected by the project token guard",
		}, []string{"reason"})

		r.requestTotal = registerCounterVec(r.requestTotal)
		r.rateLimitHits = registerCounterVec(r.rateLimitHits)
		r.ingestTotal = registerCounterVec(r.ingestTotal)
		r.tokenRejections = registerCounterVec(r.tokenRejections)
		if err := prometheus.Register(r.requestLatency); err != nil {
			if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
				if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
					r.requestLatency = existing
				}
			}
		}
		r.metricsInitialized = true
	})
}

// registerCounterVec registers c, returning the already registered collector
// when another router instance got there first.
func registerCounterVec(c *prometheus.CounterVec) *prometheus.CounterVec {
	if err := prometheus.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return c
}

func (r *Router) recordRequestMetrics(method, route string, status int, duration time.Duration) {
	if !r.metricsInitialized {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"route":  route,
		"status": strconv.Itoa(status),
	}
	r.requestTotal.With(labels).Inc()
	r.requestLatency.With(labels).Observe(duration.Seconds())
}

func (r *Router) recordRateLimitHit(route, key string) {
	if !r.metricsInitialized {
		return
	}
	r.rateLimitHits.With(prometheus.Labels{"route": route, "key": key}).Inc()
}

func (r *Router) recordIngest(outcome string) {
	if !r.metricsInitialized {
		return
	}
	r.ingestTotal.With(prometheus.Labels{"outcome": outcome}).Inc()
}

func (r *Router) recordTokenRejection(reason string) {
	if !r.metricsInitialized {
		return
	}
	r.tokenRejections.With(prometheus.Labels{"reason": reason}).Inc()
}
