// Package metrics exposes Prometheus collectors for the discovery service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	providerCallsTotal         *prometheus.CounterVec
	providerRetriesTotal       *prometheus.CounterVec
	gateWaitSeconds            *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	activeJobs                 prometheus.Gauge
	resultsTotal               prometheus.Counter
	profileCacheTotal          *prometheus.CounterVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		providerCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "influence_provider_calls_total",
				Help: "Total number of provider calls, labeled by operation and outcome.",
			},
			[]string{"op", "outcome"},
		)

		providerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "influence_provider_retries_total",
				Help: "Total number of provider call retries, labeled by operation and error code.",
			},
			[]string{"op", "code"},
		)

		gateWaitSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "influence_gate_wait_seconds",
				Help:    "Histogram of time spent waiting in the rate-limit gate, labeled by reason.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"reason"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "influence_jobs_total",
				Help: "Total number of jobs processed, labeled by terminal status.",
			},
			[]string{"status"},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "influence_active_jobs",
				Help: "Number of jobs currently running.",
			},
		)

		resultsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "influence_results_total",
				Help: "Total number of influential accounts discovered.",
			},
		)

		profileCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "influence_profile_cache_total",
				Help: "Profile cache lookups, labeled by result (hit, miss, error).",
			},
			[]string{"result"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveProviderCall counts one provider call attempt.
func ObserveProviderCall(op, outcome string) {
	if providerCallsTotal == nil {
		return
	}
	providerCallsTotal.WithLabelValues(op, outcome).Inc()
}

// ObserveProviderRetry counts one retry scheduled by the gate.
func ObserveProviderRetry(op, code string) {
	if providerRetriesTotal == nil {
		return
	}
	providerRetriesTotal.WithLabelValues(op, code).Inc()
}

// ObserveGateWait records time spent pacing ("spacing") or backing off ("backoff").
func ObserveGateWait(reason string, duration time.Duration) {
	if gateWaitSeconds == nil {
		return
	}
	gateWaitSeconds.WithLabelValues(reason).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	if jobsTotal == nil {
		return
	}
	jobsTotal.WithLabelValues(status).Inc()
}

// IncActiveJobs increments the running jobs gauge.
func IncActiveJobs() {
	if activeJobs == nil {
		return
	}
	activeJobs.Inc()
}

// DecActiveJobs decrements the running jobs gauge.
func DecActiveJobs() {
	if activeJobs == nil {
		return
	}
	activeJobs.Dec()
}

// ObserveResult counts one discovered influential account.
func ObserveResult() {
	if resultsTotal == nil {
		return
	}
	resultsTotal.Inc()
}

// ObserveProfileCache counts a profile cache lookup.
func ObserveProfileCache(result string) {
	if profileCacheTotal == nil {
		return
	}
	profileCacheTotal.WithLabelValues(result).Inc()
}
