package observability

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	nativecommon "dough/native/common"
)

type operationMetrics struct {
	total   *prometheus.CounterVec
	latency *prometheus.HistogramVec
}

type moduleMetrics struct {
	requests  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

var (
	operationMetricsOnce sync.Once
	operationRegistry    *operationMetrics

	moduleMetricsOnce sync.Once
	moduleRegistry    *moduleMetrics
)

// Operations returns the registry recording executor operations.
func Operations() *operationMetrics {
	operationMetricsOnce.Do(func() {
		operationRegistry = &operationMetrics{
			total: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dough",
				Subsystem: "executor",
				Name:      "operations_total",
				Help:      "Top-level protocol operations segmented by operation and error kind.",
			}, []string{"op", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dough",
				Subsystem: "executor",
				Name:      "operation_duration_seconds",
				Help:      "Latency of top-level protocol operations including commit.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"op"}),
		}
		prometheus.MustRegister(operationRegistry.total, operationRegistry.latency)
	})
	return operationRegistry
}

// Observe matches state.Observer and can be installed with
// state.WithObserver(observability.Operations().Observe).
func (m *operationMetrics) Observe(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	if op == "" {
		op = "unknown"
	}
	m.total.WithLabelValues(op, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// Outcome classifies err into a stable label.
func Outcome(err error) string {
	if err == nil {
		return "success"
	}
	for _, kind := range []struct {
		err   error
		label string
	}{
		{nativecommon.ErrModulePaused, "paused"},
		{nativecommon.ErrValidation, "validation"},
		{nativecommon.ErrAuthorization, "authorization"},
		{nativecommon.ErrSlippage, "slippage"},
		{nativecommon.ErrLiquidity, "liquidity"},
		{nativecommon.ErrExternal, "external"},
	} {
		if errors.Is(err, kind.err) {
			return kind.label
		}
	}
	return "error"
}

// HTTP returns the lazily-initialised registry for API routes.
func HTTP() *moduleMetrics {
	moduleMetricsOnce.Do(func() {
		moduleRegistry = &moduleMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dough",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total API requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dough",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors segmented by route and status code.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "dough",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for API handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "dough",
				Subsystem: "api",
				Name:      "throttles_total",
				Help:      "Count of requests rejected by the per-caller limiter.",
			}, []string{"route", "reason"}),
		}
		prometheus.MustRegister(
			moduleRegistry.requests,
			moduleRegistry.errors,
			moduleRegistry.latency,
			moduleRegistry.throttles,
		)
	})
	return moduleRegistry
}

// Observe records the outcome of a request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *moduleMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, fmt.Sprintf("%d", status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// RecordThrottle increments the throttle counter. Reasons should be stable
// strings such as "rate_limit" so dashboards stay consistent.
func (m *moduleMetrics) RecordThrottle(route, reason string) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if reason == "" {
		reason = "unspecified"
	}
	m.throttles.WithLabelValues(route, reason).Inc()
}
