package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the API.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	gateDecisions   *prometheus.CounterVec
	rateDecisions   *prometheus.CounterVec
	backendFailures *prometheus.CounterVec
	rateDegraded    prometheus.Gauge
}

// NewMetrics initialises the registry and every collector.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpm_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dpm_http_request_duration_seconds",
		Help:    "HTTP request duration by route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	gate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpm_gate_decisions_total",
		Help: "Access gate outcomes: admit or denial code.",
	}, []string{"outcome"})
	rate := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpm_rate_decisions_total",
		Help: "Rate governor decisions by class.",
	}, []string{"class", "allowed", "degraded"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "dpm_rate_backend_failures_total",
		Help: "Failed calls to the shared counting backend.",
	}, []string{"backend"})
	degraded := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "dpm_rate_degraded",
		Help: "1 while the rate governor counts in process only.",
	})
	registry.MustRegister(requests, duration, gate, rate, failures, degraded,
		collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		gateDecisions:   gate,
		rateDecisions:   rate,
		backendFailures: failures,
		rateDegraded:    degraded,
	}
}

// Handler returns the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware records count and duration for every HTTP request.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(&recorder, r)
		route := routePattern(r)
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

// RecordGateDecision counts one access gate outcome.
func (m *Metrics) RecordGateDecision(outcome string) {
	if m == nil {
		return
	}
	m.gateDecisions.WithLabelValues(outcome).Inc()
}

// RecordRateDecision counts one rate governor decision.
func (m *Metrics) RecordRateDecision(class string, allowed, degraded bool) {
	if m == nil {
		return
	}
	m.rateDecisions.WithLabelValues(class, strconv.FormatBool(allowed), strconv.FormatBool(degraded)).Inc()
}

// RecordBackendFailure counts one failed shared backend call.
func (m *Metrics) RecordBackendFailure(backend string) {
	if m == nil {
		return
	}
	m.backendFailures.WithLabelValues(backend).Inc()
}

// SetRateDegraded flips the degraded gauge.
func (m *Metrics) SetRateDegraded(degraded bool) {
	if m == nil {
		return
	}
	if degraded {
		m.rateDegraded.Set(1)
		return
	}
	m.rateDegraded.Set(0)
}

// Registerer exposes the registry for custom collectors.
func (m *Metrics) Registerer() prometheus.Registerer {
	if m == nil {
		return prometheus.DefaultRegisterer
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func routePattern(r *http.Request) string {
	if routeCtx := chi.RouteContext(r.Context()); routeCtx != nil {
		if pattern := routeCtx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return "unknown"
}
