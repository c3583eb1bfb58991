package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors for one registry. A nil *Metrics records nothing.
type Metrics struct {
	gatherer prometheus.Gatherer

	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	askOutcomesTotal           *prometheus.CounterVec
	stageDurationSeconds       *prometheus.HistogramVec
	validationReasonsTotal     *prometheus.CounterVec
}

// NewMetrics registers the collectors with reg. Passing a fresh
// prometheus.NewRegistry keeps tests isolated from each other.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		gatherer: reg,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_http_requests_total",
				Help: "Total number of HTTP requests.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "text2sql_http_request_duration_seconds",
				Help:    "HTTP request latency by route.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		askOutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_ask_outcomes_total",
				Help: "Pipeline runs by terminal outcome.",
			},
			[]string{"source", "outcome"},
		),
		stageDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "text2sql_stage_duration_seconds",
				Help:    "Latency of each pipeline stage.",
				Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"stage"},
		),
		validationReasonsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "text2sql_validation_rejections_total",
				Help: "Rejection reasons reported by the SQL validator.",
			},
			[]string{"reason"},
		),
	}
	reg.MustRegister(
		m.httpRequestsTotal,
		m.httpRequestDurationSeconds,
		m.askOutcomesTotal,
		m.stageDurationSeconds,
		m.validationReasonsTotal,
	)
	return m
}

// ObserveOutcome counts one finished run. source is "ask" or "query".
func (m *Metrics) ObserveOutcome(source, outcome string) {
	if m == nil {
		return
	}
	if outcome == "" {
		outcome = "success"
	}
	m.askOutcomesTotal.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRejection counts one validator reason. Engine messages are cut at
// the first colon so the label set stays bounded.
func (m *Metrics) ObserveRejection(reason string) {
	if m == nil {
		return
	}
	for i := 0; i < len(reason); i++ {
		if reason[i] == ':' {
			reason = reason[:i]
			break
		}
	}
	m.validationReasonsTotal.WithLabelValues(reason).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Middleware records request counts and latency labelled by route pattern.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				path = pattern
			}
		}
		status := strconv.Itoa(rec.status)
		m.httpRequestsTotal.WithLabelValues(r.Method, path, status).Inc()
		m.httpRequestDurationSeconds.WithLabelValues(r.Method, path, status).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
