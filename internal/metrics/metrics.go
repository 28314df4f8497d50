package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Outcome labels for FlyersTotal.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Prometheus metrics for the conversion pipeline and its HTTP front end.
var (
	FlyersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyercal_flyers_total",
			Help: "Total number of flyers processed, by outcome",
		},
		[]string{"outcome"},
	)

	StageFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyercal_stage_failures_total",
			Help: "Total number of flyers that failed, by pipeline stage",
		},
		[]string{"stage"},
	)

	ModelCallDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "flyercal_model_call_duration_seconds",
			Help:    "Duration of extraction calls to the model, including retries",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
	)

	DateFallbacksTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "flyercal_date_fallbacks_total",
			Help: "Total number of events whose times fell back to the current time",
		},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flyercal_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"handler", "method", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flyercal_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handler", "method"},
	)
)

// Register adds every collector to reg.
func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		FlyersTotal,
		StageFailuresTotal,
		ModelCallDuration,
		DateFallbacksTotal,
		HTTPRequestsTotal,
		HTTPRequestDuration,
	)
}

// Instrument wraps an HTTP handler with request count and latency metrics.
func Instrument(name string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next(rw, r)

		HTTPRequestDuration.WithLabelValues(name, r.Method).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(name, r.Method, strconv.Itoa(rw.status)).Inc()
	}
}

// statusWriter captures the status code written by a handler.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
