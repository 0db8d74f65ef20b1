package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/odyssey-erp/odyssey-access/internal/access"
	jobmetrics "github.com/odyssey-erp/odyssey-access/internal/jobs"
)

// Metrics mengumpulkan metrik Prometheus untuk aplikasi.
type Metrics struct {
	registry           *prometheus.Registry
	handler            http.Handler
	requestsTotal      *prometheus.CounterVec
	requestDuration    *prometheus.HistogramVec
	decisionsTotal     *prometheus.CounterVec
	resolutionsTotal   *prometheus.CounterVec
	resolutionDuration prometheus.Histogram
	jobs               *jobmetrics.Metrics
}

// NewMetrics menginisialisasi registry, metrik HTTP, metrik akses dan metrik job.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_http_requests_total",
		Help: "Jumlah permintaan HTTP berdasarkan route dan status.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "odyssey_http_request_duration_seconds",
		Help:    "Durasi permintaan HTTP per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_access_decisions_total",
		Help: "Jumlah keputusan akses per permukaan, hasil dan alasan.",
	}, []string{"surface", "outcome", "reason"})
	resolutions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "odyssey_access_resolutions_total",
		Help: "Jumlah resolusi snapshot akses berdasarkan hasil.",
	}, []string{"result"})
	resolutionDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "odyssey_access_resolution_duration_seconds",
		Help:    "Durasi resolusi snapshot akses.",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
	})
	registry.MustRegister(requests, duration, decisions, resolutions, resolutionDuration)
	return &Metrics{
		registry:           registry,
		handler:            promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:      requests,
		requestDuration:    duration,
		decisionsTotal:     decisions,
		resolutionsTotal:   resolutions,
		resolutionDuration: resolutionDuration,
		jobs:               jobmetrics.NewMetrics(registry),
	}
}

// Handler mengembalikan http.Handler untuk endpoint /metrics.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// Middleware mencatat metrik untuk setiap permintaan HTTP.
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

// ObserveDecision mencatat satu keputusan akses dari guard, gate atau API.
func (m *Metrics) ObserveDecision(surface string, d access.Decision) {
	if m == nil {
		return
	}
	reason := string(d.Reason)
	if reason == "" {
		reason = "none"
	}
	m.decisionsTotal.WithLabelValues(surface, d.Outcome.String(), reason).Inc()
}

// ObserveResolution mencatat hasil dan durasi resolusi snapshot.
func (m *Metrics) ObserveResolution(result string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.resolutionsTotal.WithLabelValues(result).Inc()
	m.resolutionDuration.Observe(elapsed.Seconds())
}

// Jobs mengekspos metrik job latar belakang yang terdaftar di registry ini.
func (m *Metrics) Jobs() *jobmetrics.Metrics {
	if m == nil {
		return nil
	}
	return m.jobs
}

// Registerer mengekspos registry untuk pendaftaran metrik khusus.
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
