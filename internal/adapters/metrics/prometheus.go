// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jobrunner/seriesview/internal/ports/output"
)

// Collector implements the MetricsCollector port using Prometheus.
type Collector struct {
	registry *prometheus.Registry

	invocations         *prometheus.CounterVec
	invocationDuration  *prometheus.HistogramVec
	activeInvocations   prometheus.Gauge
	fetches             *prometheus.CounterVec
	fetchDuration       *prometheus.HistogramVec
	readinessAttempts   *prometheus.HistogramVec
	viewerLaunches      *prometheus.CounterVec
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpInFlight        prometheus.Gauge
}

var _ output.MetricsCollector = (*Collector)(nil)

// NewCollector creates a new Prometheus metrics collector on its own registry.
func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "seriesview"
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		invocations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "Total number of finished invocations by terminal state",
			},
			[]string{"state"},
		),

		invocationDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "End-to-end invocation duration in seconds",
				Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"state"},
		),

		activeInvocations: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "invocations_active",
				Help:      "Number of running invocations",
			},
		),

		fetches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetches_total",
				Help:      "Total number of file fetches",
			},
			[]string{"scheme", "status"},
		),

		fetchDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fetch_duration_seconds",
				Help:      "File fetch duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"scheme"},
		),

		readinessAttempts: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "readiness_attempts",
				Help:      "Readiness poll attempts per invocation",
				Buckets:   []float64{1, 2, 3, 5, 10, 20, 40},
			},
			[]string{"ready"},
		),

		viewerLaunches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "viewer_launches_total",
				Help:      "Total number of viewer launches",
			},
			[]string{"status"},
		),

		httpRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route template, method and status code",
			},
			[]string{"route", "method", "code"},
		),

		// Wait requests block for up to five minutes.
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by route template",
				Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120, 300},
			},
			[]string{"route", "method"},
		),

		httpInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "http_requests_in_flight",
				Help:      "HTTP requests currently being served",
			},
		),
	}
}

// IncInvocations increments the finished invocation counter.
func (c *Collector) IncInvocations(state string) {
	c.invocations.WithLabelValues(state).Inc()
}

// ObserveInvocationDuration records invocation duration.
func (c *Collector) ObserveInvocationDuration(state string, duration time.Duration) {
	c.invocationDuration.WithLabelValues(state).Observe(duration.Seconds())
}

// SetActiveInvocations sets the number of running invocations.
func (c *Collector) SetActiveInvocations(count int) {
	c.activeInvocations.Set(float64(count))
}

// IncFetches increments the fetch counter.
func (c *Collector) IncFetches(scheme string, success bool) {
	c.fetches.WithLabelValues(scheme, successLabel(success)).Inc()
}

// ObserveFetchDuration records fetch duration.
func (c *Collector) ObserveFetchDuration(scheme string, duration time.Duration) {
	c.fetchDuration.WithLabelValues(scheme).Observe(duration.Seconds())
}

// ObserveReadinessAttempts records the attempts of one readiness poll.
func (c *Collector) ObserveReadinessAttempts(attempts int, ready bool) {
	c.readinessAttempts.WithLabelValues(strconv.FormatBool(ready)).Observe(float64(attempts))
}

// IncViewerLaunches increments the viewer launch counter.
func (c *Collector) IncViewerLaunches(success bool) {
	c.viewerLaunches.WithLabelValues(successLabel(success)).Inc()
}

// Handler returns the Prometheus HTTP handler for this collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Middleware instruments requests. It must run inside a gorilla/mux router
// so the route template is known; unmatched requests are not routed through
// middleware at all.
func (c *Collector) Middleware(next http.Handler) http.Handler {
	return promhttp.InstrumentHandlerInFlight(c.httpInFlight,
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			route := prometheus.Labels{"route": routeTemplate(r)}
			promhttp.InstrumentHandlerDuration(c.httpRequestDuration.MustCurryWith(route),
				promhttp.InstrumentHandlerCounter(c.httpRequests.MustCurryWith(route), next),
			).ServeHTTP(w, r)
		}))
}

// routeTemplate returns the path template of the matched route, which keeps
// invocation IDs out of label values.
func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func successLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
