package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Job lifecycle

	JobsSubmittedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pod",
		Name:      "jobs_submitted_total",
		Help:      "Total jobs accepted by the API.",
	}, []string{"type"})

	JobsCompletedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pod",
		Name:      "jobs_completed_total",
		Help:      "Total jobs finished, by outcome.",
	}, []string{"outcome"})

	JobDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "pod",
		Name:      "job_duration_seconds",
		Help:      "Wall time of one job execution attempt.",
		Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
	})

	JobsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "jobs_in_flight",
		Help:      "Jobs currently executing in the worker pool.",
	})

	QueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "queue_depth",
		Help:      "Jobs waiting in the priority queue.",
	})

	// External dependencies

	ExternalCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pod",
		Name:      "external_call_duration_seconds",
		Help:      "Duration of calls to external dependencies.",
		Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
	}, []string{"dependency", "outcome"})

	BreakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "breaker_state",
		Help:      "Circuit breaker state per dependency. 0 = closed, 1 = open, 2 = half-open.",
	}, []string{"dependency"})

	CatalogCacheLookups = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pod",
		Name:      "catalog_cache_lookups_total",
		Help:      "Variant catalog cache lookups.",
	}, []string{"result"})

	// Snapshot gauges, refreshed by the Reporter

	JobsByStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "jobs_by_status",
		Help:      "Current number of jobs per status.",
	}, []string{"status"})

	SuccessRate = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "job_success_rate",
		Help:      "completed / (completed + failed) over all recorded jobs.",
	})

	AverageJobTime = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "pod",
		Name:      "average_job_time_seconds",
		Help:      "Mean duration of completed jobs.",
	})

	// HTTP metrics

	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "pod",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "pod",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests.",
	}, []string{"method", "path", "status"})
)

func Register() {
	prometheus.MustRegister(
		JobsSubmittedTotal,
		JobsCompletedTotal,
		JobDuration,
		JobsInFlight,
		QueueDepth,
		ExternalCallDuration,
		BreakerState,
		CatalogCacheLookups,
		JobsByStatus,
		SuccessRate,
		AverageJobTime,
		HTTPRequestDuration,
		HTTPRequestsTotal,
	)
}

func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{Addr: addr, Handler: mux}
}
