package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kirillkom/file-annotator/internal/core/domain"
)

// WorkerMetrics records job and tier outcomes. It satisfies ports.TierObserver
// and ports.JobObserver.
type WorkerMetrics struct {
	registry *prometheus.Registry
	service  string

	jobsTotal    *prometheus.CounterVec
	jobDuration  *prometheus.HistogramVec
	jobsInFlight prometheus.Gauge
	tierResults  *prometheus.CounterVec
	tierDuration *prometheus.HistogramVec
	queueLag     *prometheus.HistogramVec
	droppedTotal *prometheus.CounterVec
}

func NewWorkerMetrics(service string) *WorkerMetrics {
	registry := prometheus.NewRegistry()

	jobsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Total finished annotation jobs by terminal state.",
		},
		[]string{"service", "state"},
	)
	jobDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Annotation job duration in seconds by terminal state.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40},
		},
		[]string{"service", "state"},
	)
	jobsInFlight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "jobs_in_flight",
			Help:      "Number of annotation jobs being processed.",
			ConstLabels: prometheus.Labels{
				"service": service,
			},
		},
	)
	tierResults := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "tier_results_total",
			Help:      "Classifier tier outcomes; outcome is ok or the tier error kind.",
		},
		[]string{"service", "tier", "outcome"},
	)
	tierDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "tier_duration_seconds",
			Help:      "Classifier tier duration in seconds.",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"service", "tier"},
	)
	queueLag := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "queue_lag_seconds",
			Help:      "Delay between job submission and processing start.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"service"},
	)
	droppedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "annotator",
			Subsystem: "worker",
			Name:      "jobs_dropped_total",
			Help:      "Jobs dropped before processing, by reason.",
		},
		[]string{"service", "reason"},
	)

	registry.MustRegister(jobsTotal, jobDuration, jobsInFlight, tierResults, tierDuration, queueLag, droppedTotal)

	return &WorkerMetrics{
		registry:     registry,
		service:      service,
		jobsTotal:    jobsTotal,
		jobDuration:  jobDuration,
		jobsInFlight: jobsInFlight,
		tierResults:  tierResults,
		tierDuration: tierDuration,
		queueLag:     queueLag,
		droppedTotal: droppedTotal,
	}
}

func (m *WorkerMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *WorkerMetrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *WorkerMetrics) StartJob() {
	m.jobsInFlight.Inc()
}

func (m *WorkerMetrics) FinishJob() {
	m.jobsInFlight.Dec()
}

func (m *WorkerMetrics) ObserveJob(state domain.ProcessingState, duration time.Duration) {
	m.jobsTotal.WithLabelValues(m.service, string(state)).Inc()
	m.jobDuration.WithLabelValues(m.service, string(state)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveTier(tier domain.Tier, result domain.ClassificationResult, duration time.Duration) {
	outcome := "ok"
	if !result.Succeeded {
		outcome = string(result.ErrorKind)
		if outcome == "" {
			outcome = "unknown"
		}
	}
	m.tierResults.WithLabelValues(m.service, string(tier), outcome).Inc()
	m.tierDuration.WithLabelValues(m.service, string(tier)).Observe(duration.Seconds())
}

func (m *WorkerMetrics) ObserveQueueLag(lag time.Duration) {
	if lag < 0 {
		return
	}
	m.queueLag.WithLabelValues(m.service).Observe(lag.Seconds())
}

func (m *WorkerMetrics) RecordDropped(reason string) {
	m.droppedTotal.WithLabelValues(m.service, reason).Inc()
}
