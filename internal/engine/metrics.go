package engine

import "github.com/prometheus/client_golang/prometheus"

var (
	jobsScheduled = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_jobs_scheduled_total",
			Help: "Total number of job work runs scheduled.",
		},
	)

	jobOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_job_outcomes_total",
			Help: "Total number of job work outcomes by reported status.",
		},
		[]string{"status"},
	)

	jobsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "warden_jobs_in_flight",
			Help: "Number of job work functions currently running.",
		},
	)

	jobDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "warden_job_work_duration_seconds",
			Help:    "Duration of job work functions in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	casesCreated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "warden_cases_created_total",
			Help: "Total number of cases created.",
		},
	)

	notifyFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "warden_notify_failures_total",
			Help: "Total number of lifecycle notifications that failed to send.",
		},
		[]string{"type"},
	)
)

func init() {
	prometheus.MustRegister(jobsScheduled)
	prometheus.MustRegister(jobOutcomes)
	prometheus.MustRegister(jobsInFlight)
	prometheus.MustRegister(jobDuration)
	prometheus.MustRegister(casesCreated)
	prometheus.MustRegister(notifyFailures)
}
