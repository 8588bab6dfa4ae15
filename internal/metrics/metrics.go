// Package metrics holds the Prometheus instrumentation for the job
// pipeline, search, and tutor subsystems.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles all collectors. Construct once with New and share.
type Metrics struct {
	JobsStarted   *prometheus.CounterVec
	JobsCompleted *prometheus.CounterVec
	JobsFailed    *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec

	ChunksIndexed prometheus.Counter
	Searches      prometheus.Counter
	TutorAnswered prometheus.Counter
	TutorRefused  prometheus.Counter
}

// New creates and registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		JobsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repotutor_jobs_started_total",
			Help: "Jobs picked up by the worker pool",
		}, []string{"type"}),
		JobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repotutor_jobs_completed_total",
			Help: "Jobs finished successfully",
		}, []string{"type"}),
		JobsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "repotutor_jobs_failed_total",
			Help: "Jobs that ended in failure",
		}, []string{"type"}),
		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "repotutor_job_seconds",
			Help:    "Job execution duration",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"type"}),
		ChunksIndexed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repotutor_chunks_indexed_total",
			Help: "Code chunks embedded and written to the vector index",
		}),
		Searches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repotutor_searches_total",
			Help: "Semantic search queries served",
		}),
		TutorAnswered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repotutor_tutor_answered_total",
			Help: "Tutor questions answered with grounded context",
		}),
		TutorRefused: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "repotutor_tutor_refused_total",
			Help: "Tutor questions refused for lack of grounded context",
		}),
	}

	reg.MustRegister(
		m.JobsStarted, m.JobsCompleted, m.JobsFailed, m.JobDuration,
		m.ChunksIndexed, m.Searches, m.TutorAnswered, m.TutorRefused,
	)
	return m
}

// NewNop creates unregistered collectors for tests and optional wiring.
func NewNop() *Metrics {
	return New(prometheus.NewRegistry())
}
