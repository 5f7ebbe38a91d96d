// Package metrics exposes prometheus collectors for job execution and
// scheduling.
package metrics

import (
	"github.com/pingcap/errors"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// JobRunsCounter counts finished job executions by terminal status.
	JobRunsCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "shellexec",
		Subsystem: "job",
		Name:      "runs_total",
		Help:      "The total number of job executions by final status",
	}, []string{"status"})

	// JobDurationHistogram observes wall time of each job execution.
	JobDurationHistogram = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "shellexec",
		Subsystem: "job",
		Name:      "duration_seconds",
		Help:      "Bucketed histogram of job execution time",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 20),
	})

	// SchedulerRoundsCounter counts dispatch rounds.
	SchedulerRoundsCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shellexec",
		Subsystem: "scheduler",
		Name:      "rounds_total",
		Help:      "The total number of scheduling rounds",
	})

	// JobsRunningGauge is the number of jobs executing right now.
	JobsRunningGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "shellexec",
		Name:      "jobs_running",
		Help:      "The number of jobs currently running",
	})

	// JobsSkippedCounter counts ready jobs left alone because they already
	// reached a terminal status.
	JobsSkippedCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "shellexec",
		Name:      "jobs_skipped_total",
		Help:      "The total number of terminal jobs skipped instead of executed",
	})
)

// InitMetrics registers all metrics in this file
func InitMetrics(registry *prometheus.Registry) {
	registry.MustRegister(JobRunsCounter)
	registry.MustRegister(JobDurationHistogram)
	registry.MustRegister(SchedulerRoundsCounter)
	registry.MustRegister(JobsRunningGauge)
	registry.MustRegister(JobsSkippedCounter)
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(registry *prometheus.Registry, path string) error {
	return errors.Annotatef(prometheus.WriteToTextfile(path, registry), "write metrics to %s", path)
}
