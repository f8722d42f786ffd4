package metrics

import (
	"database/sql"
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InstancesStarted tracks durable instances created per workflow
	InstancesStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_instances_started_total",
			Help: "Total number of durable instances started",
		},
		[]string{"workflow"},
	)

	// InstancesFinished tracks durable instances reaching a terminal state
	InstancesFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_instances_finished_total",
			Help: "Total number of durable instances that reached a terminal state",
		},
		[]string{"workflow", "state"},
	)

	// InstanceExecutions counts replays of workflow code
	InstanceExecutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_instance_executions_total",
			Help: "Total number of workflow executions, including replays",
		},
		[]string{"workflow"},
	)

	// ActivityAttempts tracks activity invocations per result
	ActivityAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_activity_attempts_total",
			Help: "Total number of activity attempts",
		},
		[]string{"activity", "result"},
	)

	// ActivityLatency tracks a single activity attempt
	ActivityLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "writer_activity_latency_seconds",
			Help:    "Activity attempt latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"activity"},
	)

	TimersScheduled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_timers_scheduled_total",
			Help: "Total number of durable timers scheduled",
		},
	)

	TimersFired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_timers_fired_total",
			Help: "Total number of durable timers fired",
		},
	)

	// RecordsFinalized tracks records reaching a terminal status
	RecordsFinalized = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_records_finalized_total",
			Help: "Total number of records that reached a terminal status",
		},
		[]string{"status"},
	)

	// SubmissionResponses tracks downstream responses by class
	SubmissionResponses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_submission_responses_total",
			Help: "Total number of downstream submission responses",
		},
		[]string{"class"},
	)

	SubmissionLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "writer_submission_latency_seconds",
			Help:    "Downstream submission latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// RecordsIngested tracks records accepted per source
	RecordsIngested = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "writer_records_ingested_total",
			Help: "Total number of records accepted for processing",
		},
		[]string{"source"},
	)

	InstancesPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "writer_instances_pruned_total",
			Help: "Total number of terminal instances removed by the pruner",
		},
	)
)

// RegisterDBStats exports the pool stats of db under the given name.
// Registering the same name twice is not an error.
func RegisterDBStats(db *sql.DB, name string) error {
	err := prometheus.Register(collectors.NewDBStatsCollector(db, name))
	var already prometheus.AlreadyRegisteredError
	if err != nil && !errors.As(err, &already) {
		return err
	}
	return nil
}
