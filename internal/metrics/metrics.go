// Package metrics defines and registers all Prometheus metrics used by the
// playerstats service. Metrics are organised by functional area and share
// the common "playerstats_" prefix.
package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/bryonbaker/playerstats/internal/database"
)

// Flush triggers, used as the "trigger" label.
const (
	TriggerTick     = "tick"
	TriggerManual   = "manual"
	TriggerShutdown = "shutdown"
)

// Metrics holds every Prometheus collector used by playerstats.
type Metrics struct {
	// ---------------------------------------------------------------
	// Event Ingestion
	// ---------------------------------------------------------------

	// EventsTotal counts host events accepted by the ingestor.
	EventsTotal *prometheus.CounterVec

	// EventsRejectedTotal counts events rejected before reaching the ingestor.
	EventsRejectedTotal *prometheus.CounterVec

	// EventsInFlight tracks events currently being handled by the ingress.
	EventsInFlight prometheus.Gauge

	// ---------------------------------------------------------------
	// Aggregation
	// ---------------------------------------------------------------

	// PendingPlayers tracks the number of players with unflushed deltas.
	PendingPlayers prometheus.Gauge

	// OnlineSessions tracks the number of open play sessions.
	OnlineSessions prometheus.Gauge

	// SessionsEndedTotal counts closed sessions by how they ended.
	SessionsEndedTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Flush
	// ---------------------------------------------------------------

	// FlushRunsTotal counts flush cycles by trigger and status.
	FlushRunsTotal *prometheus.CounterVec

	// FlushSkippedTotal counts scheduled ticks dropped because a flush was running.
	FlushSkippedTotal prometheus.Counter

	// FlushDuration observes how long each flush cycle takes.
	FlushDuration *prometheus.HistogramVec

	// FlushPlayers observes how many players each flush cycle drained.
	FlushPlayers prometheus.Histogram

	// FlushColumnUpsertsTotal counts per-column upserts by column and status.
	FlushColumnUpsertsTotal *prometheus.CounterVec

	// FlushRequeuedTotal counts column deltas put back after a failed upsert.
	FlushRequeuedTotal prometheus.Counter

	// FlushLastSuccess records the Unix timestamp of the last fully successful flush.
	FlushLastSuccess prometheus.Gauge

	// ---------------------------------------------------------------
	// Retry
	// ---------------------------------------------------------------

	// RetryAttemptsTotal counts failed attempts that were retried.
	RetryAttemptsTotal *prometheus.CounterVec

	// RetryExhaustedTotal counts operations that exhausted all attempts.
	RetryExhaustedTotal *prometheus.CounterVec

	// RetryBackoff observes the backoff waited before each retry.
	RetryBackoff *prometheus.HistogramVec

	// ---------------------------------------------------------------
	// Database
	// ---------------------------------------------------------------

	// DBSizeBytes tracks the database size.
	DBSizeBytes prometheus.Gauge

	// DBOperationDuration observes database operation latencies.
	DBOperationDuration *prometheus.HistogramVec

	// DBOperationErrors counts database operation errors.
	DBOperationErrors *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Storage
	// ---------------------------------------------------------------

	// StorageVolumeSizeBytes tracks the total size of the storage volume.
	StorageVolumeSizeBytes prometheus.Gauge

	// StorageVolumeUsedBytes tracks the used bytes of the storage volume.
	StorageVolumeUsedBytes prometheus.Gauge

	// StorageVolumeAvailableBytes tracks the available bytes of the storage volume.
	StorageVolumeAvailableBytes prometheus.Gauge

	// StorageVolumeUsagePercent tracks the usage percentage of the storage volume.
	StorageVolumeUsagePercent prometheus.Gauge

	// StoragePressure indicates storage pressure by severity level.
	StoragePressure *prometheus.GaugeVec

	// ---------------------------------------------------------------
	// Component Health
	// ---------------------------------------------------------------

	// ComponentUp indicates whether a component is healthy (1) or not (0).
	ComponentUp *prometheus.GaugeVec

	// ComponentLastSuccess records the Unix timestamp of each component's last success.
	ComponentLastSuccess *prometheus.GaugeVec

	// ---------------------------------------------------------------
	// Worker Pool
	// ---------------------------------------------------------------

	// WorkerQueueSize tracks the number of jobs waiting for a worker.
	WorkerQueueSize prometheus.Gauge

	// WorkerJobsTotal counts jobs by outcome.
	WorkerJobsTotal *prometheus.CounterVec

	// WorkerProcessingDuration observes how long workers take per job.
	WorkerProcessingDuration prometheus.Histogram
}

// NewMetrics creates and registers all Prometheus metrics with the supplied
// registerer.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{}

	// -------------------------------------------------------------------
	// Event Ingestion Metrics
	// -------------------------------------------------------------------

	m.EventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_events_total",
		Help: "Total number of host events handled.",
	}, []string{"event_type"})
	registerer.MustRegister(m.EventsTotal)

	m.EventsRejectedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_events_rejected_total",
		Help: "Total number of host events rejected.",
	}, []string{"reason"})
	registerer.MustRegister(m.EventsRejectedTotal)

	m.EventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_events_in_flight",
		Help: "Events currently being handled by the ingress.",
	})
	registerer.MustRegister(m.EventsInFlight)

	// -------------------------------------------------------------------
	// Aggregation Metrics
	// -------------------------------------------------------------------

	m.PendingPlayers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_pending_players",
		Help: "Players with unflushed stat deltas.",
	})
	registerer.MustRegister(m.PendingPlayers)

	m.OnlineSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_online_sessions",
		Help: "Open play sessions.",
	})
	registerer.MustRegister(m.OnlineSessions)

	m.SessionsEndedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_sessions_ended_total",
		Help: "Play sessions closed, by reason.",
	}, []string{"reason"})
	registerer.MustRegister(m.SessionsEndedTotal)

	// -------------------------------------------------------------------
	// Flush Metrics
	// -------------------------------------------------------------------

	m.FlushRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_flush_runs_total",
		Help: "Total flush cycles by trigger and status.",
	}, []string{"trigger", "status"})
	registerer.MustRegister(m.FlushRunsTotal)

	m.FlushSkippedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playerstats_flush_skipped_total",
		Help: "Scheduled flush ticks dropped because a flush was already running.",
	})
	registerer.MustRegister(m.FlushSkippedTotal)

	m.FlushDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerstats_flush_duration_seconds",
		Help:    "Duration of each flush cycle.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"trigger"})
	registerer.MustRegister(m.FlushDuration)

	m.FlushPlayers = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "playerstats_flush_players",
		Help:    "Players drained per flush cycle.",
		Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	})
	registerer.MustRegister(m.FlushPlayers)

	m.FlushColumnUpsertsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_flush_column_upserts_total",
		Help: "Per-column upserts issued by flush cycles.",
	}, []string{"column", "status"})
	registerer.MustRegister(m.FlushColumnUpsertsTotal)

	m.FlushRequeuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "playerstats_flush_requeued_total",
		Help: "Column deltas restored to the accumulator after a failed upsert.",
	})
	registerer.MustRegister(m.FlushRequeuedTotal)

	m.FlushLastSuccess = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_flush_last_success_timestamp",
		Help: "Unix timestamp of the last flush with no failed upserts.",
	})
	registerer.MustRegister(m.FlushLastSuccess)

	// -------------------------------------------------------------------
	// Retry Metrics
	// -------------------------------------------------------------------

	m.RetryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_retry_attempts_total",
		Help: "Failed attempts that were retried.",
	}, []string{"operation"})
	registerer.MustRegister(m.RetryAttemptsTotal)

	m.RetryExhaustedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_retry_exhausted_total",
		Help: "Operations that exhausted all retry attempts.",
	}, []string{"operation"})
	registerer.MustRegister(m.RetryExhaustedTotal)

	m.RetryBackoff = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerstats_retry_backoff_seconds",
		Help:    "Backoff waited before each retry.",
		Buckets: []float64{0, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"operation"})
	registerer.MustRegister(m.RetryBackoff)

	// -------------------------------------------------------------------
	// Database Metrics
	// -------------------------------------------------------------------

	m.DBSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_db_size_bytes",
		Help: "Size of the database in bytes.",
	})
	registerer.MustRegister(m.DBSizeBytes)

	m.DBOperationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "playerstats_db_operation_duration_seconds",
		Help:    "Duration of database operations.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
	}, []string{"operation"})
	registerer.MustRegister(m.DBOperationDuration)

	m.DBOperationErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_db_operation_errors_total",
		Help: "Database operation errors.",
	}, []string{"operation", "error_type"})
	registerer.MustRegister(m.DBOperationErrors)

	// -------------------------------------------------------------------
	// Storage Metrics
	// -------------------------------------------------------------------

	m.StorageVolumeSizeBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_storage_volume_size_bytes",
		Help: "Total size of the storage volume in bytes.",
	})
	registerer.MustRegister(m.StorageVolumeSizeBytes)

	m.StorageVolumeUsedBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_storage_volume_used_bytes",
		Help: "Used bytes on the storage volume.",
	})
	registerer.MustRegister(m.StorageVolumeUsedBytes)

	m.StorageVolumeAvailableBytes = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_storage_volume_available_bytes",
		Help: "Available bytes on the storage volume.",
	})
	registerer.MustRegister(m.StorageVolumeAvailableBytes)

	m.StorageVolumeUsagePercent = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_storage_volume_usage_percent",
		Help: "Usage percentage of the storage volume.",
	})
	registerer.MustRegister(m.StorageVolumeUsagePercent)

	m.StoragePressure = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playerstats_storage_pressure",
		Help: "Storage pressure indicator by severity level.",
	}, []string{"severity"})
	registerer.MustRegister(m.StoragePressure)

	// -------------------------------------------------------------------
	// Component Health Metrics
	// -------------------------------------------------------------------

	m.ComponentUp = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playerstats_component_up",
		Help: "Whether a component is healthy (1) or not (0).",
	}, []string{"component"})
	registerer.MustRegister(m.ComponentUp)

	m.ComponentLastSuccess = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "playerstats_component_last_success_timestamp",
		Help: "Unix timestamp of each component's last successful operation.",
	}, []string{"component"})
	registerer.MustRegister(m.ComponentLastSuccess)

	// -------------------------------------------------------------------
	// Worker Pool Metrics
	// -------------------------------------------------------------------

	m.WorkerQueueSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "playerstats_worker_queue_size",
		Help: "Jobs waiting for a persistence worker.",
	})
	registerer.MustRegister(m.WorkerQueueSize)

	m.WorkerJobsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "playerstats_worker_jobs_total",
		Help: "Jobs handled by the persistence worker pool, by outcome.",
	}, []string{"status"})
	registerer.MustRegister(m.WorkerJobsTotal)

	m.WorkerProcessingDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "playerstats_worker_processing_duration_seconds",
		Help:    "Time taken by workers to run a job.",
		Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1.0, 5.0, 10.0},
	})
	registerer.MustRegister(m.WorkerProcessingDuration)

	return m
}

// RecordEvent increments EventsTotal for the given event type.
func (m *Metrics) RecordEvent(eventType string) {
	m.EventsTotal.WithLabelValues(eventType).Inc()
}

// RecordEventRejected increments EventsRejectedTotal for the given reason
// (e.g. "invalid", "busy", "queue_full").
func (m *Metrics) RecordEventRejected(reason string) {
	m.EventsRejectedTotal.WithLabelValues(reason).Inc()
}

// RecordFlush records the outcome of one flush cycle.
func (m *Metrics) RecordFlush(trigger string, players, failed int, d time.Duration) {
	status := "success"
	if failed > 0 {
		status = "partial"
	}
	m.FlushRunsTotal.WithLabelValues(trigger, status).Inc()
	m.FlushDuration.WithLabelValues(trigger).Observe(d.Seconds())
	m.FlushPlayers.Observe(float64(players))
	if failed == 0 {
		m.FlushLastSuccess.Set(float64(time.Now().Unix()))
		m.RecordComponentSuccess("flush")
	}
}

// RecordColumnUpsert counts one per-column upsert issued during a flush.
func (m *Metrics) RecordColumnUpsert(column string, err error) {
	status := "success"
	if err != nil {
		status = "failed"
	}
	m.FlushColumnUpsertsTotal.WithLabelValues(column, status).Inc()
}

// RecordDBOperation observes the duration of a store call and counts it as
// an error when err is non-nil.
func (m *Metrics) RecordDBOperation(operation string, d time.Duration, err error) {
	m.DBOperationDuration.WithLabelValues(operation).Observe(d.Seconds())
	if err != nil {
		m.DBOperationErrors.WithLabelValues(operation, ErrorType(err)).Inc()
	}
}

// RecordComponentSuccess marks a component healthy and stamps its last success.
func (m *Metrics) RecordComponentSuccess(component string) {
	m.ComponentUp.WithLabelValues(component).Set(1)
	m.ComponentLastSuccess.WithLabelValues(component).Set(float64(time.Now().Unix()))
}

// RecordComponentFailure marks a component unhealthy.
func (m *Metrics) RecordComponentFailure(component string) {
	m.ComponentUp.WithLabelValues(component).Set(0)
}

// ErrorType returns a low-cardinality label for a store error.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, database.ErrStoreConstraintViolation):
		return "constraint"
	case errors.Is(err, database.ErrStoreUnavailable):
		return "unavailable"
	case errors.Is(err, database.ErrPlayerNotFound):
		return "not_found"
	default:
		return "other"
	}
}
