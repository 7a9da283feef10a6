// Package monitor implements the periodic health and capacity sampling loop.
// It checks store reachability, database size and (for an embedded database)
// filesystem usage of the data volume, and samples the in-memory backlog:
// pending players, open sessions and queued persistence jobs.
package monitor

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/bryonbaker/playerstats/internal/accumulator"
	"github.com/bryonbaker/playerstats/internal/config"
	"github.com/bryonbaker/playerstats/internal/database"
	"github.com/bryonbaker/playerstats/internal/metrics"
	"github.com/bryonbaker/playerstats/internal/session"
	"github.com/bryonbaker/playerstats/internal/workerpool"
)

// HealthReporter receives per-component readiness. *metrics.Server satisfies
// this interface.
type HealthReporter interface {
	UpdateHealthCheck(component string, status string)
}

// Monitor periodically samples store health and backlog gauges.
type Monitor struct {
	store    database.DataStore
	acc      *accumulator.Store
	sessions *session.Tracker
	pool     *workerpool.Pool
	health   HealthReporter
	cfg      *config.Config
	metrics  *metrics.Metrics
	logger   *zap.Logger
}

// NewMonitor creates a Monitor. health may be nil.
func NewMonitor(
	store database.DataStore,
	acc *accumulator.Store,
	sessions *session.Tracker,
	pool *workerpool.Pool,
	health HealthReporter,
	cfg *config.Config,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		store:    store,
		acc:      acc,
		sessions: sessions,
		pool:     pool,
		health:   health,
		cfg:      cfg,
		metrics:  m,
		logger:   logger,
	}
}

// Start begins the monitoring loop, running at the configured monitor
// interval. The loop stops when ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.Storage.MonitorInterval.Duration)
	defer ticker.Stop()

	m.logger.Info("storage monitor started",
		zap.Duration("interval", m.cfg.Storage.MonitorInterval.Duration),
		zap.String("volume_path", m.cfg.Storage.VolumePath),
		zap.Int("warning_threshold", m.cfg.Storage.WarningThreshold),
		zap.Int("critical_threshold", m.cfg.Storage.CriticalThreshold),
	)

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("storage monitor stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if err := m.Check(ctx); err != nil {
				m.logger.Error("storage check failed", zap.Error(err))
			}
		}
	}
}

// Check performs a single sampling pass. Store errors are logged and reported
// as unhealthy; only a volume statfs failure is returned.
func (m *Monitor) Check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	m.sampleBacklog()
	m.checkStore(ctx)

	if m.cfg.Storage.Driver != config.DriverSQLite {
		return nil
	}
	return m.checkVolume()
}

// sampleBacklog updates the in-memory backlog gauges.
func (m *Monitor) sampleBacklog() {
	m.metrics.PendingPlayers.Set(float64(m.acc.Len()))
	m.metrics.OnlineSessions.Set(float64(m.sessions.Len()))
	if m.pool != nil {
		m.metrics.WorkerQueueSize.Set(float64(m.pool.QueueLen()))
	}
}

// checkStore pings the store and records its size.
func (m *Monitor) checkStore(ctx context.Context) {
	opCtx, cancel := context.WithTimeout(ctx, m.cfg.Storage.OpTimeout.Duration)
	defer cancel()

	if err := m.store.Ping(opCtx); err != nil {
		m.logger.Error("database ping failed", zap.Error(err))
		m.metrics.RecordComponentFailure(metrics.ComponentDatabase)
		m.reportHealth(metrics.ComponentDatabase, metrics.StatusUnavailable)
		return
	}
	m.metrics.RecordComponentSuccess(metrics.ComponentDatabase)
	m.reportHealth(metrics.ComponentDatabase, metrics.StatusOK)

	size, err := m.store.GetDatabaseSizeBytes(opCtx)
	if err != nil {
		m.logger.Error("failed to get database size", zap.Error(err))
		return
	}
	m.metrics.DBSizeBytes.Set(float64(size))
}

// checkVolume gathers filesystem statistics for the data volume.
func (m *Monitor) checkVolume() error {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(m.cfg.Storage.VolumePath, &stat); err != nil {
		return fmt.Errorf("statfs on %s: %w", m.cfg.Storage.VolumePath, err)
	}

	blockSize := uint64(stat.Bsize)
	totalBytes := stat.Blocks * blockSize
	availableBytes := stat.Bavail * blockSize
	usedBytes := totalBytes - (stat.Bfree * blockSize)

	var usagePercent float64
	if totalBytes > 0 {
		usagePercent = (float64(usedBytes) / float64(totalBytes)) * 100.0
	}

	m.metrics.StorageVolumeSizeBytes.Set(float64(totalBytes))
	m.metrics.StorageVolumeUsedBytes.Set(float64(usedBytes))
	m.metrics.StorageVolumeAvailableBytes.Set(float64(availableBytes))
	m.metrics.StorageVolumeUsagePercent.Set(usagePercent)

	m.evaluatePressure(usagePercent)

	m.logger.Debug("storage check completed",
		zap.Float64("usage_percent", usagePercent),
		zap.Uint64("total_bytes", totalBytes),
		zap.Uint64("available_bytes", availableBytes),
	)
	return nil
}

// evaluatePressure sets the storage pressure gauges and logs when the
// configured thresholds are crossed.
func (m *Monitor) evaluatePressure(usagePercent float64) {
	warningThreshold := float64(m.cfg.Storage.WarningThreshold)
	criticalThreshold := float64(m.cfg.Storage.CriticalThreshold)

	m.metrics.StoragePressure.WithLabelValues("none").Set(0)
	m.metrics.StoragePressure.WithLabelValues("warning").Set(0)
	m.metrics.StoragePressure.WithLabelValues("critical").Set(0)

	switch {
	case usagePercent >= criticalThreshold:
		m.metrics.StoragePressure.WithLabelValues("critical").Set(1)
		m.logger.Error("CRITICAL: storage usage exceeds critical threshold",
			zap.Float64("usage_percent", usagePercent),
			zap.Float64("critical_threshold", criticalThreshold),
		)
	case usagePercent >= warningThreshold:
		m.metrics.StoragePressure.WithLabelValues("warning").Set(1)
		m.logger.Warn("storage usage exceeds warning threshold",
			zap.Float64("usage_percent", usagePercent),
			zap.Float64("warning_threshold", warningThreshold),
		)
	default:
		m.metrics.StoragePressure.WithLabelValues("none").Set(1)
	}
}

func (m *Monitor) reportHealth(component, status string) {
	if m.health != nil {
		m.health.UpdateHealthCheck(component, status)
	}
}
