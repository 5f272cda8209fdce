// Package storage implements the volume and database size monitoring loop.
// It periodically samples filesystem usage, inode consumption, and the
// database file size, publishes them as Prometheus gauges, and flags
// storage pressure against configurable thresholds.
package storage

import (
	"context"
	"fmt"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/store"
)

// volumeStats is one sample of the filesystem backing the data volume.
type volumeStats struct {
	totalBytes     uint64
	usedBytes      uint64
	availableBytes uint64
	usagePercent   float64
	totalInodes    uint64
	usedInodes     uint64
}

// sampleVolume reads filesystem statistics for path via statfs.
func sampleVolume(path string) (volumeStats, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return volumeStats{}, fmt.Errorf("statfs on %s: %w", path, err)
	}

	blockSize := uint64(stat.Bsize)
	vs := volumeStats{
		totalBytes:     stat.Blocks * blockSize,
		availableBytes: stat.Bavail * blockSize,
		totalInodes:    stat.Files,
		usedInodes:     stat.Files - stat.Ffree,
	}
	vs.usedBytes = vs.totalBytes - stat.Bfree*blockSize
	if vs.totalBytes > 0 {
		vs.usagePercent = float64(vs.usedBytes) / float64(vs.totalBytes) * 100.0
	}
	return vs, nil
}

// Monitor periodically inspects the storage volume and the counter database.
type Monitor struct {
	store   store.Store
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMonitor creates a Monitor with the provided dependencies.
func NewMonitor(st store.Store, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Monitor {
	return &Monitor{
		store:   st,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// Start runs the monitoring loop at the configured interval until ctx is
// cancelled. Individual check failures are logged, not fatal.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("storage monitor started",
		zap.Duration("interval", m.cfg.Storage.MonitorInterval.Duration),
		zap.String("volume_path", m.cfg.Storage.VolumePath),
		zap.Int("warning_threshold", m.cfg.Storage.WarningThreshold),
		zap.Int("critical_threshold", m.cfg.Storage.CriticalThreshold),
	)

	ticker := time.NewTicker(m.cfg.Storage.MonitorInterval.Duration)
	defer ticker.Stop()

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

// Check performs one monitoring pass: volume statistics, database file
// size, the tracked-counter gauge, and the pressure evaluation. Only a
// failed volume sample is an error; store lookups degrade to a log line so
// a wedged database does not hide the volume metrics.
func (m *Monitor) Check(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	vs, err := sampleVolume(m.cfg.Storage.VolumePath)
	if err != nil {
		return err
	}

	m.metrics.StorageVolumeSizeBytes.Set(float64(vs.totalBytes))
	m.metrics.StorageVolumeUsedBytes.Set(float64(vs.usedBytes))
	m.metrics.StorageVolumeAvailableBytes.Set(float64(vs.availableBytes))
	m.metrics.StorageVolumeUsagePercent.Set(vs.usagePercent)
	m.metrics.StorageVolumeInodesTotal.Set(float64(vs.totalInodes))
	m.metrics.StorageVolumeInodesUsed.Set(float64(vs.usedInodes))

	dbSizeBytes, err := m.store.GetDatabaseSizeBytes()
	if err != nil {
		m.logger.Error("failed to get database size", zap.Error(err))
	} else {
		m.metrics.DBSizeBytes.Set(float64(dbSizeBytes))
	}

	if total, err := m.store.CountCounters(); err != nil {
		m.logger.Error("failed to count counters", zap.Error(err))
	} else {
		m.metrics.CountersTracked.Set(float64(total))
	}

	m.evaluatePressure(vs.usagePercent)

	m.logger.Debug("storage check completed",
		zap.Float64("usage_percent", vs.usagePercent),
		zap.Uint64("total_bytes", vs.totalBytes),
		zap.Uint64("used_bytes", vs.usedBytes),
		zap.Uint64("available_bytes", vs.availableBytes),
		zap.Int64("db_size_bytes", dbSizeBytes),
	)

	return nil
}

// evaluatePressure classifies the usage percentage into exactly one of the
// none/warning/critical pressure levels.
func (m *Monitor) evaluatePressure(usagePercent float64) {
	for _, level := range []string{"none", "warning", "critical"} {
		m.metrics.StoragePressure.WithLabelValues(level).Set(0)
	}

	switch {
	case usagePercent >= float64(m.cfg.Storage.CriticalThreshold):
		m.metrics.StoragePressure.WithLabelValues("critical").Set(1)
		m.logger.Error("storage usage exceeds critical threshold",
			zap.Float64("usage_percent", usagePercent),
			zap.Int("critical_threshold", m.cfg.Storage.CriticalThreshold),
		)
	case usagePercent >= float64(m.cfg.Storage.WarningThreshold):
		m.metrics.StoragePressure.WithLabelValues("warning").Set(1)
		m.logger.Warn("storage usage exceeds warning threshold",
			zap.Float64("usage_percent", usagePercent),
			zap.Int("warning_threshold", m.cfg.Storage.WarningThreshold),
		)
	default:
		m.metrics.StoragePressure.WithLabelValues("none").Set(1)
	}
}
