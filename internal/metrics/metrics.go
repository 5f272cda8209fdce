// Package metrics defines and registers all Prometheus metrics used by the
// tally service. Metrics are organised by functional area and share the
// common "tally_" prefix.
package metrics

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every Prometheus collector used by tally.
type Metrics struct {
	// ---------------------------------------------------------------
	// Event Merging
	// ---------------------------------------------------------------

	// EventsMergedTotal counts activity events folded into counters.
	EventsMergedTotal *prometheus.CounterVec

	// MergeErrorsTotal counts per-event merge failures by reason.
	MergeErrorsTotal *prometheus.CounterVec

	// MergeDuration observes the time taken by a single live merge.
	MergeDuration prometheus.Histogram

	// CountersTracked tracks the current number of counter rows.
	CountersTracked prometheus.Gauge

	// ---------------------------------------------------------------
	// Batch Import
	// ---------------------------------------------------------------

	// ImportRunsTotal counts batch import runs by status.
	ImportRunsTotal *prometheus.CounterVec

	// ImportRecordsTotal counts imported records by outcome
	// (imported, failed, skipped).
	ImportRecordsTotal *prometheus.CounterVec

	// ImportDuration observes how long each batch import takes.
	ImportDuration prometheus.Histogram

	// ---------------------------------------------------------------
	// Snapshot Capture
	// ---------------------------------------------------------------

	// SnapshotRunsTotal counts snapshot capture runs by status.
	SnapshotRunsTotal *prometheus.CounterVec

	// SnapshotRowsWritten counts snapshot rows written.
	SnapshotRowsWritten prometheus.Counter

	// SnapshotRowsSkipped counts candidate rows skipped because the bucket
	// was already covered.
	SnapshotRowsSkipped prometheus.Counter

	// SnapshotDuration observes how long each capture run takes.
	SnapshotDuration prometheus.Histogram

	// SnapshotLastBucket records the Unix timestamp of the most recent
	// captured time bucket.
	SnapshotLastBucket prometheus.Gauge

	// ---------------------------------------------------------------
	// Delta Reports
	// ---------------------------------------------------------------

	// DeltaReportsTotal counts delta report computations by status.
	DeltaReportsTotal *prometheus.CounterVec

	// DeltaDuration observes how long each delta computation takes.
	DeltaDuration prometheus.Histogram

	// ---------------------------------------------------------------
	// Ingest
	// ---------------------------------------------------------------

	// IngestRequestsTotal counts intake HTTP requests by outcome.
	IngestRequestsTotal *prometheus.CounterVec

	// IngestDeniedTotal counts events rejected by access rules.
	IngestDeniedTotal *prometheus.CounterVec

	// ---------------------------------------------------------------
	// Storage
	// ---------------------------------------------------------------

	// DBSizeBytes tracks the on-disk size of the SQLite database.
	DBSizeBytes prometheus.Gauge

	// StorageVolumeSizeBytes tracks the total size of the data volume.
	StorageVolumeSizeBytes prometheus.Gauge

	// StorageVolumeUsedBytes tracks the used bytes on the data volume.
	StorageVolumeUsedBytes prometheus.Gauge

	// StorageVolumeAvailableBytes tracks the available bytes on the data volume.
	StorageVolumeAvailableBytes prometheus.Gauge

	// StorageVolumeUsagePercent tracks the volume usage percentage.
	StorageVolumeUsagePercent prometheus.Gauge

	// StorageVolumeInodesTotal tracks the total inode count of the volume.
	StorageVolumeInodesTotal prometheus.Gauge

	// StorageVolumeInodesUsed tracks the used inode count of the volume.
	StorageVolumeInodesUsed prometheus.Gauge

	// StoragePressure indicates the current storage pressure level
	// (none/warning/critical), one-hot encoded.
	StoragePressure *prometheus.GaugeVec
}

// NewMetrics creates all collectors and registers them with the provided
// registry. It panics on duplicate registration, which indicates a
// programming error.
func NewMetrics(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		EventsMergedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_events_merged_total",
				Help: "Activity events folded into counters.",
			},
			[]string{"platform", "kind"},
		),
		MergeErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_merge_errors_total",
				Help: "Per-event merge failures by reason.",
			},
			[]string{"reason"},
		),
		MergeDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tally_merge_duration_seconds",
				Help:    "Time taken by a single live merge.",
				Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
			},
		),
		CountersTracked: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_counters_tracked",
				Help: "Current number of counter rows.",
			},
		),

		ImportRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_import_runs_total",
				Help: "Batch import runs by status.",
			},
			[]string{"status"},
		),
		ImportRecordsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_import_records_total",
				Help: "Batch import records by outcome.",
			},
			[]string{"outcome"},
		),
		ImportDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tally_import_duration_seconds",
				Help:    "Duration of batch import runs.",
				Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
			},
		),

		SnapshotRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_snapshot_runs_total",
				Help: "Snapshot capture runs by status.",
			},
			[]string{"status"},
		),
		SnapshotRowsWritten: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_snapshot_rows_written_total",
				Help: "Snapshot rows written.",
			},
		),
		SnapshotRowsSkipped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "tally_snapshot_rows_skipped_total",
				Help: "Candidate snapshot rows skipped because the bucket was already covered.",
			},
		),
		SnapshotDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tally_snapshot_duration_seconds",
				Help:    "Duration of snapshot capture runs.",
				Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
			},
		),
		SnapshotLastBucket: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_snapshot_last_bucket_timestamp",
				Help: "Unix timestamp of the most recent captured time bucket.",
			},
		),

		DeltaReportsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_delta_reports_total",
				Help: "Delta report computations by status.",
			},
			[]string{"status"},
		),
		DeltaDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "tally_delta_duration_seconds",
				Help:    "Duration of delta report computations.",
				Buckets: []float64{.005, .01, .05, .1, .5, 1, 5},
			},
		),

		IngestRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_ingest_requests_total",
				Help: "Intake HTTP requests by outcome.",
			},
			[]string{"outcome"},
		),
		IngestDeniedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tally_ingest_denied_total",
				Help: "Events rejected by access rules.",
			},
			[]string{"platform"},
		),

		DBSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_db_size_bytes",
				Help: "On-disk size of the SQLite database.",
			},
		),
		StorageVolumeSizeBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_storage_volume_size_bytes",
				Help: "Total size of the data volume.",
			},
		),
		StorageVolumeUsedBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_storage_volume_used_bytes",
				Help: "Used bytes on the data volume.",
			},
		),
		StorageVolumeAvailableBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_storage_volume_available_bytes",
				Help: "Available bytes on the data volume.",
			},
		),
		StorageVolumeUsagePercent: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_storage_volume_usage_percent",
				Help: "Volume usage percentage.",
			},
		),
		StorageVolumeInodesTotal: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_storage_volume_inodes_total",
				Help: "Total inode count of the volume.",
			},
		),
		StorageVolumeInodesUsed: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "tally_storage_volume_inodes_used",
				Help: "Used inode count of the volume.",
			},
		),
		StoragePressure: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tally_storage_pressure",
				Help: "Current storage pressure level, one-hot encoded.",
			},
			[]string{"level"},
		),
	}

	collectors := []prometheus.Collector{
		m.EventsMergedTotal,
		m.MergeErrorsTotal,
		m.MergeDuration,
		m.CountersTracked,
		m.ImportRunsTotal,
		m.ImportRecordsTotal,
		m.ImportDuration,
		m.SnapshotRunsTotal,
		m.SnapshotRowsWritten,
		m.SnapshotRowsSkipped,
		m.SnapshotDuration,
		m.SnapshotLastBucket,
		m.DeltaReportsTotal,
		m.DeltaDuration,
		m.IngestRequestsTotal,
		m.IngestDeniedTotal,
		m.DBSizeBytes,
		m.StorageVolumeSizeBytes,
		m.StorageVolumeUsedBytes,
		m.StorageVolumeAvailableBytes,
		m.StorageVolumeUsagePercent,
		m.StorageVolumeInodesTotal,
		m.StorageVolumeInodesUsed,
		m.StoragePressure,
	}

	for _, c := range collectors {
		if err := registry.Register(c); err != nil {
			panic(fmt.Sprintf("registering collector: %v", err))
		}
	}

	return m
}
