// Package snapshot implements the periodic rank capture loop. On each
// trigger it ranks every message counter within its (platform, scope)
// group and persists one immutable snapshot row per counter for the
// current time bucket, skipping rows the bucket already covers.
package snapshot

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/models"
	"github.com/tallystack/tally/internal/store"
)

// Engine captures point-in-time per-scope rankings of message counters.
type Engine struct {
	store   store.Store
	cfg     *config.Config
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *zap.Logger
}

// NewEngine creates an Engine with the provided dependencies. clk abstracts
// "now" for time-bucket truncation and the capture ticker.
func NewEngine(st store.Store, cfg *config.Config, m *metrics.Metrics, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		store:   st,
		cfg:     cfg,
		metrics: m,
		clock:   clk,
		logger:  logger,
	}
}

// Start begins the capture loop, running at the configured interval. If
// OnStartup is set an initial capture runs immediately. The loop stops when
// ctx is cancelled. Capture failures are logged and never retried within a
// run; the next trigger attempts a fresh capture.
func (e *Engine) Start(ctx context.Context) {
	e.logger.Info("snapshot engine started",
		zap.Duration("interval", e.cfg.Snapshot.Interval.Duration),
		zap.Duration("granularity", e.cfg.Snapshot.Granularity.Duration),
		zap.Bool("on_startup", e.cfg.Snapshot.OnStartup),
	)

	if e.cfg.Snapshot.OnStartup {
		if _, err := e.Capture(ctx); err != nil {
			e.logger.Error("startup snapshot capture failed", zap.Error(err))
		}
	}

	ticker := e.clock.Ticker(e.cfg.Snapshot.Interval.Duration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("snapshot engine stopping", zap.Error(ctx.Err()))
			return
		case <-ticker.C:
			if _, err := e.Capture(ctx); err != nil {
				e.logger.Error("snapshot capture failed", zap.Error(err))
			}
		}
	}
}

// Capture performs a single capture run and returns the number of snapshot
// rows written. Running Capture twice for the same time bucket never
// produces duplicate rows: candidates already covered by the bucket are
// excluded before the write, so a fully-covered bucket is a no-op.
func (e *Engine) Capture(ctx context.Context) (int, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	start := e.clock.Now()
	bucket := start.UTC().Truncate(e.cfg.Snapshot.Granularity.Duration)

	counters, err := e.store.ListCounters(store.CounterQuery{Activity: models.ActivityMessage})
	if err != nil {
		e.metrics.SnapshotRunsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("listing message counters: %w", err)
	}

	candidates := Rank(counters, bucket)

	// Never overwrite or duplicate a snapshot for the same bucket.
	existing, err := e.store.SnapshotsAtBucket(bucket)
	if err != nil {
		e.metrics.SnapshotRunsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("reading existing snapshots for bucket: %w", err)
	}
	covered := make(map[string]struct{}, len(existing))
	for _, snap := range existing {
		covered[snap.CounterID] = struct{}{}
	}

	pending := candidates[:0]
	skipped := 0
	for _, snap := range candidates {
		if _, ok := covered[snap.CounterID]; ok {
			skipped++
			continue
		}
		pending = append(pending, snap)
	}

	if len(pending) > 0 {
		if err := e.store.InsertSnapshots(pending); err != nil {
			e.metrics.SnapshotRunsTotal.WithLabelValues("error").Inc()
			return 0, fmt.Errorf("writing snapshots: %w", err)
		}
	}

	duration := e.clock.Now().Sub(start)
	e.metrics.SnapshotRowsWritten.Add(float64(len(pending)))
	e.metrics.SnapshotRowsSkipped.Add(float64(skipped))
	e.metrics.SnapshotDuration.Observe(duration.Seconds())
	e.metrics.SnapshotLastBucket.Set(float64(bucket.Unix()))
	e.metrics.SnapshotRunsTotal.WithLabelValues("success").Inc()

	e.logger.Info("snapshot capture completed",
		zap.Time("bucket", bucket),
		zap.Int("written", len(pending)),
		zap.Int("skipped", skipped),
		zap.Duration("duration", duration),
	)
	return len(pending), nil
}

// Rank builds candidate snapshot rows for every counter, assigning 1-based
// ranks by count descending within each (platform, scope) group. Ties break
// by counter ID ascending so rank assignment is deterministic regardless of
// store return order.
func Rank(counters []*models.Counter, bucket time.Time) []*models.Snapshot {
	groups := make(map[[2]string][]*models.Counter)
	var order [][2]string
	for _, c := range counters {
		gk := [2]string{c.Key.Platform, c.Key.Scope}
		if _, ok := groups[gk]; !ok {
			order = append(order, gk)
		}
		groups[gk] = append(groups[gk], c)
	}

	var rows []*models.Snapshot
	for _, gk := range order {
		members := groups[gk]
		sort.Slice(members, func(i, j int) bool {
			if members[i].Count != members[j].Count {
				return members[i].Count > members[j].Count
			}
			return members[i].ID < members[j].ID
		})
		for i, c := range members {
			rows = append(rows, &models.Snapshot{
				CounterID:  c.ID,
				TimeBucket: bucket,
				Count:      c.Count,
				Rank:       i + 1,
			})
		}
	}
	return rows
}
