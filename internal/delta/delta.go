// Package delta derives rank-change reports: for each message counter in a
// scope it locates the latest snapshot at or before two time points and
// reports count and rank movement between them.
package delta

import (
	"context"
	"errors"
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

// defaultWindowHours is used when a query carries a malformed or
// non-positive window; a bad period filter resolves to a safe default
// rather than aborting.
const defaultWindowHours = 24

// Query selects the scope and window of a delta report.
type Query struct {
	// Platform optionally restricts the report to one platform.
	Platform string
	// Scope is the group whose ranking is reported.
	Scope string
	// WindowHours is the distance between the current and baseline buckets.
	WindowHours int
	// Limit caps the number of entries. 0 means no cap.
	Limit int
}

// Engine computes rank delta reports from stored snapshots.
type Engine struct {
	store   store.Store
	cfg     *config.Config
	metrics *metrics.Metrics
	clock   clock.Clock
	logger  *zap.Logger
}

// NewEngine creates an Engine with the provided dependencies.
func NewEngine(st store.Store, cfg *config.Config, m *metrics.Metrics, clk clock.Clock, logger *zap.Logger) *Engine {
	return &Engine{
		store:   st,
		cfg:     cfg,
		metrics: m,
		clock:   clk,
		logger:  logger,
	}
}

// Compute derives the rank delta report for the queried scope. For each
// message counter it finds the most recent snapshot at or before the
// current bucket and, independently, at or before the baseline bucket.
// Counters with no current snapshot are dropped; counters with a current
// but no baseline snapshot are reported as new entrants (PreviousRank nil,
// PreviousCount 0). Entries are sorted by current rank ascending and
// truncated to the query limit. A scope with no counters yields an empty
// report, not an error.
func (e *Engine) Compute(ctx context.Context, q Query) ([]models.RankDelta, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	start := e.clock.Now()

	window := q.WindowHours
	if window <= 0 {
		window = defaultWindowHours
	}

	counters, err := e.store.ListCounters(store.CounterQuery{
		Platform: q.Platform,
		Scope:    q.Scope,
		Activity: models.ActivityMessage,
	})
	if err != nil {
		e.metrics.DeltaReportsTotal.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("listing counters for scope %q: %w", q.Scope, err)
	}

	granularity := e.cfg.Snapshot.Granularity.Duration
	currentBucket := e.clock.Now().UTC().Truncate(granularity)
	baselineBucket := currentBucket.Add(-time.Duration(window) * time.Hour)

	entries := make([]models.RankDelta, 0, len(counters))
	for _, c := range counters {
		current, err := e.store.LatestSnapshotAtOrBefore(c.ID, currentBucket)
		if errors.Is(err, store.ErrNotFound) {
			// Never snapshotted; nothing to report yet.
			continue
		}
		if err != nil {
			e.metrics.DeltaReportsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("current snapshot for counter %s: %w", c.ID, err)
		}

		entry := models.RankDelta{
			CounterID:    c.ID,
			UserID:       c.Key.UserID,
			DisplayName:  c.DisplayName(),
			CurrentCount: current.Count,
			CurrentRank:  current.Rank,
		}

		previous, err := e.store.LatestSnapshotAtOrBefore(c.ID, baselineBucket)
		switch {
		case errors.Is(err, store.ErrNotFound):
			// New entrant: no baseline, PreviousRank stays nil.
			entry.CountDelta = int64(current.Count)
		case err != nil:
			e.metrics.DeltaReportsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("baseline snapshot for counter %s: %w", c.ID, err)
		default:
			prevRank := previous.Rank
			entry.PreviousCount = previous.Count
			entry.PreviousRank = &prevRank
			entry.CountDelta = int64(current.Count) - int64(previous.Count)
			entry.RankDelta = prevRank - current.Rank
		}

		entries = append(entries, entry)
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].CurrentRank < entries[j].CurrentRank
	})

	if q.Limit > 0 && len(entries) > q.Limit {
		entries = entries[:q.Limit]
	}

	duration := e.clock.Now().Sub(start)
	e.metrics.DeltaDuration.Observe(duration.Seconds())
	e.metrics.DeltaReportsTotal.WithLabelValues("success").Inc()

	e.logger.Debug("delta report computed",
		zap.String("scope", q.Scope),
		zap.Int("window_hours", window),
		zap.Int("entries", len(entries)),
		zap.Duration("duration", duration),
	)
	return entries, nil
}
