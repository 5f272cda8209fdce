// Package merger implements the event merger: the read-modify-write path
// that folds raw activity events into canonical counters, both one at a
// time for live recording and in grouped, chunked batches for imports.
package merger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/models"
	"github.com/tallystack/tally/internal/names"
	"github.com/tallystack/tally/internal/store"
)

// ErrInvalidEvent is returned when an event is missing required key fields
// or carries a zero increment. Batch paths count such events instead of
// aborting.
var ErrInvalidEvent = errors.New("merger: invalid event")

// legacyDateLayout is the date format of coarse historical records.
const legacyDateLayout = "2006-01-02"

// BatchResult summarises the outcome of a batch merge or import.
// Imported + Failed + Skipped always equals the attempted total.
type BatchResult struct {
	Imported int `json:"imported"`
	Failed   int `json:"failed"`
	Skipped  int `json:"skipped"`
}

// Attempted returns the total number of records the batch tried to process.
func (r BatchResult) Attempted() int {
	return r.Imported + r.Failed + r.Skipped
}

// add folds another result into r.
func (r *BatchResult) add(other BatchResult) {
	r.Imported += other.Imported
	r.Failed += other.Failed
	r.Skipped += other.Skipped
}

// Merger folds raw activity events into counter rows.
type Merger struct {
	store   store.Store
	cfg     *config.Config
	metrics *metrics.Metrics
	logger  *zap.Logger
}

// NewMerger creates a Merger with the given dependencies.
func NewMerger(st store.Store, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Merger {
	return &Merger{
		store:   st,
		cfg:     cfg,
		metrics: m,
		logger:  logger,
	}
}

// normalize fills in the reserved sentinels for an event's optional key
// fields and validates the required ones.
func normalize(ev *models.RawEvent) error {
	if ev.Scope == "" {
		ev.Scope = models.ScopePrivate
	}
	if ev.Activity == "" {
		ev.Activity = models.ActivityMessage
	}
	if ev.Platform == "" || ev.UserID == "" {
		return fmt.Errorf("%w: platform and user_id are required", ErrInvalidEvent)
	}
	if ev.Increment == 0 {
		return fmt.Errorf("%w: increment must be at least 1", ErrInvalidEvent)
	}
	if ev.Time.IsZero() {
		return fmt.Errorf("%w: event time is required", ErrInvalidEvent)
	}
	return nil
}

// Merge folds a single event into its counter with one read and one write.
// A missing counter is created with the event's increment; an existing one
// is updated in place with the count added, the last-activity time maxed,
// and display names reconciled.
func (m *Merger) Merge(ctx context.Context, ev models.RawEvent) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	start := time.Now()
	if err := normalize(&ev); err != nil {
		m.metrics.MergeErrorsTotal.WithLabelValues("validation").Inc()
		return err
	}

	if err := m.mergeOne(ev.Key(), ev.Increment, ev.Time, ev.UserName, ev.ScopeName); err != nil {
		m.metrics.MergeErrorsTotal.WithLabelValues("store").Inc()
		return err
	}

	kind := "command"
	if ev.Key().IsMessage() {
		kind = "message"
	}
	m.metrics.EventsMergedTotal.WithLabelValues(ev.Platform, kind).Inc()
	m.metrics.MergeDuration.Observe(time.Since(start).Seconds())
	return nil
}

// mergeOne performs the authoritative read-then-write for one counter key.
func (m *Merger) mergeOne(key models.CounterKey, increment uint64, eventTime time.Time, userName, scopeName string) error {
	existing, err := m.store.GetCounter(key)
	if errors.Is(err, store.ErrNotFound) {
		c := &models.Counter{
			ID:       uuid.NewString(),
			Key:      key,
			Count:    increment,
			LastTime: eventTime,
			// Validity-filter incoming names against the entity's own ID
			// even on first sight.
			UserName:  names.Reconcile("", userName, time.Time{}, eventTime, key.UserID),
			ScopeName: names.Reconcile("", scopeName, time.Time{}, eventTime, key.Scope),
		}
		if err := m.store.CreateCounter(c); err != nil {
			return fmt.Errorf("creating counter %s: %w", key, err)
		}
		if total, err := m.store.CountCounters(); err == nil {
			m.metrics.CountersTracked.Set(float64(total))
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading counter %s: %w", key, err)
	}

	fold(existing, increment, eventTime, userName, scopeName)

	if err := m.store.UpdateCounter(existing); err != nil {
		return fmt.Errorf("updating counter %s: %w", key, err)
	}
	return nil
}

// fold applies one event's contribution to an existing counter in memory.
func fold(c *models.Counter, increment uint64, eventTime time.Time, userName, scopeName string) {
	c.UserName = names.Reconcile(c.UserName, userName, c.LastTime, eventTime, c.Key.UserID)
	c.ScopeName = names.Reconcile(c.ScopeName, scopeName, c.LastTime, eventTime, c.Key.Scope)
	c.Count += increment
	if eventTime.After(c.LastTime) {
		c.LastTime = eventTime
	}
}

// group is the pre-summed contribution of all same-key events in a batch.
type group struct {
	key       models.CounterKey
	increment uint64
	lastTime  time.Time
	userName  string
	scopeName string
	events    int
}

// prepared pairs a folded counter with the number of batch events it
// absorbs, so write failures can be attributed back to event counts.
type prepared struct {
	counter *models.Counter
	events  int
}

// prepare reads the stored counter for one pre-summed group and folds the
// group's contribution into it in memory. A missing counter becomes a fresh
// row carrying a new ID.
func (m *Merger) prepare(g *group) (*models.Counter, error) {
	existing, err := m.store.GetCounter(g.key)
	if errors.Is(err, store.ErrNotFound) {
		return &models.Counter{
			ID:        uuid.NewString(),
			Key:       g.key,
			Count:     g.increment,
			LastTime:  g.lastTime,
			UserName:  names.Reconcile("", g.userName, time.Time{}, g.lastTime, g.key.UserID),
			ScopeName: names.Reconcile("", g.scopeName, time.Time{}, g.lastTime, g.key.Scope),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading counter %s: %w", g.key, err)
	}
	fold(existing, g.increment, g.lastTime, g.userName, g.scopeName)
	return existing, nil
}

// MergeBatch folds a batch of events into counters. Events are grouped by
// composite key first, so repeated events for the same key are pre-summed
// into a single read-modify-write against the store. Keys are partitioned
// into chunks; within a chunk the reads and folds run concurrently and the
// results are written back with a single upsert. A failing key is counted
// and does not abort the rest of the batch.
func (m *Merger) MergeBatch(ctx context.Context, evs []models.RawEvent) BatchResult {
	start := time.Now()
	var result BatchResult

	// Group and pre-sum by key.
	groups := make(map[models.CounterKey]*group)
	var order []models.CounterKey
	for i := range evs {
		ev := evs[i]
		if err := normalize(&ev); err != nil {
			m.logger.Debug("skipping invalid event in batch", zap.Error(err))
			result.Failed++
			continue
		}
		key := ev.Key()
		g, ok := groups[key]
		if !ok {
			g = &group{key: key}
			groups[key] = g
			order = append(order, key)
		}
		g.increment += ev.Increment
		g.userName = names.Reconcile(g.userName, ev.UserName, g.lastTime, ev.Time, key.UserID)
		g.scopeName = names.Reconcile(g.scopeName, ev.ScopeName, g.lastTime, ev.Time, key.Scope)
		if ev.Time.After(g.lastTime) {
			g.lastTime = ev.Time
		}
		g.events++
	}

	var mu sync.Mutex
	for chunkStart := 0; chunkStart < len(order); chunkStart += m.cfg.Import.ChunkSize {
		if ctx.Err() != nil {
			// Remaining keys are counted as failed; already-merged chunks
			// stay merged.
			for _, key := range order[chunkStart:] {
				mu.Lock()
				result.Failed += groups[key].events
				mu.Unlock()
			}
			break
		}

		chunkEnd := chunkStart + m.cfg.Import.ChunkSize
		if chunkEnd > len(order) {
			chunkEnd = len(order)
		}

		chunk := order[chunkStart:chunkEnd]
		folded := make([]prepared, 0, len(chunk))

		eg, _ := errgroup.WithContext(ctx)
		eg.SetLimit(m.cfg.Import.Concurrency)
		for _, key := range chunk {
			g := groups[key]
			eg.Go(func() error {
				c, err := m.prepare(g)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					m.logger.Error("batch merge failed for key",
						zap.String("key", g.key.String()),
						zap.String("activity", g.key.Activity),
						zap.Error(err),
					)
					m.metrics.MergeErrorsTotal.WithLabelValues("store").Inc()
					result.Failed += g.events
					return nil
				}
				folded = append(folded, prepared{counter: c, events: g.events})
				return nil
			})
		}
		_ = eg.Wait()

		if len(folded) == 0 {
			continue
		}

		rows := make([]*models.Counter, len(folded))
		chunkEvents := 0
		for i, p := range folded {
			rows[i] = p.counter
			chunkEvents += p.events
		}
		if err := m.store.UpsertCounters(rows); err != nil {
			m.logger.Error("batch write-back failed for chunk",
				zap.Int("keys", len(rows)),
				zap.Error(err),
			)
			m.metrics.MergeErrorsTotal.WithLabelValues("store").Inc()
			result.Failed += chunkEvents
			continue
		}
		result.Imported += chunkEvents
	}

	if result.Imported > 0 {
		if total, err := m.store.CountCounters(); err == nil {
			m.metrics.CountersTracked.Set(float64(total))
		}
	}

	m.metrics.ImportRecordsTotal.WithLabelValues("imported").Add(float64(result.Imported))
	m.metrics.ImportRecordsTotal.WithLabelValues("failed").Add(float64(result.Failed))
	m.metrics.ImportDuration.Observe(time.Since(start).Seconds())

	status := "success"
	if result.Failed > 0 {
		status = "partial"
	}
	m.metrics.ImportRunsTotal.WithLabelValues(status).Inc()

	m.logger.Info("batch merge completed",
		zap.Int("attempted", result.Attempted()),
		zap.Int("imported", result.Imported),
		zap.Int("failed", result.Failed),
		zap.Int("keys", len(order)),
		zap.Duration("duration", time.Since(start)),
	)
	return result
}

// ImportLegacy merges coarse historical records. Each record carries a date
// plus an hour-of-day bucket instead of an exact timestamp, and identifies
// the user by an account ID that is translated through idmap into a
// platform-scoped user ID. Records whose account ID has no mapping entry or
// whose timestamp fails to parse are silently skipped and counted, not
// errored.
func (m *Merger) ImportLegacy(ctx context.Context, recs []models.LegacyRecord, idmap map[string]string, platform string) BatchResult {
	var result BatchResult
	evs := make([]models.RawEvent, 0, len(recs))

	for _, rec := range recs {
		userID, ok := idmap[rec.AccountID]
		if !ok {
			result.Skipped++
			continue
		}

		day, err := time.Parse(legacyDateLayout, rec.Date)
		if err != nil || rec.Hour < 0 || rec.Hour > 23 {
			result.Skipped++
			continue
		}

		count := rec.Count
		if count == 0 {
			count = 1
		}

		evs = append(evs, models.RawEvent{
			Platform:  platform,
			Scope:     rec.Scope,
			UserID:    userID,
			Activity:  rec.Activity,
			Increment: count,
			Time:      day.Add(time.Duration(rec.Hour) * time.Hour),
		})
	}

	if result.Skipped > 0 {
		m.metrics.ImportRecordsTotal.WithLabelValues("skipped").Add(float64(result.Skipped))
		m.logger.Info("legacy import skipped records",
			zap.Int("skipped", result.Skipped),
			zap.Int("total", len(recs)),
		)
	}

	result.add(m.MergeBatch(ctx, evs))
	return result
}

// Clear removes counters matching the query, or every counter when the
// query is empty. This is the explicit bulk-clear lifecycle operation;
// counters are never deleted any other way.
func (m *Merger) Clear(ctx context.Context, q store.CounterQuery) (int64, error) {
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	default:
	}

	removed, err := m.store.RemoveCounters(q)
	if err != nil {
		return 0, fmt.Errorf("clearing counters: %w", err)
	}

	// Reclaim freed pages after the bulk delete. Failure here does not undo
	// the clear; the pages are reclaimed on the next vacuum instead.
	if err := m.store.RunIncrementalVacuum(); err != nil {
		m.logger.Error("incremental vacuum after clear failed", zap.Error(err))
	}

	if total, err := m.store.CountCounters(); err == nil {
		m.metrics.CountersTracked.Set(float64(total))
	}

	m.logger.Info("counters cleared", zap.Int64("removed", removed))
	return removed, nil
}
