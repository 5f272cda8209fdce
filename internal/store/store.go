// Package store defines the storage interface and implementations for the
// tally service. All persistent state for counters and rank snapshots flows
// through the Store interface.
package store

import (
	"errors"
	"time"

	"github.com/tallystack/tally/internal/models"
)

// ErrNotFound is returned when a lookup matches no rows. Callers that treat
// a missing row as an expected condition (e.g. "no baseline snapshot")
// should test for it with errors.Is.
var ErrNotFound = errors.New("store: not found")

// CounterQuery selects a subset of counter rows. Zero-valued fields are not
// applied. All constraints are conjunctive.
type CounterQuery struct {
	Platform string
	Scope    string
	UserID   string
	// Activity keeps only rows with this exact activity.
	Activity string
	// ExcludeActivity removes rows with this exact activity.
	ExcludeActivity string
}

// IsEmpty reports whether the query matches every row.
func (q CounterQuery) IsEmpty() bool {
	return q == CounterQuery{}
}

// Store defines the contract for persistent storage of counters and
// snapshots. Implementations must be safe for concurrent use by multiple
// goroutines and must serialize writes to the same counter row.
type Store interface {
	// Close releases any resources held by the database connection.
	Close() error

	// Ping verifies the database connection is still alive.
	Ping() error

	// GetCounter retrieves the counter identified by the composite key.
	// Returns ErrNotFound when the key has never been merged.
	GetCounter(key models.CounterKey) (*models.Counter, error)

	// CreateCounter persists a new counter row. The row's ID must be set.
	CreateCounter(c *models.Counter) error

	// UpdateCounter overwrites the mutable fields (count, last time, names)
	// of the counter identified by c.Key.
	UpdateCounter(c *models.Counter) error

	// UpsertCounters writes the given rows in a single transaction,
	// replacing count, last time, and names on composite-key conflict.
	UpsertCounters(cs []*models.Counter) error

	// ListCounters returns all counters matching the query.
	ListCounters(q CounterQuery) ([]*models.Counter, error)

	// RemoveCounters deletes all counters matching the query and returns
	// the number of rows removed. An empty query drops and recreates the
	// counters table instead of deleting row by row.
	RemoveCounters(q CounterQuery) (int64, error)

	// CountCounters returns the total number of counter rows.
	CountCounters() (int64, error)

	// InsertSnapshots writes snapshot rows in a single transaction. Rows
	// whose (counter, bucket) pair already exists are silently skipped;
	// existing snapshots are never overwritten.
	InsertSnapshots(rows []*models.Snapshot) error

	// SnapshotsAtBucket returns every snapshot recorded for the exact
	// time bucket.
	SnapshotsAtBucket(bucket time.Time) ([]*models.Snapshot, error)

	// LatestSnapshotAtOrBefore returns the counter's most recent snapshot
	// whose bucket does not exceed bound. Returns ErrNotFound when the
	// counter has no snapshot in that range.
	LatestSnapshotAtOrBefore(counterID string, bound time.Time) (*models.Snapshot, error)

	// RunIncrementalVacuum triggers an incremental vacuum to reclaim unused pages.
	RunIncrementalVacuum() error

	// GetDatabaseSizeBytes returns the current on-disk size of the database in bytes.
	GetDatabaseSizeBytes() (int64, error)
}
