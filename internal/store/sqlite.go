package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
	"go.uber.org/zap"

	"github.com/tallystack/tally/internal/models"
)

// SQLiteStore implements the Store interface using SQLite with the
// go-sqlite3 driver.
type SQLiteStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Ensure SQLiteStore satisfies the Store interface at compile time.
var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (or creates) a SQLite database at dbPath, applies
// PRAGMAs for WAL mode, incremental auto-vacuum, foreign keys, and a busy
// timeout, then creates the counters and snapshots tables and their indexes
// if they do not already exist.
func NewSQLiteStore(dbPath string, logger *zap.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}

	// Limit to a single connection so WAL mode works correctly for an
	// embedded database and writes to the same counter row serialize on
	// the connection rather than racing.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.applyPragmas(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	logger.Info("SQLite store initialised", zap.String("path", dbPath))
	return s, nil
}

// applyPragmas sets the SQLite PRAGMAs required for correct operation.
func (s *SQLiteStore) applyPragmas() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("pragma %q: %w", p, err)
		}
	}
	return nil
}

const createCountersTable = `
CREATE TABLE IF NOT EXISTS counters (
    id         TEXT PRIMARY KEY,
    platform   TEXT NOT NULL,
    scope      TEXT NOT NULL,
    user_id    TEXT NOT NULL,
    activity   TEXT NOT NULL,
    count      INTEGER NOT NULL DEFAULT 0,
    last_time  TEXT NOT NULL,
    user_name  TEXT NOT NULL DEFAULT '',
    scope_name TEXT NOT NULL DEFAULT '',
    UNIQUE (platform, scope, user_id, activity)
);`

const createSnapshotsTable = `
CREATE TABLE IF NOT EXISTS snapshots (
    counter_id  TEXT NOT NULL,
    time_bucket TEXT NOT NULL,
    count       INTEGER NOT NULL,
    rank        INTEGER NOT NULL,
    PRIMARY KEY (counter_id, time_bucket)
);`

// createSchema creates the counters and snapshots tables and all supporting
// indexes.
func (s *SQLiteStore) createSchema() error {
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_counters_activity ON counters (activity, platform, scope);`,
		`CREATE INDEX IF NOT EXISTS idx_counters_scope ON counters (platform, scope);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_bucket ON snapshots (time_bucket);`,
	}

	if _, err := s.db.Exec(createCountersTable); err != nil {
		return fmt.Errorf("create counters table: %w", err)
	}
	if _, err := s.db.Exec(createSnapshotsTable); err != nil {
		return fmt.Errorf("create snapshots table: %w", err)
	}

	for _, idx := range indexes {
		if _, err := s.db.Exec(idx); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping() error {
	return s.db.Ping()
}

const counterColumns = `id, platform, scope, user_id, activity, count, last_time, user_name, scope_name`

// GetCounter retrieves the counter identified by the composite key.
func (s *SQLiteStore) GetCounter(key models.CounterKey) (*models.Counter, error) {
	query := `SELECT ` + counterColumns + `
FROM counters WHERE platform = ? AND scope = ? AND user_id = ? AND activity = ?`

	c, err := scanCounter(s.db.QueryRow(query, key.Platform, key.Scope, key.UserID, key.Activity))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get counter: %w", err)
	}
	return c, nil
}

// CreateCounter inserts a new counter row.
func (s *SQLiteStore) CreateCounter(c *models.Counter) error {
	const query = `
INSERT INTO counters (id, platform, scope, user_id, activity, count, last_time, user_name, scope_name)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.Exec(query,
		c.ID,
		c.Key.Platform,
		c.Key.Scope,
		c.Key.UserID,
		c.Key.Activity,
		int64(c.Count),
		formatTime(c.LastTime),
		c.UserName,
		c.ScopeName,
	)
	if err != nil {
		return fmt.Errorf("create counter: %w", err)
	}
	return nil
}

// UpdateCounter overwrites the mutable fields of the counter identified by
// c.Key.
func (s *SQLiteStore) UpdateCounter(c *models.Counter) error {
	const query = `
UPDATE counters SET count = ?, last_time = ?, user_name = ?, scope_name = ?
WHERE platform = ? AND scope = ? AND user_id = ? AND activity = ?`

	_, err := s.db.Exec(query,
		int64(c.Count),
		formatTime(c.LastTime),
		c.UserName,
		c.ScopeName,
		c.Key.Platform,
		c.Key.Scope,
		c.Key.UserID,
		c.Key.Activity,
	)
	if err != nil {
		return fmt.Errorf("update counter: %w", err)
	}
	return nil
}

// UpsertCounters writes the given rows in a single transaction. On
// composite-key conflict the count, last time, and names are replaced with
// the incoming values; the original row ID is kept.
func (s *SQLiteStore) UpsertCounters(cs []*models.Counter) error {
	if len(cs) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	const query = `
INSERT INTO counters (id, platform, scope, user_id, activity, count, last_time, user_name, scope_name)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (platform, scope, user_id, activity) DO UPDATE SET
    count = excluded.count,
    last_time = excluded.last_time,
    user_name = excluded.user_name,
    scope_name = excluded.scope_name`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range cs {
		_, err := stmt.Exec(
			c.ID,
			c.Key.Platform,
			c.Key.Scope,
			c.Key.UserID,
			c.Key.Activity,
			int64(c.Count),
			formatTime(c.LastTime),
			c.UserName,
			c.ScopeName,
		)
		if err != nil {
			return fmt.Errorf("upsert counter %s: %w", c.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit upsert: %w", err)
	}
	return nil
}

// ListCounters returns all counters matching the query.
func (s *SQLiteStore) ListCounters(q CounterQuery) ([]*models.Counter, error) {
	where, args := buildCounterWhere(q)
	query := `SELECT ` + counterColumns + ` FROM counters` + where + ` ORDER BY id`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list counters: %w", err)
	}
	defer rows.Close()

	var results []*models.Counter
	for rows.Next() {
		c, err := scanCounter(rows)
		if err != nil {
			return nil, fmt.Errorf("scan counter row: %w", err)
		}
		results = append(results, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// RemoveCounters deletes all counters matching the query. When the query is
// empty the counters table is dropped and recreated, which is much cheaper
// than a full-table DELETE on large databases.
func (s *SQLiteStore) RemoveCounters(q CounterQuery) (int64, error) {
	if q.IsEmpty() {
		total, err := s.CountCounters()
		if err != nil {
			return 0, err
		}
		if _, err := s.db.Exec(`DROP TABLE IF EXISTS counters`); err != nil {
			return 0, fmt.Errorf("drop counters table: %w", err)
		}
		if err := s.createSchema(); err != nil {
			return 0, fmt.Errorf("recreate counters table: %w", err)
		}
		s.logger.Info("counters table dropped and recreated", zap.Int64("removed", total))
		return total, nil
	}

	where, args := buildCounterWhere(q)
	res, err := s.db.Exec(`DELETE FROM counters`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("remove counters: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return n, nil
}

// CountCounters returns the total number of counter rows.
func (s *SQLiteStore) CountCounters() (int64, error) {
	var n int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM counters`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count counters: %w", err)
	}
	return n, nil
}

// InsertSnapshots writes snapshot rows in a single transaction. INSERT OR
// IGNORE guards the (counter_id, time_bucket) primary key, so an existing
// snapshot for the same bucket is never overwritten or duplicated.
func (s *SQLiteStore) InsertSnapshots(rows []*models.Snapshot) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin snapshot insert: %w", err)
	}
	defer tx.Rollback()

	const query = `
INSERT OR IGNORE INTO snapshots (counter_id, time_bucket, count, rank)
VALUES (?, ?, ?, ?)`

	stmt, err := tx.Prepare(query)
	if err != nil {
		return fmt.Errorf("prepare snapshot insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.Exec(row.CounterID, formatTime(row.TimeBucket), int64(row.Count), row.Rank); err != nil {
			return fmt.Errorf("insert snapshot for counter %s: %w", row.CounterID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit snapshot insert: %w", err)
	}
	return nil
}

// SnapshotsAtBucket returns every snapshot recorded for the exact time bucket.
func (s *SQLiteStore) SnapshotsAtBucket(bucket time.Time) ([]*models.Snapshot, error) {
	const query = `
SELECT counter_id, time_bucket, count, rank FROM snapshots WHERE time_bucket = ?`

	rows, err := s.db.Query(query, formatTime(bucket))
	if err != nil {
		return nil, fmt.Errorf("snapshots at bucket: %w", err)
	}
	defer rows.Close()

	var results []*models.Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot row: %w", err)
		}
		results = append(results, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration: %w", err)
	}
	return results, nil
}

// LatestSnapshotAtOrBefore returns the counter's most recent snapshot whose
// bucket does not exceed bound. RFC3339 UTC strings sort chronologically, so
// the string comparison is a time comparison.
func (s *SQLiteStore) LatestSnapshotAtOrBefore(counterID string, bound time.Time) (*models.Snapshot, error) {
	const query = `
SELECT counter_id, time_bucket, count, rank FROM snapshots
WHERE counter_id = ? AND time_bucket <= ?
ORDER BY time_bucket DESC
LIMIT 1`

	snap, err := scanSnapshot(s.db.QueryRow(query, counterID, formatTime(bound)))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snap, nil
}

// RunIncrementalVacuum triggers an incremental vacuum to reclaim unused pages.
func (s *SQLiteStore) RunIncrementalVacuum() error {
	_, err := s.db.Exec("PRAGMA incremental_vacuum")
	if err != nil {
		return fmt.Errorf("incremental vacuum: %w", err)
	}
	return nil
}

// GetDatabaseSizeBytes returns the current size of the database in bytes,
// computed as page_count * page_size.
func (s *SQLiteStore) GetDatabaseSizeBytes() (int64, error) {
	var pageCount int64
	if err := s.db.QueryRow("PRAGMA page_count").Scan(&pageCount); err != nil {
		return 0, fmt.Errorf("page_count: %w", err)
	}

	var pageSize int64
	if err := s.db.QueryRow("PRAGMA page_size").Scan(&pageSize); err != nil {
		return 0, fmt.Errorf("page_size: %w", err)
	}

	return pageCount * pageSize, nil
}

// ---------------------------------------------------------------------------
// Internal helpers
// ---------------------------------------------------------------------------

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanCounter scans a single row into a Counter.
func scanCounter(row scanner) (*models.Counter, error) {
	var c models.Counter
	var count int64
	var lastTime string

	err := row.Scan(
		&c.ID,
		&c.Key.Platform,
		&c.Key.Scope,
		&c.Key.UserID,
		&c.Key.Activity,
		&count,
		&lastTime,
		&c.UserName,
		&c.ScopeName,
	)
	if err != nil {
		return nil, err
	}

	c.Count = uint64(count)
	c.LastTime, err = time.Parse(time.RFC3339, lastTime)
	if err != nil {
		return nil, fmt.Errorf("parse last_time: %w", err)
	}
	return &c, nil
}

// scanSnapshot scans a single row into a Snapshot.
func scanSnapshot(row scanner) (*models.Snapshot, error) {
	var snap models.Snapshot
	var count int64
	var bucket string

	if err := row.Scan(&snap.CounterID, &bucket, &count, &snap.Rank); err != nil {
		return nil, err
	}

	snap.Count = uint64(count)
	t, err := time.Parse(time.RFC3339, bucket)
	if err != nil {
		return nil, fmt.Errorf("parse time_bucket: %w", err)
	}
	snap.TimeBucket = t
	return &snap, nil
}

// buildCounterWhere translates a CounterQuery into a WHERE clause.
func buildCounterWhere(q CounterQuery) (string, []interface{}) {
	var conds []string
	var args []interface{}

	if q.Platform != "" {
		conds = append(conds, "platform = ?")
		args = append(args, q.Platform)
	}
	if q.Scope != "" {
		conds = append(conds, "scope = ?")
		args = append(args, q.Scope)
	}
	if q.UserID != "" {
		conds = append(conds, "user_id = ?")
		args = append(args, q.UserID)
	}
	if q.Activity != "" {
		conds = append(conds, "activity = ?")
		args = append(args, q.Activity)
	}
	if q.ExcludeActivity != "" {
		conds = append(conds, "activity != ?")
		args = append(args, q.ExcludeActivity)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// formatTime serialises a timestamp as an RFC3339 UTC string.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
