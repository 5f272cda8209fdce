// Package models defines the data structures used throughout the tally service.
package models

import (
	"fmt"
	"time"
)

// Reserved sentinel values used inside counter keys.
const (
	// ActivityMessage is the activity name recorded for plain messages, as
	// opposed to named commands.
	ActivityMessage = "__message__"

	// ScopePrivate is the scope recorded for activity that happens outside
	// any group (direct / private context).
	ScopePrivate = "__private__"
)

// CounterKey is the composite key identifying a single counter row.
type CounterKey struct {
	Platform string `json:"platform"`
	Scope    string `json:"scope"`
	UserID   string `json:"user_id"`
	Activity string `json:"activity"`
}

// String returns the canonical "platform:scope:user" form of the key, used
// by allow/deny substring filters. The activity is deliberately not part of
// this form; activity filters match on the activity name alone.
func (k CounterKey) String() string {
	return fmt.Sprintf("%s:%s:%s", k.Platform, k.Scope, k.UserID)
}

// IsMessage reports whether this key counts plain messages.
func (k CounterKey) IsMessage() bool {
	return k.Activity == ActivityMessage
}

// Counter is the canonical per-(platform, scope, user, activity)
// accumulator row. It mirrors the counters database table.
type Counter struct {
	ID        string     `json:"id"`
	Key       CounterKey `json:"key"`
	Count     uint64     `json:"count"`
	LastTime  time.Time  `json:"last_time"`
	UserName  string     `json:"user_name,omitempty"`
	ScopeName string     `json:"scope_name,omitempty"`
}

// DisplayName returns the resolved user name if one is known, otherwise the
// raw user identifier.
func (c *Counter) DisplayName() string {
	if c.UserName != "" {
		return c.UserName
	}
	return c.Key.UserID
}

// Snapshot is an immutable, time-bucketed capture of a counter's count and
// rank within its (platform, scope) group. Unique per (CounterID, TimeBucket).
type Snapshot struct {
	CounterID  string    `json:"counter_id"`
	TimeBucket time.Time `json:"time_bucket"`
	Count      uint64    `json:"count"`
	Rank       int       `json:"rank"`
}

// RankDelta is one entry of a derived, non-persisted comparison between a
// counter's current snapshot and a historical baseline.
type RankDelta struct {
	CounterID    string `json:"counter_id"`
	UserID       string `json:"user_id"`
	DisplayName  string `json:"display_name"`
	CurrentCount uint64 `json:"current_count"`
	// PreviousCount is 0 when no snapshot exists at or before the baseline.
	PreviousCount uint64 `json:"previous_count"`
	// CountDelta may be negative if the underlying counter was reset.
	CountDelta  int64 `json:"count_delta"`
	CurrentRank int   `json:"current_rank"`
	// PreviousRank is nil for a new entrant (no snapshot at or before the
	// baseline bucket).
	PreviousRank *int `json:"previous_rank,omitempty"`
	// RankDelta is previousRank - currentRank; positive means the counter
	// rose in rank. Zero when PreviousRank is nil.
	RankDelta int `json:"rank_delta"`
}

// IsNewEntrant reports whether the counter had no snapshot at or before the
// baseline bucket.
func (d *RankDelta) IsNewEntrant() bool {
	return d.PreviousRank == nil
}

// RawEvent is a single activity event handed to the merger, either live
// from the host dispatcher or replayed from an import.
type RawEvent struct {
	Platform  string    `json:"platform"`
	Scope     string    `json:"scope"`
	UserID    string    `json:"user_id"`
	Activity  string    `json:"activity"`
	Increment uint64    `json:"increment"`
	Time      time.Time `json:"time"`
	UserName  string    `json:"user_name,omitempty"`
	ScopeName string    `json:"scope_name,omitempty"`
}

// Key returns the composite counter key this event folds into.
func (e *RawEvent) Key() CounterKey {
	return CounterKey{
		Platform: e.Platform,
		Scope:    e.Scope,
		UserID:   e.UserID,
		Activity: e.Activity,
	}
}

// LegacyRecord is one row of a coarse historical export: the event time is
// only known to a date plus an hour-of-day bucket, and the user is
// identified by an account ID that must be translated through a mapping
// table before it becomes a platform-scoped user ID.
type LegacyRecord struct {
	AccountID string `json:"account_id"`
	Scope     string `json:"scope"`
	Activity  string `json:"activity"`
	Count     uint64 `json:"count"`
	Date      string `json:"date"` // "2006-01-02"
	Hour      int    `json:"hour"` // 0-23
}

// HealthResponse is returned by the /healthz liveness endpoint.
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadinessResponse is returned by the /ready readiness endpoint.
type ReadinessResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}
