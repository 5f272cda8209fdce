//go:build integration

package integration_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/delta"
	"github.com/tallystack/tally/internal/merger"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/models"
	"github.com/tallystack/tally/internal/snapshot"
	"github.com/tallystack/tally/internal/store"
)

// testEnv holds the fully wired pipeline under test.
type testEnv struct {
	store    *store.SQLiteStore
	merger   *merger.Merger
	snapshot *snapshot.Engine
	delta    *delta.Engine
	clock    *clock.Mock
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	logger := zap.NewNop()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "tally.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	cfg := &config.Config{}
	cfg.Import.ChunkSize = 100
	cfg.Import.Concurrency = 5
	cfg.Snapshot.Granularity.Duration = time.Hour

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))

	m := metrics.NewMetrics(prometheus.NewRegistry())
	return &testEnv{
		store:    st,
		merger:   merger.NewMerger(st, cfg, m, logger),
		snapshot: snapshot.NewEngine(st, cfg, m, clk, logger),
		delta:    delta.NewEngine(st, cfg, m, clk, logger),
		clock:    clk,
	}
}

func (env *testEnv) record(t *testing.T, user string, count uint64) {
	t.Helper()
	err := env.merger.Merge(context.Background(), models.RawEvent{
		Platform:  "discord",
		Scope:     "g1",
		UserID:    user,
		Increment: count,
		Time:      env.clock.Now(),
	})
	require.NoError(t, err)
}

// TestMergeSnapshotDeltaFlow drives the full pipeline end to end: merge
// events, capture a snapshot, advance a day, merge more, capture again, and
// verify the resulting rank-change report.
func TestMergeSnapshotDeltaFlow(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	// Day one: alice leads.
	env.record(t, "alice", 10)
	env.record(t, "bob", 4)

	written, err := env.snapshot.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, written)

	// A second capture in the same bucket writes nothing.
	written, err = env.snapshot.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, written)

	// Day two: bob overtakes, and a new user appears.
	env.clock.Set(env.clock.Now().Add(24 * time.Hour))
	env.record(t, "bob", 20)
	env.record(t, "carol", 2)
	env.record(t, "alice", 5)

	written, err = env.snapshot.Capture(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, written)

	entries, err := env.delta.Compute(ctx, delta.Query{
		Platform:    "discord",
		Scope:       "g1",
		WindowHours: 24,
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	byUser := map[string]models.RankDelta{}
	for _, e := range entries {
		byUser[e.UserID] = e
	}

	bob := byUser["bob"]
	assert.Equal(t, uint64(24), bob.CurrentCount)
	assert.Equal(t, uint64(4), bob.PreviousCount)
	assert.Equal(t, int64(20), bob.CountDelta)
	assert.Equal(t, 1, bob.CurrentRank)
	require.NotNil(t, bob.PreviousRank)
	assert.Equal(t, 2, *bob.PreviousRank)
	assert.Equal(t, 1, bob.RankDelta)

	alice := byUser["alice"]
	assert.Equal(t, uint64(15), alice.CurrentCount)
	assert.Equal(t, int64(5), alice.CountDelta)
	assert.Equal(t, 2, alice.CurrentRank)
	assert.Equal(t, -1, alice.RankDelta)

	carol := byUser["carol"]
	assert.True(t, carol.IsNewEntrant())
	assert.Nil(t, carol.PreviousRank)
	assert.Equal(t, int64(2), carol.CountDelta)
	assert.Equal(t, 3, carol.CurrentRank)

	// The report is ordered by current rank.
	assert.Equal(t, "bob", entries[0].UserID)
	assert.Equal(t, "alice", entries[1].UserID)
	assert.Equal(t, "carol", entries[2].UserID)
}

// TestLegacyImportFlow verifies that coarse historical records flow through
// the identifier mapping into the same counters as live events.
func TestLegacyImportFlow(t *testing.T) {
	env := setupTestEnv(t)
	ctx := context.Background()

	env.record(t, "alice", 3)

	result := env.merger.ImportLegacy(ctx, []models.LegacyRecord{
		{AccountID: "acct-1", Scope: "g1", Count: 7, Date: "2024-06-15", Hour: 9},
		{AccountID: "acct-ghost", Scope: "g1", Count: 9, Date: "2024-06-15", Hour: 9},
	}, map[string]string{"acct-1": "alice"}, "discord")

	assert.Equal(t, 1, result.Imported)
	assert.Equal(t, 1, result.Skipped)

	c, err := env.store.GetCounter(models.CounterKey{
		Platform: "discord", Scope: "g1", UserID: "alice", Activity: models.ActivityMessage,
	})
	require.NoError(t, err)
	// Historical counts fold into the live counter; the live event's newer
	// timestamp stands.
	assert.Equal(t, uint64(10), c.Count)
	assert.True(t, c.LastTime.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)))
}
