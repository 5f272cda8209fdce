package aggregate

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tallystack/tally/internal/models"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func counter(platform, scope, user, activity string, count uint64, last time.Time) *models.Counter {
	return &models.Counter{
		ID:       fmt.Sprintf("%s-%s-%s-%s", platform, scope, user, activity),
		Key:      models.CounterKey{Platform: platform, Scope: scope, UserID: user, Activity: activity},
		Count:    count,
		LastTime: last,
	}
}

// ---------------------------------------------------------------------------
// Grouping
// ---------------------------------------------------------------------------

func TestAggregate_GroupByUserSumsAcrossScopes(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", models.ActivityMessage, 5, baseTime),
		counter("discord", "g2", "u1", models.ActivityMessage, 3, baseTime.Add(time.Hour)),
		counter("discord", "g1", "u2", models.ActivityMessage, 4, baseTime),
	}

	res := Aggregate(counters, Options{GroupBy: GroupByUser, SkipPaging: true})

	require.Len(t, res.Items, 2)
	assert.Equal(t, "u1", res.Items[0].Key)
	assert.Equal(t, uint64(8), res.Items[0].Count)
	assert.True(t, res.Items[0].LastTime.Equal(baseTime.Add(time.Hour)))
	assert.Equal(t, "u2", res.Items[1].Key)
	assert.Equal(t, uint64(4), res.Items[1].Count)
}

func TestAggregate_ConservesTotalCount(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", models.ActivityMessage, 5, baseTime),
		counter("discord", "g2", "u1", models.ActivityMessage, 3, baseTime),
		counter("telegram", "g3", "u2", models.ActivityMessage, 7, baseTime),
		counter("discord", "g1", "u3", models.ActivityMessage, 1, baseTime),
	}

	var want uint64
	for _, c := range counters {
		want += c.Count
	}

	for _, dim := range []GroupBy{GroupByUser, GroupByScope} {
		res := Aggregate(counters, Options{GroupBy: dim, SkipPaging: true})
		var got uint64
		for _, g := range res.Items {
			got += g.Count
		}
		assert.Equal(t, want, got, "dimension %s", dim)
	}
}

func TestAggregate_ActivityViewExcludesPlainMessages(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", models.ActivityMessage, 100, baseTime),
		counter("discord", "g1", "u1", "help", 3, baseTime),
		counter("discord", "g1", "u2", "help", 2, baseTime),
	}

	res := Aggregate(counters, Options{GroupBy: GroupByActivity, SkipPaging: true})

	require.Len(t, res.Items, 1)
	assert.Equal(t, "help", res.Items[0].Key)
	assert.Equal(t, uint64(5), res.Items[0].Count)
}

func TestAggregate_MergePrefix(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", "music.play", 4, baseTime),
		counter("discord", "g1", "u2", "music.skip", 2, baseTime),
		counter("discord", "g1", "u1", "help", 1, baseTime),
	}

	res := Aggregate(counters, Options{GroupBy: GroupByActivity, MergePrefix: true, SkipPaging: true})

	require.Len(t, res.Items, 2)
	assert.Equal(t, "music", res.Items[0].Key)
	assert.Equal(t, uint64(6), res.Items[0].Count)
	assert.Equal(t, "help", res.Items[1].Key)
}

func TestAggregate_DisplayNameIndependentOfInputOrder(t *testing.T) {
	named := counter("discord", "g1", "u1", models.ActivityMessage, 1, baseTime)
	named.UserName = "Alice"
	// The newer counter carries no resolved name.
	unnamed := counter("discord", "g2", "u1", models.ActivityMessage, 1, baseTime.Add(time.Hour))

	orders := [][]*models.Counter{
		{unnamed, named},
		{named, unnamed},
	}
	for _, counters := range orders {
		res := Aggregate(counters, Options{GroupBy: GroupByUser, SkipPaging: true})
		require.Len(t, res.Items, 1)
		// The resolved name beats the raw key no matter which member is
		// seen first.
		assert.Equal(t, "Alice", res.Items[0].DisplayName)
		assert.True(t, res.Items[0].LastTime.Equal(baseTime.Add(time.Hour)))
	}
}

func TestAggregate_MostRecentNameWins(t *testing.T) {
	older := counter("discord", "g1", "u1", models.ActivityMessage, 1, baseTime)
	older.UserName = "OldName"
	newer := counter("discord", "g2", "u1", models.ActivityMessage, 1, baseTime.Add(time.Hour))
	newer.UserName = "NewName"

	res := Aggregate([]*models.Counter{older, newer}, Options{GroupBy: GroupByUser, SkipPaging: true})

	require.Len(t, res.Items, 1)
	assert.Equal(t, "NewName", res.Items[0].DisplayName)
}

// ---------------------------------------------------------------------------
// Filters
// ---------------------------------------------------------------------------

func TestAggregate_AllowListTakesPrecedence(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", models.ActivityMessage, 1, baseTime),
		counter("discord", "g2", "u2", models.ActivityMessage, 1, baseTime),
	}

	// "g1" appears in both the allow-list and the deny-list; allow wins and
	// the deny-list is not consulted at all.
	res := Aggregate(counters, Options{
		GroupBy:    GroupByUser,
		Allow:      []string{"g1"},
		Deny:       []string{"g1"},
		SkipPaging: true,
	})

	require.Len(t, res.Items, 1)
	assert.Equal(t, "u1", res.Items[0].Key)
}

func TestAggregate_DenyList(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", models.ActivityMessage, 1, baseTime),
		counter("discord", "g2", "u2", models.ActivityMessage, 1, baseTime),
	}

	res := Aggregate(counters, Options{
		GroupBy:    GroupByUser,
		Deny:       []string{"g2"},
		SkipPaging: true,
	})

	require.Len(t, res.Items, 1)
	assert.Equal(t, "u1", res.Items[0].Key)
}

func TestAggregate_ActivityViewFiltersOnActivityName(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", "music.play", 1, baseTime),
		counter("discord", "g1", "u1", "help", 1, baseTime),
	}

	res := Aggregate(counters, Options{
		GroupBy:    GroupByActivity,
		Allow:      []string{"music"},
		SkipPaging: true,
	})

	require.Len(t, res.Items, 1)
	assert.Equal(t, "music.play", res.Items[0].Key)
}

// ---------------------------------------------------------------------------
// Sorting
// ---------------------------------------------------------------------------

func TestAggregate_SortOrders(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "b", models.ActivityMessage, 2, baseTime.Add(2*time.Hour)),
		counter("discord", "g1", "a", models.ActivityMessage, 5, baseTime),
		counter("discord", "g1", "c", models.ActivityMessage, 3, baseTime.Add(time.Hour)),
	}

	keysBy := func(by SortBy) []string {
		res := Aggregate(counters, Options{GroupBy: GroupByUser, SortBy: by, SkipPaging: true})
		keys := make([]string, len(res.Items))
		for i, g := range res.Items {
			keys[i] = g.Key
		}
		return keys
	}

	assert.Equal(t, []string{"a", "c", "b"}, keysBy(SortByCount))
	assert.Equal(t, []string{"b", "c", "a"}, keysBy(SortByTime))
	assert.Equal(t, []string{"a", "b", "c"}, keysBy(SortByKey))
}

// ---------------------------------------------------------------------------
// Pagination
// ---------------------------------------------------------------------------

func TestAggregate_PaginationIsComplete(t *testing.T) {
	var counters []*models.Counter
	for i := 0; i < 7; i++ {
		counters = append(counters, counter("discord", "g1", fmt.Sprintf("u%d", i), models.ActivityMessage, uint64(10-i), baseTime))
	}

	seen := map[string]bool{}
	for page := 1; ; page++ {
		res := Aggregate(counters, Options{GroupBy: GroupByUser, Page: page, PageSize: 3})
		assert.Equal(t, 3, res.TotalPages)
		assert.Equal(t, 7, res.TotalItems)
		for _, g := range res.Items {
			assert.False(t, seen[g.Key], "duplicate key across pages: %s", g.Key)
			seen[g.Key] = true
		}
		if page >= res.TotalPages {
			break
		}
	}
	assert.Len(t, seen, 7)
}

func TestAggregate_PageClamping(t *testing.T) {
	counters := []*models.Counter{
		counter("discord", "g1", "u1", models.ActivityMessage, 1, baseTime),
		counter("discord", "g1", "u2", models.ActivityMessage, 2, baseTime),
	}

	res := Aggregate(counters, Options{GroupBy: GroupByUser, Page: 99, PageSize: 1})
	assert.Equal(t, 2, res.Page)
	require.Len(t, res.Items, 1)

	res = Aggregate(counters, Options{GroupBy: GroupByUser, Page: -5, PageSize: 1})
	assert.Equal(t, 1, res.Page)
}

func TestAggregate_EmptyInputHasOnePage(t *testing.T) {
	res := Aggregate(nil, Options{GroupBy: GroupByUser, Page: 3, PageSize: 10})
	assert.Empty(t, res.Items)
	assert.Equal(t, 1, res.Page)
	assert.Equal(t, 1, res.TotalPages)
	assert.Equal(t, 0, res.TotalItems)
}

func TestAggregate_LimitAppliesBeforePaging(t *testing.T) {
	var counters []*models.Counter
	for i := 0; i < 10; i++ {
		counters = append(counters, counter("discord", "g1", fmt.Sprintf("u%d", i), models.ActivityMessage, uint64(20-i), baseTime))
	}

	res := Aggregate(counters, Options{GroupBy: GroupByUser, Limit: 4, Page: 1, PageSize: 3})
	assert.Equal(t, 4, res.TotalItems)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Items, 3)
	// The cap keeps the highest-ranked groups.
	assert.Equal(t, "u0", res.Items[0].Key)
}
