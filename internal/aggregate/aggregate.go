// Package aggregate turns flat counter rows into display-ready rankings:
// it groups counters by a chosen dimension, applies allow/deny substring
// filters, optionally merges command activities by prefix, sorts, and
// paginates.
package aggregate

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/tallystack/tally/internal/models"
)

// GroupBy selects the grouping dimension for a ranking view.
type GroupBy string

// Grouping dimensions.
const (
	GroupByUser     GroupBy = "user"
	GroupByScope    GroupBy = "scope"
	GroupByActivity GroupBy = "activity"
)

// SortBy selects the ordering of a ranking view.
type SortBy string

// Sort orders. Count and time sort descending, key sorts ascending.
const (
	SortByCount SortBy = "count"
	SortByTime  SortBy = "time"
	SortByKey   SortBy = "key"
)

// Options configures one aggregation. The zero value groups by user and
// sorts by count.
type Options struct {
	GroupBy GroupBy
	SortBy  SortBy

	// Allow, if non-empty, keeps only counters whose identifying string
	// contains one of its substrings; when Allow is non-empty Deny is not
	// applied. Deny, if non-empty, removes counters matching any of its
	// substrings.
	Allow []string
	Deny  []string

	// MergePrefix truncates activity names at the first "." before
	// grouping, so "foo.sub1" and "foo.sub2" aggregate as "foo". Only
	// meaningful when grouping by activity.
	MergePrefix bool

	// Page is 1-based and clamped into [1, TotalPages].
	Page     int
	PageSize int

	// Limit caps the result size before pagination math. 0 means no cap.
	Limit int

	// SkipPaging returns all items as a single page.
	SkipPaging bool
}

// Group is one aggregated row of a ranking view.
type Group struct {
	// Key is the group's identity: user ID, scope ID, or activity name.
	Key string
	// DisplayName is the resolved name when one is known, otherwise Key.
	DisplayName string
	Count       uint64
	LastTime    time.Time
}

// Result is a paginated ranking view.
type Result struct {
	Items      []Group
	Page       int
	TotalPages int
	TotalItems int
}

// Aggregate groups, filters, sorts, and paginates the given counters.
func Aggregate(counters []*models.Counter, opts Options) Result {
	if opts.GroupBy == "" {
		opts.GroupBy = GroupByUser
	}
	if opts.SortBy == "" {
		opts.SortBy = SortByCount
	}

	acc := make(map[string]*Group)
	// nameTimes tracks, per group, the timestamp attached to the resolved
	// name currently held, independent of the group's overall LastTime.
	nameTimes := make(map[string]time.Time)
	var order []string

	for _, c := range counters {
		if !passesFilters(c, opts) {
			continue
		}

		key, name, ok := groupIdentity(c, opts)
		if !ok {
			continue
		}

		g, exists := acc[key]
		if !exists {
			g = &Group{Key: key}
			acc[key] = g
			order = append(order, key)
		}
		g.Count += c.Count
		if c.LastTime.After(g.LastTime) {
			g.LastTime = c.LastTime
		}
		// A resolved name always beats the raw key regardless of member
		// order; between two resolved names the more recent one wins, with
		// ties going to the later member.
		if name != key {
			unresolved := g.DisplayName == "" || g.DisplayName == g.Key
			if unresolved || !c.LastTime.Before(nameTimes[key]) {
				g.DisplayName = name
				nameTimes[key] = c.LastTime
			}
		}
		if g.DisplayName == "" {
			g.DisplayName = key
		}
	}

	items := make([]Group, 0, len(order))
	for _, key := range order {
		items = append(items, *acc[key])
	}

	sortGroups(items, opts.SortBy)

	// The cap applies before pagination math.
	if opts.Limit > 0 && len(items) > opts.Limit {
		items = items[:opts.Limit]
	}

	totalItems := len(items)

	if opts.SkipPaging {
		return Result{Items: items, Page: 1, TotalPages: 1, TotalItems: totalItems}
	}

	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = totalItems
		if pageSize == 0 {
			pageSize = 1
		}
	}

	totalPages := int(math.Ceil(float64(totalItems) / float64(pageSize)))
	if totalPages < 1 {
		totalPages = 1
	}

	page := opts.Page
	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * pageSize
	end := start + pageSize
	if start > totalItems {
		start = totalItems
	}
	if end > totalItems {
		end = totalItems
	}

	return Result{
		Items:      items[start:end],
		Page:       page,
		TotalPages: totalPages,
		TotalItems: totalItems,
	}
}

// passesFilters applies the allow/deny substring filters. A non-empty
// allow-list takes precedence and suppresses the deny-list entirely.
func passesFilters(c *models.Counter, opts Options) bool {
	subject := c.Key.String()
	if opts.GroupBy == GroupByActivity {
		subject = c.Key.Activity
	}

	if len(opts.Allow) > 0 {
		for _, want := range opts.Allow {
			if strings.Contains(subject, want) {
				return true
			}
		}
		return false
	}

	for _, avoid := range opts.Deny {
		if strings.Contains(subject, avoid) {
			return false
		}
	}
	return true
}

// groupIdentity derives the group key and candidate display name for a
// counter under the chosen dimension. ok is false when the counter is
// excluded from the view (the plain-message sentinel in activity views).
func groupIdentity(c *models.Counter, opts Options) (key, name string, ok bool) {
	switch opts.GroupBy {
	case GroupByActivity:
		if c.Key.IsMessage() {
			return "", "", false
		}
		activity := c.Key.Activity
		if opts.MergePrefix {
			if i := strings.Index(activity, "."); i >= 0 {
				activity = activity[:i]
			}
		}
		return activity, activity, true
	case GroupByScope:
		name := c.ScopeName
		if name == "" {
			name = c.Key.Scope
		}
		return c.Key.Scope, name, true
	default: // GroupByUser
		return c.Key.UserID, c.DisplayName(), true
	}
}

// sortGroups orders items by the requested field. Ties are left in input
// order; no secondary key is applied.
func sortGroups(items []Group, by SortBy) {
	switch by {
	case SortByTime:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].LastTime.After(items[j].LastTime)
		})
	case SortByKey:
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Key < items[j].Key
		})
	default: // SortByCount
		sort.SliceStable(items, func(i, j int) bool {
			return items[i].Count > items[j].Count
		})
	}
}
