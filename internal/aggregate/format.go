package aggregate

import (
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-runewidth"
)

// FormatConfig controls fixed-width row rendering. Widths are measured in
// display columns: wide (east-asian) characters occupy two columns.
type FormatConfig struct {
	NameWidth  int
	CountWidth int
	// ShowRank renders a 1-based rank column instead of a recency column.
	ShowRank bool
	// Now anchors the recency column; ignored when ShowRank is set.
	Now time.Time
}

// FormatRows renders aggregated groups as fixed-width text rows of
// (displayName, count, recency-or-rank). Names longer than NameWidth are
// truncated with a ".." tail; counts are right-aligned.
func FormatRows(items []Group, cfg FormatConfig) []string {
	rows := make([]string, 0, len(items))
	for i, g := range items {
		name := g.DisplayName
		if name == "" {
			name = g.Key
		}
		name = runewidth.Truncate(name, cfg.NameWidth, "..")
		name = runewidth.FillRight(name, cfg.NameWidth)

		count := fmt.Sprintf("%d", g.Count)
		if pad := cfg.CountWidth - runewidth.StringWidth(count); pad > 0 {
			count = strings.Repeat(" ", pad) + count
		}

		tail := formatRecency(cfg.Now, g.LastTime)
		if cfg.ShowRank {
			tail = fmt.Sprintf("#%d", i+1)
		}

		rows = append(rows, name+" "+count+" "+tail)
	}
	return rows
}

// formatRecency renders the age of the last activity in its largest whole
// unit: "3d", "5h", "12m", or "now" for anything under a minute.
func formatRecency(now, last time.Time) string {
	if last.IsZero() {
		return "-"
	}
	age := now.Sub(last)
	switch {
	case age >= 24*time.Hour:
		return fmt.Sprintf("%dd", int(age.Hours())/24)
	case age >= time.Hour:
		return fmt.Sprintf("%dh", int(age.Hours()))
	case age >= time.Minute:
		return fmt.Sprintf("%dm", int(age.Minutes()))
	default:
		return "now"
	}
}
