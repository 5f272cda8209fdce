package names

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestValid(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		entityID string
		want     bool
	}{
		{"plain name", "Alice", "10001", true},
		{"empty", "", "10001", false},
		{"whitespace only", "   \t", "10001", false},
		{"equals entity id", "10001", "10001", false},
		{"contains entity id", "user-10001", "10001", false},
		{"filler only", "---", "10001", false},
		{"underscores and dots", "_._", "10001", false},
		{"wide characters", "张三", "10001", true},
		{"name with spaces", "Alice B", "10001", true},
		{"empty entity id", "Alice", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Valid(tt.input, tt.entityID))
		})
	}
}

func TestReconcile_RecencyWins(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	// Both valid: the more recent timestamp wins.
	assert.Equal(t, "Bob", Reconcile("Alice", "Bob", t1, t2, "10001"))
	assert.Equal(t, "Alice", Reconcile("Alice", "Bob", t2, t1, "10001"))

	// Equal timestamps: incoming wins.
	assert.Equal(t, "Bob", Reconcile("Alice", "Bob", t1, t1, "10001"))
}

func TestReconcile_InvalidCandidates(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Hour)

	// Incoming name restating the entity's own ID keeps the existing name.
	assert.Equal(t, "Alice", Reconcile("Alice", "10001", t1, t2, "10001"))

	// Only incoming valid.
	assert.Equal(t, "Bob", Reconcile("", "Bob", t1, t2, "10001"))

	// Neither valid: never surface a raw ID as a name.
	assert.Equal(t, "", Reconcile("10001", "  ", t1, t2, "10001"))
}

func TestReconcile_TrimsResult(t *testing.T) {
	t1 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "Alice", Reconcile("", "  Alice  ", time.Time{}, t1, "10001"))
}
