package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMetrics_RegistersCollectors(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := NewMetrics(registry)
	require.NotNil(t, m)

	m.EventsMergedTotal.WithLabelValues("discord", "message").Inc()
	m.CountersTracked.Set(42)
	m.SnapshotRowsWritten.Add(3)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.EventsMergedTotal.WithLabelValues("discord", "message")))
	assert.Equal(t, float64(42), testutil.ToFloat64(m.CountersTracked))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.SnapshotRowsWritten))

	// Everything landed in the provided registry.
	families, err := registry.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNewMetrics_DuplicateRegistrationPanics(t *testing.T) {
	registry := prometheus.NewRegistry()
	NewMetrics(registry)

	assert.Panics(t, func() {
		NewMetrics(registry)
	})
}
