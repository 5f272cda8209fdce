package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tallystack/tally/internal/config"
	"github.com/tallystack/tally/internal/metrics"
	"github.com/tallystack/tally/internal/store"
)

func newTestMonitor(t *testing.T, st store.Store) (*Monitor, *metrics.Metrics) {
	t.Helper()
	cfg := &config.Config{}
	cfg.Storage.VolumePath = t.TempDir()
	cfg.Storage.MonitorInterval.Duration = time.Minute
	cfg.Storage.WarningThreshold = 80
	cfg.Storage.CriticalThreshold = 90
	m := metrics.NewMetrics(prometheus.NewRegistry())
	return NewMonitor(st, cfg, m, zap.NewNop()), m
}

func TestCheck_UpdatesMetrics(t *testing.T) {
	st := new(store.MockStore)
	st.On("GetDatabaseSizeBytes").Return(int64(4096), nil).Once()
	st.On("CountCounters").Return(int64(17), nil).Once()

	mon, m := newTestMonitor(t, st)

	require.NoError(t, mon.Check(context.Background()))

	assert.Equal(t, float64(4096), testutil.ToFloat64(m.DBSizeBytes))
	assert.Equal(t, float64(17), testutil.ToFloat64(m.CountersTracked))
	assert.Greater(t, testutil.ToFloat64(m.StorageVolumeSizeBytes), float64(0))
	st.AssertExpectations(t)
}

func TestCheck_DatabaseSizeErrorIsNotFatal(t *testing.T) {
	st := new(store.MockStore)
	st.On("GetDatabaseSizeBytes").Return(int64(0), errors.New("db gone")).Once()
	st.On("CountCounters").Return(int64(0), nil).Once()

	mon, _ := newTestMonitor(t, st)

	assert.NoError(t, mon.Check(context.Background()))
}

func TestCheck_CancelledContext(t *testing.T) {
	st := new(store.MockStore)
	mon, _ := newTestMonitor(t, st)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, mon.Check(ctx), context.Canceled)
}

func TestEvaluatePressure(t *testing.T) {
	st := new(store.MockStore)
	mon, m := newTestMonitor(t, st)

	pressure := func(level string) float64 {
		return testutil.ToFloat64(m.StoragePressure.WithLabelValues(level))
	}

	mon.evaluatePressure(50)
	assert.Equal(t, float64(1), pressure("none"))
	assert.Equal(t, float64(0), pressure("warning"))
	assert.Equal(t, float64(0), pressure("critical"))

	mon.evaluatePressure(85)
	assert.Equal(t, float64(0), pressure("none"))
	assert.Equal(t, float64(1), pressure("warning"))

	mon.evaluatePressure(95)
	assert.Equal(t, float64(1), pressure("critical"))
	assert.Equal(t, float64(0), pressure("warning"))
}
