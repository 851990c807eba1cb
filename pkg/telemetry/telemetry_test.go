package telemetry_test

import (
	"testing"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/aretw0/formtree/pkg/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitor_Observe(t *testing.T) {
	reg := prometheus.NewRegistry()
	bus := events.NewBus()
	var got []domain.PerformanceEvent
	events.On(bus, events.PerformanceThreshold, func(e domain.PerformanceEvent) { got = append(got, e) })

	m, err := telemetry.New(reg, telemetry.Thresholds{Save: 10 * time.Millisecond}, telemetry.WithBus(bus))
	require.NoError(t, err)

	tests := []struct {
		name string
		op   telemetry.Operation
		d    time.Duration
		want bool
	}{
		{"under", telemetry.OpSave, 5 * time.Millisecond, false},
		{"over", telemetry.OpSave, 25 * time.Millisecond, true},
		{"disabled", telemetry.OpRender, time.Hour, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.Observe(tt.op, tt.d))
		})
	}

	require.Len(t, got, 1)
	assert.Equal(t, domain.PerformanceEvent{Metric: "save", Value: 25, Threshold: 10}, got[0])

	count, err := testutil.GatherAndCount(reg, "formtree_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per operation")
}

func TestMonitor_Memory(t *testing.T) {
	bus := events.NewBus()
	var fired int
	events.On(bus, events.PerformanceThreshold, func(e domain.PerformanceEvent) {
		fired++
		assert.Equal(t, telemetry.MetricMemory, e.Metric)
	})
	heap := uint64(100)
	m, err := telemetry.New(nil, telemetry.Thresholds{MemoryBytes: 150},
		telemetry.WithBus(bus), telemetry.WithHeapReader(func() uint64 { return heap }))
	require.NoError(t, err)

	_, over := m.CheckMemory()
	assert.False(t, over)
	heap = 200
	used, over := m.CheckMemory()
	assert.True(t, over)
	assert.Equal(t, uint64(200), used)
	assert.Equal(t, 1, fired)
}

func TestMonitor_SharedRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	a, err := telemetry.New(reg, telemetry.DefaultThresholds())
	require.NoError(t, err)
	b, err := telemetry.New(reg, telemetry.DefaultThresholds())
	require.NoError(t, err)

	a.Observe(telemetry.OpUpdate, time.Second)
	b.Observe(telemetry.OpUpdate, time.Second)

	count, err := testutil.GatherAndCount(reg, "formtree_threshold_exceeded_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMonitor_Timer(t *testing.T) {
	m, err := telemetry.New(nil, telemetry.Thresholds{Render: time.Nanosecond})
	require.NoError(t, err)
	timer := m.Start(telemetry.OpRender)
	time.Sleep(time.Millisecond)
	assert.Greater(t, timer.ObserveDuration(), time.Duration(0))
}
