// Package telemetry records operation timings as Prometheus histograms and
// publishes performance.threshold_exceeded when an operation or the heap goes
// over its configured ceiling.
package telemetry

import (
	"errors"
	"log/slog"
	"runtime"
	"time"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/prometheus/client_golang/prometheus"
)

// Operation names a timed editor operation.
type Operation string

const (
	OpRender     Operation = "render"
	OpUpdate     Operation = "update"
	OpValidation Operation = "validation"
	OpSave       Operation = "save"
)

// MetricMemory is the event metric name for the heap check.
const MetricMemory = "memory"

// Thresholds are the per-operation ceilings. A zero value disables the check.
type Thresholds struct {
	Render      time.Duration `yaml:"render"`
	Update      time.Duration `yaml:"update"`
	Validation  time.Duration `yaml:"validation"`
	Save        time.Duration `yaml:"save"`
	MemoryBytes uint64        `yaml:"memory_bytes"`
}

// DefaultThresholds returns a frame budget for render and looser budgets for the rest.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Render:      16 * time.Millisecond,
		Update:      100 * time.Millisecond,
		Validation:  500 * time.Millisecond,
		Save:        2 * time.Second,
		MemoryBytes: 256 << 20,
	}
}

func (t Thresholds) of(op Operation) time.Duration {
	switch op {
	case OpRender:
		return t.Render
	case OpUpdate:
		return t.Update
	case OpValidation:
		return t.Validation
	case OpSave:
		return t.Save
	}
	return 0
}

// Monitor measures operations against Thresholds.
type Monitor struct {
	thresholds Thresholds
	duration   *prometheus.HistogramVec
	exceeded   *prometheus.CounterVec
	heap       prometheus.Gauge

	bus     *events.Bus
	logger  *slog.Logger
	heapUse func() uint64
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithBus publishes threshold events on b.
func WithBus(b *events.Bus) Option {
	return func(m *Monitor) { m.bus = b }
}

// WithLogger sets the logger for threshold warnings.
func WithLogger(l *slog.Logger) Option {
	return func(m *Monitor) { m.logger = l }
}

// WithHeapReader overrides how heap usage is sampled.
func WithHeapReader(fn func() uint64) Option {
	return func(m *Monitor) { m.heapUse = fn }
}

// New creates a monitor and registers its collectors on reg. Collectors
// already registered by another monitor are reused, so several editors can
// share one registry. A nil reg keeps the collectors unregistered.
func New(reg prometheus.Registerer, th Thresholds, opts ...Option) (*Monitor, error) {
	m := &Monitor{
		thresholds: th,
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "formtree",
			Name:      "operation_duration_seconds",
			Help:      "Duration of editor operations.",
			Buckets:   []float64{.001, .005, .016, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"operation"}),
		exceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "formtree",
			Name:      "threshold_exceeded_total",
			Help:      "Operations that went over their configured threshold.",
		}, []string{"metric"}),
		heap: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "formtree",
			Name:      "heap_bytes",
			Help:      "Heap in use at the last memory check.",
		}),
		logger:  logging.NewNop(),
		heapUse: readHeap,
	}
	for _, opt := range opts {
		opt(m)
	}
	if reg == nil {
		return m, nil
	}

	var err error
	if m.duration, err = register(reg, m.duration); err != nil {
		return nil, err
	}
	if m.exceeded, err = register(reg, m.exceeded); err != nil {
		return nil, err
	}
	if m.heap, err = register(reg, m.heap); err != nil {
		return nil, err
	}
	return m, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// Observe records d for op and reports whether it exceeded the threshold.
func (m *Monitor) Observe(op Operation, d time.Duration) bool {
	m.duration.WithLabelValues(string(op)).Observe(d.Seconds())
	limit := m.thresholds.of(op)
	if limit <= 0 || d <= limit {
		return false
	}
	m.report(string(op), float64(d.Milliseconds()), float64(limit.Milliseconds()))
	return true
}

// Start returns a timer whose ObserveDuration records op.
//
//	defer monitor.Start(telemetry.OpSave).ObserveDuration()
func (m *Monitor) Start(op Operation) *prometheus.Timer {
	return prometheus.NewTimer(prometheus.ObserverFunc(func(seconds float64) {
		m.Observe(op, time.Duration(seconds*float64(time.Second)))
	}))
}

// CheckMemory samples heap usage and reports whether it is over the ceiling.
func (m *Monitor) CheckMemory() (uint64, bool) {
	used := m.heapUse()
	m.heap.Set(float64(used))
	if m.thresholds.MemoryBytes == 0 || used <= m.thresholds.MemoryBytes {
		return used, false
	}
	m.report(MetricMemory, float64(used), float64(m.thresholds.MemoryBytes))
	return used, true
}

// Thresholds returns the configured ceilings.
func (m *Monitor) Thresholds() Thresholds { return m.thresholds }

func (m *Monitor) report(metric string, value, limit float64) {
	m.exceeded.WithLabelValues(metric).Inc()
	m.logger.Warn("performance threshold exceeded", "metric", metric, "value", value, "threshold", limit)
	if m.bus != nil {
		events.Emit(m.bus, events.PerformanceThreshold, domain.PerformanceEvent{
			Metric:    metric,
			Value:     value,
			Threshold: limit,
		})
	}
}

func readHeap() uint64 {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return ms.HeapAlloc
}
