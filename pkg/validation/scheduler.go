package validation

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
)

// Source is the store surface the scheduler reads.
type Source interface {
	Snapshot() (*domain.FormState, uint64)
	Size() (nodes, questions int)
}

// SchedulerConfig tunes the scheduler.
type SchedulerConfig struct {
	Debounce time.Duration
	// BackgroundThreshold is the node+question count from which runs are
	// sent to the worker. Zero disables the worker path.
	BackgroundThreshold int
}

// DefaultSchedulerConfig returns a 500ms debounce with background runs from 200 entities.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{Debounce: 500 * time.Millisecond, BackgroundThreshold: 200}
}

// Scheduler debounces change notifications into validation runs.
type Scheduler struct {
	src    Source
	engine *Engine
	worker *Worker
	cfg    SchedulerConfig
	bus    *events.Bus
	logger *slog.Logger

	mu      sync.Mutex
	timer   *time.Timer
	latest  *Result
	version uint64
	closed  bool
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithBus publishes validation lifecycle events on b.
func WithBus(b *events.Bus) SchedulerOption {
	return func(s *Scheduler) { s.bus = b }
}

// WithSchedulerLogger sets the scheduler logger.
func WithSchedulerLogger(l *slog.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = l }
}

// NewScheduler creates a scheduler. A worker is started only when the
// configuration enables background runs.
func NewScheduler(src Source, engine *Engine, cfg SchedulerConfig, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		src:    src,
		engine: engine,
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if cfg.BackgroundThreshold > 0 {
		s.worker = NewWorker(engine)
	}
	return s
}

// Notify (re)starts the debounce timer.
func (s *Scheduler) Notify() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.cfg.Debounce, func() {
		_, _ = s.Run(context.Background())
	})
}

// Run validates the current state immediately.
func (s *Scheduler) Run(ctx context.Context) (Result, error) {
	state, version := s.src.Snapshot()
	nodes, questions := s.src.Size()
	background := s.worker != nil && nodes+questions >= s.cfg.BackgroundThreshold

	s.emit(events.ValidationStarted, domain.ValidationEvent{FormID: state.ID, Background: background})

	start := time.Now()
	var res Result
	var err error
	if background {
		res, err = s.worker.Validate(ctx, state)
	} else {
		res = s.engine.Validate(state)
	}
	elapsed := time.Since(start)

	if err != nil {
		s.logger.Warn("validation failed", "form_id", state.ID, "error", err)
		s.emit(events.ValidationFailed, domain.ValidationEvent{
			FormID:     state.ID,
			Background: background,
			Duration:   elapsed,
			Err:        err,
			Error:      err.Error(),
		})
		return Result{}, err
	}

	s.mu.Lock()
	if s.latest == nil || version >= s.version {
		s.latest = &res
		s.version = version
	}
	s.mu.Unlock()

	s.logger.Debug("validation completed", "form_id", state.ID, "valid", res.IsValid, "issues", len(res.Issues), "duration", elapsed)
	s.emit(events.ValidationCompleted, domain.ValidationEvent{
		FormID:      state.ID,
		IsValid:     res.IsValid,
		HasWarnings: res.HasWarnings,
		Issues:      res.Issues,
		Background:  background,
		Duration:    elapsed,
	})
	return res, nil
}

// Latest returns the most recent result, if any run completed.
func (s *Scheduler) Latest() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return Result{}, false
	}
	return *s.latest, true
}

// Close stops the timer and the worker.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	s.mu.Unlock()
	if s.worker != nil {
		s.worker.Close()
	}
}

func (s *Scheduler) emit(t events.Topic[domain.ValidationEvent], ev domain.ValidationEvent) {
	if s.bus != nil {
		events.Emit(s.bus, t, ev)
	}
}
