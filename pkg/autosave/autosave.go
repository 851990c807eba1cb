// Package autosave persists the form after edits settle.
//
// The Controller debounces change notifications, keeps at most one save in
// flight, and retries failed saves with exponential backoff.
package autosave

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
)

// SaveFunc persists a snapshot of the form.
type SaveFunc func(ctx context.Context, state *domain.FormState) error

// Source is the store surface the controller needs.
type Source interface {
	Snapshot() (*domain.FormState, uint64)
	Version() uint64
	IsDirty() bool
	MarkSavedAt(version uint64) bool
}

// Config tunes the controller.
type Config struct {
	Enabled    bool
	Debounce   time.Duration
	MaxRetries int
	RetryDelay time.Duration
	// Timeout bounds a single save call. Zero means no bound.
	Timeout time.Duration
}

// DefaultConfig returns the defaults: enabled, 2s debounce, 3 retries from 1s.
func DefaultConfig() Config {
	return Config{
		Enabled:    true,
		Debounce:   2 * time.Second,
		MaxRetries: 3,
		RetryDelay: time.Second,
	}
}

// SaveError describes a failed save attempt.
type SaveError struct {
	Attempt  int
	Retrying bool
	Cause    error
}

func (e *SaveError) Error() string {
	return fmt.Sprintf("save attempt %d failed: %v", e.Attempt, e.Cause)
}

func (e *SaveError) Unwrap() error {
	return e.Cause
}

// Controller schedules saves of a Source.
type Controller struct {
	src  Source
	save SaveFunc
	cfg  Config

	bus     *events.Bus
	onError func(error)
	logger  *slog.Logger

	mu       sync.Mutex
	timer    *time.Timer
	saving   bool
	done     chan struct{}
	failures int
	pending  bool
	closed   bool
}

// Option configures a Controller.
type Option func(*Controller)

// WithBus publishes form.saved and form.save.failed on b.
func WithBus(b *events.Bus) Option {
	return func(c *Controller) { c.bus = b }
}

// WithErrorHandler is called after every failed attempt.
func WithErrorHandler(fn func(error)) Option {
	return func(c *Controller) { c.onError = fn }
}

// WithLogger sets the controller logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// New creates a controller. Nothing is saved until Notify or ForceSave.
func New(src Source, save SaveFunc, cfg Config, opts ...Option) *Controller {
	c := &Controller{
		src:    src,
		save:   save,
		cfg:    cfg,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Notify signals a change. It (re)starts the debounce timer when the source is dirty.
func (c *Controller) Notify() {
	if !c.cfg.Enabled || c.save == nil || !c.src.IsDirty() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.failures > c.cfg.MaxRetries {
		// A new edit re-arms a controller that gave up.
		c.failures = 0
	}
	if c.saving {
		c.pending = true
	}
	c.scheduleLocked(c.cfg.Debounce)
}

func (c *Controller) scheduleLocked(d time.Duration) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(d, c.fire)
}

func (c *Controller) fire() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	if c.saving {
		c.pending = true
		c.mu.Unlock()
		return
	}
	c.beginLocked()
	c.mu.Unlock()

	_ = c.run(context.Background(), true)
}

// ForceSave waits for any in-flight save, then saves immediately.
// Pending timers are cancelled. The save error, if any, is returned.
func (c *Controller) ForceSave(ctx context.Context) error {
	if c.save == nil {
		return nil
	}
	c.mu.Lock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	for c.saving {
		done := c.done
		c.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		c.mu.Lock()
	}
	if c.timer != nil {
		// A completion may have scheduled a trailing save; this call covers it.
		c.timer.Stop()
		c.timer = nil
	}
	c.beginLocked()
	c.mu.Unlock()

	return c.run(ctx, false)
}

// Saving reports whether a save is in flight.
func (c *Controller) Saving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.saving
}

// Close stops pending timers. In-flight saves complete normally.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Controller) beginLocked() {
	c.saving = true
	c.pending = false
	c.done = make(chan struct{})
}

// run performs one save attempt and schedules follow-ups.
// Retries are scheduled only for timer-driven saves.
func (c *Controller) run(ctx context.Context, retry bool) error {
	state, version := c.src.Snapshot()

	saveCtx := ctx
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		saveCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	start := time.Now()
	err := c.callSave(saveCtx, state)
	elapsed := time.Since(start)

	// The source notifies its subscribers synchronously, which may call
	// back into Notify, so it is updated before taking the lock.
	clean := false
	if err == nil {
		clean = c.src.MarkSavedAt(version)
	}

	c.mu.Lock()
	c.saving = false
	close(c.done)

	if err == nil {
		attempt := c.failures + 1
		c.failures = 0
		trailing := !c.closed && (!clean || c.pending) && c.cfg.Enabled
		if trailing {
			c.scheduleLocked(c.cfg.Debounce)
		}
		c.mu.Unlock()

		c.logger.Debug("form saved", "form_id", state.ID, "duration", elapsed, "trailing", trailing)
		if c.bus != nil {
			events.Emit(c.bus, events.FormSaved, domain.SaveEvent{FormID: state.ID, Attempt: attempt, Duration: elapsed})
		}
		return nil
	}

	c.failures++
	attempt := c.failures
	retrying := retry && !c.closed && attempt <= c.cfg.MaxRetries
	if retrying {
		c.scheduleLocked(c.backoff(attempt))
	}
	c.mu.Unlock()

	saveErr := &SaveError{Attempt: attempt, Retrying: retrying, Cause: err}
	if retrying {
		c.logger.Warn("save failed, retrying", "form_id", state.ID, "attempt", attempt, "error", err)
	} else {
		c.logger.Error("save failed", "form_id", state.ID, "attempt", attempt, "error", err)
	}
	if c.bus != nil {
		events.Emit(c.bus, events.FormSaveFailed, domain.SaveEvent{
			FormID:   state.ID,
			Attempt:  attempt,
			Duration: elapsed,
			Err:      saveErr,
			Error:    saveErr.Error(),
		})
	}
	if c.onError != nil {
		c.onError(saveErr)
	}
	return saveErr
}

// backoff returns RetryDelay * 2^(attempt-1).
func (c *Controller) backoff(attempt int) time.Duration {
	return c.cfg.RetryDelay * time.Duration(1<<(attempt-1))
}

func (c *Controller) callSave(ctx context.Context, state *domain.FormState) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("save panicked: %v", r)
		}
	}()
	return c.save(ctx, state)
}
