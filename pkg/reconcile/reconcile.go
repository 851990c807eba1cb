// Package reconcile periodically pushes the local form to a remote and adopts
// the remote version on conflict. Adopted states bypass the command history.
package reconcile

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

// SyncFunc pushes local and returns the remote view, or nil when the remote
// has nothing to offer.
type SyncFunc func(ctx context.Context, local *domain.FormState) (*domain.FormState, error)

// ConflictFunc reports whether local and remote disagree.
type ConflictFunc func(local, remote *domain.FormState) bool

// Resolver picks the state to adopt on conflict.
type Resolver func(local, remote *domain.FormState) *domain.FormState

// RemoteWins always adopts the remote state.
func RemoteWins(_, remote *domain.FormState) *domain.FormState { return remote }

// LocalWins keeps the local state.
func LocalWins(local, _ *domain.FormState) *domain.FormState { return local }

// Differs is the default conflict check: the states are not structurally equal.
func Differs(local, remote *domain.FormState) bool {
	return !domain.StructurallyEqual(local, remote)
}

// Target is the store surface the syncer needs.
type Target interface {
	Snapshot() (*domain.FormState, uint64)
	Reset(next *domain.FormState)
}

// Syncer runs reconciliation rounds.
type Syncer struct {
	target   Target
	sync     SyncFunc
	interval time.Duration

	conflict ConflictFunc
	resolve  Resolver
	onAdopt  func(*domain.FormState)
	bus      *events.Bus
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	round   sync.Mutex
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithConflict replaces the conflict check.
func WithConflict(fn ConflictFunc) Option {
	return func(s *Syncer) { s.conflict = fn }
}

// WithResolver replaces the conflict resolver.
func WithResolver(fn Resolver) Option {
	return func(s *Syncer) { s.resolve = fn }
}

// WithOnAdopt is called after a remote state was installed.
func WithOnAdopt(fn func(*domain.FormState)) Option {
	return func(s *Syncer) { s.onAdopt = fn }
}

// WithBus publishes form.synced and form.sync.failed on b.
func WithBus(b *events.Bus) Option {
	return func(s *Syncer) { s.bus = b }
}

// WithLogger sets the syncer logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) { s.logger = l }
}

// New creates a syncer. Call Start to run it periodically.
func New(target Target, fn SyncFunc, interval time.Duration, opts ...Option) *Syncer {
	s := &Syncer{
		target:   target,
		sync:     fn,
		interval: interval,
		conflict: Differs,
		resolve:  RemoteWins,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the ticker loop. It is a no-op if already running or if the interval is not positive.
func (s *Syncer) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running || s.interval <= 0 || s.sync == nil {
		return
	}
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.running = true
	go s.loop(ctx, s.done)
}

func (s *Syncer) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.SyncNow(ctx)
		}
	}
}

// Stop ends the loop and waits for it to exit.
func (s *Syncer) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	done := s.done
	s.mu.Unlock()
	<-done
}

// SyncNow runs one round and reports whether a remote state was adopted.
// Rounds never overlap.
func (s *Syncer) SyncNow(ctx context.Context) (bool, error) {
	if s.sync == nil {
		return false, nil
	}
	s.round.Lock()
	defer s.round.Unlock()

	local, _ := s.target.Snapshot()
	remote, err := s.call(ctx, local)
	if err != nil {
		s.logger.Warn("sync failed", "form_id", local.ID, "error", err)
		s.emit(events.FormSyncFailed, domain.SyncEvent{FormID: local.ID, Err: err, Error: err.Error()})
		return false, err
	}
	if remote == nil || !s.conflict(local, remote) {
		s.emit(events.FormSynced, domain.SyncEvent{FormID: local.ID})
		return false, nil
	}

	chosen := s.resolve(local, remote)
	if chosen == nil || domain.StructurallyEqual(local, chosen) {
		s.logger.Debug("sync conflict kept local state", "form_id", local.ID)
		s.emit(events.FormSynced, domain.SyncEvent{FormID: local.ID})
		return false, nil
	}
	if err := domain.CheckInvariants(chosen); err != nil {
		err = fmt.Errorf("remote state rejected: %w", err)
		s.logger.Error("sync produced an invalid state", "form_id", local.ID, "error", err)
		s.emit(events.FormSyncFailed, domain.SyncEvent{FormID: local.ID, Err: err, Error: err.Error()})
		return false, err
	}

	diff := domain.Diff(local, chosen)
	s.target.Reset(chosen)
	s.logger.Info("adopted remote form state", "form_id", local.ID,
		"added", len(diff.AddedNodes), "removed", len(diff.RemovedNodes), "changed", len(diff.ChangedNodes))
	if s.onAdopt != nil {
		s.onAdopt(chosen)
	}
	s.emit(events.FormSynced, domain.SyncEvent{FormID: local.ID, Adopted: true, Diff: diff})
	return true, nil
}

func (s *Syncer) call(ctx context.Context, local *domain.FormState) (remote *domain.FormState, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync panicked: %v", r)
		}
	}()
	return s.sync(ctx, local)
}

func (s *Syncer) emit(t events.Topic[domain.SyncEvent], ev domain.SyncEvent) {
	if s.bus != nil {
		events.Emit(s.bus, t, ev)
	}
}
