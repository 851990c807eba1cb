package store

import (
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/google/uuid"
)

// Change describes one applied mutation. Kind reuses the event vocabulary.
type Change struct {
	Kind       domain.EventType
	Version    uint64
	NodeID     string
	NodeType   domain.NodeType
	ParentID   string
	QuestionID string
	ServiceID  string
	// Dirty is the dirty flag after the change.
	Dirty bool
}

// Store is the sole owner of a FormState.
// Every mutation is synchronous, bumps the version and notifies subscribers
// after the lock is released. Reads return deep copies.
type Store struct {
	mu      sync.RWMutex
	state   *domain.FormState
	version uint64

	subMu   sync.Mutex
	subs    map[int]func(Change)
	nextSub int

	newID  func() string
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the id allocator (uuid v4 by default).
func WithIDGenerator(fn func() string) Option {
	return func(s *Store) { s.newID = fn }
}

// WithClock overrides the time source used for save timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger for rejected mutations.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store holding a copy of initial.
// A nil initial state yields an empty form with a single root.
func New(initial *domain.FormState, opts ...Option) *Store {
	if initial == nil {
		initial = domain.NewFormState("", "", "")
	}
	s := &Store{
		state:  initial.Clone(),
		subs:   make(map[int]func(Change)),
		newID:  uuid.NewString,
		now:    time.Now,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe registers fn for every applied change and returns its cancel func.
func (s *Store) Subscribe(fn func(Change)) func() {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		delete(s.subs, id)
	}
}

func (s *Store) notify(c Change) {
	s.subMu.Lock()
	fns := make([]func(Change), 0, len(s.subs))
	for i := 0; i < s.nextSub; i++ {
		if fn, ok := s.subs[i]; ok {
			fns = append(fns, fn)
		}
	}
	s.subMu.Unlock()

	for _, fn := range fns {
		s.safeCall(fn, c)
	}
}

func (s *Store) safeCall(fn func(Change), c Change) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("store subscriber panicked", "kind", c.Kind, "panic", r)
		}
	}()
	fn(c)
}

// mutate runs fn under the write lock. When fn reports success the version
// is bumped, the state is marked dirty and subscribers are notified.
func (s *Store) mutate(fn func(st *domain.FormState) (Change, bool)) (Change, bool) {
	s.mu.Lock()
	c, ok := fn(s.state)
	if ok {
		s.version++
		s.state.IsDirty = true
		c.Version = s.version
		c.Dirty = true
	}
	s.mu.Unlock()

	if ok {
		s.notify(c)
	}
	return c, ok
}

func (s *Store) reject(op string, args ...any) {
	s.logger.Debug("store mutation rejected", append([]any{"op", op}, args...)...)
}

// Snapshot returns a deep copy of the state together with the version it reflects.
func (s *Store) Snapshot() (*domain.FormState, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone(), s.version
}

// Read runs fn under the read lock with the live state and its version.
// fn must not retain or modify the state, and must not call back into the store.
func (s *Store) Read(fn func(st *domain.FormState, version uint64)) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn(s.state, s.version)
}

// Version changes on every structural mutation and on Reset.
func (s *Store) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// IsDirty reports whether there are unsaved changes.
func (s *Store) IsDirty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.IsDirty
}

// FormID returns the id of the held form.
func (s *Store) FormID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.ID
}

// RootID returns the id of the root node.
func (s *Store) RootID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.RootID
}

// Node returns a copy of the node with the given id.
func (s *Store) Node(id string) (domain.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.state.Nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Question returns a copy of the question with the given id.
func (s *Store) Question(id string) (*domain.Question, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.state.Questions[id]
	if !ok {
		return nil, false
	}
	return q.Clone(), true
}

// Size returns the number of nodes and questions.
func (s *Store) Size() (nodes, questions int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.state.Nodes), len(s.state.Questions)
}

// Reset replaces the whole state, e.g. after load or when adopting a remote version.
// The new state is considered saved.
func (s *Store) Reset(next *domain.FormState) {
	s.mu.Lock()
	s.state = next.Clone()
	if s.state.Nodes == nil {
		s.state.Nodes = make(domain.NodeMap)
	}
	if s.state.Questions == nil {
		s.state.Questions = make(map[string]*domain.Question)
	}
	s.state.IsDirty = false
	now := s.now()
	s.state.LastSaved = &now
	s.version++
	c := Change{Kind: domain.EventFormReset, Version: s.version}
	s.mu.Unlock()

	s.notify(c)
}

// SetDirty forces the dirty flag without touching the structure.
func (s *Store) SetDirty(dirty bool) {
	s.mu.Lock()
	s.state.IsDirty = dirty
	c := Change{Kind: domain.EventFormChanged, Version: s.version, Dirty: dirty}
	s.mu.Unlock()

	s.notify(c)
}

// MarkSaved clears the dirty flag and stamps the save time.
func (s *Store) MarkSaved() {
	s.mu.Lock()
	v := s.version
	s.mu.Unlock()
	s.MarkSavedAt(v)
}

// MarkSavedAt clears the dirty flag only if no mutation happened since
// version was observed. It always refreshes the save timestamp and reports
// whether the state is now clean.
func (s *Store) MarkSavedAt(version uint64) bool {
	s.mu.Lock()
	now := s.now()
	s.state.LastSaved = &now
	clean := s.version == version
	if clean {
		s.state.IsDirty = false
	}
	c := Change{Kind: domain.EventFormSaved, Version: s.version, Dirty: s.state.IsDirty}
	s.mu.Unlock()

	s.notify(c)
	return clean
}
