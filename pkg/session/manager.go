package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"log/slog"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager orchestrates form access, ensuring safe concurrent operations.
// It uses Reference Counting to garbage collect unused locks, and keeps one
// Editor per open form.
type Manager struct {
	store ports.FormStore

	mu    sync.Mutex            // Global lock for the maps
	locks map[string]*lockEntry // Map of active locks
	open  map[string]*formtree.Editor

	locker     ports.DistributedLocker // Optional distributed locker
	lockTTL    time.Duration
	editorOpts []formtree.Option
	pull       time.Duration
	logger     *slog.Logger // Logger for internal events (like deferred errors)
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL overrides DefaultLockTTL.
func WithLockTTL(ttl time.Duration) Option {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithEditorOptions are applied to every editor opened by the manager.
func WithEditorOptions(opts ...formtree.Option) Option {
	return func(m *Manager) {
		m.editorOpts = append(m.editorOpts, opts...)
	}
}

// WithPull makes open editors reconcile against the store every interval,
// picking up versions saved by other replicas. See PullResolver.
func WithPull(interval time.Duration) Option {
	return func(m *Manager) {
		m.pull = interval
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a new Manager with the given persistence store.
func NewManager(store ports.FormStore, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		open:    make(map[string]*formtree.Editor),
		lockTTL: DefaultLockTTL,
		logger:  logging.NewNop(), // Default to no-op
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(formID) after unlocking.
func (m *Manager) acquire(formID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[formID]
	if !exists {
		entry = &lockEntry{}
		m.locks[formID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(formID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[formID]
	if !exists {
		return // Should not happen if paired correctly
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, formID)
	}
}

// Load retrieves an existing form from the store.
func (m *Manager) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	var state *domain.FormState
	err := m.WithLock(ctx, formID, func(ctx context.Context) error {
		var err error
		state, err = m.store.Load(ctx, formID)
		return err
	})
	return state, err
}

// LoadOrCreate tries to load a form. If not found, it initializes an empty one named name.
func (m *Manager) LoadOrCreate(ctx context.Context, formID, name string) (*domain.FormState, error) {
	var state *domain.FormState
	err := m.WithLock(ctx, formID, func(ctx context.Context) error {
		var err error
		state, err = m.loadOrCreate(ctx, formID, name)
		return err
	})
	return state, err
}

func (m *Manager) loadOrCreate(ctx context.Context, formID, name string) (*domain.FormState, error) {
	state, err := m.store.Load(ctx, formID)
	if err == nil {
		return state, nil
	}
	if !errors.Is(err, domain.ErrFormNotFound) {
		return nil, fmt.Errorf("failed to check form existence: %w", err)
	}

	state = domain.NewFormState(formID, name, "")
	// Persist immediately to reserve the ID
	if err := m.store.Save(ctx, state); err != nil {
		return nil, fmt.Errorf("failed to initialize form: %w", err)
	}
	return state, nil
}

// Save persists the form state.
func (m *Manager) Save(ctx context.Context, state *domain.FormState) error {
	return m.WithLock(ctx, state.ID, func(ctx context.Context) error {
		return m.store.Save(ctx, state)
	})
}

// Delete closes the form's editor without saving and removes the form from the store.
func (m *Manager) Delete(ctx context.Context, formID string) error {
	if ed := m.detach(formID); ed != nil {
		ed.Close()
	}
	return m.WithLock(ctx, formID, func(ctx context.Context) error {
		return m.store.Delete(ctx, formID)
	})
}

// List delegates to the store.
func (m *Manager) List(ctx context.Context) ([]string, error) {
	return m.store.List(ctx)
}

// Store returns the underlying form store.
func (m *Manager) Store() ports.FormStore {
	return m.store
}

// Open returns the editor for formID, loading or creating the form on first use.
// Editors save through the manager, so writes take the same locks as Save.
func (m *Manager) Open(ctx context.Context, formID string) (*formtree.Editor, error) {
	return m.openEditor(ctx, formID, true)
}

// OpenExisting is Open for stored forms only. It returns
// domain.ErrFormNotFound instead of creating the form.
func (m *Manager) OpenExisting(ctx context.Context, formID string) (*formtree.Editor, error) {
	return m.openEditor(ctx, formID, false)
}

func (m *Manager) openEditor(ctx context.Context, formID string, create bool) (*formtree.Editor, error) {
	if ed, ok := m.Get(formID); ok {
		return ed, nil
	}

	var ed *formtree.Editor
	err := m.WithLock(ctx, formID, func(ctx context.Context) error {
		if existing, ok := m.Get(formID); ok {
			ed = existing
			return nil
		}
		var state *domain.FormState
		var err error
		if create {
			state, err = m.loadOrCreate(ctx, formID, "")
		} else {
			state, err = m.store.Load(ctx, formID)
		}
		if err != nil {
			return err
		}

		opts := append([]formtree.Option{
			formtree.WithLogger(m.logger),
			formtree.WithSave(m.Save),
		}, m.editorOpts...)
		if m.pull > 0 {
			opts = append(opts,
				formtree.WithSync(m.pullFunc, PullResolver),
				formtree.WithSyncInterval(m.pull),
			)
		}
		ed, err = formtree.New(state, opts...)
		if err != nil {
			return fmt.Errorf("failed to open form %q: %w", formID, err)
		}

		m.mu.Lock()
		m.open[formID] = ed
		m.mu.Unlock()
		m.logger.Debug("form opened", "form_id", formID)
		return nil
	})
	return ed, err
}

// Get returns the editor of an open form.
func (m *Manager) Get(formID string) (*formtree.Editor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ed, ok := m.open[formID]
	return ed, ok
}

// Opened returns the ids of the open forms, sorted.
func (m *Manager) Opened() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.open))
	for id := range m.open {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close flushes unsaved changes of an open form and stops its editor.
// Closing a form that is not open is a no-op.
func (m *Manager) Close(ctx context.Context, formID string) error {
	ed := m.detach(formID)
	if ed == nil {
		return nil
	}
	defer ed.Close()
	if !ed.IsDirty() {
		return nil
	}
	if err := ed.ForceSave(ctx); err != nil {
		return fmt.Errorf("failed to flush form %q: %w", formID, err)
	}
	return nil
}

// CloseAll closes every open form and joins their flush errors.
func (m *Manager) CloseAll(ctx context.Context) error {
	var errs []error
	for _, id := range m.Opened() {
		if err := m.Close(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) detach(formID string) *formtree.Editor {
	m.mu.Lock()
	defer m.mu.Unlock()
	ed := m.open[formID]
	delete(m.open, formID)
	return ed
}

// pullFunc reads the stored copy as the remote view of an open form.
func (m *Manager) pullFunc(ctx context.Context, local *domain.FormState) (*domain.FormState, error) {
	remote, err := m.Load(ctx, local.ID)
	if errors.Is(err, domain.ErrFormNotFound) {
		return nil, nil
	}
	return remote, err
}

// PullResolver adopts the stored copy only while the local form has no
// unsaved edits, so pulling never discards local work.
func PullResolver(local, remote *domain.FormState) *domain.FormState {
	if local.IsDirty {
		return local
	}
	return remote
}

// WithLock executes a function while holding the lock for the form.
func (m *Manager) WithLock(ctx context.Context, formID string, fn func(context.Context) error) error {
	entry := m.acquire(formID)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(formID)
	}()

	// Distributed Locking
	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, formID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"form_id", formID,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
