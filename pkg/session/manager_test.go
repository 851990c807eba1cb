package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/formtree/pkg/adapters/memory"
	"github.com/aretw0/formtree/pkg/adapters/redis"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/session"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// SlowStore simulates latency to provoke race conditions if locking is missing.
type SlowStore struct {
	data   map[string]*domain.FormState
	mu     sync.Mutex
	active int
	peak   int
}

func (s *SlowStore) enter() func() {
	s.mu.Lock()
	s.active++
	if s.active > s.peak {
		s.peak = s.active
	}
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		s.active--
		s.mu.Unlock()
	}
}

func (s *SlowStore) Save(ctx context.Context, state *domain.FormState) error {
	defer s.enter()()
	time.Sleep(10 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.data == nil {
		s.data = make(map[string]*domain.FormState)
	}
	s.data[state.ID] = state.Clone()
	return nil
}

func (s *SlowStore) Load(ctx context.Context, formID string) (*domain.FormState, error) {
	defer s.enter()()
	time.Sleep(10 * time.Millisecond) // Simulate IO
	s.mu.Lock()
	defer s.mu.Unlock()

	if state, ok := s.data[formID]; ok {
		return state.Clone(), nil
	}
	return nil, domain.ErrFormNotFound
}

func (s *SlowStore) Delete(ctx context.Context, formID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, formID)
	return nil
}

func (s *SlowStore) List(ctx context.Context) ([]string, error) {
	return nil, nil
}

func TestManager_Locking(t *testing.T) {
	store := &SlowStore{}
	manager := session.NewManager(store)
	ctx := context.Background()
	id := "race-test"

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := manager.Save(ctx, domain.NewFormState(id, "updated", ""))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, store.peak, "writes to one form are serialized")
}

func TestManager_LoadOrCreate(t *testing.T) {
	// Verify atomic creation
	store := &SlowStore{}
	manager := session.NewManager(store)
	ctx := context.Background()
	id := "atomic-init"

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			state, err := manager.LoadOrCreate(ctx, id, "Salon")
			assert.NoError(t, err)
			assert.NotNil(t, state)
		}()
	}
	wg.Wait()

	state, err := manager.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "Salon", state.Name)
}

func TestManager_LoadMissing(t *testing.T) {
	manager := session.NewManager(memory.NewStore())
	_, err := manager.Load(context.Background(), "nope")
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}

func TestManager_OpenAndClose(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store)
	ctx := context.Background()

	ed, err := manager.Open(ctx, "salon")
	require.NoError(t, err)
	again, err := manager.Open(ctx, "salon")
	require.NoError(t, err)
	assert.Same(t, ed, again)
	assert.Equal(t, []string{"salon"}, manager.Opened())

	_, err = ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)

	require.NoError(t, manager.Close(ctx, "salon"))
	assert.Empty(t, manager.Opened())
	assert.NoError(t, manager.Close(ctx, "salon"), "closing twice is a no-op")

	stored, err := store.Load(ctx, "salon")
	require.NoError(t, err)
	assert.Len(t, stored.Nodes, 2)
}

func TestManager_DeleteDiscardsEditor(t *testing.T) {
	store := memory.NewStore()
	manager := session.NewManager(store)
	ctx := context.Background()

	_, err := manager.Open(ctx, "salon")
	require.NoError(t, err)
	require.NoError(t, manager.Delete(ctx, "salon"))

	_, ok := manager.Get("salon")
	assert.False(t, ok)
	_, err = store.Load(ctx, "salon")
	assert.ErrorIs(t, err, domain.ErrFormNotFound)
}

type failingStore struct {
	*memory.Store
	fail bool
}

func (s *failingStore) Save(ctx context.Context, state *domain.FormState) error {
	if s.fail {
		return errors.New("disk full")
	}
	return s.Store.Save(ctx, state)
}

func TestManager_CloseAllReportsFlushErrors(t *testing.T) {
	store := &failingStore{Store: memory.NewStore()}
	manager := session.NewManager(store)
	ctx := context.Background()

	a, err := manager.Open(ctx, "a")
	require.NoError(t, err)
	_, err = manager.Open(ctx, "b")
	require.NoError(t, err)
	_, err = a.AddNode(ctx, a.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)

	store.fail = true
	err = manager.CloseAll(ctx)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, manager.Opened())
}

func TestManager_Pull(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	writer := session.NewManager(store)
	reader := session.NewManager(store, session.WithPull(10*time.Millisecond))
	t.Cleanup(func() { _ = reader.CloseAll(ctx) })

	view, err := reader.Open(ctx, "salon")
	require.NoError(t, err)

	ed, err := writer.Open(ctx, "salon")
	require.NoError(t, err)
	_, err = ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)
	require.NoError(t, writer.Close(ctx, "salon"))

	assert.Eventually(t, func() bool { return len(view.State().Nodes) == 2 }, time.Second, 5*time.Millisecond)
	assert.False(t, view.IsDirty())
}

func TestPullResolver(t *testing.T) {
	local := domain.NewFormState("f", "local", "")
	remote := domain.NewFormState("f", "remote", "")

	assert.Same(t, remote, session.PullResolver(local, remote))
	local.IsDirty = true
	assert.Same(t, local, session.PullResolver(local, remote))
}

func TestManager_DistributedLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	locker := redis.NewLocker(client, "formtree:")
	manager := session.NewManager(memory.NewStore(), session.WithLocker(locker), session.WithLockTTL(time.Second))
	ctx := context.Background()

	err := manager.WithLock(ctx, "salon", func(ctx context.Context) error {
		assert.True(t, mr.Exists("formtree:lock:salon"))
		return nil
	})
	require.NoError(t, err)
	assert.False(t, mr.Exists("formtree:lock:salon"))

	// A lock held elsewhere blocks until the context gives up.
	unlock, err := locker.Lock(ctx, "salon", time.Second)
	require.NoError(t, err)
	defer func() { _ = unlock(ctx) }()

	short, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = manager.WithLock(short, "salon", func(context.Context) error { return nil })
	assert.Error(t, err)
}
