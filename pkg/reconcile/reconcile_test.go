package reconcile_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/aretw0/formtree/pkg/reconcile"
	"github.com/aretw0/formtree/pkg/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func remoteWithService(t *testing.T, local *domain.FormState) *domain.FormState {
	t.Helper()
	remote := local.Clone()
	remote.Root().ChildIDs = append(remote.Root().ChildIDs, "remote-svc")
	remote.Nodes["remote-svc"] = &domain.ServiceNode{
		NodeBase: domain.NodeBase{ID: "remote-svc", ParentID: remote.RootID},
		Label:    "Added elsewhere",
	}
	return remote
}

func TestSyncer_RemoteWinsByDefault(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	s.AddNode("root", &domain.GroupNode{Label: "local"})
	bus := events.NewBus()
	var synced []domain.SyncEvent
	events.On(bus, events.FormSynced, func(e domain.SyncEvent) { synced = append(synced, e) })

	var adopted *domain.FormState
	syncer := reconcile.New(s, func(_ context.Context, local *domain.FormState) (*domain.FormState, error) {
		return remoteWithService(t, local), nil
	}, time.Hour, reconcile.WithBus(bus), reconcile.WithOnAdopt(func(st *domain.FormState) { adopted = st }))

	ok, err := syncer.SyncNow(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, adopted)

	st, _ := s.Snapshot()
	assert.Contains(t, st.Nodes, "remote-svc")
	assert.False(t, st.IsDirty, "adopted state counts as saved")
	require.Len(t, synced, 1)
	assert.Equal(t, []string{"remote-svc"}, synced[0].Diff.AddedNodes)
}

func TestSyncer_NoConflict(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	before := s.Version()
	syncer := reconcile.New(s, func(_ context.Context, local *domain.FormState) (*domain.FormState, error) {
		return local.Clone(), nil
	}, time.Hour)

	ok, err := syncer.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, before, s.Version())
}

func TestSyncer_CustomResolverAndComparator(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	fn := func(_ context.Context, local *domain.FormState) (*domain.FormState, error) {
		return remoteWithService(t, local), nil
	}

	keep := reconcile.New(s, fn, time.Hour, reconcile.WithResolver(reconcile.LocalWins))
	ok, err := keep.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	never := reconcile.New(s, fn, time.Hour, reconcile.WithConflict(func(_, _ *domain.FormState) bool { return false }))
	ok, err = never.SyncNow(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)

	_, found := s.Node("remote-svc")
	assert.False(t, found)
}

func TestSyncer_RejectsInvalidRemote(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	syncer := reconcile.New(s, func(_ context.Context, local *domain.FormState) (*domain.FormState, error) {
		broken := local.Clone()
		broken.Root().ChildIDs = []string{"ghost"}
		return broken, nil
	}, time.Hour)

	_, err := syncer.SyncNow(context.Background())
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestSyncer_PeriodicAndFailures(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	bus := events.NewBus()
	var failures, calls atomic.Int32
	events.On(bus, events.FormSyncFailed, func(domain.SyncEvent) { failures.Add(1) })

	syncer := reconcile.New(s, func(context.Context, *domain.FormState) (*domain.FormState, error) {
		calls.Add(1)
		return nil, errors.New("offline")
	}, 10*time.Millisecond, reconcile.WithBus(bus))

	syncer.Start(context.Background())
	require.Eventually(t, func() bool { return calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	syncer.Stop()

	n := calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, n, calls.Load(), "no rounds after Stop")
	assert.Equal(t, n, failures.Load())
}
