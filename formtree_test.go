package formtree_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/formtree"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/aretw0/formtree/pkg/reconcile"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() formtree.Option {
	var mu sync.Mutex
	n := 0
	return formtree.WithIDGenerator(func() string {
		mu.Lock()
		defer mu.Unlock()
		n++
		return fmt.Sprintf("id-%d", n)
	})
}

// quietConfig disables the background timers so tests drive everything explicitly.
func quietConfig() formtree.Config {
	cfg := formtree.DefaultConfig()
	cfg.Autosave.Enabled = false
	cfg.Validation.Debounce = time.Hour
	cfg.Validation.BackgroundThreshold = 0
	return cfg
}

func newEditor(t *testing.T, initial any, opts ...formtree.Option) *formtree.Editor {
	t.Helper()
	opts = append([]formtree.Option{sequentialIDs(), formtree.WithConfig(quietConfig())}, opts...)
	ed, err := formtree.New(initial, opts...)
	require.NoError(t, err)
	t.Cleanup(ed.Close)
	return ed
}

func TestNew_Inputs(t *testing.T) {
	legacy := `{"id": "f1", "name": "Salon", "services": [{"id": "cut", "name": "Cut"}]}`
	current := domain.NewFormState("f2", "Clinic", "clinic")

	tests := []struct {
		name     string
		initial  any
		formID   string
		migrated bool
	}{
		{"nil", nil, "id-1", false},
		{"state", current, "f2", false},
		{"legacy bytes", []byte(legacy), "f1", true},
		{"legacy string", legacy, "f1", true},
		{"legacy map", map[string]any{"id": "f3", "name": "Spa"}, "f3", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ed := newEditor(t, tt.initial)
			assert.Equal(t, tt.formID, ed.FormID())
			assert.Equal(t, tt.migrated, ed.Migrated())
			assert.Equal(t, domain.DefaultRootID, ed.RootID())
		})
	}
}

func TestNew_RejectsBadInput(t *testing.T) {
	_, err := formtree.New(42)
	assert.ErrorIs(t, err, formtree.ErrUnsupportedInput)

	_, err = formtree.New([]byte(`{"foo": 1}`))
	assert.Error(t, err)

	broken := domain.NewFormState("f", "", "")
	broken.Root().ChildIDs = []string{"ghost"}
	_, err = formtree.New(broken)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestEditor_CascadeDeleteAndUndo(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, domain.NewFormState("f", "Salon", "salon"))

	group, err := ed.AddNode(ctx, ed.RootID(), &domain.GroupNode{Label: "Hair"})
	require.NoError(t, err)
	svc, err := ed.AddNode(ctx, group, &domain.ServiceNode{Label: "Cut", Attributes: map[string]any{"price": 30}})
	require.NoError(t, err)
	q1, err := ed.AddQuestion(ctx, svc, map[string]any{"label": "Name?"})
	require.NoError(t, err)
	_, err = ed.AddQuestion(ctx, svc, map[string]any{"label": "Phone?"})
	require.NoError(t, err)

	before := ed.State()

	require.NoError(t, ed.DeleteNode(ctx, group))
	st := ed.State()
	assert.Len(t, st.Nodes, 1)
	assert.Empty(t, st.Questions)
	assert.Empty(t, st.Root().ChildIDs)

	require.NoError(t, ed.Undo(ctx))
	after := ed.State()
	assert.True(t, domain.StructurallyEqual(before, after))
	require.NoError(t, domain.CheckInvariants(after))
	assert.Equal(t, 0, after.Questions[q1].Order)

	require.NoError(t, ed.Redo(ctx))
	assert.Len(t, ed.State().Nodes, 1)
}

func TestEditor_History(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, nil)

	assert.False(t, ed.CanUndo())
	_, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)
	_, err = ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Color"})
	require.NoError(t, err)

	descs, cursor := ed.History()
	assert.Len(t, descs, 2)
	assert.Equal(t, 1, cursor)

	require.NoError(t, ed.Undo(ctx))
	assert.True(t, ed.CanRedo())

	// A new command drops the redo branch.
	_, err = ed.AddNode(ctx, ed.RootID(), &domain.GroupNode{Label: "Extras"})
	require.NoError(t, err)
	assert.False(t, ed.CanRedo())
	descs, _ = ed.History()
	assert.Len(t, descs, 2)
}

func TestEditor_RejectedCommand(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, nil)
	svc, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)

	_, err = ed.AddNode(ctx, svc, &domain.GroupNode{Label: "Nested"})
	assert.Error(t, err, "services cannot hold children")
	_, err = ed.AddQuestion(ctx, ed.RootID(), map[string]any{"label": "x"})
	assert.Error(t, err)

	descs, _ := ed.History()
	assert.Len(t, descs, 1)
}

func TestEditor_Events(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, domain.NewFormState("f", "", ""))

	var names []domain.EventType
	ed.Bus().OnAny(func(e events.Event) { names = append(names, e.Type) })

	var added domain.NodeEvent
	events.On(ed.Bus(), events.NodeAdded, func(e domain.NodeEvent) { added = e })

	id, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)

	assert.Equal(t, domain.NodeEvent{FormID: "f", NodeID: id, ParentID: ed.RootID(), NodeType: domain.NodeTypeService}, added)
	assert.Equal(t, []domain.EventType{
		domain.EventNodeAdded,
		domain.EventFormChanged,
		domain.EventCommandExecuted,
	}, names)
	assert.True(t, ed.IsDirty())
}

func TestEditor_TreeAndDetails(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, nil)
	group, _ := ed.AddNode(ctx, ed.RootID(), &domain.GroupNode{Label: "Hair"})
	svc, _ := ed.AddNode(ctx, group, &domain.ServiceNode{Label: "Cut"})
	_, _ = ed.AddQuestion(ctx, svc, map[string]any{"label": "Name?"})

	tree := ed.Tree()
	require.Len(t, tree.Children, 1)
	require.Len(t, tree.Children[0].Children, 1)
	assert.Equal(t, "Cut", tree.Children[0].Children[0].DisplayLabel)
	assert.Equal(t, 1, tree.Children[0].Children[0].QuestionCount)

	details, ok := ed.NodeDetails(svc)
	require.True(t, ok)
	assert.Equal(t, group, details.Parent.Base().ID)
	assert.Len(t, ed.ServiceQuestions(svc), 1)
	assert.Equal(t, []string{ed.RootID(), group}, ed.Ancestors(svc))
}

func TestEditor_AutosaveRetries(t *testing.T) {
	ctx := context.Background()
	var calls atomic.Int32
	save := func(context.Context, *domain.FormState) error {
		if calls.Add(1) <= 2 {
			return errors.New("backend unavailable")
		}
		return nil
	}
	var failures atomic.Int32

	cfg := quietConfig()
	cfg.Autosave.Enabled = true
	cfg.Autosave.Debounce = 5 * time.Millisecond
	cfg.Autosave.RetryDelay = 5 * time.Millisecond
	cfg.Autosave.MaxRetries = 3

	ed := newEditor(t, nil,
		formtree.WithConfig(cfg),
		formtree.WithSave(save),
		formtree.WithOnError(func(error) { failures.Add(1) }),
	)
	var saved atomic.Int32
	events.On(ed.Bus(), events.FormSaved, func(domain.SaveEvent) { saved.Add(1) })

	_, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return saved.Load() == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, int32(2), failures.Load())
	assert.False(t, ed.IsDirty())
	assert.NotNil(t, ed.State().LastSaved)
}

func TestEditor_ForceSave(t *testing.T) {
	ctx := context.Background()
	var got *domain.FormState
	ed := newEditor(t, nil, formtree.WithSave(func(_ context.Context, st *domain.FormState) error {
		got = st
		return nil
	}))
	_, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)

	require.NoError(t, ed.ForceSave(ctx))
	require.NotNil(t, got)
	assert.Len(t, got.Nodes, 2)
	assert.False(t, ed.IsDirty())
}

func TestEditor_Validate(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, domain.NewFormState("f", "", ""))

	_, ok := ed.LastValidation()
	assert.False(t, ok)

	res, err := ed.Validate(ctx)
	require.NoError(t, err)
	assert.False(t, res.IsValid, "a form needs a name")

	latest, ok := ed.LastValidation()
	require.True(t, ok)
	assert.Equal(t, res.IsValid, latest.IsValid)
}

func TestEditor_SyncAdoptsRemoteAndClearsHistory(t *testing.T) {
	ctx := context.Background()
	remote := domain.NewFormState("f", "Remote", "remote")

	ed := newEditor(t, domain.NewFormState("f", "Local", "local"),
		formtree.WithSync(func(context.Context, *domain.FormState) (*domain.FormState, error) {
			return remote, nil
		}, nil),
	)
	_, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)
	require.True(t, ed.CanUndo())

	var reset int
	events.On(ed.Bus(), events.FormReset, func(domain.FormEvent) { reset++ })

	adopted, err := ed.SyncNow(ctx)
	require.NoError(t, err)
	assert.True(t, adopted)
	assert.Equal(t, "Remote", ed.State().Name)
	assert.False(t, ed.IsDirty())
	assert.False(t, ed.CanUndo())
	assert.Equal(t, 1, reset)
}

func TestEditor_SyncLocalWins(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, domain.NewFormState("f", "Local", "local"),
		formtree.WithSync(func(context.Context, *domain.FormState) (*domain.FormState, error) {
			return domain.NewFormState("f", "Remote", "remote"), nil
		}, reconcile.LocalWins),
	)
	_, err := ed.SyncNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, "Local", ed.State().Name)
}

func TestEditor_SyncDisabled(t *testing.T) {
	ed := newEditor(t, nil)
	adopted, err := ed.SyncNow(context.Background())
	assert.NoError(t, err)
	assert.False(t, adopted)
}

func TestEditor_Telemetry(t *testing.T) {
	ctx := context.Background()
	reg := prometheus.NewRegistry()
	cfg := quietConfig()
	cfg.Thresholds.Update = time.Nanosecond

	ed := newEditor(t, nil, formtree.WithConfig(cfg), formtree.WithRegistry(reg))
	var perf []domain.PerformanceEvent
	events.On(ed.Bus(), events.PerformanceThreshold, func(e domain.PerformanceEvent) { perf = append(perf, e) })

	_, err := ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})
	require.NoError(t, err)
	ed.Tree()

	count, err := testutil.GatherAndCount(reg, "formtree_operation_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "update and render")
	require.NotEmpty(t, perf)
	assert.Equal(t, "update", perf[0].Metric)
}

func TestEditor_Load(t *testing.T) {
	ctx := context.Background()
	ed := newEditor(t, nil)
	_, _ = ed.AddNode(ctx, ed.RootID(), &domain.ServiceNode{Label: "Cut"})

	assert.Error(t, ed.Load(nil))
	require.NoError(t, ed.Load(domain.NewFormState("other", "Other", "other")))
	assert.Equal(t, "other", ed.FormID())
	assert.False(t, ed.CanUndo())
	assert.False(t, ed.IsDirty())
}

func TestEditor_CloseIsIdempotent(t *testing.T) {
	ed, err := formtree.New(nil)
	require.NoError(t, err)
	ed.Close()
	ed.Close()
}
