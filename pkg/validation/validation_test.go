package validation_test

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/events"
	"github.com/aretw0/formtree/pkg/store"
	"github.com/aretw0/formtree/pkg/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_EmptyNameAndBadSlug(t *testing.T) {
	st := domain.NewFormState("f", "", "Invalid Slug!")

	res := validation.NewEngine(validation.DefaultRuleset()).Validate(st)

	require.Len(t, res.Errors(), 2)
	assert.Equal(t, "name", res.Errors()[0].Field)
	assert.Equal(t, "slug", res.Errors()[1].Field)
	assert.Contains(t, res.Errors()[1].Message, "lowercase")
	require.Len(t, res.Warnings(), 1)
	assert.Equal(t, "nodes", res.Warnings()[0].Field)
	assert.False(t, res.IsValid)
	assert.True(t, res.HasWarnings)
}

func TestEngine_RootTitleClearedUnderNamedForm(t *testing.T) {
	st := domain.NewFormState("f", "Salon", "salon")
	st.Root().Title = ""

	res := validation.NewEngine(validation.DefaultRuleset()).Validate(st)

	require.Len(t, res.Errors(), 1)
	assert.Equal(t, "node:"+st.RootID, res.Errors()[0].Path)
	assert.Equal(t, "title", res.Errors()[0].Field)
}

func TestEngine_NodeAndQuestionRules(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	g := s.AddNode("root", &domain.GroupNode{Label: "Hair"})
	empty := s.AddNode("root", &domain.GroupNode{})
	svc := s.AddNode(g, &domain.ServiceNode{Label: "Cut", Attributes: map[string]any{"price": "-5", "duration": "0"}})
	q := s.AddQuestion(svc, map[string]any{"type": "text"})
	st, _ := s.Snapshot()

	res := validation.NewEngine(validation.DefaultRuleset()).Validate(st)

	type key struct{ path, field string }
	got := map[key]domain.Severity{}
	for _, i := range res.Issues {
		got[key{i.Path, i.Field}] = i.Severity
	}
	assert.Equal(t, map[key]domain.Severity{
		{"node:" + empty, "label"}:             domain.SeverityError,
		{"node:" + empty, "childIds"}:          domain.SeverityWarning,
		{"node:" + svc, "attributes.duration"}: domain.SeverityError,
		{"node:" + svc, "attributes.price"}:    domain.SeverityError,
		{"question:" + q, "config.label"}:      domain.SeverityError,
	}, got)

	// Issues follow tree pre-order: the group g and its service come before the empty group.
	assert.Equal(t, "node:"+svc, res.Issues[0].Path)
	assert.Equal(t, "question:"+q, res.Issues[len(res.Issues)-1].Path)
}

func TestEngine_UndecodableAttributes(t *testing.T) {
	st := domain.NewFormState("f", "Salon", "salon")
	st.Root().ChildIDs = []string{"s"}
	st.Nodes["s"] = &domain.ServiceNode{
		NodeBase:   domain.NodeBase{ID: "s", ParentID: "root"},
		Label:      "Cut",
		Attributes: map[string]any{"duration": "forty"},
	}

	res := validation.NewEngine(validation.DefaultRuleset()).Validate(st)
	require.Len(t, res.Errors(), 1)
	assert.Equal(t, "attributes", res.Errors()[0].Field)
}

func TestEngine_PanickingRuleBecomesError(t *testing.T) {
	rules := validation.DefaultRuleset().With([]validation.FieldRule{{
		Field:    "theme",
		Severity: domain.SeverityWarning,
		Check:    func(any, *domain.FormState) string { panic("broken rule") },
	}}, nil, nil)
	st := domain.NewFormState("f", "Salon", "salon")

	res := validation.NewEngine(rules).Validate(st)
	var found bool
	for _, i := range res.Errors() {
		if i.Field == "theme" {
			found = true
			assert.Contains(t, i.Message, "broken rule")
		}
	}
	assert.True(t, found)
	assert.False(t, res.IsValid)
}

func TestDecodeSchedule(t *testing.T) {
	s, err := validation.DecodeSchedule(map[string]any{"price": "12.5", "duration": 45.0, "buffer": 10, "color": "red"})
	require.NoError(t, err)
	assert.Equal(t, validation.Schedule{Price: 12.5, Duration: 45, Buffer: 10}, s)
}

func bigForm(t *testing.T) *domain.FormState {
	t.Helper()
	s := store.New(domain.NewFormState("f", "", "Big Form"))
	for i := 0; i < 20; i++ {
		g := s.AddNode("root", &domain.GroupNode{Label: fmt.Sprintf("g%d", i)})
		for j := 0; j < 5; j++ {
			svc := s.AddNode(g, &domain.ServiceNode{Label: "", Attributes: map[string]any{"duration": j - 1, "price": 2 - j}})
			s.AddQuestion(svc, map[string]any{"label": ""})
		}
	}
	st, _ := s.Snapshot()
	return st
}

func TestWorker_MatchesInline(t *testing.T) {
	engine := validation.NewEngine(validation.DefaultRuleset())
	w := validation.NewWorker(engine)
	defer w.Close()

	st := bigForm(t)
	inline := engine.Validate(st)
	background, err := w.Validate(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, inline, background)
	assert.NotEmpty(t, inline.Issues)

	w.Close()
	_, err = w.Validate(context.Background(), st)
	assert.ErrorIs(t, err, validation.ErrWorkerClosed)
}

func TestScheduler_DebouncesAndPublishes(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	bus := events.NewBus()
	var started, completed atomic.Int32
	var background atomic.Bool
	events.On(bus, events.ValidationStarted, func(domain.ValidationEvent) { started.Add(1) })
	events.On(bus, events.ValidationCompleted, func(e domain.ValidationEvent) {
		completed.Add(1)
		background.Store(e.Background)
	})

	sched := validation.NewScheduler(s, validation.NewEngine(validation.DefaultRuleset()),
		validation.SchedulerConfig{Debounce: 20 * time.Millisecond, BackgroundThreshold: 3},
		validation.WithBus(bus))
	defer sched.Close()
	s.Subscribe(func(store.Change) { sched.Notify() })

	_, ok := sched.Latest()
	assert.False(t, ok)

	svc := s.AddNode("root", &domain.ServiceNode{Label: "Cut", Attributes: map[string]any{"duration": 30}})
	s.AddQuestion(svc, map[string]any{"label": "Name?"})
	s.AddQuestion(svc, map[string]any{"label": "Phone?"})

	require.Eventually(t, func() bool { return completed.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, int32(1), started.Load())
	assert.Equal(t, int32(1), completed.Load())
	assert.True(t, background.Load(), "forms at the threshold go to the worker")

	res, ok := sched.Latest()
	require.True(t, ok)
	assert.True(t, res.IsValid)
	assert.False(t, res.HasWarnings)
}
