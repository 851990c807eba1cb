package store

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sequentialIDs() Option {
	n := 0
	return WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	})
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New(domain.NewFormState("form-1", "Salon", "salon"), sequentialIDs())
}

func group(label string) domain.Node {
	return &domain.GroupNode{Label: label}
}

func service(label string) domain.Node {
	return &domain.ServiceNode{Label: label, Attributes: map[string]any{"duration": 30, "price": 10}}
}

func assertValid(t *testing.T, s *Store) {
	t.Helper()
	st, _ := s.Snapshot()
	require.NoError(t, domain.CheckInvariants(st))
}

func TestStore_AddNode(t *testing.T) {
	s := newTestStore(t)

	g := s.AddNode("root", group("Hair"))
	require.Equal(t, "id-1", g)
	svc := s.AddNode(g, service("Cut"))
	require.NotEmpty(t, svc)

	assert.Empty(t, s.AddNode(svc, group("child of service")), "services hold no children")
	assert.Empty(t, s.AddNode("missing", group("x")))
	assert.Empty(t, s.AddNode("root", &domain.RootNode{}), "a second root is refused")

	n, ok := s.Node(svc)
	require.True(t, ok)
	assert.Equal(t, g, n.Base().ParentID)
	assert.True(t, s.IsDirty())
	assertValid(t, s)
}

func TestStore_DeleteNode_Cascades(t *testing.T) {
	s := newTestStore(t)
	g := s.AddNode("root", group("G"))
	svc := s.AddNode(g, service("S"))
	q1 := s.AddQuestion(svc, map[string]any{"label": "Q1"})
	q2 := s.AddQuestion(svc, map[string]any{"label": "Q2"})

	require.True(t, s.DeleteNode(g))

	for _, id := range []string{g, svc} {
		_, ok := s.Node(id)
		assert.False(t, ok, "node %s should be gone", id)
	}
	for _, id := range []string{q1, q2} {
		_, ok := s.Question(id)
		assert.False(t, ok, "question %s should be gone", id)
	}
	st, _ := s.Snapshot()
	assert.Empty(t, st.Root().ChildIDs)
	assert.False(t, s.DeleteNode("root"), "root is never deleted")
	assertValid(t, s)
}

func TestStore_MoveNode(t *testing.T) {
	s := newTestStore(t)
	a := s.AddNode("root", group("A"))
	b := s.AddNode(a, group("B"))
	c := s.AddNode(b, group("C"))
	svc := s.AddNode("root", service("S"))

	tests := []struct {
		name   string
		id     string
		parent string
		want   bool
	}{
		{"into itself", a, a, false},
		{"into child", a, b, false},
		{"into grandchild", a, c, false},
		{"into service", c, svc, false},
		{"unknown parent", c, "ghost", false},
		{"root", "root", a, false},
		{"valid", c, "root", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.MoveNode(tt.id, tt.parent, -1))
			assertValid(t, s)
		})
	}

	require.True(t, s.MoveNode(svc, "root", 0))
	st, _ := s.Snapshot()
	assert.Equal(t, []string{svc, a, c}, st.Root().ChildIDs)
}

func TestStore_UpdateNode(t *testing.T) {
	s := newTestStore(t)
	svc := s.AddNode("root", service("Cut"))
	before := s.Version()

	label := "Trim"
	require.True(t, s.UpdateNode(svc, domain.NodePatch{Label: &label, Attributes: map[string]any{"price": 25}}))
	assert.False(t, s.UpdateNode(svc, domain.NodePatch{}), "empty patch is a no-op")
	assert.Greater(t, s.Version(), before)

	n, _ := s.Node(svc)
	got := n.(*domain.ServiceNode)
	assert.Equal(t, "Trim", got.Label)
	assert.Equal(t, 25, got.Attributes["price"])
	assert.Equal(t, 30, got.Attributes["duration"])
}

func TestStore_Questions(t *testing.T) {
	s := newTestStore(t)
	svc := s.AddNode("root", service("S"))
	q1 := s.AddQuestion(svc, map[string]any{"label": "one"})
	q2 := s.AddQuestion(svc, map[string]any{"label": "two"})
	q3 := s.AddQuestion(svc, map[string]any{"label": "three"})

	got, _ := s.Question(q3)
	assert.Equal(t, 2, got.Order)
	assert.Empty(t, s.AddQuestion("root", nil), "only services own questions")

	t.Run("reorder rejects non-permutations", func(t *testing.T) {
		v := s.Version()
		assert.False(t, s.ReorderQuestions(svc, []string{q1, q2}))
		assert.False(t, s.ReorderQuestions(svc, []string{q1, q1, q2}))
		assert.False(t, s.ReorderQuestions(svc, []string{q1, q2, "ghost"}))
		assert.Equal(t, v, s.Version())
	})

	t.Run("reorder rewrites orders", func(t *testing.T) {
		require.True(t, s.ReorderQuestions(svc, []string{q3, q1, q2}))
		for id, want := range map[string]int{q3: 0, q1: 1, q2: 2} {
			q, _ := s.Question(id)
			assert.Equal(t, want, q.Order)
		}
	})

	t.Run("delete and restore", func(t *testing.T) {
		q, _ := s.Question(q1)
		require.True(t, s.DeleteQuestion(q1))
		require.True(t, s.RestoreQuestion(q, 1))
		n, _ := s.Node(svc)
		assert.Equal(t, []string{q3, q1, q2}, n.(*domain.ServiceNode).QuestionIDs)
	})

	assertValid(t, s)
}

func TestStore_SubtreeRoundTrip(t *testing.T) {
	s := newTestStore(t)
	first := s.AddNode("root", group("first"))
	g := s.AddNode("root", group("G"))
	s.AddNode("root", group("last"))
	svc := s.AddNode(g, service("S"))
	s.AddQuestion(svc, map[string]any{"label": "Q"})
	before, _ := s.Snapshot()

	sub, ok := s.ExtractSubtree(g)
	require.True(t, ok)
	assert.Equal(t, 1, sub.Index)
	require.True(t, s.DeleteNode(g))
	require.True(t, s.RestoreSubtree(sub))
	assert.False(t, s.RestoreSubtree(sub), "ids already in use")

	after, _ := s.Snapshot()
	assert.True(t, domain.StructurallyEqual(before, after))
	assert.Equal(t, first, after.Root().ChildIDs[0])
}

func TestStore_SavedAndReset(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(domain.NewFormState("f", "n", "s"), WithClock(func() time.Time { return now }))

	s.AddNode("root", group("G"))
	_, v := s.Snapshot()
	s.AddNode("root", group("H"))

	assert.False(t, s.MarkSavedAt(v), "a mutation happened after the snapshot")
	assert.True(t, s.IsDirty())

	s.MarkSaved()
	assert.False(t, s.IsDirty())

	var kinds []domain.EventType
	cancel := s.Subscribe(func(c Change) { kinds = append(kinds, c.Kind) })
	s.Reset(domain.NewFormState("f", "other", "other"))
	cancel()
	s.SetDirty(true)

	st, _ := s.Snapshot()
	assert.Equal(t, "other", st.Name)
	require.NotNil(t, st.LastSaved)
	assert.Equal(t, now, *st.LastSaved)
	assert.Equal(t, []domain.EventType{domain.EventFormReset}, kinds)
}

func TestStore_SubscriberSeesCommittedState(t *testing.T) {
	s := newTestStore(t)
	var seen []uint64
	s.Subscribe(func(c Change) {
		// Reading inside a callback must not deadlock.
		assert.Equal(t, c.Version, s.Version())
		seen = append(seen, c.Version)
	})
	s.Subscribe(func(Change) { panic("boom") })

	s.AddNode("root", group("A"))
	s.AddNode("root", group("B"))
	assert.Equal(t, []uint64{1, 2}, seen)
}

func TestStore_RandomOperationsKeepInvariants(t *testing.T) {
	s := newTestStore(t)
	rng := rand.New(rand.NewSource(42))

	pick := func(kind domain.NodeType) string {
		st, _ := s.Snapshot()
		var ids []string
		for id, n := range st.Nodes {
			if kind == "" || n.Type() == kind {
				ids = append(ids, id)
			}
		}
		if len(ids) == 0 {
			return "missing"
		}
		return ids[rng.Intn(len(ids))]
	}
	pickQuestion := func() string {
		st, _ := s.Snapshot()
		for id := range st.Questions {
			return id
		}
		return "missing"
	}

	for i := 0; i < 500; i++ {
		switch rng.Intn(7) {
		case 0:
			s.AddNode(pick(""), group("g"))
		case 1:
			s.AddNode(pick(""), service("s"))
		case 2:
			s.DeleteNode(pick(""))
		case 3:
			s.MoveNode(pick(""), pick(""), rng.Intn(3)-1)
		case 4:
			s.AddQuestion(pick(domain.NodeTypeService), map[string]any{"label": "q"})
		case 5:
			s.DeleteQuestion(pickQuestion())
		case 6:
			label := "x"
			s.UpdateNode(pick(""), domain.NodePatch{Label: &label})
		}
		assertValid(t, s)
	}
}
