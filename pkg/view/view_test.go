package view_test

import (
	"testing"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/store"
	"github.com/aretw0/formtree/pkg/view"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestViews_TreeIsMemoizedOnVersion(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	g := s.AddNode("root", &domain.GroupNode{})
	svc := s.AddNode(g, &domain.ServiceNode{Label: "Cut"})
	s.AddQuestion(svc, map[string]any{"label": "Q"})
	v := view.New(s)

	first := v.Tree()
	require.NotNil(t, first)
	assert.Same(t, first, v.Tree(), "unchanged store returns the cached tree")

	assert.Equal(t, "Salon", first.DisplayLabel)
	require.Len(t, first.Children, 1)
	assert.Equal(t, "Untitled group", first.Children[0].DisplayLabel)
	assert.Equal(t, 1, first.Children[0].Children[0].QuestionCount)

	s.AddNode("root", &domain.ServiceNode{Label: "Wash"})
	second := v.Tree()
	assert.NotSame(t, first, second)
	assert.Len(t, second.Children, 2)
}

func TestViews_ServiceQuestionsOrder(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	svc := s.AddNode("root", &domain.ServiceNode{Label: "Cut"})
	a := s.AddQuestion(svc, map[string]any{"label": "a"})
	b := s.AddQuestion(svc, map[string]any{"label": "b"})
	c := s.AddQuestion(svc, map[string]any{"label": "c"})
	// Deleting a leaves b and c with orders 1 and 2; the next add also gets order 2.
	s.DeleteQuestion(a)
	d := s.AddQuestion(svc, map[string]any{"label": "d"})

	v := view.New(s)
	var ids []string
	for _, q := range v.ServiceQuestions(svc) {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{b, c, d}, ids, "ties keep list position")

	require.True(t, s.ReorderQuestions(svc, []string{d, c, b}))
	ids = ids[:0]
	for _, q := range v.ServiceQuestions(svc) {
		ids = append(ids, q.ID)
	}
	assert.Equal(t, []string{d, c, b}, ids)
	assert.Nil(t, v.ServiceQuestions("root"))
}

func TestViews_NodeDetails(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	g := s.AddNode("root", &domain.GroupNode{Label: "Hair"})
	svc := s.AddNode(g, &domain.ServiceNode{Label: "Cut"})
	q := s.AddQuestion(svc, map[string]any{"label": "Q"})
	v := view.New(s)

	d, ok := v.NodeDetails(svc)
	require.True(t, ok)
	assert.Equal(t, g, d.Parent.Base().ID)
	require.Len(t, d.Questions, 1)
	assert.Equal(t, q, d.Questions[0].ID)

	again, _ := v.NodeDetails(svc)
	assert.Same(t, d, again)

	gd, _ := v.NodeDetails(g)
	require.Len(t, gd.Children, 1)
	assert.Equal(t, []string{"root", g}, v.Ancestors(svc))

	_, ok = v.NodeDetails("ghost")
	assert.False(t, ok)
}

func TestViews_DetailsAreDetachedFromStore(t *testing.T) {
	s := store.New(domain.NewFormState("f", "Salon", "salon"))
	svc := s.AddNode("root", &domain.ServiceNode{Label: "Cut"})
	q := s.AddQuestion(svc, map[string]any{"label": "Length?"})
	v := view.New(s)

	d, ok := v.NodeDetails(svc)
	require.True(t, ok)
	qs := v.ServiceQuestions(svc)

	label := "Trim"
	require.True(t, s.UpdateNode(svc, domain.NodePatch{Label: &label}))
	require.True(t, s.UpdateQuestion(q, map[string]any{"label": "Style?"}))

	assert.Equal(t, "Cut", d.Node.(*domain.ServiceNode).Label, "earlier results keep their values")
	assert.Equal(t, "Length?", qs[0].Label())

	fresh, _ := v.NodeDetails(svc)
	assert.NotSame(t, d, fresh)
	assert.Equal(t, "Trim", fresh.Node.(*domain.ServiceNode).Label)
	assert.Equal(t, "Style?", v.ServiceQuestions(svc)[0].Label())
	assert.Equal(t, s.Version(), v.Version())
}
