package domain

import (
	"time"
)

// Question is an opaque configuration owned by one service.
// Order is the position inside the owning service.
type Question struct {
	ID        string         `json:"id"`
	ServiceID string         `json:"serviceId"`
	Config    map[string]any `json:"config"`
	Order     int            `json:"order"`
}

// Clone returns a deep copy.
func (q *Question) Clone() *Question {
	c := *q
	c.Config = CloneMap(q.Config)
	return &c
}

// Label returns the "label" entry of the config, if it is a string.
func (q *Question) Label() string {
	s, _ := q.Config["label"].(string)
	return s
}

// FormState is the normalized snapshot of one form.
type FormState struct {
	ID           string               `json:"id"`
	Name         string               `json:"name"`
	Slug         string               `json:"slug"`
	Theme        string               `json:"theme,omitempty"`
	PrimaryColor string               `json:"primaryColor,omitempty"`
	Nodes        NodeMap              `json:"nodes"`
	Questions    map[string]*Question `json:"questions"`
	RootID       string               `json:"rootId"`
	IsDirty      bool                 `json:"isDirty"`
	LastSaved    *time.Time           `json:"lastSaved,omitempty"`
}

// DefaultRootID is the root node ID of freshly created forms.
const DefaultRootID = "root"

// NewFormState creates an empty form with a single root node.
func NewFormState(id, name, slug string) *FormState {
	return &FormState{
		ID:   id,
		Name: name,
		Slug: slug,
		Nodes: NodeMap{
			DefaultRootID: &RootNode{
				NodeBase: NodeBase{ID: DefaultRootID},
				Title:    name,
				ChildIDs: []string{},
			},
		},
		Questions: make(map[string]*Question),
		RootID:    DefaultRootID,
	}
}

// Clone returns a deep copy of the state.
func (s *FormState) Clone() *FormState {
	if s == nil {
		return nil
	}
	c := *s
	c.Nodes = make(NodeMap, len(s.Nodes))
	for id, n := range s.Nodes {
		c.Nodes[id] = n.Clone()
	}
	c.Questions = make(map[string]*Question, len(s.Questions))
	for id, q := range s.Questions {
		c.Questions[id] = q.Clone()
	}
	if s.LastSaved != nil {
		t := *s.LastSaved
		c.LastSaved = &t
	}
	return &c
}

// Root returns the root node, or nil if RootID does not resolve to one.
func (s *FormState) Root() *RootNode {
	r, _ := s.Nodes[s.RootID].(*RootNode)
	return r
}

// Services returns the service nodes in tree pre-order.
func (s *FormState) Services() []*ServiceNode {
	var out []*ServiceNode
	s.Walk(func(n Node, _ int) {
		if svc, ok := n.(*ServiceNode); ok {
			out = append(out, svc)
		}
	})
	return out
}

// Walk visits the nodes reachable from the root in pre-order.
// Nodes already visited are skipped, so a corrupted cyclic state terminates.
func (s *FormState) Walk(fn func(n Node, depth int)) {
	seen := make(map[string]bool, len(s.Nodes))
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		n, ok := s.Nodes[id]
		if !ok || seen[id] {
			return
		}
		seen[id] = true
		fn(n, depth)
		children, _ := Children(n)
		for _, c := range children {
			visit(c, depth+1)
		}
	}
	visit(s.RootID, 0)
}
