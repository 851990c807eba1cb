// Package view computes read-only projections of the form state.
//
// Results are memoized against the store version: a projection is rebuilt
// only after the version changed, and callers receive the same value for
// repeated reads of an unchanged store. Returned values are shared between
// callers and must be treated as read-only.
//
// Projections read the live state under the store's read lock and copy only
// the nodes and questions they return, so a read costs the size of the view,
// not of the form.
package view

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/aretw0/formtree/pkg/domain"
)

// Source is the read side of the store.
type Source interface {
	Read(fn func(st *domain.FormState, version uint64))
	Version() uint64
}

// TreeNode is one entry of the display tree.
type TreeNode struct {
	ID            string          `json:"id"`
	Type          domain.NodeType `json:"type"`
	DisplayLabel  string          `json:"label"`
	QuestionCount int             `json:"questionCount,omitempty"`
	Children      []*TreeNode     `json:"children,omitempty"`
}

// Details is a node with its resolved relations.
// It is a copy detached from the store, shared by every caller until the
// next mutation; do not modify it.
type Details struct {
	Node      domain.Node        `json:"node"`
	Parent    domain.Node        `json:"parent,omitempty"`
	Children  []domain.Node      `json:"children,omitempty"`
	Questions []*domain.Question `json:"questions,omitempty"`
}

// Views memoizes projections of a Source.
type Views struct {
	src Source

	mu        sync.Mutex
	version   uint64
	valid     bool
	tree      *TreeNode
	details   map[string]*Details
	questions map[string][]*domain.Question
}

// New creates the view layer over src.
func New(src Source) *Views {
	return &Views{src: src}
}

// current reports whether the caches still match the store. Callers hold v.mu.
func (v *Views) current() bool {
	return v.valid && v.src.Version() == v.version
}

// read runs fn against the live state, first dropping the caches if the
// store moved on. Callers hold v.mu.
func (v *Views) read(fn func(st *domain.FormState)) {
	v.src.Read(func(st *domain.FormState, version uint64) {
		if !v.valid || version != v.version {
			v.version = version
			v.valid = true
			v.tree = nil
			v.details = make(map[string]*Details)
			v.questions = make(map[string][]*domain.Question)
		}
		fn(st)
	})
}

// Version returns the store version the cached projections reflect.
func (v *Views) Version() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.current() {
		v.read(func(*domain.FormState) {})
	}
	return v.version
}

// Tree returns the display tree rooted at the form root, or nil if there is none.
func (v *Views) Tree() *TreeNode {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current() && v.tree != nil {
		return v.tree
	}
	v.read(func(st *domain.FormState) {
		if v.tree == nil {
			v.tree = buildTree(st, st.RootID, make(map[string]bool))
		}
	})
	return v.tree
}

func buildTree(st *domain.FormState, id string, visited map[string]bool) *TreeNode {
	n, ok := st.Nodes[id]
	if !ok || visited[id] {
		return nil
	}
	visited[id] = true

	t := &TreeNode{ID: id, Type: n.Type(), DisplayLabel: Label(n)}
	if svc, ok := n.(*domain.ServiceNode); ok {
		t.QuestionCount = len(svc.QuestionIDs)
	}
	children, _ := domain.Children(n)
	for _, c := range children {
		if child := buildTree(st, c, visited); child != nil {
			t.Children = append(t.Children, child)
		}
	}
	return t
}

// Label is the display label of a node, with a placeholder for blank ones.
func Label(n domain.Node) string {
	if l := domain.DisplayLabel(n); l != "" {
		return l
	}
	return fmt.Sprintf("Untitled %s", n.Type())
}

// NodeDetails resolves a node's parent, children and ordered questions.
func (v *Views) NodeDetails(id string) (*Details, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current() {
		if d, ok := v.details[id]; ok {
			return d, true
		}
	}

	var d *Details
	v.read(func(st *domain.FormState) {
		if cached, ok := v.details[id]; ok {
			d = cached
			return
		}
		n, ok := st.Nodes[id]
		if !ok {
			return
		}
		d = &Details{Node: n.Clone()}
		if p, ok := st.Nodes[n.Base().ParentID]; ok {
			d.Parent = p.Clone()
		}
		children, _ := domain.Children(n)
		for _, c := range children {
			if child, ok := st.Nodes[c]; ok {
				d.Children = append(d.Children, child.Clone())
			}
		}
		if n.Type() == domain.NodeTypeService {
			d.Questions = v.serviceQuestions(st, id)
		}
		v.details[id] = d
	})
	return d, d != nil
}

// ServiceQuestions returns copies of the questions of a service sorted by order.
// The slice is shared between callers and must not be modified.
// Equal orders keep their position in the service's question list.
func (v *Views) ServiceQuestions(serviceID string) []*domain.Question {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current() {
		if qs, ok := v.questions[serviceID]; ok {
			return qs
		}
	}
	var qs []*domain.Question
	v.read(func(st *domain.FormState) {
		qs = v.serviceQuestions(st, serviceID)
	})
	return qs
}

// serviceQuestions runs inside read.
func (v *Views) serviceQuestions(st *domain.FormState, serviceID string) []*domain.Question {
	if qs, ok := v.questions[serviceID]; ok {
		return qs
	}
	svc, ok := st.Nodes[serviceID].(*domain.ServiceNode)
	if !ok {
		return nil
	}
	qs := make([]*domain.Question, 0, len(svc.QuestionIDs))
	for _, id := range svc.QuestionIDs {
		if q, ok := st.Questions[id]; ok {
			qs = append(qs, q.Clone())
		}
	}
	sort.SliceStable(qs, func(i, j int) bool { return qs[i].Order < qs[j].Order })
	v.questions[serviceID] = qs
	return qs
}

// Ancestors returns the path from the root down to id's parent.
func (v *Views) Ancestors(id string) []string {
	v.mu.Lock()
	defer v.mu.Unlock()

	var path []string
	v.read(func(st *domain.FormState) {
		n, ok := st.Nodes[id]
		for ok && n.Base().ParentID != "" && len(path) <= len(st.Nodes) {
			path = append(path, n.Base().ParentID)
			n, ok = st.Nodes[n.Base().ParentID]
		}
	})
	slices.Reverse(path)
	return path
}
