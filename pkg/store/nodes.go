package store

import (
	"slices"

	"github.com/aretw0/formtree/pkg/domain"
)

// AddNode appends a copy of data under parentID and returns the allocated id.
// It returns "" when the parent is missing or cannot hold children, or when
// data is nil or a root. Child and question lists of data are discarded.
func (s *Store) AddNode(parentID string, data domain.Node) string {
	c, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		parent, ok := st.Nodes[parentID]
		if !ok || data == nil || data.Type() == domain.NodeTypeRoot {
			s.reject("addNode", "parent", parentID)
			return Change{}, false
		}
		children, ok := domain.Children(parent)
		if !ok {
			s.reject("addNode", "parent", parentID, "reason", "parent is a service")
			return Change{}, false
		}

		n := data.Clone()
		id := s.newID()
		n.Base().ID = id
		n.Base().ParentID = parentID
		switch v := n.(type) {
		case *domain.GroupNode:
			v.ChildIDs = []string{}
		case *domain.ServiceNode:
			v.QuestionIDs = []string{}
		}

		st.Nodes[id] = n
		domain.SetChildren(parent, append(slices.Clone(children), id))
		return Change{Kind: domain.EventNodeAdded, NodeID: id, NodeType: n.Type(), ParentID: parentID}, true
	})
	if !ok {
		return ""
	}
	return c.NodeID
}

// DeleteNode removes a node, its descendants and their questions.
// The root cannot be deleted.
func (s *Store) DeleteNode(id string) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		n, ok := st.Nodes[id]
		if !ok || id == st.RootID {
			s.reject("deleteNode", "node", id)
			return Change{}, false
		}
		parentID := n.Base().ParentID
		if parent, ok := st.Nodes[parentID]; ok {
			children, _ := domain.Children(parent)
			domain.SetChildren(parent, without(children, id))
		}
		for _, d := range descendants(st, id) {
			if svc, ok := st.Nodes[d].(*domain.ServiceNode); ok {
				for _, q := range svc.QuestionIDs {
					delete(st.Questions, q)
				}
			}
			delete(st.Nodes, d)
		}
		return Change{Kind: domain.EventNodeDeleted, NodeID: id, NodeType: n.Type(), ParentID: parentID}, true
	})
	return ok
}

// MoveNode re-parents a node at index (negative or past-the-end appends).
// The move is rejected when the target is the node itself or one of its
// descendants, or cannot hold children.
func (s *Store) MoveNode(id, newParentID string, index int) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		n, ok := st.Nodes[id]
		if !ok || id == st.RootID {
			s.reject("moveNode", "node", id)
			return Change{}, false
		}
		target, ok := st.Nodes[newParentID]
		if !ok {
			s.reject("moveNode", "node", id, "parent", newParentID)
			return Change{}, false
		}
		if _, ok := domain.Children(target); !ok {
			s.reject("moveNode", "node", id, "parent", newParentID, "reason", "parent is a service")
			return Change{}, false
		}
		if isAncestorOrSelf(st, id, newParentID) {
			s.reject("moveNode", "node", id, "parent", newParentID, "reason", "would create a cycle")
			return Change{}, false
		}

		oldParentID := n.Base().ParentID
		if old, ok := st.Nodes[oldParentID]; ok {
			children, _ := domain.Children(old)
			domain.SetChildren(old, without(children, id))
		}
		children, _ := domain.Children(target)
		domain.SetChildren(target, insertAt(children, id, index))
		n.Base().ParentID = newParentID
		return Change{Kind: domain.EventNodeMoved, NodeID: id, NodeType: n.Type(), ParentID: newParentID}, true
	})
	return ok
}

// UpdateNode shallow-merges patch into the node.
func (s *Store) UpdateNode(id string, patch domain.NodePatch) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		n, ok := st.Nodes[id]
		if !ok || patch.IsEmpty() {
			s.reject("updateNode", "node", id)
			return Change{}, false
		}
		patch.Apply(n)
		return Change{Kind: domain.EventNodeUpdated, NodeID: id, NodeType: n.Type(), ParentID: n.Base().ParentID}, true
	})
	return ok
}

// ReplaceNode restores the content fields of a node from prev.
// Structural fields (parent, children, questions) keep their current values.
func (s *Store) ReplaceNode(prev domain.Node) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		id := prev.Base().ID
		cur, ok := st.Nodes[id]
		if !ok || cur.Type() != prev.Type() {
			s.reject("replaceNode", "node", id)
			return Change{}, false
		}
		next := prev.Clone()
		next.Base().ParentID = cur.Base().ParentID
		switch v := next.(type) {
		case *domain.RootNode:
			v.ChildIDs = cur.(*domain.RootNode).ChildIDs
		case *domain.GroupNode:
			v.ChildIDs = cur.(*domain.GroupNode).ChildIDs
		case *domain.ServiceNode:
			v.QuestionIDs = cur.(*domain.ServiceNode).QuestionIDs
		}
		st.Nodes[id] = next
		return Change{Kind: domain.EventNodeUpdated, NodeID: id, NodeType: next.Type(), ParentID: next.Base().ParentID}, true
	})
	return ok
}

// Subtree is a detached copy of a node, its descendants and their questions,
// plus the position it occupied under its parent.
type Subtree struct {
	RootID    string
	ParentID  string
	Index     int
	Nodes     map[string]domain.Node
	Questions map[string]*domain.Question
}

// ExtractSubtree copies the subtree rooted at id without modifying the store.
func (s *Store) ExtractSubtree(id string) (Subtree, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n, ok := s.state.Nodes[id]
	if !ok || id == s.state.RootID {
		return Subtree{}, false
	}
	sub := Subtree{
		RootID:    id,
		ParentID:  n.Base().ParentID,
		Index:     -1,
		Nodes:     make(map[string]domain.Node),
		Questions: make(map[string]*domain.Question),
	}
	if parent, ok := s.state.Nodes[sub.ParentID]; ok {
		children, _ := domain.Children(parent)
		sub.Index = slices.Index(children, id)
	}
	for _, d := range descendants(s.state, id) {
		node := s.state.Nodes[d]
		sub.Nodes[d] = node.Clone()
		if svc, ok := node.(*domain.ServiceNode); ok {
			for _, q := range svc.QuestionIDs {
				if question, ok := s.state.Questions[q]; ok {
					sub.Questions[q] = question.Clone()
				}
			}
		}
	}
	return sub, true
}

// RestoreSubtree re-inserts a previously extracted subtree at its recorded position.
// It fails if the parent is gone or any id is already taken.
func (s *Store) RestoreSubtree(sub Subtree) bool {
	_, ok := s.mutate(func(st *domain.FormState) (Change, bool) {
		parent, ok := st.Nodes[sub.ParentID]
		if !ok {
			s.reject("restoreSubtree", "node", sub.RootID, "parent", sub.ParentID)
			return Change{}, false
		}
		children, ok := domain.Children(parent)
		if !ok {
			return Change{}, false
		}
		for id := range sub.Nodes {
			if _, taken := st.Nodes[id]; taken {
				s.reject("restoreSubtree", "node", id, "reason", "id in use")
				return Change{}, false
			}
		}
		for id := range sub.Questions {
			if _, taken := st.Questions[id]; taken {
				s.reject("restoreSubtree", "question", id, "reason", "id in use")
				return Change{}, false
			}
		}
		for id, n := range sub.Nodes {
			st.Nodes[id] = n.Clone()
		}
		for id, q := range sub.Questions {
			st.Questions[id] = q.Clone()
		}
		domain.SetChildren(parent, insertAt(children, sub.RootID, sub.Index))
		root := sub.Nodes[sub.RootID]
		return Change{Kind: domain.EventNodeAdded, NodeID: sub.RootID, NodeType: root.Type(), ParentID: sub.ParentID}, true
	})
	return ok
}

// descendants returns id and every node below it.
func descendants(st *domain.FormState, id string) []string {
	out := []string{}
	seen := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := st.Nodes[cur]
		if !ok || seen[cur] {
			continue
		}
		seen[cur] = true
		out = append(out, cur)
		children, _ := domain.Children(n)
		stack = append(stack, children...)
	}
	return out
}

// isAncestorOrSelf reports whether ancestor is candidate or lies on its parent chain.
func isAncestorOrSelf(st *domain.FormState, ancestor, candidate string) bool {
	cur := candidate
	for steps := 0; steps <= len(st.Nodes); steps++ {
		if cur == ancestor {
			return true
		}
		n, ok := st.Nodes[cur]
		if !ok || cur == st.RootID {
			return false
		}
		cur = n.Base().ParentID
	}
	return true
}

func without(ids []string, id string) []string {
	out := make([]string, 0, len(ids))
	for _, x := range ids {
		if x != id {
			out = append(out, x)
		}
	}
	return out
}

func insertAt(ids []string, id string, index int) []string {
	out := slices.Clone(ids)
	if index < 0 || index > len(out) {
		return append(out, id)
	}
	return slices.Insert(out, index, id)
}
