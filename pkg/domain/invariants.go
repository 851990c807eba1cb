package domain

import "fmt"

// CheckInvariants verifies the structural invariants of the tree.
// It returns an *InvariantError listing every violation, or nil.
func CheckInvariants(s *FormState) error {
	var v []string
	add := func(format string, args ...any) {
		v = append(v, fmt.Sprintf(format, args...))
	}

	for id, n := range s.Nodes {
		if n == nil {
			add("node %q is null", id)
		}
	}
	for id, q := range s.Questions {
		if q == nil {
			add("question %q is null", id)
		}
	}
	if len(v) > 0 {
		return &InvariantError{Violations: v}
	}

	roots := 0
	for id, n := range s.Nodes {
		if n.Base().ID != id {
			add("node key %q holds node %q", id, n.Base().ID)
		}
		if _, ok := n.(*RootNode); ok {
			roots++
		}
	}
	if roots != 1 {
		add("expected exactly one root, found %d", roots)
	}
	if _, ok := s.Nodes[s.RootID].(*RootNode); !ok {
		add("rootId %q does not resolve to a root node", s.RootID)
	}

	for id, n := range s.Nodes {
		parentID := n.Base().ParentID
		if n.Type() == NodeTypeRoot {
			if parentID != "" {
				add("root %q has parent %q", id, parentID)
			}
		} else {
			parent, ok := s.Nodes[parentID]
			if !ok {
				add("node %q references missing parent %q", id, parentID)
			} else if children, ok := Children(parent); !ok {
				add("node %q has service %q as parent", id, parentID)
			} else if c := count(children, id); c != 1 {
				add("parent %q lists node %q %d times", parentID, id, c)
			}
		}

		if children, ok := Children(n); ok {
			checkRefs(id, "child", children, func(ref string) bool {
				c, ok := s.Nodes[ref]
				return ok && c.Base().ParentID == id
			}, add)
		}
		if svc, ok := n.(*ServiceNode); ok {
			checkRefs(id, "question", svc.QuestionIDs, func(ref string) bool {
				q, ok := s.Questions[ref]
				return ok && q.ServiceID == id
			}, add)
		}
	}

	for id, q := range s.Questions {
		if q.ID != id {
			add("question key %q holds question %q", id, q.ID)
		}
		svc, ok := s.Nodes[q.ServiceID].(*ServiceNode)
		if !ok {
			add("question %q references missing service %q", id, q.ServiceID)
			continue
		}
		if c := count(svc.QuestionIDs, id); c != 1 {
			add("service %q lists question %q %d times", q.ServiceID, id, c)
		}
	}

	// Acyclic: every node reaches the root through its parent chain.
	for id := range s.Nodes {
		cur, steps := id, 0
		for cur != s.RootID {
			n, ok := s.Nodes[cur]
			if !ok || steps > len(s.Nodes) {
				add("node %q does not reach the root", id)
				break
			}
			cur = n.Base().ParentID
			steps++
		}
	}

	if len(v) == 0 {
		return nil
	}
	return &InvariantError{Violations: v}
}

func checkRefs(owner, kind string, refs []string, valid func(string) bool, add func(string, ...any)) {
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if seen[ref] {
			add("%q lists %s %q more than once", owner, kind, ref)
			continue
		}
		seen[ref] = true
		if !valid(ref) {
			add("%q lists dangling %s %q", owner, kind, ref)
		}
	}
}

func count(ids []string, id string) int {
	n := 0
	for _, x := range ids {
		if x == id {
			n++
		}
	}
	return n
}
