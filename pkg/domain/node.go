package domain

import "fmt"

// NodeType identifies the variant of a Node.
type NodeType string

const (
	NodeTypeRoot    NodeType = "root"
	NodeTypeGroup   NodeType = "group"
	NodeTypeService NodeType = "service"
)

// Node is a vertex of the form tree.
// The set of implementations is closed: RootNode, GroupNode and ServiceNode.
type Node interface {
	Base() *NodeBase
	Type() NodeType
	// Clone returns a deep copy.
	Clone() Node
	node()
}

// NodeBase holds the fields shared by every variant.
type NodeBase struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId,omitempty"`
}

// Base returns the shared fields.
func (b *NodeBase) Base() *NodeBase { return b }

// RootNode is the single top of the tree.
type RootNode struct {
	NodeBase
	Title    string   `json:"title"`
	ChildIDs []string `json:"childIds"`
}

// GroupNode is a category holding groups and services.
type GroupNode struct {
	NodeBase
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	ChildIDs    []string `json:"childIds"`
}

// ServiceNode is a bookable leaf. Attributes carry the scheduling payload
// (price, duration, buffer, availability) and are opaque to the tree.
type ServiceNode struct {
	NodeBase
	Label       string         `json:"label"`
	Attributes  map[string]any `json:"attributes,omitempty"`
	QuestionIDs []string       `json:"questionIds"`
}

func (*RootNode) Type() NodeType    { return NodeTypeRoot }
func (*GroupNode) Type() NodeType   { return NodeTypeGroup }
func (*ServiceNode) Type() NodeType { return NodeTypeService }

func (*RootNode) node()    {}
func (*GroupNode) node()   {}
func (*ServiceNode) node() {}

func (n *RootNode) Clone() Node {
	c := *n
	c.ChildIDs = cloneIDs(n.ChildIDs)
	return &c
}

func (n *GroupNode) Clone() Node {
	c := *n
	c.ChildIDs = cloneIDs(n.ChildIDs)
	return &c
}

func (n *ServiceNode) Clone() Node {
	c := *n
	c.Attributes = CloneMap(n.Attributes)
	c.QuestionIDs = cloneIDs(n.QuestionIDs)
	return &c
}

// NodePatch is a shallow update. Nil fields are left untouched; fields that
// are meaningless for the target variant are ignored.
type NodePatch struct {
	Title       *string        `json:"title,omitempty"`
	Label       *string        `json:"label,omitempty"`
	Description *string        `json:"description,omitempty"`
	Attributes  map[string]any `json:"attributes,omitempty"`
}

// IsEmpty reports whether the patch carries no field at all.
func (p NodePatch) IsEmpty() bool {
	return p.Title == nil && p.Label == nil && p.Description == nil && len(p.Attributes) == 0
}

// Apply merges the patch into n in place.
func (p NodePatch) Apply(n Node) {
	switch v := n.(type) {
	case *RootNode:
		if p.Title != nil {
			v.Title = *p.Title
		}
	case *GroupNode:
		if p.Label != nil {
			v.Label = *p.Label
		}
		if p.Description != nil {
			v.Description = *p.Description
		}
	case *ServiceNode:
		if p.Label != nil {
			v.Label = *p.Label
		}
		if len(p.Attributes) > 0 {
			if v.Attributes == nil {
				v.Attributes = make(map[string]any, len(p.Attributes))
			}
			for k, val := range p.Attributes {
				v.Attributes[k] = cloneValue(val)
			}
		}
	default:
		panic(fmt.Sprintf("domain: unknown node variant %T", n))
	}
}

// Children returns the child list of a container node.
// The second result is false for services, which cannot hold children.
func Children(n Node) ([]string, bool) {
	switch v := n.(type) {
	case *RootNode:
		return v.ChildIDs, true
	case *GroupNode:
		return v.ChildIDs, true
	case *ServiceNode:
		return nil, false
	default:
		panic(fmt.Sprintf("domain: unknown node variant %T", n))
	}
}

// SetChildren replaces the child list of a container node.
// It reports false for services.
func SetChildren(n Node, ids []string) bool {
	switch v := n.(type) {
	case *RootNode:
		v.ChildIDs = ids
		return true
	case *GroupNode:
		v.ChildIDs = ids
		return true
	case *ServiceNode:
		return false
	default:
		panic(fmt.Sprintf("domain: unknown node variant %T", n))
	}
}

// DisplayLabel is the human label of a node: the title for the root, the label otherwise.
func DisplayLabel(n Node) string {
	switch v := n.(type) {
	case *RootNode:
		return v.Title
	case *GroupNode:
		return v.Label
	case *ServiceNode:
		return v.Label
	default:
		panic(fmt.Sprintf("domain: unknown node variant %T", n))
	}
}

func cloneIDs(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// CloneMap deep-copies a JSON-like map.
func CloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return CloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return cloneIDs(t)
	default:
		return v
	}
}
