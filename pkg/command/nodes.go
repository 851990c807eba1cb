package command

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/store"
)

// AddNode inserts a group or service under a parent.
type AddNode struct {
	target   Target
	parentID string
	data     domain.Node

	id  string
	sub store.Subtree
}

// NewAddNode creates an AddNode command.
func NewAddNode(t Target, parentID string, data domain.Node) *AddNode {
	return &AddNode{target: t, parentID: parentID, data: data}
}

// ID returns the id allocated by the last Execute.
func (c *AddNode) ID() string { return c.id }

func (c *AddNode) CanExecute() bool {
	if c.data == nil || c.data.Type() == domain.NodeTypeRoot {
		return false
	}
	parent, ok := c.target.Node(c.parentID)
	if !ok {
		return false
	}
	_, container := domain.Children(parent)
	return container
}

func (c *AddNode) Execute(context.Context) error {
	c.id = c.target.AddNode(c.parentID, c.data)
	return applied(c.id != "")
}

func (c *AddNode) Undo(context.Context) error {
	sub, ok := c.target.ExtractSubtree(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.sub = sub
	return applied(c.target.DeleteNode(c.id))
}

func (c *AddNode) Redo(context.Context) error {
	return applied(c.target.RestoreSubtree(c.sub))
}

func (c *AddNode) Description() string {
	return fmt.Sprintf("Add %s %q", c.data.Type(), domain.DisplayLabel(c.data))
}

// DeleteNode removes a node and everything below it.
type DeleteNode struct {
	target Target
	id     string
	sub    store.Subtree
}

// NewDeleteNode creates a DeleteNode command.
func NewDeleteNode(t Target, id string) *DeleteNode {
	return &DeleteNode{target: t, id: id}
}

func (c *DeleteNode) CanExecute() bool {
	n, ok := c.target.Node(c.id)
	return ok && n.Type() != domain.NodeTypeRoot
}

func (c *DeleteNode) Execute(context.Context) error {
	sub, ok := c.target.ExtractSubtree(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.sub = sub
	return applied(c.target.DeleteNode(c.id))
}

func (c *DeleteNode) Undo(context.Context) error {
	return applied(c.target.RestoreSubtree(c.sub))
}

func (c *DeleteNode) Redo(context.Context) error {
	return applied(c.target.DeleteNode(c.id))
}

func (c *DeleteNode) Description() string {
	return fmt.Sprintf("Delete node %s", c.id)
}

// UpdateNode applies a shallow patch to a node.
type UpdateNode struct {
	target Target
	id     string
	patch  domain.NodePatch

	prev domain.Node
	next domain.Node
}

// NewUpdateNode creates an UpdateNode command.
func NewUpdateNode(t Target, id string, patch domain.NodePatch) *UpdateNode {
	return &UpdateNode{target: t, id: id, patch: patch}
}

func (c *UpdateNode) CanExecute() bool {
	_, ok := c.target.Node(c.id)
	return ok && !c.patch.IsEmpty()
}

func (c *UpdateNode) Execute(context.Context) error {
	prev, ok := c.target.Node(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.prev = prev
	if !c.target.UpdateNode(c.id, c.patch) {
		return ErrNotApplied
	}
	c.next, _ = c.target.Node(c.id)
	return nil
}

func (c *UpdateNode) Undo(context.Context) error {
	return applied(c.target.ReplaceNode(c.prev))
}

func (c *UpdateNode) Redo(context.Context) error {
	return applied(c.target.ReplaceNode(c.next))
}

func (c *UpdateNode) Description() string {
	return fmt.Sprintf("Update node %s", c.id)
}

// MoveNode re-parents a node.
type MoveNode struct {
	target   Target
	id       string
	parentID string
	index    int

	oldParentID string
	oldIndex    int
}

// NewMoveNode creates a MoveNode command. A negative index appends.
func NewMoveNode(t Target, id, newParentID string, index int) *MoveNode {
	return &MoveNode{target: t, id: id, parentID: newParentID, index: index}
}

func (c *MoveNode) CanExecute() bool {
	n, ok := c.target.Node(c.id)
	if !ok || n.Type() == domain.NodeTypeRoot {
		return false
	}
	parent, ok := c.target.Node(c.parentID)
	if !ok {
		return false
	}
	if _, container := domain.Children(parent); !container {
		return false
	}
	sub, ok := c.target.ExtractSubtree(c.id)
	if !ok {
		return false
	}
	_, inside := sub.Nodes[c.parentID]
	return !inside
}

func (c *MoveNode) Execute(context.Context) error {
	n, ok := c.target.Node(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.oldParentID = n.Base().ParentID
	c.oldIndex = -1
	if parent, ok := c.target.Node(c.oldParentID); ok {
		children, _ := domain.Children(parent)
		c.oldIndex = slices.Index(children, c.id)
	}
	return applied(c.target.MoveNode(c.id, c.parentID, c.index))
}

func (c *MoveNode) Undo(context.Context) error {
	return applied(c.target.MoveNode(c.id, c.oldParentID, c.oldIndex))
}

func (c *MoveNode) Redo(context.Context) error {
	return applied(c.target.MoveNode(c.id, c.parentID, c.index))
}

func (c *MoveNode) Description() string {
	return fmt.Sprintf("Move node %s to %s", c.id, c.parentID)
}
