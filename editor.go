package formtree

import (
	"context"

	"github.com/aretw0/formtree/pkg/command"
	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/telemetry"
	"github.com/aretw0/formtree/pkg/validation"
	"github.com/aretw0/formtree/pkg/view"
)

// Execute runs cmd through the history stack. Commands built outside the
// editor must target Target().
func (e *Editor) Execute(ctx context.Context, cmd command.Command) error {
	defer e.monitor.Start(telemetry.OpUpdate).ObserveDuration()
	return e.stack.Execute(ctx, cmd)
}

// Target is the mutation surface for custom commands.
func (e *Editor) Target() command.Target { return e.store }

// AddNode adds a group or service under parentID and returns its id.
func (e *Editor) AddNode(ctx context.Context, parentID string, data domain.Node) (string, error) {
	cmd := command.NewAddNode(e.store, parentID, data)
	if err := e.Execute(ctx, cmd); err != nil {
		return "", err
	}
	return cmd.ID(), nil
}

// DeleteNode removes a node with its descendants and their questions.
func (e *Editor) DeleteNode(ctx context.Context, id string) error {
	return e.Execute(ctx, command.NewDeleteNode(e.store, id))
}

// UpdateNode applies patch to a node.
func (e *Editor) UpdateNode(ctx context.Context, id string, patch domain.NodePatch) error {
	return e.Execute(ctx, command.NewUpdateNode(e.store, id, patch))
}

// MoveNode reparents a node at index. A negative index appends.
func (e *Editor) MoveNode(ctx context.Context, id, newParentID string, index int) error {
	return e.Execute(ctx, command.NewMoveNode(e.store, id, newParentID, index))
}

// AddQuestion appends a question to a service and returns its id.
func (e *Editor) AddQuestion(ctx context.Context, serviceID string, config map[string]any) (string, error) {
	cmd := command.NewAddQuestion(e.store, serviceID, config)
	if err := e.Execute(ctx, cmd); err != nil {
		return "", err
	}
	return cmd.ID(), nil
}

// DeleteQuestion removes a question.
func (e *Editor) DeleteQuestion(ctx context.Context, id string) error {
	return e.Execute(ctx, command.NewDeleteQuestion(e.store, id))
}

// UpdateQuestion replaces the config of a question.
func (e *Editor) UpdateQuestion(ctx context.Context, id string, config map[string]any) error {
	return e.Execute(ctx, command.NewUpdateQuestion(e.store, id, config))
}

// ReorderQuestions sets the order of a service's questions.
func (e *Editor) ReorderQuestions(ctx context.Context, serviceID string, orderedIDs []string) error {
	return e.Execute(ctx, command.NewReorderQuestions(e.store, serviceID, orderedIDs))
}

// Undo reverts the last applied command.
func (e *Editor) Undo(ctx context.Context) error { return e.stack.Undo(ctx) }

// Redo reapplies the last undone command.
func (e *Editor) Redo(ctx context.Context) error { return e.stack.Redo(ctx) }

// CanUndo reports whether there is a command to undo.
func (e *Editor) CanUndo() bool { return e.stack.CanUndo() }

// CanRedo reports whether there is a command to redo.
func (e *Editor) CanRedo() bool { return e.stack.CanRedo() }

// History returns the recorded command descriptions, oldest first, and the cursor.
func (e *Editor) History() ([]string, int) {
	return e.stack.Descriptions(), e.stack.Cursor()
}

// Tree returns the display tree.
func (e *Editor) Tree() *view.TreeNode {
	defer e.monitor.Start(telemetry.OpRender).ObserveDuration()
	return e.views.Tree()
}

// NodeDetails returns the details of a node. The result is read-only.
func (e *Editor) NodeDetails(id string) (*view.Details, bool) { return e.views.NodeDetails(id) }

// ServiceQuestions returns the questions of a service in order.
func (e *Editor) ServiceQuestions(serviceID string) []*domain.Question {
	return e.views.ServiceQuestions(serviceID)
}

// Ancestors returns the ids from the root down to the parent of id.
func (e *Editor) Ancestors(id string) []string { return e.views.Ancestors(id) }

// State returns a deep copy of the current form.
func (e *Editor) State() *domain.FormState {
	st, _ := e.store.Snapshot()
	return st
}

// Snapshot returns a deep copy of the current form with its version.
func (e *Editor) Snapshot() (*domain.FormState, uint64) { return e.store.Snapshot() }

// Version returns the store version, bumped on every mutation.
func (e *Editor) Version() uint64 { return e.store.Version() }

// IsDirty reports whether there are unsaved changes.
func (e *Editor) IsDirty() bool { return e.store.IsDirty() }

// FormID returns the id of the form being edited.
func (e *Editor) FormID() string { return e.store.FormID() }

// RootID returns the id of the root node.
func (e *Editor) RootID() string { return e.store.RootID() }

// ForceSave saves now, bypassing the debounce.
func (e *Editor) ForceSave(ctx context.Context) error {
	return e.saver.ForceSave(ctx)
}

// Validate runs validation immediately.
func (e *Editor) Validate(ctx context.Context) (validation.Result, error) {
	return e.checker.Run(ctx)
}

// LastValidation returns the result of the most recent validation run.
func (e *Editor) LastValidation() (validation.Result, bool) {
	return e.checker.Latest()
}

// SyncNow runs one reconciliation round and reports whether the remote
// state was adopted. It is a no-op without WithSync.
func (e *Editor) SyncNow(ctx context.Context) (bool, error) {
	if e.syncer == nil {
		return false, nil
	}
	return e.syncer.SyncNow(ctx)
}

// Load replaces the whole form, e.g. after an explicit reload. History is cleared.
func (e *Editor) Load(state *domain.FormState) error {
	if state == nil {
		return domain.ErrInvalidState
	}
	if err := domain.CheckInvariants(state); err != nil {
		return err
	}
	e.store.Reset(state)
	e.stack.Clear()
	return nil
}
