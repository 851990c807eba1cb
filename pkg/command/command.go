// Package command implements reversible edits and the bounded undo/redo stack.
//
// Every mutation of a form goes through a Command executed by a Stack. A
// command captures exactly the prior state it overwrites, so Undo restores
// the store to a state structurally equal to the one before Execute.
package command

import (
	"context"
	"errors"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/store"
)

var (
	// ErrBusy is returned while another command is executing.
	ErrBusy = errors.New("command stack is busy")
	// ErrRejected is returned when a command's preconditions do not hold.
	ErrRejected = errors.New("command cannot execute")
	// ErrNotApplied is returned when the store refused the mutation.
	ErrNotApplied = errors.New("mutation was not applied")
)

// Command is a reversible edit.
type Command interface {
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	CanExecute() bool
	Description() string
}

// Target is the store surface commands operate on.
type Target interface {
	Node(id string) (domain.Node, bool)
	Question(id string) (*domain.Question, bool)

	AddNode(parentID string, data domain.Node) string
	DeleteNode(id string) bool
	MoveNode(id, newParentID string, index int) bool
	UpdateNode(id string, patch domain.NodePatch) bool
	ReplaceNode(prev domain.Node) bool
	ExtractSubtree(id string) (store.Subtree, bool)
	RestoreSubtree(sub store.Subtree) bool

	AddQuestion(serviceID string, config map[string]any) string
	DeleteQuestion(id string) bool
	UpdateQuestion(id string, config map[string]any) bool
	ReplaceQuestion(prev *domain.Question) bool
	RestoreQuestion(q *domain.Question, index int) bool
	ReorderQuestions(serviceID string, orderedIDs []string) bool
	RestoreQuestionOrder(serviceID string, ids []string, orders map[string]int) bool
}

var _ Target = (*store.Store)(nil)

func applied(ok bool) error {
	if !ok {
		return ErrNotApplied
	}
	return nil
}
