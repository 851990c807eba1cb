package command

import (
	"context"
	"fmt"
	"slices"

	"github.com/aretw0/formtree/pkg/domain"
	"github.com/aretw0/formtree/pkg/store"
)

// AddQuestion appends a question to a service.
type AddQuestion struct {
	target    Target
	serviceID string
	config    map[string]any

	id    string
	q     *domain.Question
	index int
}

// NewAddQuestion creates an AddQuestion command.
func NewAddQuestion(t Target, serviceID string, config map[string]any) *AddQuestion {
	return &AddQuestion{target: t, serviceID: serviceID, config: domain.CloneMap(config)}
}

// ID returns the id allocated by the last Execute.
func (c *AddQuestion) ID() string { return c.id }

func (c *AddQuestion) CanExecute() bool {
	n, ok := c.target.Node(c.serviceID)
	return ok && n.Type() == domain.NodeTypeService
}

func (c *AddQuestion) Execute(context.Context) error {
	c.id = c.target.AddQuestion(c.serviceID, c.config)
	return applied(c.id != "")
}

func (c *AddQuestion) Undo(context.Context) error {
	q, ok := c.target.Question(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.q = q
	c.index = questionIndex(c.target, q)
	return applied(c.target.DeleteQuestion(c.id))
}

func (c *AddQuestion) Redo(context.Context) error {
	return applied(c.target.RestoreQuestion(c.q, c.index))
}

func (c *AddQuestion) Description() string {
	return fmt.Sprintf("Add question to %s", c.serviceID)
}

// DeleteQuestion removes one question.
type DeleteQuestion struct {
	target Target
	id     string

	q     *domain.Question
	index int
}

// NewDeleteQuestion creates a DeleteQuestion command.
func NewDeleteQuestion(t Target, id string) *DeleteQuestion {
	return &DeleteQuestion{target: t, id: id}
}

func (c *DeleteQuestion) CanExecute() bool {
	_, ok := c.target.Question(c.id)
	return ok
}

func (c *DeleteQuestion) Execute(context.Context) error {
	q, ok := c.target.Question(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.q = q
	c.index = questionIndex(c.target, q)
	return applied(c.target.DeleteQuestion(c.id))
}

func (c *DeleteQuestion) Undo(context.Context) error {
	return applied(c.target.RestoreQuestion(c.q, c.index))
}

func (c *DeleteQuestion) Redo(context.Context) error {
	return applied(c.target.DeleteQuestion(c.id))
}

func (c *DeleteQuestion) Description() string {
	return fmt.Sprintf("Delete question %s", c.id)
}

// UpdateQuestion replaces a question's configuration.
type UpdateQuestion struct {
	target Target
	id     string
	config map[string]any

	prev *domain.Question
	next *domain.Question
}

// NewUpdateQuestion creates an UpdateQuestion command.
func NewUpdateQuestion(t Target, id string, config map[string]any) *UpdateQuestion {
	return &UpdateQuestion{target: t, id: id, config: domain.CloneMap(config)}
}

func (c *UpdateQuestion) CanExecute() bool {
	_, ok := c.target.Question(c.id)
	return ok
}

func (c *UpdateQuestion) Execute(context.Context) error {
	prev, ok := c.target.Question(c.id)
	if !ok {
		return ErrNotApplied
	}
	c.prev = prev
	if !c.target.UpdateQuestion(c.id, c.config) {
		return ErrNotApplied
	}
	c.next, _ = c.target.Question(c.id)
	return nil
}

func (c *UpdateQuestion) Undo(context.Context) error {
	return applied(c.target.ReplaceQuestion(c.prev))
}

func (c *UpdateQuestion) Redo(context.Context) error {
	return applied(c.target.ReplaceQuestion(c.next))
}

func (c *UpdateQuestion) Description() string {
	return fmt.Sprintf("Update question %s", c.id)
}

// ReorderQuestions sets the question sequence of a service.
type ReorderQuestions struct {
	target    Target
	serviceID string
	ids       []string

	prevIDs    []string
	prevOrders map[string]int
}

// NewReorderQuestions creates a ReorderQuestions command.
func NewReorderQuestions(t Target, serviceID string, orderedIDs []string) *ReorderQuestions {
	return &ReorderQuestions{target: t, serviceID: serviceID, ids: slices.Clone(orderedIDs)}
}

func (c *ReorderQuestions) CanExecute() bool {
	svc, ok := c.service()
	return ok && store.IsPermutation(svc.QuestionIDs, c.ids)
}

func (c *ReorderQuestions) Execute(context.Context) error {
	svc, ok := c.service()
	if !ok {
		return ErrNotApplied
	}
	c.prevIDs = slices.Clone(svc.QuestionIDs)
	c.prevOrders = make(map[string]int, len(c.prevIDs))
	for _, id := range c.prevIDs {
		if q, ok := c.target.Question(id); ok {
			c.prevOrders[id] = q.Order
		}
	}
	return applied(c.target.ReorderQuestions(c.serviceID, c.ids))
}

func (c *ReorderQuestions) Undo(context.Context) error {
	return applied(c.target.RestoreQuestionOrder(c.serviceID, c.prevIDs, c.prevOrders))
}

func (c *ReorderQuestions) Redo(context.Context) error {
	return applied(c.target.ReorderQuestions(c.serviceID, c.ids))
}

func (c *ReorderQuestions) Description() string {
	return fmt.Sprintf("Reorder questions of %s", c.serviceID)
}

func (c *ReorderQuestions) service() (*domain.ServiceNode, bool) {
	n, ok := c.target.Node(c.serviceID)
	if !ok {
		return nil, false
	}
	svc, ok := n.(*domain.ServiceNode)
	return svc, ok
}

func questionIndex(t Target, q *domain.Question) int {
	n, ok := t.Node(q.ServiceID)
	if !ok {
		return -1
	}
	svc, ok := n.(*domain.ServiceNode)
	if !ok {
		return -1
	}
	return slices.Index(svc.QuestionIDs, q.ID)
}
