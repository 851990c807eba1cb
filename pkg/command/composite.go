package command

import (
	"context"
	"fmt"
)

// Composite groups commands into a single undoable step.
//
// Members whose preconditions fail at execution time are skipped. If a
// member fails or panics, the members applied so far are undone in reverse
// order and the error is returned, leaving the store as it was.
type Composite struct {
	description string
	commands    []Command
	applied     []Command
}

// NewComposite creates a composite command.
func NewComposite(description string, commands ...Command) *Composite {
	return &Composite{description: description, commands: commands}
}

// Add appends a member before execution.
func (c *Composite) Add(cmd Command) {
	c.commands = append(c.commands, cmd)
}

func (c *Composite) CanExecute() bool {
	if len(c.commands) == 0 {
		return false
	}
	for _, cmd := range c.commands {
		if !cmd.CanExecute() {
			return false
		}
	}
	return true
}

func (c *Composite) Execute(ctx context.Context) error {
	c.applied = c.applied[:0]
	for _, cmd := range c.commands {
		if !cmd.CanExecute() {
			continue
		}
		if err := guard(func() error { return cmd.Execute(ctx) }); err != nil {
			if rbErr := c.rollback(ctx); rbErr != nil {
				return fmt.Errorf("%s: %w (rollback failed: %v)", cmd.Description(), err, rbErr)
			}
			return fmt.Errorf("%s: %w", cmd.Description(), err)
		}
		c.applied = append(c.applied, cmd)
	}
	return nil
}

func (c *Composite) rollback(ctx context.Context) error {
	for i := len(c.applied) - 1; i >= 0; i-- {
		if err := c.applied[i].Undo(ctx); err != nil {
			return err
		}
	}
	c.applied = c.applied[:0]
	return nil
}

func (c *Composite) Undo(ctx context.Context) error {
	for i := len(c.applied) - 1; i >= 0; i-- {
		if err := c.applied[i].Undo(ctx); err != nil {
			return fmt.Errorf("undo %s: %w", c.applied[i].Description(), err)
		}
	}
	return nil
}

func (c *Composite) Redo(ctx context.Context) error {
	for _, cmd := range c.applied {
		if err := cmd.Redo(ctx); err != nil {
			return fmt.Errorf("redo %s: %w", cmd.Description(), err)
		}
	}
	return nil
}

func (c *Composite) Description() string {
	return c.description
}

// Len returns the number of members.
func (c *Composite) Len() int { return len(c.commands) }
