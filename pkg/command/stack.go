package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aretw0/formtree/internal/logging"
	"github.com/aretw0/formtree/pkg/domain"
)

// DefaultLimit is the default number of commands kept in history.
const DefaultLimit = 50

// Observer receives command lifecycle notifications.
type Observer func(kind domain.EventType, ev domain.CommandEvent)

// Stack is a bounded linear undo/redo history.
//
// Only one command runs at a time: while a command executes, Execute, Undo
// and Redo return ErrBusy. The command itself runs outside the stack's
// mutex, so a slow command does not block readers.
type Stack struct {
	mu        sync.Mutex
	history   []Command
	cursor    int
	executing bool
	limit     int

	observer Observer
	logger   *slog.Logger
}

// StackOption configures a Stack.
type StackOption func(*Stack)

// WithLimit bounds the history length. Values below 1 are ignored.
func WithLimit(n int) StackOption {
	return func(s *Stack) {
		if n > 0 {
			s.limit = n
		}
	}
}

// WithObserver registers the lifecycle observer.
func WithObserver(o Observer) StackOption {
	return func(s *Stack) { s.observer = o }
}

// WithLogger sets the stack logger.
func WithLogger(l *slog.Logger) StackOption {
	return func(s *Stack) { s.logger = l }
}

// NewStack creates an empty stack.
func NewStack(opts ...StackOption) *Stack {
	s := &Stack{
		cursor: -1,
		limit:  DefaultLimit,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Execute runs cmd and records it, discarding any redo branch.
// A command that fails is not recorded.
func (s *Stack) Execute(ctx context.Context, cmd Command) error {
	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		s.logger.Warn("command ignored while another is executing", "command", cmd.Description())
		return ErrBusy
	}
	if !cmd.CanExecute() {
		s.mu.Unlock()
		s.logger.Warn("command rejected", "command", cmd.Description())
		return ErrRejected
	}
	s.executing = true
	s.mu.Unlock()

	err := guard(func() error { return cmd.Execute(ctx) })

	s.mu.Lock()
	s.executing = false
	if err != nil {
		ev := s.eventLocked(cmd, err)
		s.mu.Unlock()
		s.logger.Error("command failed", "command", cmd.Description(), "error", err)
		s.notify(domain.EventCommandFailed, ev)
		return fmt.Errorf("execute %q: %w", cmd.Description(), err)
	}

	s.history = append(s.history[:s.cursor+1], cmd)
	s.cursor++
	if over := len(s.history) - s.limit; over > 0 {
		s.history = append([]Command(nil), s.history[over:]...)
		s.cursor -= over
	}
	ev := s.eventLocked(cmd, nil)
	s.mu.Unlock()

	s.logger.Debug("command executed", "command", cmd.Description(), "cursor", ev.Cursor)
	s.notify(domain.EventCommandExecuted, ev)
	return nil
}

// Undo reverts the command at the cursor. It is a no-op with nothing to undo.
func (s *Stack) Undo(ctx context.Context) error {
	return s.step(ctx, -1)
}

// Redo re-applies the command after the cursor. It is a no-op with nothing to redo.
func (s *Stack) Redo(ctx context.Context) error {
	return s.step(ctx, +1)
}

func (s *Stack) step(ctx context.Context, dir int) error {
	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		return ErrBusy
	}
	idx := s.cursor
	if dir > 0 {
		idx = s.cursor + 1
	}
	if idx < 0 || idx >= len(s.history) {
		s.mu.Unlock()
		return nil
	}
	cmd := s.history[idx]
	s.executing = true
	s.mu.Unlock()

	var err error
	kind := domain.EventCommandUndone
	if dir < 0 {
		err = guard(func() error { return cmd.Undo(ctx) })
	} else {
		kind = domain.EventCommandRedone
		err = guard(func() error { return cmd.Redo(ctx) })
	}

	s.mu.Lock()
	s.executing = false
	if err == nil {
		s.cursor += dir
	}
	ev := s.eventLocked(cmd, err)
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("command step failed", "command", cmd.Description(), "kind", kind, "error", err)
		s.notify(domain.EventCommandFailed, ev)
		return fmt.Errorf("%s %q: %w", kind, cmd.Description(), err)
	}
	s.notify(kind, ev)
	return nil
}

// CanUndo reports whether there is a command to undo.
func (s *Stack) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.executing && s.cursor >= 0
}

// CanRedo reports whether there is a command to redo.
func (s *Stack) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.executing && s.cursor < len(s.history)-1
}

// IsExecuting reports whether a command is in flight.
func (s *Stack) IsExecuting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.executing
}

// Len returns the number of recorded commands.
func (s *Stack) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history)
}

// Cursor returns the index of the last applied command, -1 if none.
func (s *Stack) Cursor() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Descriptions lists the recorded commands, oldest first.
func (s *Stack) Descriptions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.history))
	for i, cmd := range s.history {
		out[i] = cmd.Description()
	}
	return out
}

// Clear drops the whole history.
func (s *Stack) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
	s.cursor = -1
}

func (s *Stack) eventLocked(cmd Command, err error) domain.CommandEvent {
	return domain.CommandEvent{
		Description: cmd.Description(),
		Cursor:      s.cursor,
		Size:        len(s.history),
		Err:         err,
		Error:       domain.ErrString(err),
	}
}

func (s *Stack) notify(kind domain.EventType, ev domain.CommandEvent) {
	if s.observer != nil {
		s.observer(kind, ev)
	}
}

// guard turns a panicking command into an error.
func guard(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return fn()
}
