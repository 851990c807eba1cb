package domain

import (
	"errors"
	"strings"
)

// ErrFormNotFound is returned when a form ID cannot be found in a store.
var ErrFormNotFound = errors.New("form not found")

// ErrInvalidState is returned when a state violates the tree invariants.
var ErrInvalidState = errors.New("invalid form state")

// InvariantError aggregates every invariant violation found in a state.
type InvariantError struct {
	Violations []string
}

func (e *InvariantError) Error() string {
	return "invalid form state: " + strings.Join(e.Violations, "; ")
}

// Unwrap lets callers match with errors.Is(err, ErrInvalidState).
func (e *InvariantError) Unwrap() error {
	return ErrInvalidState
}
