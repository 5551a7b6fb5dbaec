package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrConflict          = errors.New("conflict")
	ErrInvalidInput      = errors.New("invalid input")
)

// TransitionError reports an action applied outside its valid-from set.
type TransitionError struct {
	Kind   Kind
	ID     string
	Action Action
	From   Status
}

func (e *TransitionError) Error() string {
	if e.From == "" {
		return fmt.Sprintf("cannot %s %s %q: no such record", e.Action, e.Kind, e.ID)
	}
	return fmt.Sprintf("cannot %s %s %q while %s", e.Action, e.Kind, e.ID, e.From)
}

func (e *TransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// NotFound builds an ErrNotFound naming the record.
func NotFound(kind Kind, id string) error {
	return fmt.Errorf("%s %q: %w", kind, id, ErrNotFound)
}

// Conflict builds an ErrConflict for a lost optimistic check.
func Conflict(kind Kind, id string, expected, actual Status) error {
	return fmt.Errorf("%s %q expected %q, found %q: %w", kind, id, expected, actual, ErrConflict)
}
