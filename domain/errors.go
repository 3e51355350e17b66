package domain

import (
	"errors"
	"fmt"
)

// ValidationError reports a missing or malformed input field. No state is
// mutated when it is returned.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// NotFoundError reports a reference to a task or column that does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// ErrEmptyPatch is returned when an update carries no fields.
var ErrEmptyPatch = &ValidationError{Field: "patch", Message: "no fields to update"}

// ErrPositionsCorrupt wraps invariant violations found by CheckPositions.
var ErrPositionsCorrupt = errors.New("column positions corrupt")

func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

func taskNotFound(id string) error   { return &NotFoundError{Kind: "task", ID: id} }
func columnNotFound(id string) error { return &NotFoundError{Kind: "column", ID: id} }
