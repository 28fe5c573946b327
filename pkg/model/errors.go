package model

import (
	"errors"
	"fmt"
)

// CardinalityError reports a field that did not resolve to the expected
// number of values. Err is ErrEmpty or ErrInconsistent.
type CardinalityError struct {
	Field string
	Err   error
}

func (e *CardinalityError) Error() string {
	return fmt.Sprintf("field %s: %v", e.Field, e.Err)
}

func (e *CardinalityError) Unwrap() error {
	return e.Err
}

// FormatError reports a value that does not match its fixed textual format.
type FormatError struct {
	Field string
	Value string
	Err   error
}

func (e *FormatError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed value %q: %v", e.Value, e.Err)
	}
	return fmt.Sprintf("field %s: malformed value %q: %v", e.Field, e.Value, e.Err)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// MissingFieldError reports a required value absent at construction.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field %s", e.Field)
}

// errorKind names the failure for metrics labels.
func errorKind(err error) string {
	var (
		ce *CardinalityError
		fe *FormatError
		me *MissingFieldError
	)
	switch {
	case errors.As(err, &ce):
		return "cardinality"
	case errors.As(err, &fe):
		return "format"
	case errors.As(err, &me):
		return "missing_field"
	default:
		return "document"
	}
}
