package intake

import (
	"errors"
	"fmt"
)

var (
	ErrUnknownField  = errors.New("unknown field")
	ErrInvalidNumber = errors.New("not a valid number")
	ErrOutOfRange    = errors.New("value out of range")
	ErrNotWhole      = errors.New("value must be a whole number")
	ErrInvalidEnum   = errors.New("value not in allowed set")
	ErrInvalidBool   = errors.New("not a boolean")
)

// ValidationError reports an edit rejected at the intake boundary
type ValidationError struct {
	Field  string
	Value  any
	Reason string
	Cause  error
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s: %v (%s: %s)", e.Field, e.Value, e.Cause.Error(), e.Reason)
	}
	return fmt.Sprintf("%s: %v (%s)", e.Field, e.Value, e.Cause.Error())
}

func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// IsValidationError reports whether err is or wraps a *ValidationError
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
