package service

import (
	"errors"
	"fmt"
)

var (
	ErrOrderNotFound    = errors.New("order: not found")
	ErrForbidden        = errors.New("order: token mismatch")
	ErrNoCheckout       = errors.New("order: no checkout url yet")
	ErrInvalidSignature = errors.New("webhook: invalid signature")
)

// ValidationError rejects malformed input before any state changes.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ReconciliationError reports a provider call or webhook that could not be reconciled.
type ReconciliationError struct {
	Op  string
	Err error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile: %s: %v", e.Op, e.Err)
}

func (e *ReconciliationError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write to the order store.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
