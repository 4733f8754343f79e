package service

import (
	"errors"
	"fmt"
)

var (
	ErrNoOpenShift           = errors.New("shift: no open shift")
	ErrShiftAlreadyOpen      = errors.New("shift: a shift is already open")
	ErrShiftNotFound         = errors.New("shift: not found")
	ErrBonusModeNeedsPlayers = errors.New("billing: bonus mode requires at least one player")
	ErrNoBonusBalance        = errors.New("billing: players have no bonus balance")
	ErrTableNotFound         = errors.New("billing: table not found")
	ErrTableBusy             = errors.New("billing: table has an active session")
	ErrTableIdle             = errors.New("billing: table has no session")
	ErrCustomerNotFound      = errors.New("customer: not found")
	ErrInvalidCredentials    = errors.New("auth: invalid credentials")
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

// PreconditionError rejects an operation the current state does not allow.
type PreconditionError struct {
	Err error
}

func (e *PreconditionError) Error() string { return e.Err.Error() }

func (e *PreconditionError) Unwrap() error { return e.Err }

func precondition(err error) error {
	return &PreconditionError{Err: err}
}

// HardwareError reports a failed relay call. The logical transition still committed.
type HardwareError struct {
	Op      string
	Channel int
	Err     error
}

func (e *HardwareError) Error() string {
	return fmt.Sprintf("hardware: %s channel %d: %v", e.Op, e.Channel, e.Err)
}

func (e *HardwareError) Unwrap() error { return e.Err }

// PersistenceError reports a failed write to the source of truth.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// BookkeepingError reports a bonus ledger failure that did not block the session.
type BookkeepingError struct {
	Op  string
	Err error
}

func (e *BookkeepingError) Error() string {
	return fmt.Sprintf("bonus: %s: %v", e.Op, e.Err)
}

func (e *BookkeepingError) Unwrap() error { return e.Err }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// IsPrecondition reports whether err is a PreconditionError.
func IsPrecondition(err error) bool {
	var p *PreconditionError
	return errors.As(err, &p)
}
