package rules

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrValidation matches any *ValidationError.
	ErrValidation = errors.New("invalid rule")

	// ErrNotFound matches any *NotFoundError.
	ErrNotFound = errors.New("rule not found")

	// ErrStoreUnavailable matches any *StoreUnavailableError.
	ErrStoreUnavailable = errors.New("rule store unavailable")
)

// ValidationError reports caller-supplied data that cannot be stored.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func newValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// NotFoundError lists every referenced rule id that does not exist.
type NotFoundError struct {
	IDs []string
}

func (e *NotFoundError) Error() string {
	if len(e.IDs) == 1 {
		return fmt.Sprintf("rule %s not found", e.IDs[0])
	}
	return fmt.Sprintf("rules not found: %s", strings.Join(e.IDs, ", "))
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

func notFound(ids ...string) *NotFoundError {
	return &NotFoundError{IDs: ids}
}

// StoreUnavailableError wraps a failure of the backing store. Callers may
// retry; the engine never does.
type StoreUnavailableError struct {
	Op  string
	Err error
}

func (e *StoreUnavailableError) Error() string {
	return fmt.Sprintf("rule store unavailable during %s: %v", e.Op, e.Err)
}

func (e *StoreUnavailableError) Is(target error) bool {
	return target == ErrStoreUnavailable
}

func (e *StoreUnavailableError) Unwrap() error {
	return e.Err
}

func unavailable(op string, err error) *StoreUnavailableError {
	return &StoreUnavailableError{Op: op, Err: err}
}

// storeError passes taxonomy errors through and wraps anything else as
// StoreUnavailable.
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrValidation) || errors.Is(err, ErrStoreUnavailable) {
		return err
	}
	return unavailable(op, err)
}
