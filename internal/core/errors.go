package core

import (
	"errors"
	"fmt"
)

// Error categories shared across the engine. Callers match with errors.Is.
var (
	// ErrStorage marks a profile/event/task store failure or a transaction conflict.
	ErrStorage = errors.New("storage error")

	// ErrValidation marks a request the caller must fix (ownership, missing ids).
	ErrValidation = errors.New("validation error")

	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")

	// Specific cases
	ErrProfileNotFound = fmt.Errorf("profile %w", ErrNotFound)
	ErrTaskNotFound    = fmt.Errorf("task %w", ErrNotFound)
	ErrIntentNotFound  = fmt.Errorf("intent %w", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("user %w", ErrNotFound)
	ErrMemoryNotFound  = fmt.Errorf("memory %w", ErrNotFound)
)

// StorageError wraps a failure coming from the relational store.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrStorage) match any StorageError.
func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// NewStorageError wraps err for op. A nil err stays nil.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// ValidationError reports an invalid request. No mutation happens when it is returned.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// Is lets errors.Is(err, ErrValidation) match any ValidationError.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}
