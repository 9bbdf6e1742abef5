package treestore

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates that a requested entry was not found
	ErrNotFound = errors.New("entry not found")

	// ErrDataCorrupt indicates that stored data is corrupted
	ErrDataCorrupt = errors.New("data corruption detected")

	// ErrBackendClosed indicates that the backend is closed
	ErrBackendClosed = errors.New("backend is closed")

	// ErrBackendFailure indicates a backend I/O failure
	ErrBackendFailure = errors.New("backend failure")

	// ErrInvalidConfig indicates that the configuration is invalid
	ErrInvalidConfig = errors.New("invalid configuration")
)

// StoreError wraps an error with the operation and backend that produced it.
type StoreError struct {
	Operation string // The operation that failed
	Backend   string // The backend name
	Key       Key    // The key involved, zero if not applicable
	Cause     error  // The underlying error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Key == (Key{}) {
		return fmt.Sprintf("treestore %s error on backend %s: %v", e.Operation, e.Backend, e.Cause)
	}
	return fmt.Sprintf("treestore %s error on backend %s for key %s: %v",
		e.Operation, e.Backend, e.Key.Hex(), e.Cause)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target error.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Cause, target)
}

// wrapStatus converts a non-OK backend status into an error.
func wrapStatus(op, backend string, key Key, status Status) error {
	var cause error
	switch status {
	case NotFound:
		cause = ErrNotFound
	case DataCorrupt:
		cause = ErrDataCorrupt
	default:
		cause = ErrBackendFailure
	}
	return &StoreError{Operation: op, Backend: backend, Key: key, Cause: cause}
}

// IsNotFound checks if an error indicates that an entry was not found.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
