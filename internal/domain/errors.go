package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrReferenceValidation = errors.New("reference validation failed")
	ErrInvalidStatus       = errors.New("invalid status")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrRunNotTerminal      = errors.New("evaluation run is not in a terminal status")
	ErrInvalidInput        = errors.New("invalid input")

	// ErrMissingContent means metadata points at a blob that does not exist.
	// Callers must treat it as a storage failure, never as ErrNotFound.
	ErrMissingContent = errors.New("content missing behind metadata")
)

// StorageError reports a failed metadata or blob operation on the primary path.
type StorageError struct {
	Op     string
	Entity string
	ID     string
	Err    error
}

func (e *StorageError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s %s %s: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// UpstreamError reports a failed call to the upstream platform.
type UpstreamError struct {
	Op         string
	URL        string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upstream %s %s: status %d: %v", e.Op, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upstream %s %s: %v", e.Op, e.URL, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

// NewStorageError wraps err unless it already carries a sentinel the caller
// is expected to branch on.
func NewStorageError(op, entity, id string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) {
		return err
	}
	var existing *StorageError
	if errors.As(err, &existing) {
		return err
	}
	return &StorageError{Op: op, Entity: entity, ID: id, Err: err}
}
