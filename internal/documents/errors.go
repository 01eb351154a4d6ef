package documents

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotFound indicates that no document exists for the requested identifier.
	ErrDocumentNotFound = errors.New("documents: document not found")
	// ErrRevisionConflict indicates that a write carried a stale base revision.
	ErrRevisionConflict = errors.New("documents: revision conflict")
)

// ConflictError reports a rejected compare-and-swap write together with the
// current authoritative record, so callers can re-base instead of losing data.
type ConflictError struct {
	Current Document
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("documents: revision conflict, current revision %d", e.Current.Revision)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrRevisionConflict
}

// ServiceError carries a dotted operation code alongside the underlying cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}
