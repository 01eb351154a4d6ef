// Package editsync implements the client-side save-synchronization engine: a
// per-document session that watches buffer edits, throttles crash-recovery
// draft writes, debounces server flushes, and drives the optimistic-concurrency
// revision protocol against the documents API.
package editsync

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound indicates the document no longer exists on the server. Callers
// must treat this as terminal for the identifier, not retryable.
var ErrNotFound = errors.New("editsync: document not found")

// ErrConflict indicates a flush carried a stale base revision.
var ErrConflict = errors.New("editsync: revision conflict")

// Document mirrors the authoritative server record.
type Document struct {
	ID               string
	Name             string
	Content          string
	Kind             string
	Revision         int64
	CreatedAtSeconds int64
	UpdatedAtSeconds int64
}

// UpdateRequest is the write payload submitted on each flush.
type UpdateRequest struct {
	Content      string
	Name         *string
	BaseRevision int64
}

// ConflictError reports a rejected flush together with the server's current
// record so the session can offer re-basing instead of dropping data.
type ConflictError struct {
	Current Document
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("editsync: revision conflict, server at revision %d", e.Current.Revision)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Backend issues the document read/write requests for a session. Update must
// return a *ConflictError for stale base revisions and ErrNotFound for missing
// documents; any other error is treated as transient.
type Backend interface {
	Fetch(ctx context.Context, documentID string) (Document, error)
	Update(ctx context.Context, documentID string, request UpdateRequest) (Document, error)
}
