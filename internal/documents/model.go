package documents

import (
	"errors"
	"fmt"
	"strings"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidDocumentID indicates that a document identifier is empty or exceeds storage bounds.
	ErrInvalidDocumentID = errors.New("documents: invalid document id")
	// ErrInvalidRevision indicates a negative revision value.
	ErrInvalidRevision = errors.New("documents: invalid revision")
)

// DocumentID represents a validated document identifier.
type DocumentID string

// NewDocumentID validates raw input and returns a DocumentID.
func NewDocumentID(rawInput string) (DocumentID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidDocumentID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidDocumentID, maxIdentifierLength)
	}
	return DocumentID(trimmed), nil
}

// String returns the underlying string identifier.
func (id DocumentID) String() string {
	return string(id)
}

// Revision represents a validated, non-negative document revision.
type Revision int64

// NewRevision validates the value and returns a Revision.
func NewRevision(value int64) (Revision, error) {
	if value < 0 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidRevision, value)
	}
	return Revision(value), nil
}

// Int64 exposes the raw revision value.
func (r Revision) Int64() int64 {
	return int64(r)
}

// Document models the authoritative persisted document record.
// Revision starts at 0 and increments by exactly 1 on every accepted write.
type Document struct {
	ID               string `gorm:"column:id;primaryKey;size:190;not null"`
	Name             string `gorm:"column:name;size:512;not null;default:''"`
	Content          string `gorm:"column:content;type:text;not null;default:''"`
	Kind             string `gorm:"column:kind;size:64;not null;default:''"`
	Revision         int64  `gorm:"column:revision;not null;default:0"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null;index:idx_documents_updated"`
}

// TableName provides the explicit table binding for GORM.
func (Document) TableName() string {
	return "documents"
}

// Snapshot captures an append-only coarse historical copy of a document.
// Rows are never mutated or deleted once written.
type Snapshot struct {
	SnapshotID       string `gorm:"column:snapshot_id;primaryKey;size:190;not null"`
	DocumentID       string `gorm:"column:document_id;size:190;not null;index:idx_snapshots_doc_created,priority:1"`
	Revision         int64  `gorm:"column:revision;not null"`
	Content          string `gorm:"column:content;type:text;not null"`
	CreatedAtSeconds int64  `gorm:"column:created_at_s;not null;index:idx_snapshots_doc_created,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (Snapshot) TableName() string {
	return "snapshots"
}

// CreateRequest describes the input for creating a document.
type CreateRequest struct {
	Kind string
}

// UpdateRequest describes a compare-and-swap write against a document.
// The write is applied only if the stored revision equals BaseRevision.
type UpdateRequest struct {
	DocumentID   DocumentID
	Content      string
	Name         *string
	BaseRevision Revision
}
