// Package draftstore persists per-document crash-recovery drafts on the
// editing client. The store is an optional dependency: callers treat an
// unavailable store as empty rather than fatal, trading crash recovery for
// uninterrupted editing.
package draftstore

import (
	"context"
	"errors"
	"fmt"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Draft is the unsaved local copy of a document, keyed by document identifier.
// A single record exists per document; local writes are last-write-wins.
type Draft struct {
	DocumentID       string `gorm:"column:document_id;primaryKey;size:190;not null" json:"document_id"`
	Name             string `gorm:"column:name;size:512;not null;default:''" json:"name"`
	Content          string `gorm:"column:content;type:text;not null;default:''" json:"content"`
	UpdatedAtSeconds int64  `gorm:"column:updated_at_s;not null" json:"updated_at_s"`
	BaseRevision     int64  `gorm:"column:base_revision;not null;default:0" json:"base_revision"`
}

// TableName provides the explicit table binding for GORM.
func (Draft) TableName() string {
	return "drafts"
}

// Store is the asynchronous keyed draft store consumed by the save scheduler.
type Store interface {
	Load(ctx context.Context, documentID string) (Draft, bool, error)
	Save(ctx context.Context, draft Draft) error
	Delete(ctx context.Context, documentID string) error
}

// SQLiteStore persists drafts in a local SQLite database.
type SQLiteStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// OpenSQLite opens (and migrates) the local draft database at path.
func OpenSQLite(path string, logger *zap.Logger) (*SQLiteStore, error) {
	if path == "" {
		return nil, fmt.Errorf("draft store path is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	if err := db.AutoMigrate(&Draft{}); err != nil {
		return nil, err
	}

	return &SQLiteStore{db: db, logger: logger}, nil
}

// Load returns the stored draft for the document, reporting whether one exists.
func (s *SQLiteStore) Load(ctx context.Context, documentID string) (Draft, bool, error) {
	var draft Draft
	err := s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Take(&draft).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, err
	}
	return draft, true, nil
}

// Save upserts the draft record for its document identifier.
func (s *SQLiteStore) Save(ctx context.Context, draft Draft) error {
	if draft.DocumentID == "" {
		return fmt.Errorf("draft document id is required")
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "document_id"}},
			UpdateAll: true,
		}).
		Create(&draft).Error
}

// Delete removes the draft record for the document, if any.
func (s *SQLiteStore) Delete(ctx context.Context, documentID string) error {
	return s.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Delete(&Draft{}).Error
}
