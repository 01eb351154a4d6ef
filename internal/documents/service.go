package documents

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

const (
	opServiceNew     = "documents.service.new"
	opCreateDocument = "documents.create"
	opGetDocument    = "documents.get"
	opListDocuments  = "documents.list"
	opUpdateDocument = "documents.update"
	opDeleteDocument = "documents.delete"
)

// IDProvider issues unique identifiers for documents and snapshots.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required by the document service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Logger     *zap.Logger
	Snapshots  SnapshotPolicy
}

// Service owns authoritative document records and the optimistic-concurrency
// write path. The service holds no per-session state; concurrent writers race
// on the revision column and exactly one wins per revision step.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	idProvider IDProvider
	logger     *zap.Logger
	snapshots  SnapshotPolicy
}

// NewService validates the configuration and constructs a Service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	if cfg.IDProvider == nil {
		return nil, newServiceError(opServiceNew, "missing_id_provider", errMissingIDProvider)
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	snapshots := cfg.Snapshots
	if snapshots.MinInterval <= 0 {
		snapshots.MinInterval = DefaultSnapshotMinInterval
	}
	if snapshots.RevisionCadence <= 0 {
		snapshots.RevisionCadence = DefaultSnapshotRevisionCadence
	}

	return &Service{
		db:         cfg.Database,
		clock:      clock,
		idProvider: cfg.IDProvider,
		logger:     logger,
		snapshots:  snapshots,
	}, nil
}

// Create inserts a fresh document at revision 0 with empty name and content.
func (s *Service) Create(ctx context.Context, request CreateRequest) (Document, error) {
	if s.db == nil {
		s.logError(opCreateDocument, "missing_database", errMissingDatabase)
		return Document{}, newServiceError(opCreateDocument, "missing_database", errMissingDatabase)
	}
	if s.idProvider == nil {
		s.logError(opCreateDocument, "missing_id_provider", errMissingIDProvider)
		return Document{}, newServiceError(opCreateDocument, "missing_id_provider", errMissingIDProvider)
	}

	identifier, err := s.idProvider.NewID()
	if err != nil {
		s.logError(opCreateDocument, "id_generation_failed", err)
		return Document{}, newServiceError(opCreateDocument, "id_generation_failed", err)
	}

	now := s.clock().UTC().Unix()
	record := Document{
		ID:               identifier,
		Kind:             request.Kind,
		Revision:         0,
		CreatedAtSeconds: now,
		UpdatedAtSeconds: now,
	}
	if err := s.db.WithContext(ctx).Create(&record).Error; err != nil {
		s.logError(opCreateDocument, "insert_failed", err, zap.String("document_id", identifier))
		return Document{}, newServiceError(opCreateDocument, "insert_failed", err)
	}
	return record, nil
}

// Get fetches the current authoritative record for the identifier.
func (s *Service) Get(ctx context.Context, documentID DocumentID) (Document, error) {
	if s.db == nil {
		s.logError(opGetDocument, "missing_database", errMissingDatabase)
		return Document{}, newServiceError(opGetDocument, "missing_database", errMissingDatabase)
	}

	var record Document
	err := s.db.WithContext(ctx).
		Where("id = ?", documentID.String()).
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		s.logError(opGetDocument, "query_failed", err, zap.String("document_id", documentID.String()))
		return Document{}, newServiceError(opGetDocument, "query_failed", err)
	}
	return record, nil
}

// List returns all documents ordered by most recently updated first.
func (s *Service) List(ctx context.Context) ([]Document, error) {
	if s.db == nil {
		s.logError(opListDocuments, "missing_database", errMissingDatabase)
		return nil, newServiceError(opListDocuments, "missing_database", errMissingDatabase)
	}

	var records []Document
	if err := s.db.WithContext(ctx).
		Order("updated_at_s DESC").
		Find(&records).Error; err != nil {
		s.logError(opListDocuments, "query_failed", err)
		return nil, newServiceError(opListDocuments, "query_failed", err)
	}
	return records, nil
}

// Update applies a compare-and-swap write: it succeeds only if the stored
// revision still equals request.BaseRevision, in which case the revision
// advances by exactly 1. A stale base revision yields a *ConflictError carrying
// the current record; the caller never silently loses or overwrites data.
func (s *Service) Update(ctx context.Context, request UpdateRequest) (Document, error) {
	if s.db == nil {
		s.logError(opUpdateDocument, "missing_database", errMissingDatabase)
		return Document{}, newServiceError(opUpdateDocument, "missing_database", errMissingDatabase)
	}

	now := s.clock().UTC()
	assignments := map[string]interface{}{
		"content":      request.Content,
		"revision":     request.BaseRevision.Int64() + 1,
		"updated_at_s": now.Unix(),
	}
	if request.Name != nil {
		assignments["name"] = *request.Name
	}

	result := s.db.WithContext(ctx).
		Model(&Document{}).
		Where("id = ? AND revision = ?", request.DocumentID.String(), request.BaseRevision.Int64()).
		Updates(assignments)
	if result.Error != nil {
		s.logError(opUpdateDocument, "update_failed", result.Error,
			zap.String("document_id", request.DocumentID.String()),
			zap.Int64("base_revision", request.BaseRevision.Int64()))
		return Document{}, newServiceError(opUpdateDocument, "update_failed", result.Error)
	}

	if result.RowsAffected == 0 {
		// No row matched the identifier+revision pair: either the document is
		// gone or the base revision is stale. Re-fetch to tell the two apart.
		current, err := s.Get(ctx, request.DocumentID)
		if errors.Is(err, ErrDocumentNotFound) {
			return Document{}, ErrDocumentNotFound
		}
		if err != nil {
			return Document{}, err
		}
		return Document{}, &ConflictError{Current: current}
	}

	updated, err := s.Get(ctx, request.DocumentID)
	if err != nil {
		return Document{}, err
	}

	// Snapshots ride along after the accepted write and never fail it.
	if err := s.recordSnapshot(ctx, updated, now); err != nil {
		s.logError(opUpdateDocument, "snapshot_failed", err,
			zap.String("document_id", updated.ID),
			zap.Int64("revision", updated.Revision))
	}

	return updated, nil
}

// Delete removes a document record. Snapshots are retained.
func (s *Service) Delete(ctx context.Context, documentID DocumentID) error {
	if s.db == nil {
		s.logError(opDeleteDocument, "missing_database", errMissingDatabase)
		return newServiceError(opDeleteDocument, "missing_database", errMissingDatabase)
	}

	result := s.db.WithContext(ctx).
		Where("id = ?", documentID.String()).
		Delete(&Document{})
	if result.Error != nil {
		s.logError(opDeleteDocument, "delete_failed", result.Error, zap.String("document_id", documentID.String()))
		return newServiceError(opDeleteDocument, "delete_failed", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s == nil {
		return noOpLogger
	}
	if s.logger == nil {
		return noOpLogger
	}
	return s.logger
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	s.loggerOrDefault().Error("documents service error", attrs...)
}
