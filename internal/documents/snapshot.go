package documents

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

const (
	// DefaultSnapshotMinInterval is the elapsed time after which the next
	// accepted write produces a snapshot regardless of revision cadence.
	DefaultSnapshotMinInterval = 30 * time.Second
	// DefaultSnapshotRevisionCadence snapshots every Nth revision regardless
	// of elapsed time.
	DefaultSnapshotRevisionCadence = 10
)

// SnapshotPolicy decides, after each accepted write, whether to persist a
// coarse historical copy of the content just written.
type SnapshotPolicy struct {
	MinInterval     time.Duration
	RevisionCadence int64
}

// ShouldSnapshot reports whether a write at the given revision warrants a
// snapshot, given the most recent prior snapshot (nil when none exists).
func (p SnapshotPolicy) ShouldSnapshot(last *Snapshot, revision int64, now time.Time) bool {
	if last == nil {
		return true
	}
	if p.RevisionCadence > 0 && revision%p.RevisionCadence == 0 {
		return true
	}
	if p.MinInterval > 0 && now.Sub(time.Unix(last.CreatedAtSeconds, 0)) >= p.MinInterval {
		return true
	}
	return false
}

// recordSnapshot runs the snapshot policy for a freshly accepted write.
// Failures propagate to the caller for logging only; the write they follow has
// already been committed and is never rolled back.
func (s *Service) recordSnapshot(ctx context.Context, record Document, now time.Time) error {
	var last Snapshot
	var lastPtr *Snapshot
	err := s.db.WithContext(ctx).
		Where("document_id = ?", record.ID).
		Order("revision DESC").
		Take(&last).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		lastPtr = nil
	} else if err != nil {
		return err
	} else {
		lastPtr = &last
	}

	if !s.snapshots.ShouldSnapshot(lastPtr, record.Revision, now) {
		return nil
	}

	snapshotID, err := s.idProvider.NewID()
	if err != nil {
		return err
	}

	snapshot := Snapshot{
		SnapshotID:       snapshotID,
		DocumentID:       record.ID,
		Revision:         record.Revision,
		Content:          record.Content,
		CreatedAtSeconds: now.Unix(),
	}
	return s.db.WithContext(ctx).Create(&snapshot).Error
}
