package documents

import (
	"errors"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
}

type sequentialIDGenerator struct {
	next int
}

func (g *sequentialIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("id-%d", g.next), nil
}

func mustDocumentID(t *testing.T, value string) DocumentID {
	t.Helper()
	id, err := NewDocumentID(value)
	if err != nil {
		t.Fatalf("unexpected document id error: %v", err)
	}
	return id
}

func mustRevision(t *testing.T, value int64) Revision {
	t.Helper()
	revision, err := NewRevision(value)
	if err != nil {
		t.Fatalf("unexpected revision error: %v", err)
	}
	return revision
}

func newTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:quill_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Document{}, &Snapshot{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, clock func() time.Time) (*Service, *gorm.DB) {
	t.Helper()

	db := newTestDatabase(t)
	if clock == nil {
		clock = func() time.Time { return time.Unix(1700000600, 0).UTC() }
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: &sequentialIDGenerator{},
	})
	if err != nil {
		t.Fatalf("failed to construct documents service: %v", err)
	}
	return service, db
}
