package editsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/quillworks/quill/pkg/draftstore"
)

// fakeTimer records its delay and callback; tests fire it explicitly so the
// scheduler can be driven by a logical clock instead of wall-clock waits.
type fakeTimer struct {
	delay   time.Duration
	fire    func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.stopped = true
	return !t.fired
}

type fakeTimerSet struct {
	timers []*fakeTimer
}

func (f *fakeTimerSet) factory(delay time.Duration, fire func()) Timer {
	timer := &fakeTimer{delay: delay, fire: fire}
	f.timers = append(f.timers, timer)
	return timer
}

// fireLast fires the most recently armed live timer with the given delay.
func (f *fakeTimerSet) fireLast(t *testing.T, delay time.Duration) {
	t.Helper()
	for index := len(f.timers) - 1; index >= 0; index-- {
		timer := f.timers[index]
		if timer.delay == delay && !timer.stopped && !timer.fired {
			timer.fired = true
			timer.fire()
			return
		}
	}
	t.Fatalf("no live timer armed for delay %s", delay)
}

// fireAll fires every live timer, simulating everything eventually elapsing.
func (f *fakeTimerSet) fireAll() {
	for _, timer := range f.timers {
		if !timer.stopped && !timer.fired {
			timer.fired = true
			timer.fire()
		}
	}
}

func (f *fakeTimerSet) armedCount(delay time.Duration) int {
	count := 0
	for _, timer := range f.timers {
		if timer.delay == delay && !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (f *fakeTimerSet) createdCount(delay time.Duration) int {
	count := 0
	for _, timer := range f.timers {
		if timer.delay == delay {
			count++
		}
	}
	return count
}

// fakeBackend simulates the revision store: compare-and-swap on Revision,
// conflicts carry the current record.
type fakeBackend struct {
	record    Document
	updates   []UpdateRequest
	failNext  error
	onUpdate  func(b *fakeBackend)
	fetchErr  error
	notFound  bool
}

func (b *fakeBackend) Fetch(ctx context.Context, documentID string) (Document, error) {
	if b.fetchErr != nil {
		return Document{}, b.fetchErr
	}
	if b.notFound {
		return Document{}, ErrNotFound
	}
	return b.record, nil
}

func (b *fakeBackend) Update(ctx context.Context, documentID string, request UpdateRequest) (Document, error) {
	if b.onUpdate != nil {
		hook := b.onUpdate
		b.onUpdate = nil
		hook(b)
	}
	if b.failNext != nil {
		err := b.failNext
		b.failNext = nil
		return Document{}, err
	}
	b.updates = append(b.updates, request)
	if request.BaseRevision != b.record.Revision {
		return Document{}, &ConflictError{Current: b.record}
	}
	b.record.Revision = request.BaseRevision + 1
	b.record.Content = request.Content
	if request.Name != nil {
		b.record.Name = *request.Name
	}
	b.record.UpdatedAtSeconds++
	return b.record, nil
}

// fakeDraftStore is an in-memory draftstore.Store with optional injected
// failures.
type fakeDraftStore struct {
	drafts  map[string]draftstore.Draft
	failAll bool
}

func newFakeDraftStore() *fakeDraftStore {
	return &fakeDraftStore{drafts: map[string]draftstore.Draft{}}
}

func (s *fakeDraftStore) Load(ctx context.Context, documentID string) (draftstore.Draft, bool, error) {
	if s.failAll {
		return draftstore.Draft{}, false, errors.New("draft store unavailable")
	}
	draft, ok := s.drafts[documentID]
	return draft, ok, nil
}

func (s *fakeDraftStore) Save(ctx context.Context, draft draftstore.Draft) error {
	if s.failAll {
		return errors.New("draft store unavailable")
	}
	s.drafts[draft.DocumentID] = draft
	return nil
}

func (s *fakeDraftStore) Delete(ctx context.Context, documentID string) error {
	if s.failAll {
		return errors.New("draft store unavailable")
	}
	delete(s.drafts, documentID)
	return nil
}

type sessionFixture struct {
	session *Session
	backend *fakeBackend
	timers  *fakeTimerSet
	drafts  *fakeDraftStore
	now     *time.Time
}

func newSessionFixture(t *testing.T, record Document, drafts *fakeDraftStore) *sessionFixture {
	t.Helper()
	if drafts == nil {
		drafts = newFakeDraftStore()
	}
	backend := &fakeBackend{record: record}
	timers := &fakeTimerSet{}
	now := time.Unix(1700000600, 0).UTC()

	session, err := OpenSession(context.Background(), SessionConfig{
		DocumentID: record.ID,
		Backend:    backend,
		Drafts:     drafts,
		Clock:      func() time.Time { return now },
		Timers:     timers.factory,
	})
	if err != nil {
		t.Fatalf("failed to open session: %v", err)
	}
	return &sessionFixture{
		session: session,
		backend: backend,
		timers:  timers,
		drafts:  drafts,
		now:     &now,
	}
}

func baseRecord() Document {
	return Document{
		ID:               "doc-1",
		Name:             "untitled",
		Content:          "",
		Kind:             "markdown",
		Revision:         0,
		CreatedAtSeconds: 1700000000,
		UpdatedAtSeconds: 1700000000,
	}
}
