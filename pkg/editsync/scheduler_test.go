package editsync

import (
	"context"
	"errors"
	"testing"

	"github.com/quillworks/quill/pkg/draftstore"
)

func TestEditFlushesAfterDebounce(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	fixture.session.Edit("untitled", "hello")
	if fixture.session.State() != StateIdle {
		t.Fatalf("expected idle before timers fire, got %s", fixture.session.State())
	}

	fixture.timers.fireLast(t, DefaultDebounceInterval)

	if len(fixture.backend.updates) != 1 {
		t.Fatalf("expected exactly one update, got %d", len(fixture.backend.updates))
	}
	update := fixture.backend.updates[0]
	if update.BaseRevision != 0 || update.Content != "hello" {
		t.Fatalf("unexpected update payload %+v", update)
	}
	if fixture.session.BaseRevision() != 1 {
		t.Fatalf("expected base revision 1 after flush, got %d", fixture.session.BaseRevision())
	}
	if fixture.session.State() != StateIdle {
		t.Fatalf("expected idle after flush, got %s", fixture.session.State())
	}
	if saved := fixture.session.Saved(); saved.Content != "hello" {
		t.Fatalf("expected saved baseline to adopt response, got %+v", saved)
	}
}

func TestNoFlushWhenBufferMatchesBaseline(t *testing.T) {
	record := baseRecord()
	record.Content = "hello"
	fixture := newSessionFixture(t, record, nil)

	// Editing back to the saved value must not schedule a server write.
	fixture.session.Edit(record.Name, "hello")
	if fixture.timers.createdCount(DefaultDebounceInterval) != 0 {
		t.Fatalf("expected no debounce timer for a clean buffer")
	}

	fixture.timers.fireAll()
	if len(fixture.backend.updates) != 0 {
		t.Fatalf("expected no server writes, got %d", len(fixture.backend.updates))
	}
}

func TestBoundingTimerFiresDespiteContinuousEdits(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	// Continuous typing: every edit resets the debounce timer, but the
	// bounding timer armed by the first unsaved edit survives.
	for i := 0; i < 12; i++ {
		fixture.session.Edit("untitled", "draft pass "+string(rune('a'+i)))
	}
	if fixture.timers.createdCount(DefaultMaxFlushInterval) != 1 {
		t.Fatalf("bounding timer must be armed exactly once, got %d", fixture.timers.createdCount(DefaultMaxFlushInterval))
	}
	if fixture.timers.armedCount(DefaultDebounceInterval) != 1 {
		t.Fatalf("only the most recent debounce timer may be live, got %d", fixture.timers.armedCount(DefaultDebounceInterval))
	}

	fixture.timers.fireLast(t, DefaultMaxFlushInterval)

	if len(fixture.backend.updates) != 1 {
		t.Fatalf("expected exactly one update from the bounding timer, got %d", len(fixture.backend.updates))
	}
	if fixture.backend.updates[0].Content != "draft pass "+string(rune('a'+11)) {
		t.Fatalf("expected the final keystroke to be flushed, got %q", fixture.backend.updates[0].Content)
	}
}

func TestMutationDuringInFlightFlushTriggersOneMore(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)
	session := fixture.session

	fixture.backend.onUpdate = func(b *fakeBackend) {
		// A keystroke lands while the flush is on the wire; the completion
		// must consume the pending flag and flush exactly once more.
		session.Edit("untitled", "second")
		fixture.timers.fireLast(t, DefaultDebounceInterval)
	}

	session.Edit("untitled", "first")
	fixture.timers.fireLast(t, DefaultDebounceInterval)

	if len(fixture.backend.updates) != 2 {
		t.Fatalf("expected two updates, got %d", len(fixture.backend.updates))
	}
	if fixture.backend.updates[0].Content != "first" || fixture.backend.updates[1].Content != "second" {
		t.Fatalf("unexpected update sequence %+v", fixture.backend.updates)
	}
	if fixture.backend.updates[1].BaseRevision != 1 {
		t.Fatalf("follow-up flush must re-base on the response revision, got %d", fixture.backend.updates[1].BaseRevision)
	}
	if session.State() != StateIdle {
		t.Fatalf("expected idle after both flushes, got %s", session.State())
	}
}

func TestTransientFailureEntersErrorStateAndIsRetryable(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)
	fixture.backend.failNext = errors.New("network down")

	fixture.session.Edit("untitled", "hello")
	fixture.timers.fireLast(t, DefaultDebounceInterval)

	if fixture.session.State() != StateError {
		t.Fatalf("expected error state, got %s", fixture.session.State())
	}
	if fixture.session.BaseRevision() != 0 {
		t.Fatalf("base revision must not change on failure, got %d", fixture.session.BaseRevision())
	}

	// Explicit retry re-attempts the flush with nothing discarded.
	fixture.session.Flush(context.Background())
	if fixture.session.State() != StateIdle {
		t.Fatalf("expected idle after retry, got %s", fixture.session.State())
	}
	if fixture.session.BaseRevision() != 1 {
		t.Fatalf("expected base revision 1 after retry, got %d", fixture.session.BaseRevision())
	}
	if got := fixture.backend.record.Content; got != "hello" {
		t.Fatalf("expected content to reach the server, got %q", got)
	}
}

func TestConflictHaltsAutomaticFlushes(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	// Another tab won revision 1 while this session was editing.
	fixture.backend.record.Revision = 1
	fixture.backend.record.Content = "rival"

	fixture.session.Edit("untitled", "mine")
	fixture.timers.fireLast(t, DefaultDebounceInterval)

	if fixture.session.State() != StateConflict {
		t.Fatalf("expected conflict state, got %s", fixture.session.State())
	}
	current, ok := fixture.session.Conflict()
	if !ok {
		t.Fatalf("expected conflict record to be surfaced")
	}
	if current.Revision != 1 || current.Content != "rival" {
		t.Fatalf("unexpected conflict record %+v", current)
	}

	attemptsBefore := len(fixture.backend.updates)

	// Neither edits nor explicit flushes may auto-resolve the conflict.
	fixture.session.Edit("untitled", "mine again")
	fixture.session.Flush(context.Background())
	fixture.timers.fireAll()

	if len(fixture.backend.updates) != attemptsBefore {
		t.Fatalf("conflict must halt flushing, saw %d extra attempts", len(fixture.backend.updates)-attemptsBefore)
	}
	if latest := fixture.session.Latest(); latest.Content != "mine again" {
		t.Fatalf("edits must still be recorded during conflict, got %q", latest.Content)
	}
}

func TestResolveReloadAdoptsServerCopy(t *testing.T) {
	drafts := newFakeDraftStore()
	fixture := newSessionFixture(t, baseRecord(), drafts)

	fixture.backend.record.Revision = 1
	fixture.backend.record.Content = "rival"
	fixture.session.Edit("untitled", "mine")
	fixture.timers.fireLast(t, DefaultDebounceInterval)
	fixture.timers.fireLast(t, DefaultDraftQuietPeriod)
	if _, ok := drafts.drafts["doc-1"]; !ok {
		t.Fatalf("expected draft before resolution")
	}

	record, err := fixture.session.ResolveReload(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if record.Content != "rival" {
		t.Fatalf("expected server record, got %+v", record)
	}
	if fixture.session.State() != StateIdle {
		t.Fatalf("expected idle after reload, got %s", fixture.session.State())
	}
	if latest := fixture.session.Latest(); latest.Content != "rival" {
		t.Fatalf("expected buffer to adopt server copy, got %q", latest.Content)
	}
	if fixture.session.BaseRevision() != 1 {
		t.Fatalf("expected base revision 1, got %d", fixture.session.BaseRevision())
	}
	if _, ok := drafts.drafts["doc-1"]; ok {
		t.Fatalf("expected draft to be deleted on reload")
	}
}

func TestResolveOverwriteReBasesAndFlushes(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	fixture.backend.record.Revision = 1
	fixture.backend.record.Content = "rival"
	fixture.session.Edit("untitled", "mine")
	fixture.timers.fireLast(t, DefaultDebounceInterval)
	if fixture.session.State() != StateConflict {
		t.Fatalf("expected conflict state, got %s", fixture.session.State())
	}

	if err := fixture.session.ResolveOverwrite(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fixture.session.State() != StateIdle {
		t.Fatalf("expected idle after overwrite, got %s", fixture.session.State())
	}
	if fixture.backend.record.Content != "mine" {
		t.Fatalf("expected local content to win, got %q", fixture.backend.record.Content)
	}
	if fixture.backend.record.Revision != 2 {
		t.Fatalf("expected revision 2 after overwrite, got %d", fixture.backend.record.Revision)
	}
	if fixture.session.BaseRevision() != 2 {
		t.Fatalf("expected base revision 2, got %d", fixture.session.BaseRevision())
	}
}

func TestResolveOverwriteRetriesOnImmediateSecondConflict(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	fixture.backend.record.Revision = 1
	fixture.backend.record.Content = "rival"
	fixture.session.Edit("untitled", "mine")
	fixture.timers.fireLast(t, DefaultDebounceInterval)

	// The rival tab sneaks in one more write between resolution and flush.
	fixture.backend.onUpdate = func(b *fakeBackend) {
		b.record.Revision = 2
		b.record.Content = "rival again"
	}

	if err := fixture.session.ResolveOverwrite(context.Background()); err != nil {
		t.Fatalf("expected bounded re-base to succeed, got %v", err)
	}
	if fixture.backend.record.Content != "mine" {
		t.Fatalf("expected local content to win after re-base, got %q", fixture.backend.record.Content)
	}
	if fixture.backend.record.Revision != 3 {
		t.Fatalf("expected revision 3, got %d", fixture.backend.record.Revision)
	}
}

func TestDraftWrittenAfterQuietPeriodAndClearedOnSave(t *testing.T) {
	drafts := newFakeDraftStore()
	fixture := newSessionFixture(t, baseRecord(), drafts)

	fixture.session.Edit("untitled", "hello")
	fixture.timers.fireLast(t, DefaultDraftQuietPeriod)

	draft, ok := drafts.drafts["doc-1"]
	if !ok {
		t.Fatalf("expected draft after quiet period")
	}
	if draft.Content != "hello" || draft.BaseRevision != 0 {
		t.Fatalf("unexpected draft %+v", draft)
	}

	fixture.timers.fireLast(t, DefaultDebounceInterval)
	if _, ok := drafts.drafts["doc-1"]; ok {
		t.Fatalf("expected draft to be deleted once content is durably saved")
	}
}

func TestDraftOfferedOnOpenWhenNewerAndDifferent(t *testing.T) {
	record := baseRecord()
	drafts := newFakeDraftStore()
	drafts.drafts[record.ID] = storedDraft(record.ID, "recovered", record.UpdatedAtSeconds+100)

	fixture := newSessionFixture(t, record, drafts)

	offered, ok := fixture.session.PendingDraft()
	if !ok {
		t.Fatalf("expected draft to be offered")
	}
	if offered.Content != "recovered" {
		t.Fatalf("unexpected draft %+v", offered)
	}

	if err := fixture.session.RestoreDraft(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if latest := fixture.session.Latest(); latest.Content != "recovered" {
		t.Fatalf("expected buffer to adopt draft, got %q", latest.Content)
	}

	// Autosave proceeds normally from the restored value.
	fixture.timers.fireLast(t, DefaultDebounceInterval)
	if fixture.backend.record.Content != "recovered" {
		t.Fatalf("expected restored content to be flushed, got %q", fixture.backend.record.Content)
	}
}

func TestStaleDraftDiscardedOnOpen(t *testing.T) {
	record := baseRecord()
	drafts := newFakeDraftStore()
	drafts.drafts[record.ID] = storedDraft(record.ID, "stale", record.UpdatedAtSeconds-100)

	fixture := newSessionFixture(t, record, drafts)

	if _, ok := fixture.session.PendingDraft(); ok {
		t.Fatalf("stale draft must not be offered")
	}
	if _, ok := drafts.drafts[record.ID]; ok {
		t.Fatalf("stale draft must be removed from the store")
	}
}

func TestDiscardDraftDeletesStoredRecord(t *testing.T) {
	record := baseRecord()
	drafts := newFakeDraftStore()
	drafts.drafts[record.ID] = storedDraft(record.ID, "recovered", record.UpdatedAtSeconds+100)

	fixture := newSessionFixture(t, record, drafts)

	if err := fixture.session.DiscardDraft(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, ok := drafts.drafts[record.ID]; ok {
		t.Fatalf("expected draft to be deleted")
	}
	if latest := fixture.session.Latest(); latest.Content != record.Content {
		t.Fatalf("buffer must keep the server copy after discard, got %q", latest.Content)
	}
}

func TestDraftStoreFailuresAreSwallowed(t *testing.T) {
	drafts := newFakeDraftStore()
	drafts.failAll = true
	fixture := newSessionFixture(t, baseRecord(), drafts)

	fixture.session.Edit("untitled", "hello")
	fixture.timers.fireLast(t, DefaultDraftQuietPeriod)
	fixture.timers.fireLast(t, DefaultDebounceInterval)

	if fixture.session.State() != StateIdle {
		t.Fatalf("draft store failures must not affect sync, got %s", fixture.session.State())
	}
	if fixture.backend.record.Content != "hello" {
		t.Fatalf("expected server write despite draft store failure, got %q", fixture.backend.record.Content)
	}
}

func TestCloseFlushesAndFencesStaleTimers(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	fixture.session.Edit("untitled", "hello")
	fixture.session.Close(context.Background())

	if len(fixture.backend.updates) != 1 {
		t.Fatalf("expected close to flush pending edits, got %d updates", len(fixture.backend.updates))
	}

	// Timers surviving Stop races fire into a bumped generation and must not
	// touch the backend again.
	fixture.timers.fireAll()
	if len(fixture.backend.updates) != 1 {
		t.Fatalf("stale timers must not flush after close, got %d updates", len(fixture.backend.updates))
	}

	fixture.session.Edit("untitled", "after close")
	fixture.timers.fireAll()
	if len(fixture.backend.updates) != 1 {
		t.Fatalf("edits after close must be ignored, got %d updates", len(fixture.backend.updates))
	}
}

func TestOpenSessionPropagatesNotFound(t *testing.T) {
	backend := &fakeBackend{notFound: true}
	_, err := OpenSession(context.Background(), SessionConfig{
		DocumentID: "doc-1",
		Backend:    backend,
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestResolveCallsWithoutConflictReturnError(t *testing.T) {
	fixture := newSessionFixture(t, baseRecord(), nil)

	if _, err := fixture.session.ResolveReload(context.Background()); !errors.Is(err, ErrNoConflict) {
		t.Fatalf("expected no-conflict error, got %v", err)
	}
	if err := fixture.session.ResolveOverwrite(context.Background()); !errors.Is(err, ErrNoConflict) {
		t.Fatalf("expected no-conflict error, got %v", err)
	}
}

func storedDraft(documentID, content string, updatedAt int64) draftstore.Draft {
	return draftstore.Draft{
		DocumentID:       documentID,
		Name:             "untitled",
		Content:          content,
		UpdatedAtSeconds: updatedAt,
	}
}
