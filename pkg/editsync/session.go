package editsync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/quillworks/quill/pkg/draftstore"
	"go.uber.org/zap"
)

const (
	// DefaultDraftQuietPeriod bounds crash data loss: a draft write lands this
	// soon after the last keystroke.
	DefaultDraftQuietPeriod = 250 * time.Millisecond
	// DefaultDebounceInterval delays the server flush until typing settles.
	DefaultDebounceInterval = 500 * time.Millisecond
	// DefaultMaxFlushInterval guarantees a flush even under continuous typing;
	// it runs from the first unsaved edit and is not reset by later edits.
	DefaultMaxFlushInterval = 5 * time.Second
	// DefaultOverwriteRetryLimit caps the re-base loop when resolving a
	// conflict by overwriting.
	DefaultOverwriteRetryLimit = 3
)

var (
	errMissingBackend    = errors.New("editsync: backend is required")
	errMissingDocumentID = errors.New("editsync: document id is required")
	// ErrNoConflict indicates a resolution call without a pending conflict.
	ErrNoConflict = errors.New("editsync: no conflict to resolve")
	// ErrNoDraft indicates a draft decision call without an offered draft.
	ErrNoDraft = errors.New("editsync: no draft offered")
)

// SessionConfig describes the collaborators and tunables for a save session.
// Zero-valued tunables fall back to the package defaults.
type SessionConfig struct {
	DocumentID string
	Backend    Backend
	// Drafts may be nil or fail at runtime: draft persistence is best-effort
	// and never interrupts editing or server sync.
	Drafts draftstore.Store
	Logger *zap.Logger
	Clock  func() time.Time
	Timers TimerFactory

	DraftQuietPeriod    time.Duration
	DebounceInterval    time.Duration
	MaxFlushInterval    time.Duration
	OverwriteRetryLimit int
}

// Session is the explicit per-document scheduler state: one logical timeline
// per open document, safe to drop and replace when switching documents. Stale
// timers are fenced by a generation counter rather than cancellation alone.
type Session struct {
	mu sync.Mutex

	backend Backend
	drafts  draftstore.Store
	logger  *zap.Logger
	clock   func() time.Time
	timers  TimerFactory

	draftQuietPeriod    time.Duration
	debounceInterval    time.Duration
	maxFlushInterval    time.Duration
	overwriteRetryLimit int

	documentID string
	generation int64
	closed     bool

	state        State
	latest       Buffer
	saved        Buffer
	baseRevision int64
	conflict     *Document

	inFlight     bool
	pendingFlush bool

	draftTimer    Timer
	debounceTimer Timer
	boundTimer    Timer

	lastEditAtSeconds int64
	pendingDraft      *draftstore.Draft
}

// OpenSession fetches the document and prepares a scheduler session for it.
// If a stored draft postdates the server record and differs from it, the
// draft is offered through PendingDraft for the caller to restore or discard.
func OpenSession(ctx context.Context, cfg SessionConfig) (*Session, error) {
	if cfg.Backend == nil {
		return nil, errMissingBackend
	}
	if cfg.DocumentID == "" {
		return nil, errMissingDocumentID
	}

	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	timers := cfg.Timers
	if timers == nil {
		timers = newWallTimer
	}

	session := &Session{
		backend:             cfg.Backend,
		drafts:              cfg.Drafts,
		logger:              logger,
		clock:               clock,
		timers:              timers,
		draftQuietPeriod:    durationOrDefault(cfg.DraftQuietPeriod, DefaultDraftQuietPeriod),
		debounceInterval:    durationOrDefault(cfg.DebounceInterval, DefaultDebounceInterval),
		maxFlushInterval:    durationOrDefault(cfg.MaxFlushInterval, DefaultMaxFlushInterval),
		overwriteRetryLimit: cfg.OverwriteRetryLimit,
		documentID:          cfg.DocumentID,
		state:               StateIdle,
	}
	if session.overwriteRetryLimit <= 0 {
		session.overwriteRetryLimit = DefaultOverwriteRetryLimit
	}

	record, err := cfg.Backend.Fetch(ctx, cfg.DocumentID)
	if err != nil {
		return nil, err
	}
	session.latest = Buffer{Name: record.Name, Content: record.Content}
	session.saved = session.latest
	session.baseRevision = record.Revision

	session.loadDraft(ctx, record)
	return session, nil
}

func durationOrDefault(value, fallback time.Duration) time.Duration {
	if value <= 0 {
		return fallback
	}
	return value
}

func (s *Session) loadDraft(ctx context.Context, record Document) {
	if s.drafts == nil {
		return
	}
	draft, ok, err := s.drafts.Load(ctx, s.documentID)
	if err != nil {
		s.logger.Warn("draft load failed", zap.String("document_id", s.documentID), zap.Error(err))
		return
	}
	if !ok {
		return
	}
	if shouldOfferDraft(draft, record) {
		s.pendingDraft = &draft
		return
	}
	if err := s.drafts.Delete(ctx, s.documentID); err != nil {
		s.logger.Warn("stale draft delete failed", zap.String("document_id", s.documentID), zap.Error(err))
	}
}

// DocumentID returns the identifier this session synchronizes.
func (s *Session) DocumentID() string {
	return s.documentID
}

// State reports the current scheduler state for the UI.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Latest returns the most recent buffer value recorded by Edit.
func (s *Session) Latest() Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.latest
}

// Saved returns the last buffer value known to be durably saved.
func (s *Session) Saved() Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved
}

// BaseRevision returns the revision the next flush will be based on.
func (s *Session) BaseRevision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseRevision
}

// Conflict returns the server record captured by a conflicting flush.
func (s *Session) Conflict() (Document, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conflict == nil {
		return Document{}, false
	}
	return *s.conflict, true
}

// PendingDraft returns the draft offered for restoration at session open.
func (s *Session) PendingDraft() (draftstore.Draft, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDraft == nil {
		return draftstore.Draft{}, false
	}
	return *s.pendingDraft, true
}

// Edit records a buffer mutation. The latest value is captured immediately so
// nothing is lost on suspension; a draft write is scheduled after the quiet
// period and a server flush after the debounce or bounding interval.
func (s *Session) Edit(name, content string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.latest = Buffer{Name: name, Content: content}
	s.lastEditAtSeconds = s.clock().UTC().Unix()
	s.scheduleDraftWriteLocked()
	s.scheduleServerFlushLocked()
}

func (s *Session) scheduleDraftWriteLocked() {
	if s.draftTimer != nil {
		s.draftTimer.Stop()
	}
	generation := s.generation
	s.draftTimer = s.timers(s.draftQuietPeriod, func() {
		s.persistDraft(generation)
	})
}

func (s *Session) scheduleServerFlushLocked() {
	if s.state == StateConflict {
		return
	}
	if s.latest.Equal(s.saved) {
		return
	}
	generation := s.generation
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
	}
	s.debounceTimer = s.timers(s.debounceInterval, func() {
		s.runFlush(context.Background(), generation)
	})
	if s.boundTimer == nil {
		s.boundTimer = s.timers(s.maxFlushInterval, func() {
			s.runFlush(context.Background(), generation)
		})
	}
}

func (s *Session) persistDraft(generation int64) {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return
	}
	s.draftTimer = nil
	latest := s.latest
	saved := s.saved
	base := s.baseRevision
	editedAt := s.lastEditAtSeconds
	s.mu.Unlock()
	s.reconcileDraft(latest, saved, base, editedAt)
}

// reconcileDraft keeps the draft store consistent with the in-memory state:
// a draft exists exactly while the latest buffer differs from the saved
// baseline. Store failures are swallowed; editing and sync continue without
// crash recovery.
func (s *Session) reconcileDraft(latest, saved Buffer, base, editedAt int64) {
	if s.drafts == nil {
		return
	}
	ctx := context.Background()
	if latest.Equal(saved) {
		if err := s.drafts.Delete(ctx, s.documentID); err != nil {
			s.logger.Warn("draft delete failed", zap.String("document_id", s.documentID), zap.Error(err))
		}
		return
	}
	draft := draftstore.Draft{
		DocumentID:       s.documentID,
		Name:             latest.Name,
		Content:          latest.Content,
		UpdatedAtSeconds: editedAt,
		BaseRevision:     base,
	}
	if err := s.drafts.Save(ctx, draft); err != nil {
		s.logger.Warn("draft save failed", zap.String("document_id", s.documentID), zap.Error(err))
	}
}

// Flush forces a best-effort immediate flush. It backs the explicit triggers
// (blur, navigation, backgrounding, unmount): it never blocks on timers,
// never panics past the caller, and records failures in the session state
// instead of returning them.
func (s *Session) Flush(ctx context.Context) {
	s.mu.Lock()
	generation := s.generation
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return
	}
	s.runFlush(ctx, generation)
}

// runFlush drives flush attempts until no more are owed. At most one flush is
// in flight per session; attempts arriving meanwhile set the pending flag,
// which buys exactly one more flush on completion.
func (s *Session) runFlush(ctx context.Context, generation int64) {
	for {
		latest, base, ok := s.beginFlush(generation)
		if !ok {
			return
		}
		name := latest.Name
		record, err := s.backend.Update(ctx, s.documentID, UpdateRequest{
			Content:      latest.Content,
			Name:         &name,
			BaseRevision: base,
		})
		if !s.finishFlush(generation, record, err) {
			return
		}
	}
}

func (s *Session) beginFlush(generation int64) (Buffer, int64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if generation != s.generation {
		return Buffer{}, 0, false
	}
	switch decideFlush(s.state, s.inFlight, s.latest, s.saved) {
	case flushBlocked:
		return Buffer{}, 0, false
	case flushQueued:
		s.pendingFlush = true
		return Buffer{}, 0, false
	case flushClean:
		s.stopFlushTimersLocked()
		return Buffer{}, 0, false
	}
	s.inFlight = true
	s.state = StateSaving
	s.stopFlushTimersLocked()
	return s.latest, s.baseRevision, true
}

func (s *Session) stopFlushTimersLocked() {
	if s.debounceTimer != nil {
		s.debounceTimer.Stop()
		s.debounceTimer = nil
	}
	if s.boundTimer != nil {
		s.boundTimer.Stop()
		s.boundTimer = nil
	}
}

// finishFlush applies the flush outcome and reports whether another flush is
// owed for edits that arrived while this one was in flight.
func (s *Session) finishFlush(generation int64, record Document, err error) bool {
	s.mu.Lock()
	if generation != s.generation {
		s.mu.Unlock()
		return false
	}
	s.inFlight = false
	next := stateAfterFlush(err)
	s.state = next

	again := false
	reconcile := false
	var latest, saved Buffer
	var base, editedAt int64

	switch next {
	case StateIdle:
		s.baseRevision = record.Revision
		s.saved = Buffer{Name: record.Name, Content: record.Content}
		latest, saved = s.latest, s.saved
		base, editedAt = s.baseRevision, s.lastEditAtSeconds
		reconcile = true
		if s.pendingFlush {
			s.pendingFlush = false
			again = !s.latest.Equal(s.saved)
		}
	case StateConflict:
		var conflictErr *ConflictError
		if errors.As(err, &conflictErr) {
			current := conflictErr.Current
			s.conflict = &current
		}
		s.pendingFlush = false
		s.logger.Warn("flush rejected with stale base revision",
			zap.String("document_id", s.documentID),
			zap.Int64("base_revision", s.baseRevision))
	case StateError:
		// Base revision stays put; the next edit or explicit flush retries.
		s.pendingFlush = false
		s.logger.Warn("flush failed",
			zap.String("document_id", s.documentID),
			zap.Error(err))
	}
	s.mu.Unlock()

	if reconcile {
		s.reconcileDraft(latest, saved, base, editedAt)
	}
	return again
}

// RestoreDraft adopts the offered draft into the editing buffer and lets
// autosave proceed from there; the next flush persists the draft's content
// under the server's current revision.
func (s *Session) RestoreDraft(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingDraft == nil {
		return ErrNoDraft
	}
	draft := *s.pendingDraft
	s.pendingDraft = nil
	s.latest = Buffer{Name: draft.Name, Content: draft.Content}
	s.lastEditAtSeconds = draft.UpdatedAtSeconds
	s.scheduleServerFlushLocked()
	return nil
}

// DiscardDraft rejects the offered draft in favor of the server's copy and
// removes the stored record.
func (s *Session) DiscardDraft(ctx context.Context) error {
	s.mu.Lock()
	if s.pendingDraft == nil {
		s.mu.Unlock()
		return ErrNoDraft
	}
	s.pendingDraft = nil
	s.mu.Unlock()

	if s.drafts != nil {
		if err := s.drafts.Delete(ctx, s.documentID); err != nil {
			s.logger.Warn("draft delete failed", zap.String("document_id", s.documentID), zap.Error(err))
		}
	}
	return nil
}

// ResolveReload discards local edits and the draft, adopting the conflicting
// server record as the new baseline.
func (s *Session) ResolveReload(ctx context.Context) (Document, error) {
	s.mu.Lock()
	if s.state != StateConflict || s.conflict == nil {
		s.mu.Unlock()
		return Document{}, ErrNoConflict
	}
	record := *s.conflict
	s.conflict = nil
	s.state = StateIdle
	s.latest = Buffer{Name: record.Name, Content: record.Content}
	s.saved = s.latest
	s.baseRevision = record.Revision
	s.pendingFlush = false
	s.stopFlushTimersLocked()
	s.mu.Unlock()

	if s.drafts != nil {
		if err := s.drafts.Delete(ctx, s.documentID); err != nil {
			s.logger.Warn("draft delete failed", zap.String("document_id", s.documentID), zap.Error(err))
		}
	}
	return record, nil
}

// ResolveOverwrite keeps the local edits, re-bases onto the server's revision,
// and immediately re-attempts the flush. Repeated conflicts re-base again up
// to the retry cap; the final outcome lands in the session state.
func (s *Session) ResolveOverwrite(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateConflict || s.conflict == nil {
		s.mu.Unlock()
		return ErrNoConflict
	}
	generation := s.generation
	base := s.conflict.Revision
	latest := s.latest
	s.conflict = nil
	s.state = StateSaving
	s.inFlight = true
	s.stopFlushTimersLocked()
	s.mu.Unlock()

	var record Document
	var err error
	for attempt := 0; attempt < s.overwriteRetryLimit; attempt++ {
		name := latest.Name
		record, err = s.backend.Update(ctx, s.documentID, UpdateRequest{
			Content:      latest.Content,
			Name:         &name,
			BaseRevision: base,
		})
		var conflictErr *ConflictError
		if errors.As(err, &conflictErr) {
			base = conflictErr.Current.Revision
			continue
		}
		break
	}

	if s.finishFlush(generation, record, err) {
		s.runFlush(ctx, generation)
	}
	if err != nil {
		return err
	}
	return nil
}

// Close flushes best-effort, writes a final draft reconciliation, and fences
// out every timer belonging to this session. Timers from a closed session can
// never fire against a newly opened session's state.
func (s *Session) Close(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	generation := s.generation
	s.mu.Unlock()

	s.runFlush(ctx, generation)

	s.mu.Lock()
	s.closed = true
	s.generation++
	if s.draftTimer != nil {
		s.draftTimer.Stop()
		s.draftTimer = nil
	}
	s.stopFlushTimersLocked()
	latest := s.latest
	saved := s.saved
	base := s.baseRevision
	editedAt := s.lastEditAtSeconds
	s.mu.Unlock()

	s.reconcileDraft(latest, saved, base, editedAt)
}
