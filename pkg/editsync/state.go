package editsync

import (
	"errors"

	"github.com/quillworks/quill/pkg/draftstore"
)

// State enumerates the save-scheduler states surfaced to the editor UI.
type State string

const (
	// StateIdle means the latest buffer matches the durably saved baseline,
	// or autosave timers are still pending.
	StateIdle State = "idle"
	// StateSaving means a flush is in flight.
	StateSaving State = "saving"
	// StateError means the last flush failed transiently; any subsequent edit
	// or explicit flush retries it.
	StateError State = "error"
	// StateConflict means the server rejected the base revision; automatic
	// flushing halts until the conflict is resolved.
	StateConflict State = "conflict"
)

// Buffer holds the name/content pair tracked by the scheduler.
type Buffer struct {
	Name    string
	Content string
}

// Equal reports whether two buffers hold identical values.
func (b Buffer) Equal(other Buffer) bool {
	return b.Name == other.Name && b.Content == other.Content
}

type flushDecision int

const (
	flushProceed flushDecision = iota
	// flushQueued: a flush is already in flight; completion re-triggers once.
	flushQueued
	// flushBlocked: conflicts halt automatic flushing entirely.
	flushBlocked
	// flushClean: latest equals the saved baseline, nothing to write.
	flushClean
)

// decideFlush is the pure gate in front of every flush attempt.
func decideFlush(state State, inFlight bool, latest, saved Buffer) flushDecision {
	if state == StateConflict {
		return flushBlocked
	}
	if inFlight {
		return flushQueued
	}
	if latest.Equal(saved) {
		return flushClean
	}
	return flushProceed
}

// stateAfterFlush maps a flush outcome onto the next scheduler state.
func stateAfterFlush(err error) State {
	switch {
	case err == nil:
		return StateIdle
	case errors.Is(err, ErrConflict):
		return StateConflict
	default:
		return StateError
	}
}

// shouldOfferDraft reports whether a stored draft is worth offering for
// restoration: it must postdate the server record and actually differ from it.
func shouldOfferDraft(draft draftstore.Draft, record Document) bool {
	if draft.UpdatedAtSeconds <= record.UpdatedAtSeconds {
		return false
	}
	return draft.Content != record.Content || draft.Name != record.Name
}
