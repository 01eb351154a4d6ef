package editsync

import "time"

// Timer is the minimal surface the session needs from a scheduled callback.
// Stop is best-effort: a timer may already be firing, so stale firings are
// additionally guarded by the session generation counter.
type Timer interface {
	Stop() bool
}

// TimerFactory schedules fire to run once after delay. Tests substitute a
// factory driven by a logical clock instead of wall-clock waits.
type TimerFactory func(delay time.Duration, fire func()) Timer

type wallTimer struct {
	timer *time.Timer
}

func (t wallTimer) Stop() bool {
	return t.timer.Stop()
}

func newWallTimer(delay time.Duration, fire func()) Timer {
	return wallTimer{timer: time.AfterFunc(delay, fire)}
}
