package transport

import "time"

// clockTolerance is how far the wall clock may drift from the
// monotonic clock before a host-clock jump is reported.
const clockTolerance = time.Second

// ClockWatcher detects host-clock adjustments (NTP step, manual set)
// by comparing wall-clock elapsed time against monotonic elapsed time
// from a common baseline. Only the network thread touches it.
type ClockWatcher struct {
	base time.Time
}

// NewClockWatcher baselines at the current instant.
func NewClockWatcher() *ClockWatcher {
	return &ClockWatcher{base: time.Now()}
}

// Adjusted reports whether the wall clock jumped since the last Reset.
func (w *ClockWatcher) Adjusted() bool {
	// time.Since uses the monotonic reading; Round(0) strips it so the
	// subtraction below is pure wall-clock.
	mono := time.Since(w.base)
	wall := time.Now().Round(0).Sub(w.base.Round(0))
	drift := wall - mono
	if drift < 0 {
		drift = -drift
	}
	return drift > clockTolerance
}

// Reset re-baselines the watcher after the jump has been reported.
func (w *ClockWatcher) Reset() {
	w.base = time.Now()
}
