package bot

import "time"

// restartLimiter enforces the restart budget: at most max restarts
// within any trailing window. Not safe for concurrent use; the
// supervisor is the only caller.
type restartLimiter struct {
	max    int
	window time.Duration
	times  []time.Time
}

func newRestartLimiter(max int, window time.Duration) *restartLimiter {
	return &restartLimiter{max: max, window: window}
}

// allow reports whether another restart fits the budget at time now.
func (l *restartLimiter) allow(now time.Time) bool {
	l.prune(now)
	return len(l.times) < l.max
}

// record counts a restart at time now.
func (l *restartLimiter) record(now time.Time) {
	l.prune(now)
	l.times = append(l.times, now)
}

// count returns the number of restarts in the trailing window.
func (l *restartLimiter) count(now time.Time) int {
	l.prune(now)
	return len(l.times)
}

// history returns a copy of the recorded restart times.
func (l *restartLimiter) history() []time.Time {
	out := make([]time.Time, len(l.times))
	copy(out, l.times)
	return out
}

// restore reloads restart times from a checkpoint.
func (l *restartLimiter) restore(times []time.Time) {
	l.times = append(l.times[:0], times...)
}

func (l *restartLimiter) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	kept := l.times[:0]
	for _, t := range l.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	l.times = kept
}
