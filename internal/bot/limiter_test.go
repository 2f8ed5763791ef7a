package bot

import (
	"testing"
	"time"
)

func TestRestartLimiterWindow(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newRestartLimiter(3, time.Hour)

	for i := 0; i < 3; i++ {
		now := base.Add(time.Duration(i) * time.Minute)
		if !l.allow(now) {
			t.Fatalf("restart %d denied, want allowed", i+1)
		}
		l.record(now)
	}

	if l.allow(base.Add(30 * time.Minute)) {
		t.Error("4th restart inside the window allowed, want denied")
	}
	if got := l.count(base.Add(30 * time.Minute)); got != 3 {
		t.Errorf("count = %d, want 3", got)
	}

	// The first record (at base) ages out just after base+1h.
	if !l.allow(base.Add(time.Hour + time.Second)) {
		t.Error("restart denied after oldest aged out")
	}
	if got := l.count(base.Add(time.Hour + time.Second)); got != 2 {
		t.Errorf("count after prune = %d, want 2", got)
	}
}

func TestRestartLimiterRestore(t *testing.T) {
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := newRestartLimiter(2, time.Hour)
	l.restore([]time.Time{base.Add(-10 * time.Minute), base.Add(-5 * time.Minute)})

	if l.allow(base) {
		t.Error("restored history should exhaust the budget")
	}

	h := l.history()
	if len(h) != 2 {
		t.Fatalf("history len = %d, want 2", len(h))
	}
	h[0] = base // mutating the copy must not affect the limiter
	if l.allow(base.Add(44 * time.Minute)) {
		t.Error("budget freed too early")
	}
	// The restart recorded 10 minutes before base ages out at base+50m.
	if !l.allow(base.Add(51 * time.Minute)) {
		t.Error("budget not freed after the oldest restart aged out")
	}
}
