// Package perf measures wall-clock spans of the analysis and render
// phases and reports them through the session's structured logger at
// each phase transition.
package perf

import (
	"log/slog"
	"sync"
	"time"
)

// Timer records named monotonic spans. It is safe for use from the
// worker and render goroutines concurrently with the caller thread.
type Timer struct {
	log *slog.Logger

	mu     sync.Mutex
	starts map[string]time.Time
	totals map[string]time.Duration
}

// New returns a Timer reporting through log. If log is nil,
// slog.Default() is used.
func New(log *slog.Logger) *Timer {
	if log == nil {
		log = slog.Default()
	}
	return &Timer{
		log:    log.With("component", "perf"),
		starts: make(map[string]time.Time),
		totals: make(map[string]time.Duration),
	}
}

// Start begins (or restarts) the named span.
func (t *Timer) Start(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.starts[name] = time.Now()
}

// Stop closes the named span, accumulates its duration, and logs it.
// Stopping a span that was never started is a no-op.
func (t *Timer) Stop(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.starts[name]
	if !ok {
		return 0
	}
	delete(t.starts, name)
	d := time.Since(start)
	t.totals[name] += d
	t.log.Info("span complete", "name", name, "duration", d)
	return d
}

// Total returns the accumulated duration of every closed span with the
// given name.
func (t *Timer) Total(name string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.totals[name]
}
