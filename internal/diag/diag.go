// ABOUTME: Bounded in-memory log of storage diagnostic events with fan-out.
// ABOUTME: Lets a host surface "storage is struggling" without scraping logs.

package diag

import (
	"log/slog"
	"sync"
	"time"
)

// Event is one diagnostic observation: a corrupt record skipped, a lock
// held suspiciously long, a best-effort channel failing. Events are
// advisory; the operation that produced one has already chosen its own
// handling.
type Event struct {
	Time    time.Time      `json:"time"`
	Source  string         `json:"source"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// defaultCapacity bounds the ring when the caller passes zero.
const defaultCapacity = 256

// Reporter collects diagnostic events into a bounded ring and fans them out
// to subscribers. Every event is also mirrored to the structured log, so
// headless deployments lose nothing by ignoring the ring.
type Reporter struct {
	logger *slog.Logger

	mu          sync.RWMutex
	ring        []Event
	next        int
	filled      bool
	subscribers []chan Event
	closed      bool
}

// NewReporter creates a Reporter keeping the most recent capacity events.
// capacity <= 0 selects a default.
func NewReporter(capacity int, logger *slog.Logger) *Reporter {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		logger: logger.With("component", "diag"),
		ring:   make([]Event, capacity),
	}
}

// Report records a diagnostic event.
func (r *Reporter) Report(source, msg string, details map[string]any) {
	event := Event{
		Time:    time.Now().UTC(),
		Source:  source,
		Message: msg,
		Details: details,
	}

	attrs := make([]any, 0, 2+2*len(details))
	attrs = append(attrs, "source", source)
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	r.logger.Warn(msg, attrs...)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.ring[r.next] = event
	r.next = (r.next + 1) % len(r.ring)
	if r.next == 0 {
		r.filled = true
	}
	targets := make([]chan Event, len(r.subscribers))
	copy(targets, r.subscribers)
	r.mu.Unlock()

	// Non-blocking: a stalled subscriber loses events, never stalls storage.
	for _, ch := range targets {
		select {
		case ch <- event:
		default:
		}
	}
}

// Recent returns up to n events, newest first. n <= 0 returns everything
// retained.
func (r *Reporter) Recent(n int) []Event {
	r.mu.RLock()
	defer r.mu.RUnlock()

	size := r.next
	if r.filled {
		size = len(r.ring)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (r.next - i + len(r.ring)) % len(r.ring)
		out = append(out, r.ring[idx])
	}
	return out
}

// Subscribe returns a channel receiving future events. The returned cancel
// function removes the subscription and closes the channel.
func (r *Reporter) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	r.subscribers = append(r.subscribers, ch)
	r.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			r.mu.Lock()
			for i, sub := range r.subscribers {
				if sub == ch {
					r.subscribers = append(r.subscribers[:i], r.subscribers[i+1:]...)
					break
				}
			}
			closed := r.closed
			r.mu.Unlock()
			if !closed {
				close(ch)
			}
		})
	}
	return ch, cancel
}

// Close drops all subscribers. Report becomes a no-op beyond logging.
func (r *Reporter) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, ch := range r.subscribers {
		close(ch)
	}
	r.subscribers = nil
}
