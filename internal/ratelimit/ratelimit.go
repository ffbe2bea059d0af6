// Package ratelimit provides the per-agent sliding window limiter that
// bounds how often one agent may call the external tool/LLM layer.
package ratelimit

import "time"

// SlidingWindow bounds request frequency over a trailing time window.
// Entries older than the window are pruned lazily on each check.
//
// A SlidingWindow is owned by exactly one agent and is not safe for
// concurrent use; the owning run loop is the only caller.
type SlidingWindow struct {
	maxRequests int
	window      time.Duration
	requests    []time.Time
	now         func() time.Time
}

// NewSlidingWindow creates a limiter admitting at most maxRequests per
// trailing window.
func NewSlidingWindow(maxRequests int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		maxRequests: maxRequests,
		window:      window,
		requests:    make([]time.Time, 0, maxRequests),
		now:         time.Now,
	}
}

// Allow reports whether another request may be made right now. It prunes
// expired entries but does not record anything.
func (l *SlidingWindow) Allow() bool {
	l.prune(l.now())
	return len(l.requests) < l.maxRequests
}

// Record registers one request at the current time.
func (l *SlidingWindow) Record() {
	now := l.now()
	l.prune(now)
	l.requests = append(l.requests, now)
}

// WaitTime returns how long the caller should sleep before the oldest
// request in the window expires. Zero when a request would be allowed now.
func (l *SlidingWindow) WaitTime() time.Duration {
	now := l.now()
	l.prune(now)
	if len(l.requests) < l.maxRequests {
		return 0
	}
	wait := l.requests[0].Add(l.window).Sub(now)
	if wait < 0 {
		return 0
	}
	return wait
}

// Remaining returns the number of requests still admissible in the
// current window.
func (l *SlidingWindow) Remaining() int {
	l.prune(l.now())
	return l.maxRequests - len(l.requests)
}

// Reset discards all recorded requests.
func (l *SlidingWindow) Reset() {
	l.requests = l.requests[:0]
}

func (l *SlidingWindow) prune(now time.Time) {
	cutoff := now.Add(-l.window)
	i := 0
	for i < len(l.requests) && !l.requests[i].After(cutoff) {
		i++
	}
	if i > 0 {
		l.requests = append(l.requests[:0], l.requests[i:]...)
	}
}
