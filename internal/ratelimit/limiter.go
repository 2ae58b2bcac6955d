// Package ratelimit implements keyed fixed-window counters. Entries carry
// their own expiry and are removed by an explicit Sweep, which the scheduler
// runs; nothing here starts a goroutine.
package ratelimit

import (
	"sync"
	"time"
)

type Decision struct {
	Allowed   bool
	Remaining int
	ResetAt   time.Time
}

type entry struct {
	count   int
	resetAt time.Time
}

type Limiter struct {
	Max    int
	Window time.Duration

	mu      sync.Mutex
	entries map[string]*entry
}

func New(max int, window time.Duration) *Limiter {
	if max <= 0 {
		max = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{Max: max, Window: window, entries: map[string]*entry{}}
}

// Allow counts one request for key. A key whose window ended before now
// starts a fresh window. Rejected requests still count.
func (l *Limiter) Allow(key string, now time.Time) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok || e.resetAt.Before(now) {
		e = &entry{count: 1, resetAt: now.Add(l.Window)}
		l.entries[key] = e
		return Decision{Allowed: true, Remaining: l.Max - 1, ResetAt: e.resetAt}
	}
	e.count++
	if e.count > l.Max {
		return Decision{Allowed: false, Remaining: 0, ResetAt: e.resetAt}
	}
	return Decision{Allowed: true, Remaining: l.Max - e.count, ResetAt: e.resetAt}
}

// Sweep drops entries whose window ended before now.
func (l *Limiter) Sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for k, e := range l.entries {
		if e.resetAt.Before(now) {
			delete(l.entries, k)
			n++
		}
	}
	return n
}

func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
