// Package ratelimit implements per-user sliding-window admission control
// for message publication. State is local to the instance that owns the
// user's connection; it is never shared across instances.
package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// window holds the recent send timestamps of one user. Each window has
// its own mutex so users never contend with each other. A window marked
// gone has been evicted from the map and must not be reused.
type window struct {
	mu         sync.Mutex
	timestamps []time.Time
	gone       bool
}

// SlidingWindowLimiter admits up to max sends per user within a rolling
// period.
type SlidingWindowLimiter struct {
	clock   clockwork.Clock
	period  time.Duration
	max     int
	windows sync.Map // userID -> *window
}

func NewSlidingWindowLimiter(clock clockwork.Clock, period time.Duration, max int) *SlidingWindowLimiter {
	return &SlidingWindowLimiter{
		clock:  clock,
		period: period,
		max:    max,
	}
}

// Allow reports whether the user may send now. Timestamps older than the
// window are dropped from the head; admission appends the current time.
func (l *SlidingWindowLimiter) Allow(userID string) (bool, error) {
	if userID == "" {
		return false, fmt.Errorf("user id cannot be empty")
	}

	w := l.acquire(userID)
	defer w.mu.Unlock()

	now := l.clock.Now()
	cutoff := now.Add(-l.period)

	trim := 0
	for trim < len(w.timestamps) && !w.timestamps[trim].After(cutoff) {
		trim++
	}
	w.timestamps = w.timestamps[trim:]

	if len(w.timestamps) >= l.max {
		return false, nil
	}

	w.timestamps = append(w.timestamps, now)
	return true, nil
}

// acquire returns the user's window, locked. Retries when the eviction
// timer removed the window between the map load and the lock.
func (l *SlidingWindowLimiter) acquire(userID string) *window {
	for {
		v, _ := l.windows.LoadOrStore(userID, &window{})
		w := v.(*window)
		w.mu.Lock()
		if !w.gone {
			return w
		}
		w.mu.Unlock()
	}
}

// evictIdle removes windows whose sends have all aged out of the period.
// Without it the map keeps one entry per user id ever seen.
func (l *SlidingWindowLimiter) evictIdle() int {
	cutoff := l.clock.Now().Add(-l.period)
	evicted := 0

	l.windows.Range(func(key, v any) bool {
		w := v.(*window)
		w.mu.Lock()
		if len(w.timestamps) == 0 || !w.timestamps[len(w.timestamps)-1].After(cutoff) {
			w.gone = true
			l.windows.Delete(key)
			evicted++
		}
		w.mu.Unlock()
		return true
	})

	return evicted
}

// StartEvictionTimer runs a periodic goroutine that evicts idle user
// windows. Returns a stop function that should be deferred.
func (l *SlidingWindowLimiter) StartEvictionTimer(interval time.Duration) func() {
	ticker := l.clock.NewTicker(interval)
	done := make(chan struct{})

	go func() {
		for {
			select {
			case <-ticker.Chan():
				if evicted := l.evictIdle(); evicted > 0 {
					slog.Debug("Evicted idle rate limiter windows", "count", evicted)
				}
			case <-done:
				ticker.Stop()
				return
			}
		}
	}()

	return func() { close(done) }
}
