package notification

import (
	"sync"
	"time"
)

// clockMinutes converts "HH:MM" wall-clock to minutes since midnight.
// Inputs are validated by the configuration layer.
func clockMinutes(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// inQuietWindow reports whether now falls inside the daily window. A start
// after the end means the window wraps over midnight.
func inQuietWindow(now time.Time, startMin, endMin int) bool {
	n := clockMinutes(now)
	if startMin == endMin {
		return false
	}
	if startMin < endMin {
		return n >= startMin && n < endMin
	}
	// Overnight wrap, e.g. 22:00-07:00.
	return n >= startMin || n < endMin
}

// rateLimiter enforces both a sliding one-hour count cap and a minimum
// spacing between sent notifications.
type rateLimiter struct {
	maxPerHour  int
	minInterval time.Duration

	mu   sync.Mutex
	sent []time.Time
}

func newRateLimiter(maxPerHour, minIntervalSeconds int) *rateLimiter {
	return &rateLimiter{
		maxPerHour:  maxPerHour,
		minInterval: time.Duration(minIntervalSeconds) * time.Second,
	}
}

// allow checks both limits against now without recording.
func (r *rateLimiter) allow(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)

	if r.minInterval > 0 && len(r.sent) > 0 {
		if now.Sub(r.sent[len(r.sent)-1]) < r.minInterval {
			return false
		}
	}
	if r.maxPerHour > 0 && len(r.sent) >= r.maxPerHour {
		return false
	}
	return true
}

// record registers a sent notification.
func (r *rateLimiter) record(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prune(now)
	r.sent = append(r.sent, now)
}

// release removes a previously recorded reservation, used when the
// delivery it covered failed on every channel or was dropped.
func (r *rateLimiter) release(t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.sent) - 1; i >= 0; i-- {
		if r.sent[i].Equal(t) {
			r.sent = append(r.sent[:i], r.sent[i+1:]...)
			return
		}
	}
}

// prune drops entries older than the sliding hour. Callers hold the lock.
func (r *rateLimiter) prune(now time.Time) {
	cutoff := now.Add(-time.Hour)
	keep := r.sent[:0]
	for _, t := range r.sent {
		if t.After(cutoff) {
			keep = append(keep, t)
		}
	}
	r.sent = keep
}
