package ratelimit

import (
	"sync"
	"time"
)

const (
	DefaultWindow    = time.Minute
	DefaultThreshold = 1000
)

type window struct {
	count   int
	resetAt time.Time
}

// Limiter is a fixed-window request counter keyed by hostname. Windows for
// hostnames that go quiet are kept until the process exits; the map is
// bounded by the number of configured domains, so no sweeping is done.
type Limiter struct {
	mu        sync.Mutex
	windows   map[string]*window
	length    time.Duration
	threshold int
	now       func() time.Time
}

func New(length time.Duration, threshold int) *Limiter {
	if length <= 0 {
		length = DefaultWindow
	}
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Limiter{
		windows:   make(map[string]*window),
		length:    length,
		threshold: threshold,
		now:       time.Now,
	}
}

// Allow admits a request for host, starting a fresh window when none exists
// or the current one has expired. Once the threshold is exceeded within a
// window, further requests are rejected until the window rolls over.
func (l *Limiter) Allow(host string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	w := l.windows[host]
	if w == nil || !now.Before(w.resetAt) {
		l.windows[host] = &window{count: 1, resetAt: now.Add(l.length)}
		return true
	}
	if w.count >= l.threshold {
		return false
	}
	w.count++
	return true
}

// Remaining reports how many requests host may still issue in the current
// window. Used by the status surface only.
func (l *Limiter) Remaining(host string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	w := l.windows[host]
	if w == nil || !l.now().Before(w.resetAt) {
		return l.threshold
	}
	if w.count >= l.threshold {
		return 0
	}
	return l.threshold - w.count
}
