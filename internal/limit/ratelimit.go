// Package limit counts events per key in fixed windows.
package limit

import (
	"errors"
	"sync"
	"time"
)

// ErrRatelimit is returned by Take once a key used up its window.
var ErrRatelimit = errors.New("rate limit occurred")

// pruneThreshold is the number of tracked keys above which expired windows
// are dropped.
const pruneThreshold = 1024

// RatelimitConfig configures a rate limit. A Rate of zero or less disables
// limiting.
type RatelimitConfig struct {
	Rate     int
	Duration time.Duration
}

type window struct {
	start time.Time
	count int
}

// Ratelimit allows Rate events per key within Duration. It is safe for
// concurrent use.
type Ratelimit struct {
	mu      sync.Mutex
	config  RatelimitConfig
	windows map[string]*window

	// Now defaults to time.Now.
	Now func() time.Time
}

// New creates a new rate limit.
func New(config RatelimitConfig) *Ratelimit {
	return &Ratelimit{
		config:  config,
		windows: map[string]*window{},
	}
}

// Take records one event for key, or returns ErrRatelimit if key has used
// up its current window.
func (r *Ratelimit) Take(key string) error {
	if r.config.Rate <= 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}

	w, ok := r.windows[key]
	if !ok || now.Sub(w.start) >= r.config.Duration {
		if !ok && len(r.windows) >= pruneThreshold {
			r.prune(now)
		}
		r.windows[key] = &window{start: now, count: 1}
		return nil
	}
	if w.count >= r.config.Rate {
		return ErrRatelimit
	}
	w.count++
	return nil
}

// Len returns the number of tracked keys.
func (r *Ratelimit) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.windows)
}

func (r *Ratelimit) prune(now time.Time) {
	for k, w := range r.windows {
		if now.Sub(w.start) >= r.config.Duration {
			delete(r.windows, k)
		}
	}
}
