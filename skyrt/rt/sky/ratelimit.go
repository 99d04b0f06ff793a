package sky

import "sync"

// RateLimiter lets a keyed message through at most once every N frames.
type RateLimiter struct {
	mu    sync.Mutex
	every uint64
	last  map[string]uint64
}

func NewRateLimiter(every uint64) *RateLimiter {
	return &RateLimiter{every: max(every, 1), last: make(map[string]uint64)}
}

func (r *RateLimiter) Allow(key string, frame uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.last[key]; ok && frame >= last && frame-last < r.every {
		return false
	}
	r.last[key] = frame
	return true
}

func (r *RateLimiter) SetEvery(every uint64) {
	r.mu.Lock()
	r.every = max(every, 1)
	r.mu.Unlock()
}

// Forget drops a key, e.g. when its view goes away.
func (r *RateLimiter) Forget(key string) {
	r.mu.Lock()
	delete(r.last, key)
	r.mu.Unlock()
}
