package ratelimit

import "sync"

// Registry owns the per-source limiters. It replaces module-level singletons:
// the application root constructs one Registry and hands it to the source
// clients; tests construct their own.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*Limiter)}
}

// GetOrCreate returns the limiter registered for source, creating it with
// the given parameters on first use. Registering the same source twice
// returns the existing instance; later parameters are ignored.
func (r *Registry) GetOrCreate(source string, perSecond, burstMultiplier float64) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[source]; ok {
		return l
	}
	l := NewLimiter(source, perSecond, burstMultiplier)
	r.limiters[source] = l
	return l
}

// Get returns the limiter for source, or nil if none is registered.
func (r *Registry) Get(source string) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.limiters[source]
}

// Stats returns snapshots for every registered limiter.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Stats, 0, len(r.limiters))
	for _, l := range r.limiters {
		out = append(out, l.Stats())
	}
	return out
}
