package resilience

import (
	"sort"
	"sync"
)

// CircuitBreakerRegistry keeps one breaker per destination, created on first
// send.
type CircuitBreakerRegistry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	onChange StateChangeFunc
}

// NewCircuitBreakerRegistry creates an empty registry.
func NewCircuitBreakerRegistry(config CircuitBreakerConfig) *CircuitBreakerRegistry {
	return &CircuitBreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		config:   config,
	}
}

// OnStateChange installs fn on every breaker created afterwards.
func (r *CircuitBreakerRegistry) OnStateChange(fn StateChangeFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = fn
}

// Get returns the breaker for destination, creating it if needed.
func (r *CircuitBreakerRegistry) Get(destination string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[destination]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if cb, ok := r.breakers[destination]; ok {
		return cb
	}
	cb = NewCircuitBreaker(destination, r.config)
	cb.onChange = r.onChange
	r.breakers[destination] = cb
	return cb
}

// AllStats returns every breaker's stats sorted by destination.
func (r *CircuitBreakerRegistry) AllStats() []CircuitBreakerStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := make([]CircuitBreakerStats, 0, len(r.breakers))
	for _, cb := range r.breakers {
		stats = append(stats, cb.Stats())
	}
	sort.Slice(stats, func(i, j int) bool { return stats[i].Name < stats[j].Name })
	return stats
}
