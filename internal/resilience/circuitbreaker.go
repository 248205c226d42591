// Package resilience keeps a dead destination from eating a cycle's send
// budget: after enough consecutive failures it is skipped for a while.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// CircuitState represents the state of a circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "CLOSED"
	CircuitOpen     CircuitState = "OPEN"
	CircuitHalfOpen CircuitState = "HALF_OPEN" // one trial send allowed
)

// CircuitBreakerConfig holds circuit breaker configuration.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failed sends before the
	// destination is skipped.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// SuccessThreshold is the number of trial sends that must succeed to
	// resume normal delivery.
	SuccessThreshold int `mapstructure:"success_threshold"`
	// Timeout is how long the destination is skipped.
	Timeout time.Duration `mapstructure:"open_timeout"`
}

// DefaultCircuitBreakerConfig skips a destination for 30s after 5 failures.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 1,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen matches every SkipError.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// SkipError is returned instead of attempting a send to a tripped
// destination.
type SkipError struct {
	Destination string
	Until       time.Time
}

func (e *SkipError) Error() string {
	return fmt.Sprintf("destination %s skipped until %s: %v", e.Destination, e.Until.Format(time.TimeOnly), ErrCircuitOpen)
}

func (e *SkipError) Unwrap() error {
	return ErrCircuitOpen
}

// StateChangeFunc observes breaker transitions. It runs with the breaker's
// lock held and must not call back into the breaker.
type StateChangeFunc func(name string, from, to CircuitState)

// CircuitBreaker guards one destination.
type CircuitBreaker struct {
	name     string
	config   CircuitBreakerConfig
	now      func() time.Time
	onChange StateChangeFunc

	mu              sync.Mutex
	state           CircuitState
	failures        int
	successes       int
	openedAt        time.Time
	lastFailureTime time.Time
	lastError       string

	sends    int64
	failed   int64
	rejected int64
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(name string, config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{
		name:   name,
		config: config,
		now:    time.Now,
		state:  CircuitClosed,
	}
}

// Execute runs fn unless the destination is being skipped. fn runs on the
// caller's goroutine. A cancelled ctx is not counted against the
// destination.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := cb.admit(); err != nil {
		return err
	}

	err := fn(ctx)
	cb.settle(ctx, err)
	return err
}

func (cb *CircuitBreaker) admit() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return nil
	}
	until := cb.openedAt.Add(cb.config.Timeout)
	if !cb.now().Before(until) {
		cb.transitionTo(CircuitHalfOpen)
		return nil
	}
	cb.rejected++
	return &SkipError{Destination: cb.name, Until: until}
}

func (cb *CircuitBreaker) settle(ctx context.Context, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.sends++
	if err == nil {
		cb.failures = 0
		if cb.state == CircuitHalfOpen {
			cb.successes++
			if cb.successes >= cb.config.SuccessThreshold {
				cb.transitionTo(CircuitClosed)
			}
		}
		return
	}
	if ctx.Err() != nil {
		return
	}

	cb.failed++
	cb.failures++
	cb.lastFailureTime = cb.now()
	cb.lastError = err.Error()

	if cb.state == CircuitHalfOpen || cb.failures >= cb.config.FailureThreshold {
		cb.openedAt = cb.now()
		cb.transitionTo(CircuitOpen)
	}
}

func (cb *CircuitBreaker) transitionTo(state CircuitState) {
	from := cb.state
	cb.state = state
	cb.failures = 0
	cb.successes = 0
	if cb.onChange != nil && from != state {
		cb.onChange(cb.name, from, state)
	}
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the destination the breaker guards.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Stats returns a snapshot of the breaker.
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	st := CircuitBreakerStats{
		Name:            cb.name,
		State:           cb.state,
		Sends:           cb.sends,
		Failed:          cb.failed,
		Rejected:        cb.rejected,
		CurrentFailures: cb.failures,
		LastFailureTime: cb.lastFailureTime,
		LastError:       cb.lastError,
	}
	if cb.state == CircuitOpen {
		st.OpenUntil = cb.openedAt.Add(cb.config.Timeout)
	}
	return st
}

// CircuitBreakerStats is a point-in-time view of one destination's breaker.
type CircuitBreakerStats struct {
	Name            string       `json:"destination"`
	State           CircuitState `json:"state"`
	Sends           int64        `json:"sends"`
	Failed          int64        `json:"failed"`
	Rejected        int64        `json:"rejected"`
	CurrentFailures int          `json:"current_failures"`
	LastFailureTime time.Time    `json:"last_failure,omitempty"`
	LastError       string       `json:"last_error,omitempty"`
	OpenUntil       time.Time    `json:"open_until,omitempty"`
}
