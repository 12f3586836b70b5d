package errors

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the circuit breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	// StateClosed is the normal state where requests are allowed.
	StateClosed State = iota
	// StateOpen is when the circuit is tripped and requests are blocked.
	StateOpen
	// StateHalfOpen is when the circuit is testing if the service recovered.
	StateHalfOpen
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// outcome is one timestamped success/failure sample in the sliding window.
type outcome struct {
	at      time.Time
	success bool
}

// CircuitBreaker implements the circuit breaker pattern over a sliding
// time window rather than a consecutive-failure counter: it opens when
// the window holds at least minSamples outcomes and the failure ratio
// is at or above failureThreshold. This tolerates occasional errors in
// a mostly-healthy service without tripping on a single bad streak,
// while still reacting quickly once a sidecar degrades in earnest.
type CircuitBreaker struct {
	name            string
	window          time.Duration
	minSamples      int
	failureThreshold float64
	resetTimeout    time.Duration

	mu          sync.RWMutex
	state       State
	outcomes    []outcome
	lastFailure time.Time
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithWindow sets the sliding window duration over which outcomes are sampled.
func WithWindow(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.window = d
	}
}

// WithMinSamples sets the minimum outcome count in-window before the
// breaker will consider tripping.
func WithMinSamples(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.minSamples = n
	}
}

// WithFailureThreshold sets the in-window failure ratio (0-1) that trips the breaker.
func WithFailureThreshold(ratio float64) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.failureThreshold = ratio
	}
}

// WithResetTimeout sets the time to wait before attempting recovery.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		cb.resetTimeout = d
	}
}

// NewCircuitBreaker creates a new circuit breaker with the given name.
// Defaults: 30s window, 5 minimum samples, 50% failure threshold, 30s reset timeout.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:             name,
		window:           30 * time.Second,
		minSamples:       5,
		failureThreshold: 0.5,
		resetTimeout:     30 * time.Second,
		state:            StateClosed,
	}

	for _, opt := range opts {
		opt(cb)
	}

	return cb
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current circuit breaker state.
func (cb *CircuitBreaker) State() State {
	cb.mu.RLock()
	defer cb.mu.RUnlock()
	return cb.currentState()
}

// currentState returns the state, checking for transition to half-open.
// Must be called with at least a read lock held.
func (cb *CircuitBreaker) currentState() State {
	if cb.state == StateOpen {
		if time.Since(cb.lastFailure) > cb.resetTimeout {
			return StateHalfOpen
		}
	}
	return cb.state
}

// prune drops outcomes older than the window. Must be called with the write lock held.
func (cb *CircuitBreaker) prune(now time.Time) {
	cutoff := now.Add(-cb.window)
	i := 0
	for i < len(cb.outcomes) && cb.outcomes[i].at.Before(cutoff) {
		i++
	}
	if i > 0 {
		cb.outcomes = cb.outcomes[i:]
	}
}

// Failures returns the number of failures currently in-window.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.prune(time.Now())
	n := 0
	for _, o := range cb.outcomes {
		if !o.success {
			n++
		}
	}
	return n
}

// Allow checks if a request should be allowed through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.RLock()
	defer cb.mu.RUnlock()

	switch cb.currentState() {
	case StateClosed, StateHalfOpen:
		return true
	default: // StateOpen
		return false
	}
}

// record appends an outcome and evaluates whether the window now
// warrants tripping or resetting the breaker. Must hold the write lock.
func (cb *CircuitBreaker) record(success bool) {
	now := time.Now()
	state := cb.currentState()
	cb.outcomes = append(cb.outcomes, outcome{at: now, success: success})
	cb.prune(now)

	if !success {
		cb.lastFailure = now
	}

	if len(cb.outcomes) < cb.minSamples {
		if success && state == StateHalfOpen {
			cb.state = StateClosed
			cb.outcomes = nil
		}
		return
	}

	failures := 0
	for _, o := range cb.outcomes {
		if !o.success {
			failures++
		}
	}
	ratio := float64(failures) / float64(len(cb.outcomes))

	switch {
	case state == StateHalfOpen && success:
		cb.state = StateClosed
		cb.outcomes = nil
	case ratio >= cb.failureThreshold:
		cb.state = StateOpen
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.record(true)
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.record(false)
}

// Execute runs a function through the circuit breaker.
// Returns ErrCircuitOpen if the circuit is open.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// ExecuteWithResult runs a function that returns a value through the circuit breaker.
// If the circuit is open, the fallback function is called instead.
func (cb *CircuitBreaker) ExecuteWithResult(fn func() (string, error), fallback func() (string, error)) (string, error) {
	return CircuitExecuteWithResult(cb, fn, fallback)
}

// CircuitExecuteWithResult is a generic function for executing with fallback.
func CircuitExecuteWithResult[T any](cb *CircuitBreaker, fn func() (T, error), fallback func() (T, error)) (T, error) {
	if !cb.Allow() {
		return fallback()
	}

	result, err := fn()
	if err != nil {
		cb.RecordFailure()
		return fallback()
	}
	cb.RecordSuccess()
	return result, nil
}
