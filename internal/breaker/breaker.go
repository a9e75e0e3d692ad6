// Package breaker implements a per-scanner circuit breaker. Breakers are
// never package-level singletons: callers construct a Manager explicitly
// and look breakers up by their pool-qualified scanner key.
package breaker

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// Config holds the three tunables named in §4.7.
type Config struct {
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxInFlight int
}

func DefaultConfig() Config {
	return Config{
		FailureThreshold:    5,
		RecoveryTimeout:     30 * time.Second,
		HalfOpenMaxInFlight: 1,
	}
}

// ErrOpen is returned by AllowRequest when the breaker is rejecting calls.
var ErrOpen = errors.New("circuit breaker open")

// CircuitBreaker tracks one scanner's health. A single recorded success
// while half-open closes the circuit; any failure while half-open reopens
// it immediately.
type CircuitBreaker struct {
	name   string
	config Config

	mu               sync.Mutex
	state            State
	failureCount     int
	lastFailureTime  time.Time
	halfOpenInFlight int
}

func New(name string, config Config) *CircuitBreaker {
	return &CircuitBreaker{name: name, config: config, state: StateClosed}
}

// AllowRequest reports whether a call may proceed, opening the half-open
// probe window on its own once recovery_timeout has elapsed.
func (cb *CircuitBreaker) AllowRequest() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return nil

	case StateOpen:
		if time.Since(cb.lastFailureTime) < cb.config.RecoveryTimeout {
			return fmt.Errorf("%w: %s", ErrOpen, cb.name)
		}
		cb.state = StateHalfOpen
		cb.halfOpenInFlight = 0
		fallthrough

	case StateHalfOpen:
		if cb.halfOpenInFlight >= cb.config.HalfOpenMaxInFlight {
			return fmt.Errorf("%w: %s (half-open probe budget exhausted)", ErrOpen, cb.name)
		}
		cb.halfOpenInFlight++
		return nil

	default:
		return fmt.Errorf("unknown circuit breaker state for %s", cb.name)
	}
}

// RecordSuccess closes the circuit if it was half-open and clears the
// failure count.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.state = StateClosed
		cb.failureCount = 0
	case StateClosed:
		cb.failureCount = 0
	}
}

// RecordFailure opens the circuit once failure_threshold consecutive
// closed-state failures accumulate, or immediately on any half-open
// failure.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.state = StateOpen
		}
	case StateHalfOpen:
		cb.halfOpenInFlight--
		cb.state = StateOpen
	}
}

// Reset forces the breaker back to closed, clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failureCount = 0
	cb.halfOpenInFlight = 0
}

func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
