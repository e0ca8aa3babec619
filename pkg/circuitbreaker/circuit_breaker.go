// Package circuitbreaker guards calls to external capability providers.
//
// A breaker counts consecutive failures against one dependency. Once the
// failure threshold is crossed the circuit opens and requests are rejected
// without reaching the dependency until a recovery timeout elapses; the
// next request then runs as a half-open probe. Enough consecutive probe
// successes close the circuit again, a single probe failure reopens it.
// Open timeouts grow exponentially while the dependency stays down.
package circuitbreaker

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State represents the circuit breaker state
type State int

const (
	StateClosed State = iota
	StateHalfOpen
	StateOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateHalfOpen:
		return "half-open"
	case StateOpen:
		return "open"
	default:
		return "unknown"
	}
}

// Config holds circuit breaker configuration
type Config struct {
	// Consecutive failures before the circuit opens
	FailureThreshold int64 `json:"failure_threshold"`

	// Consecutive probe successes required to close from half-open
	SuccessThreshold int64 `json:"success_threshold"`

	// Base timeout before allowing a half-open probe
	Timeout time.Duration `json:"timeout"`

	// Maximum timeout when exponential backoff is enabled
	MaxTimeout time.Duration `json:"max_timeout"`

	// Deadline applied to wrapped calls that carry none of their own
	RequestTimeout time.Duration `json:"request_timeout"`

	// Whether the open timeout doubles on consecutive trips
	ExponentialBackoff bool `json:"exponential_backoff"`
}

// DefaultConfig returns default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold:   5,
		SuccessThreshold:   2,
		Timeout:            60 * time.Second,
		MaxTimeout:         300 * time.Second,
		RequestTimeout:     30 * time.Second,
		ExponentialBackoff: true,
	}
}

// CircuitBreaker implements the circuit breaker pattern around one dependency
type CircuitBreaker struct {
	name   string
	logger *logrus.Entry
	config *Config

	mutex       sync.RWMutex
	state       State
	failures    int64
	successes   int64
	trips       int64
	nextAttempt time.Time
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, config *Config, logger *logrus.Logger) *CircuitBreaker {
	if config == nil {
		config = DefaultConfig()
	}

	return &CircuitBreaker{
		name:   name,
		logger: logger.WithField("circuit_breaker", name),
		config: config,
		state:  StateClosed,
	}
}

// Execute runs the given function with circuit breaker protection
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if !cb.allowRequest() {
		return NewCircuitBreakerOpenError(cb.name, StateOpen)
	}

	// Bound the call when the caller did not bring a deadline
	if _, hasDeadline := ctx.Deadline(); !hasDeadline && cb.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cb.config.RequestTimeout)
		defer cancel()
	}

	err := fn(ctx)
	if err != nil {
		cb.recordFailure(err)
		return err
	}

	cb.recordSuccess()
	return nil
}

// allowRequest checks if a request should be allowed
func (cb *CircuitBreaker) allowRequest() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Now().After(cb.nextAttempt) {
			cb.setState(StateHalfOpen)
			return true
		}
		return false

	case StateHalfOpen:
		return true

	default:
		return false
	}
}

// recordSuccess records a successful execution
func (cb *CircuitBreaker) recordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures = 0

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setState(StateClosed)
		}
	}
}

// recordFailure records a failed execution and trips the circuit when warranted
func (cb *CircuitBreaker) recordFailure(err error) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failures++

	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.setState(StateOpen)
		}
	case StateHalfOpen:
		// A failed probe reopens immediately
		cb.setState(StateOpen)
	}

	cb.logger.WithError(err).WithFields(logrus.Fields{
		"failures": cb.failures,
		"state":    cb.state.String(),
	}).Debug("Circuit breaker recorded failure")
}

// setState transitions the breaker. Callers must hold the mutex.
func (cb *CircuitBreaker) setState(newState State) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	switch newState {
	case StateOpen:
		timeout := cb.config.Timeout
		if cb.config.ExponentialBackoff {
			// Doubles per consecutive trip, capped at 2^10 and MaxTimeout
			timeout = cb.config.Timeout * time.Duration(1<<uint(min(cb.trips, 10)))
			if timeout > cb.config.MaxTimeout {
				timeout = cb.config.MaxTimeout
			}
		}
		cb.trips++
		cb.nextAttempt = time.Now().Add(timeout)

	case StateClosed:
		cb.failures = 0
		cb.trips = 0
		cb.nextAttempt = time.Time{}

	case StateHalfOpen:
		cb.successes = 0
	}

	cb.logger.WithFields(logrus.Fields{
		"from_state": oldState.String(),
		"to_state":   newState.String(),
		"failures":   cb.failures,
	}).Info("Circuit breaker state changed")
}

// GetState returns the current circuit breaker state
func (cb *CircuitBreaker) GetState() State {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// IsOpen returns true if the circuit is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == StateOpen
}

// GetName returns the circuit breaker name
func (cb *CircuitBreaker) GetName() string {
	return cb.name
}

// Reset returns the circuit breaker to the closed state
func (cb *CircuitBreaker) Reset() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(StateClosed)
	cb.failures = 0
	cb.trips = 0
	cb.nextAttempt = time.Time{}

	cb.logger.Info("Circuit breaker reset")
}
