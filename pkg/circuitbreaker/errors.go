package circuitbreaker

import (
	"errors"
	"fmt"
)

// CircuitBreakerError is returned when a request is rejected without
// reaching the wrapped dependency.
type CircuitBreakerError struct {
	CircuitName string
	State       State
}

func (e *CircuitBreakerError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is %s: request rejected", e.CircuitName, e.State.String())
}

// NewCircuitBreakerOpenError creates an error for when the circuit is open
func NewCircuitBreakerOpenError(name string, state State) *CircuitBreakerError {
	return &CircuitBreakerError{
		CircuitName: name,
		State:       state,
	}
}

// IsCircuitBreakerError checks if an error is a circuit breaker rejection
func IsCircuitBreakerError(err error) bool {
	var cbErr *CircuitBreakerError
	return errors.As(err, &cbErr)
}
