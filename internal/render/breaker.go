package render

import (
	"sync"
	"time"

	"github.com/vizflow/vizflow/pkg/schema"
)

// CircuitState represents the state of the remote engine's circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, rejecting calls
	CircuitHalfOpen                     // Testing recovery
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the remote engine's circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultBreakerConfig returns a sensible default configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// breaker tracks failure state for the single remote render endpoint.
type breaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

func newBreaker(config BreakerConfig) *breaker {
	return &breaker{state: CircuitClosed, config: config}
}

// allow checks whether a render request may go out. Returns nil if allowed,
// or a typed error while the circuit is open.
func (b *breaker) allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(b.lastFailureTime) >= b.config.Cooldown {
			b.state = CircuitHalfOpen
			b.halfOpenAttempts = 1 // this request counts as the first test request
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeEngineRender,
			"remote engine circuit open: %d consecutive failures", b.consecutiveFailures).
			WithDetails(map[string]any{
				"state":                b.state.String(),
				"consecutive_failures": b.consecutiveFailures,
				"cooldown_remaining":   (b.config.Cooldown - time.Since(b.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if b.halfOpenAttempts >= b.config.HalfOpenMax {
			return schema.NewError(schema.ErrCodeEngineRender,
				"remote engine circuit half-open: max test requests reached")
		}
		b.halfOpenAttempts++
		return nil
	}

	return nil
}

// recordSuccess closes the circuit.
func (b *breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.halfOpenAttempts = 0
	b.state = CircuitClosed
}

// recordFailure counts a failed request and returns the new circuit state.
func (b *breaker) recordFailure() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++
	b.lastFailureTime = time.Now()

	if b.state == CircuitHalfOpen {
		// Any failure in half-open reopens the circuit.
		b.state = CircuitOpen
		return CircuitOpen
	}

	if b.consecutiveFailures >= b.config.FailureThreshold {
		b.state = CircuitOpen
		return CircuitOpen
	}

	return b.state
}

// State returns the current circuit state, applying the open-to-half-open
// cooldown transition.
func (b *breaker) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == CircuitOpen && time.Since(b.lastFailureTime) >= b.config.Cooldown {
		b.state = CircuitHalfOpen
		b.halfOpenAttempts = 0
	}
	return b.state
}
