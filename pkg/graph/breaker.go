package graph

import (
	"sync"
	"time"

	"github.com/aloecraft/aloegraph/pkg/schema"
)

// CircuitState represents the state of a route circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation
	CircuitOpen                         // Failing, route withheld
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

// BreakerConfig configures route circuit breakers.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of test delegations allowed in half-open.
	HalfOpenMax int
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// routeBreaker tracks failure state for a single route.
type routeBreaker struct {
	mu                  sync.Mutex
	state               CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              BreakerConfig
}

// BreakerRegistry manages per-route circuit breakers. Repeated delegation
// failures open a route's breaker, which withholds the route from the
// available set until the cooldown elapses.
type BreakerRegistry struct {
	mu       sync.Mutex
	breakers map[string]*routeBreaker
	config   BreakerConfig
}

// NewBreakerRegistry creates a registry with the given config.
func NewBreakerRegistry(config BreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*routeBreaker),
		config:   config,
	}
}

// Allow checks whether a delegation to the route is permitted.
// Returns nil if allowed, or a CIRCUIT_OPEN error.
func (r *BreakerRegistry) Allow(route string) error {
	cb := r.getOrCreate(route)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		return nil

	case CircuitOpen:
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this delegation is the first test
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit breaker open for route %q: %d consecutive failures, cooldown remaining",
			route, cb.consecutiveFailures).
			WithDetails(map[string]any{
				"route":                route,
				"consecutive_failures": cb.consecutiveFailures,
				"state":                cb.state.String(),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewErrorf(schema.ErrCodeCircuitOpen,
				"circuit breaker half-open for route %q: max test delegations reached", route)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess records a successful delegation and closes the circuit.
func (r *BreakerRegistry) RecordSuccess(route string) {
	cb := r.getOrCreate(route)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = CircuitClosed
}

// RecordFailure records a failed delegation. Returns the new circuit state.
func (r *BreakerRegistry) RecordFailure(route string) CircuitState {
	cb := r.getOrCreate(route)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == CircuitHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = CircuitOpen
		return CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = CircuitOpen
		return CircuitOpen
	}

	return cb.state
}

// State returns the current circuit state for a route.
func (r *BreakerRegistry) State(route string) CircuitState {
	cb := r.getOrCreate(route)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Automatic transition from open to half-open after cooldown.
	if cb.state == CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// Stats returns diagnostic information about a route's breaker.
func (r *BreakerRegistry) Stats(route string) map[string]any {
	cb := r.getOrCreate(route)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"route":                route,
		"state":                cb.state.String(),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

func (r *BreakerRegistry) getOrCreate(route string) *routeBreaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.breakers[route]
	if !ok {
		cb = &routeBreaker{
			state:  CircuitClosed,
			config: r.config,
		}
		r.breakers[route] = cb
	}
	return cb
}
