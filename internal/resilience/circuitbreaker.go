// Package resilience guards upstream session opens with a circuit breaker.
//
// The gateway dials one generative speech backend; when that backend is
// flapping, every new WebSocket handshake would otherwise pay for a doomed
// connect. [CircuitBreaker] fails those handshakes fast instead: after a run
// of consecutive connect failures it opens, and once the reset timeout
// elapses it lets a single probe connect through to decide whether the
// backend has recovered.
//
// All types are safe for concurrent use.
package resilience

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is
// rejecting calls: either the reset timeout has not elapsed, or a probe
// connect is already in flight.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed is the normal operating state; every call is forwarded.
	StateClosed State = iota

	// StateOpen means the breaker has tripped. Calls return [ErrCircuitOpen]
	// until the reset timeout elapses.
	StateOpen

	// StateHalfOpen admits exactly one probe call. Success closes the
	// breaker, failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
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

// CircuitBreakerConfig holds the tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name labels log messages.
	Name string

	// MaxFailures is the number of consecutive failures before the breaker
	// opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before admitting a
	// probe call. Default: 30s.
	ResetTimeout time.Duration
}

// CircuitBreaker fails calls fast after a run of consecutive failures.
// It is safe for concurrent use from multiple goroutines.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	probing  bool
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied
// configuration. Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	return &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		state:        StateClosed,
	}
}

// Execute runs fn if the breaker allows it. While open it returns
// [ErrCircuitOpen] without calling fn; after the reset timeout one call at a
// time is admitted as a probe.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	if err := cb.allow(); err != nil {
		return err
	}
	err := fn()
	cb.observe(err)
	return err
}

func (cb *CircuitBreaker) allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if time.Since(cb.openedAt) < cb.resetTimeout {
			return ErrCircuitOpen
		}
		cb.state = StateHalfOpen
		cb.probing = false
		slog.Info("circuit breaker admitting a probe call", "name", cb.name)
	}
	if cb.state == StateHalfOpen {
		if cb.probing {
			// One probe at a time.
			return ErrCircuitOpen
		}
		cb.probing = true
	}
	return nil
}

func (cb *CircuitBreaker) observe(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		// A call that was admitted before the trip finished late; its
		// outcome says nothing about the backend now.
		return
	}

	if err != nil {
		if cb.state == StateHalfOpen {
			cb.trip("probe call failed")
			return
		}
		cb.failures++
		if cb.failures >= cb.maxFailures {
			cb.trip("consecutive failures")
		}
		return
	}

	if cb.state == StateHalfOpen {
		slog.Info("circuit breaker closed, upstream recovered", "name", cb.name)
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probing = false
}

// trip opens the breaker. Must be called with cb.mu held.
func (cb *CircuitBreaker) trip(why string) {
	cb.state = StateOpen
	cb.openedAt = time.Now()
	cb.failures = 0
	cb.probing = false
	slog.Warn("circuit breaker opened",
		"name", cb.name,
		"reason", why,
		"retry_after", cb.resetTimeout)
}

// State returns the current [State]. If the breaker is open and the reset
// timeout has elapsed, the returned state is [StateHalfOpen]; the actual
// transition happens on the next [CircuitBreaker.Execute] call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}
