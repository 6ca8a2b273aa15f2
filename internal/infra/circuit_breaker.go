package infra

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Do while the breaker rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the circuit breaker state.
type State int

const (
	StateClosed   State = iota // calls flow
	StateOpen                  // calls rejected until the timeout passes
	StateHalfOpen              // probing with live calls
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for creating a circuit breaker.
type CircuitBreakerConfig struct {
	Name             string
	FailureThreshold int           // consecutive failures that open the breaker
	SuccessThreshold int           // half-open successes that close it again
	Timeout          time.Duration // open time before the first probe
	Now              func() time.Time

	// OnStateChange runs after every transition, outside the lock.
	OnStateChange func(name string, from, to State)
}

// DefaultCircuitBreakerConfig matches the erp section defaults.
func DefaultCircuitBreakerConfig(name string) CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Name:             name,
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// BreakerStats is a point-in-time view for health output.
type BreakerStats struct {
	State       State
	Failures    int
	LastFailure time.Time
}

// CircuitBreaker isolates a failing collaborator such as an ERP provider.
// Safe for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu          sync.Mutex
	state       State
	failures    int
	successes   int
	lastFailure time.Time
}

func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 1
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 1
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// setLocked moves to a new state and returns the notification to run
// once the lock is released.
func (cb *CircuitBreaker) setLocked(to State) func() {
	from := cb.state
	if from == to {
		return func() {}
	}
	cb.state = to
	cb.successes = 0
	if to == StateClosed {
		cb.failures = 0
	}

	attrs := []any{slog.String("name", cb.cfg.Name), slog.String("from", from.String()), slog.String("to", to.String())}
	if to == StateOpen {
		slog.Warn("Circuit breaker opened", append(attrs, slog.Int("failures", cb.failures))...)
	} else {
		slog.Info("Circuit breaker state changed", attrs...)
	}

	hook := cb.cfg.OnStateChange
	if hook == nil {
		return func() {}
	}
	name := cb.cfg.Name
	return func() { hook(name, from, to) }
}

// Allow reports whether a call may proceed. An open breaker whose timeout
// has passed moves to half-open and lets the call through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	notify := func() {}
	allowed := true
	if cb.state == StateOpen {
		if cb.cfg.Now().Sub(cb.lastFailure) > cb.cfg.Timeout {
			notify = cb.setLocked(StateHalfOpen)
		} else {
			allowed = false
		}
	}
	cb.mu.Unlock()
	notify()
	return allowed
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	notify := func() {}
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.cfg.SuccessThreshold {
			notify = cb.setLocked(StateClosed)
		}
	}
	cb.mu.Unlock()
	notify()
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	notify := func() {}
	cb.lastFailure = cb.cfg.Now()
	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			notify = cb.setLocked(StateOpen)
		}
	case StateHalfOpen:
		notify = cb.setLocked(StateOpen)
	}
	cb.mu.Unlock()
	notify()
}

// Do runs fn if the breaker allows it and records the outcome.
// Cancellation by the caller is not counted as a failure.
func (cb *CircuitBreaker) Do(ctx context.Context, fn func(context.Context) error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn(ctx)
	switch {
	case err == nil:
		cb.RecordSuccess()
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
	default:
		cb.RecordFailure()
	}
	return err
}

func (cb *CircuitBreaker) GetState() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) Stats() BreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return BreakerStats{State: cb.state, Failures: cb.failures, LastFailure: cb.lastFailure}
}

// Reset forces the breaker closed (admin use).
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	notify := cb.setLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	notify()
}
