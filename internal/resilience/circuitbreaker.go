// Package resilience keeps the recognizer, translator and synthesizer slots
// answering when one backend goes down.
//
// A [CircuitBreaker] stops calling a backend after repeated failures, so a
// dead primary costs one fast rejection per batch instead of a full request
// timeout. A [FallbackGroup] chains several backends of one kind, each behind
// its own breaker, and tries them in order.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] while the breaker
// rejects calls.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// has passed since the breaker opened.
	StateOpen

	// StateHalfOpen lets up to HalfOpenMax trial calls through. One failed
	// trial re-opens the breaker; HalfOpenMax successful ones close it.
	StateHalfOpen
)

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

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name identifies the guarded backend in logs and state callbacks.
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the trial budget of the half-open state. Default: 3.
	HalfOpenMax int

	// OnStateChange, when set, is called after every transition, outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time

	Logger *slog.Logger
}

// transition is a state change waiting to be announced.
type transition struct {
	from, to State
}

// CircuitBreaker is a closed/open/half-open breaker around one backend.
type CircuitBreaker struct {
	name         string
	maxFailures  int
	resetTimeout time.Duration
	halfOpenMax  int
	onChange     func(name string, from, to State)
	now          func() time.Time
	log          *slog.Logger

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trials   int
	passed   int
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	cb := &CircuitBreaker{
		name:         cfg.Name,
		maxFailures:  cfg.MaxFailures,
		resetTimeout: cfg.ResetTimeout,
		halfOpenMax:  cfg.HalfOpenMax,
		onChange:     cfg.OnStateChange,
		now:          cfg.Now,
		log:          cfg.Logger,
	}
	if cb.maxFailures <= 0 {
		cb.maxFailures = 5
	}
	if cb.resetTimeout <= 0 {
		cb.resetTimeout = 30 * time.Second
	}
	if cb.halfOpenMax <= 0 {
		cb.halfOpenMax = 3
	}
	if cb.now == nil {
		cb.now = time.Now
	}
	if cb.log == nil {
		cb.log = slog.Default()
	}
	return cb
}

// Name returns the configured backend name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn unless the breaker rejects the call, and records its
// outcome.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	trial, changed, err := cb.admit()
	cb.announce(changed)
	if err != nil {
		return err
	}

	err = fn()

	cb.mu.Lock()
	if err != nil {
		changed = cb.failLocked(trial)
	} else {
		changed = cb.passLocked(trial)
	}
	cb.mu.Unlock()
	cb.announce(changed)
	return err
}

// admit decides whether a call may proceed and whether it is a trial.
func (cb *CircuitBreaker) admit() (trial bool, changed *transition, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			return false, nil, ErrCircuitOpen
		}
		changed = cb.setLocked(StateHalfOpen)
	}
	if cb.state == StateHalfOpen {
		if cb.trials >= cb.halfOpenMax {
			return false, changed, ErrCircuitOpen
		}
		cb.trials++
		return true, changed, nil
	}
	return false, changed, nil
}

func (cb *CircuitBreaker) failLocked(trial bool) *transition {
	if trial {
		if cb.state != StateHalfOpen {
			return nil
		}
		return cb.setLocked(StateOpen)
	}
	cb.failures++
	if cb.state == StateClosed && cb.failures >= cb.maxFailures {
		return cb.setLocked(StateOpen)
	}
	return nil
}

func (cb *CircuitBreaker) passLocked(trial bool) *transition {
	if !trial {
		cb.failures = 0
		return nil
	}
	if cb.state != StateHalfOpen {
		return nil
	}
	cb.passed++
	if cb.passed >= cb.halfOpenMax {
		return cb.setLocked(StateClosed)
	}
	return nil
}

// setLocked moves to state and resets the counters that belong to it.
func (cb *CircuitBreaker) setLocked(state State) *transition {
	from := cb.state
	if from == state {
		return nil
	}
	cb.state = state
	cb.trials, cb.passed = 0, 0
	switch state {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.failures = 0
	}
	return &transition{from: from, to: state}
}

func (cb *CircuitBreaker) announce(t *transition) {
	if t == nil {
		return
	}
	level := slog.LevelInfo
	if t.to == StateOpen {
		level = slog.LevelWarn
	}
	cb.log.Log(context.Background(), level, "resilience: circuit breaker state changed",
		"provider", cb.name, "from", t.from.String(), "to", t.to.String())
	if cb.onChange != nil {
		cb.onChange(cb.name, t.from, t.to)
	}
}

// State reports the current state. An open breaker whose reset timeout has
// passed reports [StateHalfOpen]; the transition itself happens on the next
// call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setLocked(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	cb.announce(changed)
}
