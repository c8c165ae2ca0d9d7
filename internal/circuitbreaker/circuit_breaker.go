package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/trendradar/orchestrator/internal/metrics"
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

// ErrCircuitBreakerOpen is returned when the breaker rejects a call without
// invoking the underlying operation.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// Config holds circuit breaker configuration
type Config struct {
	FailureThreshold int           // Consecutive failures before opening
	ResetTimeout     time.Duration // Cooldown before an open breaker allows a probe
	OnStateChange    func(name string, from State, to State)
}

// DefaultConfig returns sensible defaults for circuit breaker
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 3,
		ResetTimeout:     60 * time.Second,
	}
}

// Clock abstracts time for deterministic tests.
type Clock func() time.Time

// CircuitBreaker implements the circuit breaker pattern: closed until
// FailureThreshold consecutive failures, open for ResetTimeout, then
// half-open where a single success closes it and a failure reopens it.
type CircuitBreaker struct {
	name   string
	config Config
	logger *zap.Logger
	now    Clock

	mutex        sync.Mutex
	state        State
	failureCount int
	lastFailure  time.Time
}

// New creates a circuit breaker in the closed state.
func New(name string, config Config, logger *zap.Logger) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = DefaultConfig().ResetTimeout
	}
	cb := &CircuitBreaker{
		name:   name,
		config: config,
		logger: logger,
		now:    time.Now,
		state:  StateClosed,
	}
	metrics.CircuitBreakerState.WithLabelValues(name).Set(0)
	return cb
}

// WithClock overrides the breaker's time source. Test hook.
func (cb *CircuitBreaker) WithClock(clock Clock) *CircuitBreaker {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	cb.now = clock
	return cb
}

// IsOpen reports whether calls should be rejected. An expired cooldown
// transitions the breaker to half-open as a side effect.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state != StateOpen {
		return false
	}
	if cb.now().Sub(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.transition(StateHalfOpen)
		return false
	}
	return true
}

// RecordSuccess resets the failure count and closes the breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	if cb.state != StateClosed {
		cb.transition(StateClosed)
	}
}

// RecordFailure increments the consecutive-failure count and opens the
// breaker at the threshold. A failure while half-open reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailure = cb.now()

	if cb.state == StateHalfOpen || cb.failureCount >= cb.config.FailureThreshold {
		if cb.state != StateOpen {
			cb.transition(StateOpen)
			cb.logger.Warn("Circuit breaker opened",
				zap.String("breaker", cb.name),
				zap.Int("consecutive_failures", cb.failureCount),
				zap.Duration("reset_timeout", cb.config.ResetTimeout),
			)
		}
	}
}

// Execute runs fn unless the breaker is open, recording the outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if cb.IsOpen() {
		return ErrCircuitBreakerOpen
	}

	err := fn()
	if err != nil {
		cb.RecordFailure()
		return err
	}
	cb.RecordSuccess()
	return nil
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() State {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()
	return cb.failureCount
}

// transition changes state. Caller must hold the lock.
func (cb *CircuitBreaker) transition(to State) {
	from := cb.state
	if from == to {
		return
	}
	cb.state = to
	metrics.CircuitBreakerState.WithLabelValues(cb.name).Set(float64(to))
	if cb.config.OnStateChange != nil {
		cb.config.OnStateChange(cb.name, from, to)
	}
	cb.logger.Info("Circuit breaker state change",
		zap.String("breaker", cb.name),
		zap.String("from", from.String()),
		zap.String("to", to.String()),
	)
}
