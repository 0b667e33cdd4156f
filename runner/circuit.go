package runner

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
)

// CircuitState is the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // normal operation
	CircuitOpen                         // failures exceeded threshold, dispatch blocked
	CircuitHalfOpen                     // probing whether the backend recovered
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when dispatch is blocked by an open circuit.
var ErrCircuitOpen = fmt.Errorf("execution backend circuit open")

// CircuitBreakerConfig tunes the breaker.
type CircuitBreakerConfig struct {
	FailureThreshold int           // failures within the window to open (default 5)
	SuccessThreshold int           // half-open successes to close (default 2)
	Timeout          time.Duration // open duration before probing (default 30s)
	FailureWindow    time.Duration // window failures are counted in (default 1m)
}

// DefaultCircuitBreakerConfig returns the default tuning.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
		FailureWindow:    time.Minute,
	}
}

// BreakerRunner wraps a Runner with a circuit breaker so a dead backend
// fails fast instead of queueing transport timeouts. Only transport failures
// count against the breaker; code failures are successful round trips.
type BreakerRunner struct {
	inner  Runner
	config CircuitBreakerConfig
	logger *zap.Logger

	mu              sync.Mutex
	state           CircuitState
	failures        []time.Time
	successes       int
	lastStateChange time.Time
}

// NewBreakerRunner creates the breaker wrapper.
func NewBreakerRunner(inner Runner, cfg CircuitBreakerConfig, logger *zap.Logger) *BreakerRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BreakerRunner{
		inner:           inner,
		config:          cfg,
		logger:          logger,
		state:           CircuitClosed,
		lastStateChange: time.Now(),
	}
}

// Name returns the wrapped runner's identifier.
func (b *BreakerRunner) Name() string { return b.inner.Name() }

// State returns the current breaker state.
func (b *BreakerRunner) State() CircuitState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maybeHalfOpen()
	return b.state
}

// Run checks the breaker, delegates, and records the outcome.
func (b *BreakerRunner) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	b.mu.Lock()
	b.maybeHalfOpen()
	if b.state == CircuitOpen {
		b.mu.Unlock()
		return inkpad.RunResult{}, ErrCircuitOpen
	}
	b.mu.Unlock()

	res, err := b.inner.Run(ctx, req)
	if err != nil {
		b.recordFailure()
		return inkpad.RunResult{}, err
	}
	b.recordSuccess()
	return res, nil
}

// maybeHalfOpen transitions Open -> HalfOpen after the timeout. Callers hold
// b.mu.
func (b *BreakerRunner) maybeHalfOpen() {
	if b.state == CircuitOpen && time.Since(b.lastStateChange) >= b.config.Timeout {
		b.transition(CircuitHalfOpen)
	}
}

func (b *BreakerRunner) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := time.Now()
	if b.state == CircuitHalfOpen {
		b.transition(CircuitOpen)
		b.failures = nil
		return
	}

	cutoff := now.Add(-b.config.FailureWindow)
	kept := b.failures[:0]
	for _, t := range b.failures {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	b.failures = append(kept, now)

	if b.state == CircuitClosed && len(b.failures) >= b.config.FailureThreshold {
		b.transition(CircuitOpen)
		b.failures = nil
	}
}

func (b *BreakerRunner) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case CircuitHalfOpen:
		b.successes++
		if b.successes >= b.config.SuccessThreshold {
			b.transition(CircuitClosed)
		}
	case CircuitClosed:
		b.failures = nil
	}
}

// transition changes state. Callers hold b.mu.
func (b *BreakerRunner) transition(next CircuitState) {
	b.logger.Info("circuit state change",
		zap.String("runner", b.inner.Name()),
		zap.String("from", b.state.String()),
		zap.String("to", next.String()))
	b.state = next
	b.successes = 0
	b.lastStateChange = time.Now()
}
