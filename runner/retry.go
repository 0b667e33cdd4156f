package runner

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/inkpad/inkpad"
)

// RetryPolicy tunes the backoff wrapper. Zero values fall back to the
// defaults.
type RetryPolicy struct {
	MaxRetries int           // default 3
	BaseDelay  time.Duration // default 100ms
	MaxDelay   time.Duration // default 5s
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	if p.MaxRetries <= 0 {
		p.MaxRetries = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = 100 * time.Millisecond
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = 5 * time.Second
	}
	return p
}

// RetryRunner wraps a Runner with exponential backoff on transport failures.
// Results with RunError status are terminal and never retried: the code ran
// and failed.
type RetryRunner struct {
	inner      Runner
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	logger     *zap.Logger
}

// NewRetryRunner creates the retry wrapper.
func NewRetryRunner(inner Runner, policy RetryPolicy, logger *zap.Logger) *RetryRunner {
	if logger == nil {
		logger = zap.NewNop()
	}
	policy = policy.withDefaults()
	return &RetryRunner{
		inner:      inner,
		maxRetries: policy.MaxRetries,
		baseDelay:  policy.BaseDelay,
		maxDelay:   policy.MaxDelay,
		logger:     logger,
	}
}

// Name returns the wrapped runner's identifier.
func (r *RetryRunner) Name() string { return r.inner.Name() }

// Run retries transport failures with jittered exponential backoff.
func (r *RetryRunner) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return inkpad.RunResult{}, ctx.Err()
		}

		res, err := r.inner.Run(ctx, req)
		if err == nil {
			if attempt > 0 {
				r.logger.Debug("run succeeded after retry",
					zap.String("runner", r.inner.Name()), zap.Int("attempt", attempt+1))
			}
			return res, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return inkpad.RunResult{}, err
		}

		if attempt < r.maxRetries {
			delay := r.delay(attempt)
			r.logger.Debug("run attempt failed, retrying",
				zap.String("runner", r.inner.Name()),
				zap.Int("attempt", attempt+1),
				zap.Duration("delay", delay),
				zap.Error(err))
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return inkpad.RunResult{}, ctx.Err()
			}
		}
	}
	r.logger.Warn("all run attempts failed",
		zap.String("runner", r.inner.Name()),
		zap.Int("attempts", r.maxRetries+1),
		zap.Error(lastErr))
	return inkpad.RunResult{}, lastErr
}

// delay computes the backoff for an attempt with up to 25% jitter.
func (r *RetryRunner) delay(attempt int) time.Duration {
	d := float64(r.baseDelay) * math.Pow(2, float64(attempt))
	if d > float64(r.maxDelay) {
		d = float64(r.maxDelay)
	}
	jitter := d * 0.25 * rand.Float64()
	return time.Duration(d + jitter)
}
