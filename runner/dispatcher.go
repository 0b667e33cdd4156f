package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/inkpad/inkpad"
)

// DefaultLanguage is the registry key for the catch-all runner.
const DefaultLanguage = "*"

// Dispatcher ties execution backends to code blocks: it mints correlation
// ids, rate-limits dispatch, applies the local run timeout, and writes
// terminal results back through model operations only. Stale responses are
// dropped by the block's own freshness guard and merely logged here.
type Dispatcher struct {
	mu      sync.RWMutex
	runners map[string]Runner // keyed by language, DefaultLanguage as fallback

	limiter *rate.Limiter
	timeout time.Duration
	logger  *zap.Logger
	newID   func() string

	wg sync.WaitGroup
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRateLimit caps dispatches per second; zero disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond > 0 {
			if burst < 1 {
				burst = 1
			}
			d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithTimeout sets the local run deadline.
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

// WithIDGenerator overrides correlation id minting, used by tests.
func WithIDGenerator(newID func() string) Option {
	return func(d *Dispatcher) { d.newID = newID }
}

// NewDispatcher creates a dispatcher. A nil logger disables diagnostics.
func NewDispatcher(logger *zap.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		runners: make(map[string]Runner),
		timeout: 30 * time.Second,
		logger:  logger,
		newID:   uuid.NewString,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register binds a runner to a language tag. DefaultLanguage catches
// languages without a dedicated runner.
func (d *Dispatcher) Register(language string, r Runner) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.runners[language] = r
}

func (d *Dispatcher) runnerFor(language string) (Runner, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if r, ok := d.runners[language]; ok {
		return r, nil
	}
	if r, ok := d.runners[DefaultLanguage]; ok {
		return r, nil
	}
	return nil, fmt.Errorf("no runner for language %q", language)
}

// Dispatch requests a run on the block and hands it to the matching runner
// asynchronously. It returns the correlation id once the block transitioned
// to Running; ValidationError and ErrRunInFlight pass through unchanged with
// no state change. The document stays responsive while the run is pending.
func (d *Dispatcher) Dispatch(ctx context.Context, doc *inkpad.Document, nodeID string) (string, error) {
	block, err := inkpad.AsCodeBlock(doc, nodeID)
	if err != nil {
		return "", err
	}
	snap, err := block.Snapshot()
	if err != nil {
		return "", err
	}
	r, err := d.runnerFor(snap.Language)
	if err != nil {
		return "", err
	}

	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	runID, err := block.RequestRun(d.newID)
	if err != nil {
		return "", err
	}

	req := RunRequest{
		BlockID:  nodeID,
		RunID:    runID,
		Language: snap.Language,
		Source:   snap.Source,
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.execute(ctx, block, r, req)
	}()
	return runID, nil
}

// execute performs the run and applies the outcome. All failure paths are
// contained to the block: nothing here can corrupt the document model.
func (d *Dispatcher) execute(ctx context.Context, block *inkpad.CodeBlock, r Runner, req RunRequest) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	res, err := r.Run(runCtx, req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			d.logger.Warn("run timed out",
				zap.String("block", req.BlockID), zap.String("runId", req.RunID))
			d.applyStale(block.ExpireRun(req.RunID), req)
			return
		}
		d.logger.Warn("run dispatch failed",
			zap.String("block", req.BlockID), zap.String("runId", req.RunID), zap.Error(err))
		d.applyStale(block.FailTransport(req.RunID, inkpad.TransportUnavailable, err), req)
		return
	}

	d.applyStale(block.CompleteRun(res), req)
}

// applyStale logs discarded stale responses; any other apply error is a bug
// worth surfacing loudly.
func (d *Dispatcher) applyStale(err error, req RunRequest) {
	if err == nil {
		return
	}
	var stale *inkpad.StaleResponseError
	if errors.As(err, &stale) {
		d.logger.Debug("discarded stale terminal response",
			zap.String("block", stale.BlockID),
			zap.String("got", stale.Got),
			zap.String("want", stale.Want))
		return
	}
	d.logger.Error("failed to apply run result",
		zap.String("block", req.BlockID), zap.String("runId", req.RunID), zap.Error(err))
}

// Wait blocks until all in-flight runs finished applying, used on shutdown
// and by tests.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
