package runner

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inkpad/inkpad"
)

// fakeRunner fails a fixed number of times before succeeding.
type fakeRunner struct {
	calls     int
	failUntil int
	failWith  error
	result    inkpad.RunResult
}

func (f *fakeRunner) Name() string { return "fake" }

func (f *fakeRunner) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	f.calls++
	if f.calls <= f.failUntil {
		return inkpad.RunResult{}, f.failWith
	}
	res := f.result
	if res.RunID == "" {
		res.RunID = req.RunID
	}
	return res, nil
}

func fastRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	inner := &fakeRunner{
		failUntil: 2,
		failWith:  errors.New("connection refused"),
		result:    inkpad.RunResult{Status: inkpad.RunSuccess, Output: "ok"},
	}
	r := NewRetryRunner(inner, fastRetryPolicy(), nil)

	res, err := r.Run(context.Background(), RunRequest{BlockID: "b", RunID: "R1"})
	require.NoError(t, err)
	assert.Equal(t, "ok", res.Output)
	assert.Equal(t, 3, inner.calls)
}

func TestRetryExhaustsBudget(t *testing.T) {
	cause := errors.New("connection refused")
	inner := &fakeRunner{failUntil: 100, failWith: cause}
	r := NewRetryRunner(inner, fastRetryPolicy(), nil)

	_, err := r.Run(context.Background(), RunRequest{BlockID: "b", RunID: "R1"})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, 4, inner.calls, "initial attempt plus three retries")
}

func TestRetryDoesNotRetryCancellation(t *testing.T) {
	inner := &fakeRunner{failUntil: 100, failWith: context.Canceled}
	r := NewRetryRunner(inner, fastRetryPolicy(), nil)

	_, err := r.Run(context.Background(), RunRequest{BlockID: "b", RunID: "R1"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, inner.calls)
}

func TestRetryDoesNotRetryCodeFailures(t *testing.T) {
	// A RunError result is a successful round trip: no error, no retry.
	inner := &fakeRunner{result: inkpad.RunResult{Status: inkpad.RunError, Message: "TypeError"}}
	r := NewRetryRunner(inner, fastRetryPolicy(), nil)

	res, err := r.Run(context.Background(), RunRequest{BlockID: "b", RunID: "R1"})
	require.NoError(t, err)
	assert.Equal(t, inkpad.RunError, res.Status)
	assert.Equal(t, 1, inner.calls)
}
