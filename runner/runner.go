// Package runner dispatches code block run requests to execution backends
// and routes terminal results back into the document model.
package runner

import (
	"context"

	"github.com/inkpad/inkpad"
)

// RunRequest is one outbound execution request. The correlation id is minted
// by the block's state machine before dispatch; backends echo it so results
// can be matched without any ordering guarantee from the transport.
type RunRequest struct {
	BlockID  string `json:"blockId"`
	RunID    string `json:"correlationId"`
	Language string `json:"language"`
	Source   string `json:"source"`
}

// Runner executes one run request against a backend. Errors returned from
// Run are transport failures: the code never ran. Code failures come back as
// a RunResult with RunError status.
type Runner interface {
	Name() string
	Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error)
}

// RunnerFunc adapts a function to the Runner interface.
func RunnerFunc(name string, fn func(ctx context.Context, req RunRequest) (inkpad.RunResult, error)) Runner {
	return runnerFunc{name: name, fn: fn}
}

type runnerFunc struct {
	name string
	fn   func(ctx context.Context, req RunRequest) (inkpad.RunResult, error)
}

func (r runnerFunc) Name() string { return r.name }

func (r runnerFunc) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	return r.fn(ctx, req)
}
