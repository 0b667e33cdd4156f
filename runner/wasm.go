package runner

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/inkpad/inkpad"
)

// WasmRunner executes wasm-language blocks locally in a sandbox instead of
// round-tripping to the backend. The block's source names a precompiled
// .wasm module (relative to the configured module directory); stdout becomes
// the run output.
type WasmRunner struct {
	dir string
}

// NewWasmRunner creates a runner loading modules from dir.
func NewWasmRunner(dir string) *WasmRunner {
	return &WasmRunner{dir: dir}
}

// Name returns the runner identifier.
func (r *WasmRunner) Name() string { return "wasm" }

// Run instantiates the module with WASI and captures its output. A non-zero
// exit code is a code failure, not a transport failure.
func (r *WasmRunner) Run(ctx context.Context, req RunRequest) (inkpad.RunResult, error) {
	modPath := strings.TrimSpace(req.Source)
	if modPath == "" {
		return inkpad.RunResult{}, fmt.Errorf("wasm block source must name a module file")
	}
	if !filepath.IsAbs(modPath) {
		modPath = filepath.Join(r.dir, modPath)
	}
	wasmBytes, err := os.ReadFile(modPath)
	if err != nil {
		return inkpad.RunResult{}, fmt.Errorf("failed to read module: %w", err)
	}

	runtime := wazero.NewRuntime(ctx)
	defer runtime.Close(ctx)
	if _, err := wasi_snapshot_preview1.Instantiate(ctx, runtime); err != nil {
		return inkpad.RunResult{}, fmt.Errorf("failed to instantiate WASI: %w", err)
	}

	var stdout, stderr bytes.Buffer
	cfg := wazero.NewModuleConfig().
		WithName(req.BlockID).
		WithStdout(&stdout).
		WithStderr(&stderr)

	_, err = runtime.InstantiateWithConfig(ctx, wasmBytes, cfg)
	if err != nil {
		if exitErr, ok := err.(*sys.ExitError); ok && exitErr.ExitCode() != 0 {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = fmt.Sprintf("module exited with code %d", exitErr.ExitCode())
			}
			return inkpad.RunResult{RunID: req.RunID, Status: inkpad.RunError, Message: msg}, nil
		}
		if ctx.Err() != nil {
			return inkpad.RunResult{}, ctx.Err()
		}
		return inkpad.RunResult{}, fmt.Errorf("module instantiation failed: %w", err)
	}

	return inkpad.RunResult{RunID: req.RunID, Status: inkpad.RunSuccess, Output: stdout.String()}, nil
}
