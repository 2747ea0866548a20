// Package procrun executes external programs and captures their output.
package procrun

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
)

// Result is the outcome of a process that was started and waited for.
type Result struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Success reports whether the process exited with status zero.
func (r Result) Success() bool {
	return r.ExitCode == 0
}

// Runner executes an argument vector. argv[0] is the program.
// A non-zero exit is reported through Result.ExitCode, not as an error; the
// error is reserved for processes that could not be started or waited for.
type Runner interface {
	Run(ctx context.Context, argv []string, env ...string) (Result, error)
}

// ExecRunner is a Runner backed by os/exec.
type ExecRunner struct {
	// commandContext allows mocking os/exec for testing.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewExecRunner creates an ExecRunner. A nil commandContext uses exec.CommandContext.
func NewExecRunner(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *ExecRunner {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	return &ExecRunner{commandContext: commandContext}
}

// Run starts argv, waits for it and returns both captured streams.
// Extra env entries ("KEY=value") are appended to the inherited environment.
func (r *ExecRunner) Run(ctx context.Context, argv []string, env ...string) (Result, error) {
	if len(argv) == 0 {
		return Result{}, errors.New("empty command")
	}

	cmd := r.commandContext(ctx, argv[0], argv[1:]...)
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}
	configureProcess(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if err == nil {
		return result, nil
	}

	// A process that ran and exited non-zero is a normal outcome.
	if exitErr, ok := errors.AsType[*exec.ExitError](err); ok && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		return result, nil
	}
	if ctx.Err() != nil {
		return result, fmt.Errorf("%s interrupted: %w", argv[0], ctx.Err())
	}
	return result, fmt.Errorf("failed to run %s: %w", argv[0], err)
}
