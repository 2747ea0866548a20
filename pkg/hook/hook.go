// Package hook runs the user supplied shell commands configured to run
// before and after a mirror sync.
package hook

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

// Stage identifies when a hook runs relative to the sync.
type Stage string

const (
	PreSync  Stage = "pre-sync"
	PostSync Stage = "post-sync"
)

// Plan lists the commands of one mirror.
// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
type Plan struct {
	Enabled bool

	PreSyncCommands  []string
	PostSyncCommands []string
}

// Env is exported to every hook command as PGL_MIRROR_* variables.
type Env struct {
	Mirror string
	// Status is empty for pre-sync hooks.
	Status string
	DryRun bool
}

func (e Env) vars() []string {
	return []string{
		"PGL_MIRROR_NAME=" + e.Mirror,
		"PGL_MIRROR_STATUS=" + e.Status,
		"PGL_MIRROR_DRY_RUN=" + strconv.FormatBool(e.DryRun),
	}
}

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
	// output receives the hook's stdout and stderr. It must not be the record
	// stream, which has to stay machine readable.
	output io.Writer
}

// NewHookExecutor creates a HookExecutor. A nil commandContext means
// exec.CommandContext and a nil output means os.Stderr.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd, output io.Writer) *HookExecutor {
	if commandContext == nil {
		commandContext = exec.CommandContext
	}
	if output == nil {
		output = os.Stderr
	}
	return &HookExecutor{
		commandContext: commandContext,
		output:         output,
	}
}

// RunPreSync runs the pre-sync commands in order and stops at the first failure.
func (e *HookExecutor) RunPreSync(ctx context.Context, p *Plan, env Env) error {
	if !p.Enabled {
		return ErrDisabled
	}
	return e.run(ctx, PreSync, p.PreSyncCommands, env, true)
}

// RunPostSync runs every post-sync command; failures are logged and the
// remaining commands still run.
func (e *HookExecutor) RunPostSync(ctx context.Context, p *Plan, env Env) error {
	if !p.Enabled {
		return ErrDisabled
	}
	return e.run(ctx, PostSync, p.PostSyncCommands, env, false)
}

func (e *HookExecutor) run(ctx context.Context, stage Stage, commands []string, env Env, failFast bool) error {
	if len(commands) == 0 {
		return ErrNothingToExecute
	}

	plog.Info(fmt.Sprintf("Running %s hook commands", stage), "mirror", env.Mirror)

	var errs []error
	for _, hookCommand := range commands {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		cmd.Env = append(cmd.Environ(), env.vars()...)
		cmd.Stdout = e.output
		cmd.Stderr = e.output

		if err := cmd.Run(); err != nil {
			// Check if the context was canceled, which can cause cmd.Wait() to return an error.
			// If so, we should return the context's error to be more specific.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			err = fmt.Errorf("%s command '%s' failed: %w", stage, hookCommand, err)
			if failFast {
				return err
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
