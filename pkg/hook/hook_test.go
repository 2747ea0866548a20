package hook_test

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
)

// TestHelperProcess is a helper for testing exec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) == 0 {
		os.Exit(2)
	}
	fields := strings.Fields(args[0])
	switch {
	case strings.Contains(args[0], "fail"):
		os.Exit(1)
	case fields[0] == "print-env":
		fmt.Printf("%s|%s|%s\n", os.Getenv("PGL_MIRROR_NAME"), os.Getenv("PGL_MIRROR_STATUS"), os.Getenv("PGL_MIRROR_DRY_RUN"))
	}
	os.Exit(0)
}

func mockExecutor(ctx context.Context, name string, arg ...string) *exec.Cmd {
	// On Windows, the command is wrapped in `cmd /C`. We need to extract the actual command.
	var cmdLine string
	if len(arg) > 1 && (arg[0] == "/C" || arg[0] == "-c") {
		cmdLine = strings.Join(arg[1:], " ")
	} else {
		cmdLine = name + " " + strings.Join(arg, " ")
	}

	cs := []string{"-test.run=TestHelperProcess", "--", cmdLine}
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func TestHookExecutor(t *testing.T) {
	env := hook.Env{Mirror: "ubuntu", Status: "completed"}

	tests := []struct {
		name          string
		plan          *hook.Plan
		stage         hook.Stage
		expectError   bool
		expectHint    bool
		errorContains string
	}{
		{
			name:  "Pre-sync success",
			plan:  &hook.Plan{Enabled: true, PreSyncCommands: []string{"echo pre-hook-works"}},
			stage: hook.PreSync,
		},
		{
			name:  "Post-sync success",
			plan:  &hook.Plan{Enabled: true, PostSyncCommands: []string{"echo post-hook-works"}},
			stage: hook.PostSync,
		},
		{
			name:          "Pre-sync failure stops",
			plan:          &hook.Plan{Enabled: true, PreSyncCommands: []string{"fail this", "echo never"}},
			stage:         hook.PreSync,
			expectError:   true,
			errorContains: "pre-sync command 'fail this' failed",
		},
		{
			name:          "Post-sync failure is reported after all commands",
			plan:          &hook.Plan{Enabled: true, PostSyncCommands: []string{"fail this", "echo still-runs"}},
			stage:         hook.PostSync,
			expectError:   true,
			errorContains: "post-sync command 'fail this' failed",
		},
		{
			name:        "Disabled",
			plan:        &hook.Plan{Enabled: false, PreSyncCommands: []string{"fail this"}},
			stage:       hook.PreSync,
			expectError: true,
			expectHint:  true,
		},
		{
			name:        "Nothing to execute",
			plan:        &hook.Plan{Enabled: true},
			stage:       hook.PostSync,
			expectError: true,
			expectHint:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			executor := hook.NewHookExecutor(mockExecutor, &bytes.Buffer{})
			var err error
			if tc.stage == hook.PreSync {
				err = executor.RunPreSync(context.Background(), tc.plan, env)
			} else {
				err = executor.RunPostSync(context.Background(), tc.plan, env)
			}

			if !tc.expectError {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tc.expectHint, hints.IsHint(err))
			if tc.errorContains != "" {
				assert.ErrorContains(t, err, tc.errorContains)
			}
		})
	}
}

func TestHookExecutor_ExportsEnvironment(t *testing.T) {
	var out bytes.Buffer
	executor := hook.NewHookExecutor(mockExecutor, &out)

	plan := &hook.Plan{Enabled: true, PostSyncCommands: []string{"print-env"}}
	err := executor.RunPostSync(context.Background(), plan, hook.Env{Mirror: "debian", Status: "failed", DryRun: true})
	require.NoError(t, err)
	assert.Equal(t, "debian|failed|true\n", out.String())
}

func TestHookExecutor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	executor := hook.NewHookExecutor(mockExecutor, &bytes.Buffer{})
	err := executor.RunPreSync(ctx, &hook.Plan{Enabled: true, PreSyncCommands: []string{"echo x"}}, hook.Env{Mirror: "m"})
	assert.ErrorIs(t, err, context.Canceled)
}
