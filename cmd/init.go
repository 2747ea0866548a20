package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// RunInit writes a starter mirrors file at opts.ConfigPath. An existing file
// is only replaced after confirmation, or unconditionally with force.
func RunInit(ctx context.Context, opts Options, force bool) error {
	startTime := time.Now()

	path, err := util.ExpandPath(opts.ConfigPath)
	if err != nil {
		return err
	}
	absConfigFilePath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("could not determine absolute config path for %s: %w", path, err)
	}

	if _, err := os.Stat(absConfigFilePath); err == nil {
		if !force {
			fmt.Printf("WARNING: Configuration file already exists at %s.\n", absConfigFilePath)
			fmt.Printf("Continuing will overwrite it with the default mirror. All custom mirrors will be lost.\n")
			if !PromptForConfirmation("Are you sure you want to continue?", false) {
				plog.Info(buildinfo.Name + " init operation canceled.")
				return nil
			}
		}
		if err := os.Remove(absConfigFilePath); err != nil {
			return fmt.Errorf("failed to remove existing config file: %w", err)
		}
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	if err := config.Generate(absConfigFilePath, config.Default()); err != nil {
		return fmt.Errorf("failed to generate config file: %w", err)
	}

	duration := time.Since(startTime).Round(time.Millisecond)
	plog.Info(buildinfo.Name+" configuration successfully initialized.", "path", absConfigFilePath, "duration", duration)
	return nil
}

// PromptForConfirmation prompts the user for a yes/no response.
func PromptForConfirmation(prompt string, defaultYes bool) bool {
	suffix := "[y/N]"
	if defaultYes {
		suffix = "[Y/n]"
	}
	fmt.Printf("%s %s: ", prompt, suffix)

	var response string
	_, _ = fmt.Scanln(&response)
	response = strings.ToLower(strings.TrimSpace(response))

	if response == "" {
		return defaultYes
	}
	return response == "y" || response == "yes"
}
