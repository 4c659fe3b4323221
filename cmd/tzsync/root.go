// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/fang"
	"github.com/spf13/cobra"

	"github.com/tzsync/tzsync/internal/issue"
)

var (
	// Version is the semantic version (set via -ldflags).
	Version = "dev"
	// Commit is the git commit hash (set via -ldflags).
	Commit = "unknown"
	// BuildDate is the build timestamp (set via -ldflags).
	BuildDate = "unknown"
)

// newRootCommand builds the command tree around app.
func newRootCommand(app *App) *cobra.Command {
	flags := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:   "tzsync",
		Short: "Keep a local tzdata snapshot in sync with IANA releases",
		Long: TitleStyle.Render("tzsync") + SubtitleStyle.Render(" - keep a local tzdata snapshot in sync with IANA releases") + `

tzsync installs the newest IANA time zone database release into a data
directory, either from data.iana.org or from a directory of pre-downloaded
tzdata<version>.tar.gz archives, and runs a rebuild command afterwards.

` + SubtitleStyle.Render("Examples:") + `
  tzsync update             Install the latest release if it is newer
  tzsync update --check     Only report whether an update is available
  tzsync status             Show the active snapshot
  tzsync watch              Keep updating until interrupted
  tzsync config show        Show current configuration`,
	}

	rootCmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().StringVar(&flags.cfgFile, "config", "", "config file (default is $HOME/.config/tzsync/config.cue)")

	rootCmd.AddCommand(newUpdateCommand(app, flags))
	rootCmd.AddCommand(newStatusCommand(app, flags))
	rootCmd.AddCommand(newPruneCommand(app, flags))
	rootCmd.AddCommand(newWatchCommand(app, flags))
	rootCmd.AddCommand(newConfigCommand(app, flags))

	return rootCmd
}

// getVersionString returns a formatted version string for display.
func getVersionString() string {
	if Version == "dev" {
		return "dev (built from source)"
	}
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, BuildDate)
}

// Execute builds the command tree and runs it. This is called by main.main().
func Execute() {
	// fang overrides rootCmd.Version, so the version goes through WithVersion.
	if err := fang.Execute(
		context.Background(),
		newRootCommand(NewApp(Dependencies{})),
		fang.WithVersion(getVersionString()),
		fang.WithNotifySignal(os.Interrupt),
		fang.WithErrorHandler(handleError),
	); err != nil {
		os.Exit(exitCode(err))
	}
}

// handleError prints errors the commands did not already report. An
// ExitError has been rendered by the command that returned it.
func handleError(w io.Writer, styles fang.Styles, err error) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return
	}
	fang.DefaultErrorHandler(w, styles, err)
}

// exitCode maps a command error to the process exit status.
func exitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitConfig
}

// formatErrorForDisplay formats an error for user display.
// If the error is an ActionableError, it uses the Format method.
// In verbose mode, shows the full error chain.
func formatErrorForDisplay(err error, verboseMode bool) string {
	var ae *issue.ActionableError
	if errors.As(err, &ae) {
		return ae.Format(verboseMode)
	}
	return err.Error()
}
