// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tzsync/tzsync/internal/issue"
	"github.com/tzsync/tzsync/internal/tzdata"
)

// updateParams bundles the dependencies and flags for the update command,
// enabling the core logic in runUpdate to be tested without a real Cobra
// command or live IANA endpoints.
type updateParams struct {
	stdout  io.Writer
	app     *App
	updater *tzdata.Updater
	logger  *log.Logger
	dataDir string
	check   bool          // --check: report availability without installing
	wait    time.Duration // --wait: how long to wait for a busy lock
	verbose bool
}

// newUpdateCommand creates the `tzsync update` command, which runs one
// orchestration cycle.
func newUpdateCommand(app *App, flags *rootFlags) *cobra.Command {
	var (
		check      bool
		offline    bool
		archiveDir string
		wait       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Install the latest tzdata release if it is newer than the active one",
		Long: `Install the latest tzdata release if it is newer than the active one.

One run reads the latest version, compares it with the active snapshot and,
when they differ, fetches and installs the archive, removes the previous
snapshot and runs the rebuild command. The previous snapshot stays active
whenever a step fails.

Exit codes: 0 updated or up to date, 1 configuration error, 2 update
failed (retry later), 3 another run holds the update lock.`,
		Example: `  # Update from data.iana.org
  tzsync update

  # Only report whether an update is available
  tzsync update --check

  # Install from pre-downloaded archives
  tzsync update --offline --archive-dir /srv/tzdata`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			overrides := map[string]any{}
			if offline {
				overrides["online"] = false
			}
			if archiveDir != "" {
				overrides["archive_dir"] = archiveDir
			}

			s, err := app.newSession(cmd.Context(), flags, overrides)
			if err != nil {
				return err
			}
			updater, err := app.newUpdater(s)
			if err != nil {
				app.reportFailure(err, flags.verbose)
				return err
			}

			return runUpdate(cmd.Context(), updateParams{
				stdout:  cmd.OutOrStdout(),
				app:     app,
				updater: updater,
				logger:  s.logger,
				dataDir: s.cfg.DataDir,
				check:   check,
				wait:    wait,
				verbose: flags.verbose,
			})
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "report whether an update is available without installing")
	cmd.Flags().BoolVar(&offline, "offline", false, "read archives from the archive directory instead of the network")
	cmd.Flags().StringVar(&archiveDir, "archive-dir", "", "directory of tzdata<version>.tar.gz archives (offline mode)")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait up to this long for another run to release the update lock")

	return cmd
}

// runUpdate is the core update logic, separated from Cobra for testability.
//
// Flow:
//  1. With --check, compare versions and report; nothing is locked or written.
//  2. Otherwise take the update lock, run one cycle and report the outcome.
//  3. A failed cycle renders its issue card and exits with ExitUpdate.
func runUpdate(ctx context.Context, p updateParams) error {
	if p.check {
		avail, err := p.updater.Check(ctx)
		if err != nil {
			p.app.reportFailure(err, p.verbose)
			return &ExitError{Code: ExitUpdate, Err: err}
		}
		printAvailability(p.stdout, avail)
		return nil
	}

	lock, err := acquireLock(ctx, p.dataDir, p.wait, p.logger)
	if err != nil {
		p.app.reportFailure(err, p.verbose)
		return err
	}
	defer releaseLock(lock, p.logger)

	rep := p.updater.Run(ctx)
	printReport(p.stdout, rep)

	if rep.RebuildErr != nil {
		p.app.reportWarning(fmt.Sprintf("rebuild failed: %v", rep.RebuildErr), issue.RebuildFailedId)
	}
	if rep.CleanupErr != nil {
		p.app.reportWarning(fmt.Sprintf("previous snapshot %s was not removed: %v (run 'tzsync prune')", rep.Previous, rep.CleanupErr), 0)
	}
	if rep.Outcome == tzdata.OutcomeError {
		p.app.reportFailure(rep.Err, p.verbose)
		return &ExitError{Code: ExitUpdate, Err: rep.Err}
	}
	return nil
}

func printAvailability(w io.Writer, a *tzdata.Availability) {
	fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Mode:           "), a.Mode)
	fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Active version: "), displayVersion(a.Current))
	fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Latest version: "), a.Latest)
	fmt.Fprintln(w)
	if a.Available {
		fmt.Fprintf(w, "An update is available: %s → %s\n", displayVersion(a.Current), a.Latest)
		fmt.Fprintln(w, "Run 'tzsync update' to install.")
		return
	}
	fmt.Fprintln(w, SuccessStyle.Render("tzdata is up to date"))
}

func printReport(w io.Writer, rep *tzdata.Report) {
	switch rep.Outcome {
	case tzdata.OutcomeUpdated:
		fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("✓ tzdata updated: %s → %s", displayVersion(rep.Previous), rep.Latest)))
	case tzdata.OutcomeNoUpdate:
		fmt.Fprintln(w, SuccessStyle.Render(fmt.Sprintf("✓ tzdata %s is up to date", rep.Latest)))
	default:
		fmt.Fprintln(w, ErrorStyle.Render("✗ tzdata update failed")+SubtitleStyle.Render(fmt.Sprintf(" (%s mode, active: %s)", rep.Mode, displayVersion(rep.Previous))))
	}
}

// displayVersion renders an empty version as "none".
func displayVersion(v string) string {
	if v == "" {
		return "none"
	}
	return v
}
