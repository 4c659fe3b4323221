// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tzsync/tzsync/internal/tzdata"
)

// pruneParams bundles the inputs for runPrune.
type pruneParams struct {
	stdout   io.Writer
	app      *App
	registry *tzdata.Registry
	logger   *log.Logger
	verbose  bool
}

// newPruneCommand creates the `tzsync prune` command.
func newPruneCommand(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "prune",
		Short: "Remove stale snapshots and leftovers of failed runs",
		Long: `Remove stale snapshots and leftovers of failed runs.

Deletes every snapshot except the active one, temporary archives left by a
failed extraction and staging directories left by an interrupted install.
The active snapshot is never touched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			s, err := app.newSession(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			return runPrune(cmd.Context(), pruneParams{
				stdout:   cmd.OutOrStdout(),
				app:      app,
				registry: s.registry,
				logger:   s.logger,
				verbose:  flags.verbose,
			})
		},
	}
}

// runPrune removes leftovers under the update lock so it never races an
// install.
func runPrune(ctx context.Context, p pruneParams) error {
	lock, err := acquireLock(ctx, p.registry.Dir(), 0, p.logger)
	if err != nil {
		p.app.reportFailure(err, p.verbose)
		return err
	}
	defer releaseLock(lock, p.logger)

	res, err := p.registry.Prune("")
	if res != nil {
		printPruneResult(p.stdout, res)
	}
	if err != nil {
		p.app.reportFailure(err, p.verbose)
		return &ExitError{Code: ExitUpdate, Err: err}
	}
	return nil
}

func printPruneResult(w io.Writer, res *tzdata.PruneResult) {
	if len(res.Snapshots)+len(res.Archives)+len(res.Staging) == 0 {
		fmt.Fprintln(w, SuccessStyle.Render("✓ nothing to prune"))
		return
	}
	for _, v := range res.Snapshots {
		fmt.Fprintf(w, "%s removed snapshot %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(v))
	}
	for _, name := range res.Archives {
		fmt.Fprintf(w, "%s removed temporary archive %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(name))
	}
	for _, name := range res.Staging {
		fmt.Fprintf(w, "%s removed staging directory %s\n", SuccessStyle.Render("✓"), CmdStyle.Render(name))
	}
}
