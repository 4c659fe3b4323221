// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/dustin/go-humanize"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/tzsync/tzsync/internal/config"
	"github.com/tzsync/tzsync/internal/runlock"
	"github.com/tzsync/tzsync/internal/tzdata"
)

const (
	statusFormatText = "text"
	statusFormatTOML = "toml"
)

type (
	// statusParams bundles the inputs for runStatus.
	statusParams struct {
		stdout   io.Writer
		cfg      *config.Config
		registry *tzdata.Registry
		format   string
	}

	// statusReport is the machine-readable status document.
	statusReport struct {
		Mode       string           `toml:"mode"`
		DataDir    string           `toml:"data_dir"`
		ArchiveDir string           `toml:"archive_dir,omitempty"`
		Current    string           `toml:"current"`
		Locked     bool             `toml:"locked"`
		Snapshots  []snapshotStatus `toml:"snapshots"`
	}

	// snapshotStatus describes one installed snapshot.
	snapshotStatus struct {
		Version string `toml:"version"`
		Files   int    `toml:"files"`
		Bytes   int64  `toml:"bytes"`
		Active  bool   `toml:"active"`
	}
)

// newStatusCommand creates the `tzsync status` command.
func newStatusCommand(app *App, flags *rootFlags) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the active tzdata snapshot and data directory contents",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			if format != statusFormatText && format != statusFormatTOML {
				return fmt.Errorf("unknown format %q (want text or toml)", format)
			}

			s, err := app.newSession(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}

			if err := runStatus(cmd.Context(), statusParams{
				stdout:   cmd.OutOrStdout(),
				cfg:      s.cfg,
				registry: s.registry,
				format:   format,
			}); err != nil {
				app.reportFailure(err, flags.verbose)
				return &ExitError{Code: ExitUpdate, Err: err}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", statusFormatText, "output format: text or toml")

	return cmd
}

// runStatus collects and prints the status of the data directory.
func runStatus(ctx context.Context, p statusParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	rep, err := collectStatus(p.cfg, p.registry)
	if err != nil {
		return err
	}

	if p.format == statusFormatTOML {
		out, err := toml.Marshal(rep)
		if err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		_, err = p.stdout.Write(out)
		return err
	}

	printStatus(p.stdout, rep)
	return nil
}

// collectStatus gathers the status without creating or modifying anything.
func collectStatus(cfg *config.Config, registry *tzdata.Registry) (*statusReport, error) {
	rep := &statusReport{
		Mode:    tzdata.ModeFor(cfg.Online).String(),
		DataDir: cfg.DataDir,
	}
	if !cfg.Online {
		rep.ArchiveDir = cfg.ArchiveDir
	}

	versions, err := registry.Installed()
	if err != nil {
		return nil, err
	}
	if rep.Current, err = registry.Current(); err != nil {
		return nil, err
	}

	for _, v := range versions {
		files, err := registry.Files(v)
		if err != nil {
			return nil, err
		}
		size, err := registry.Size(v)
		if err != nil {
			return nil, err
		}
		rep.Snapshots = append(rep.Snapshots, snapshotStatus{
			Version: v,
			Files:   len(files),
			Bytes:   size,
			Active:  v == rep.Current,
		})
	}

	rep.Locked = lockHeld(registry)
	return rep, nil
}

// lockHeld reports whether another process holds the update lock. A
// missing data directory is never locked and is not created.
func lockHeld(registry *tzdata.Registry) bool {
	if ok, _ := afero.DirExists(registry.Fs(), registry.Dir()); !ok {
		return false
	}
	lock, err := runlock.TryAcquire(registry.Dir())
	if err != nil {
		return errors.Is(err, runlock.ErrLocked)
	}
	_ = lock.Release()
	return false
}

func printStatus(w io.Writer, rep *statusReport) {
	fmt.Fprintln(w, TitleStyle.Render("tzsync status"))
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Mode:          "), rep.Mode)
	fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Data directory:"), rep.DataDir)
	if rep.ArchiveDir != "" {
		fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Archives:      "), rep.ArchiveDir)
	}
	fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Active:        "), displayVersion(rep.Current))
	if rep.Locked {
		fmt.Fprintf(w, "%s %s\n", CmdStyle.Render("Lock:          "), WarningStyle.Render("held by a running update"))
	}
	fmt.Fprintln(w)

	if len(rep.Snapshots) == 0 {
		fmt.Fprintln(w, SubtitleStyle.Render("No snapshots installed. Run 'tzsync update'."))
		return
	}

	rows := make([][]string, 0, len(rep.Snapshots))
	for _, s := range rep.Snapshots {
		marker := ""
		if s.Active {
			marker = "✓"
		}
		rows = append(rows, []string{s.Version, strconv.Itoa(s.Files), humanize.Bytes(uint64(s.Bytes)), marker})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(SubtitleStyle).
		Headers("VERSION", "FILES", "SIZE", "ACTIVE").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return tableHeaderStyle
			}
			if rep.Snapshots[row].Active {
				return tableCellStyle.Foreground(ColorSuccess)
			}
			return tableCellStyle
		})
	fmt.Fprintln(w, t.Render())
}
