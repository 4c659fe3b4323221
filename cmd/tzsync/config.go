// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/tzsync/tzsync/internal/config"
)

// newConfigCommand creates the `tzsync config` command tree.
// Subcommands that read configuration use the App's config Provider.
func newConfigCommand(app *App, flags *rootFlags) *cobra.Command {
	cfgCmd := &cobra.Command{
		Use:   "config",
		Short: "Manage tzsync configuration",
		Long: `Manage tzsync configuration.

Configuration is stored in:
  - Linux: ~/.config/tzsync/config.cue
  - macOS: ~/Library/Application Support/tzsync/config.cue
  - Windows: %APPDATA%\tzsync\config.cue

Every key can be overridden with a TZSYNC_ environment variable, for
example TZSYNC_ONLINE=false or TZSYNC_REMOTE_TIMEOUT=1m.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForDisplay(cmd.Context(), app, flags)
			if err != nil {
				return err
			}
			path, _ := app.Config.Path(flags.loadOptions(nil))
			showConfig(cmd.OutOrStdout(), cfg, path)
			return nil
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd.OutOrStdout(), "")
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showConfigPath(cmd.OutOrStdout(), app, flags)
		},
	})

	cfgCmd.AddCommand(&cobra.Command{
		Use:   "dump",
		Short: "Output effective configuration as CUE",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfigForDisplay(cmd.Context(), app, flags)
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), config.GenerateCUE(cfg))
			return nil
		},
	})

	return cfgCmd
}

func loadConfigForDisplay(ctx context.Context, app *App, flags *rootFlags) (*config.Config, error) {
	cfg, err := app.Config.Load(ctx, flags.loadOptions(nil))
	if err != nil {
		app.reportFailure(err, flags.verbose)
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}
	return cfg, nil
}

func showConfig(w io.Writer, cfg *config.Config, path string) {
	keyStyle := CmdStyle
	valueStyle := SuccessStyle
	value := func(v any) string {
		s := fmt.Sprint(v)
		if s == "" {
			return SubtitleStyle.Render("(unset)")
		}
		return valueStyle.Render(s)
	}

	fmt.Fprintln(w, TitleStyle.Render("Current Configuration"))
	fmt.Fprintln(w)
	if path != "" {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), path)
	} else {
		fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("Config file"), SubtitleStyle.Render("(using defaults)"))
	}
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("online"), value(cfg.Online))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("archive_dir"), value(cfg.ArchiveDir))
	fmt.Fprintf(w, "%s: %s\n", keyStyle.Render("data_dir"), value(cfg.DataDir))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("remote"))
	fmt.Fprintf(w, "  base_url: %s\n", value(cfg.Remote.BaseURL))
	fmt.Fprintf(w, "  timeout: %s\n", value(cfg.Remote.Timeout))
	fmt.Fprintf(w, "  user_agent: %s\n", value(cfg.Remote.UserAgent))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("rebuild"))
	fmt.Fprintf(w, "  command: %s\n", value(cfg.Rebuild.Command))
	fmt.Fprintf(w, "  dir: %s\n", value(cfg.RebuildDir()))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("schedule"))
	fmt.Fprintf(w, "  interval: %s\n", value(cfg.Schedule.Interval))
	fmt.Fprintf(w, "  retry_initial: %s\n", value(cfg.Schedule.RetryInitial))
	fmt.Fprintf(w, "  watch_archives: %s\n", value(cfg.Schedule.WatchArchives))

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s:\n", keyStyle.Render("log"))
	fmt.Fprintf(w, "  level: %s\n", value(cfg.Log.Level))
	fmt.Fprintf(w, "  format: %s\n", value(cfg.Log.Format))
}

func initConfig(w io.Writer, cfgDir string) error {
	path, created, err := config.CreateDefaultConfig(cfgDir)
	if err != nil {
		return fmt.Errorf("failed to create config: %w", err)
	}

	if !created {
		fmt.Fprintf(w, "%s Configuration already exists at %s\n", WarningStyle.Render("!"), path)
		return nil
	}
	fmt.Fprintf(w, "%s Created default configuration at %s\n", SuccessStyle.Render("✓"), path)
	return nil
}

func showConfigPath(w io.Writer, app *App, flags *rootFlags) error {
	cfgDir, err := config.ConfigDir()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Config directory: %s\n", cfgDir)

	path, err := app.Config.Path(flags.loadOptions(nil))
	if err != nil {
		app.reportFailure(err, flags.verbose)
		return &ExitError{Code: ExitConfig, Err: err}
	}
	if path == "" {
		fmt.Fprintf(w, "Config file: %s\n", SubtitleStyle.Render("(none, using defaults)"))
	} else {
		fmt.Fprintf(w, "Config file: %s\n", path)
	}

	if dataDir, err := config.DataDir(); err == nil {
		fmt.Fprintf(w, "Default data directory: %s\n", dataDir)
	}
	return nil
}
