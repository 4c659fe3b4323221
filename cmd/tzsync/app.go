// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/tzsync/tzsync/internal/config"
	"github.com/tzsync/tzsync/internal/issue"
	"github.com/tzsync/tzsync/internal/rebuild"
	"github.com/tzsync/tzsync/internal/runlock"
	"github.com/tzsync/tzsync/internal/tzdata"
)

// defaultIssueStyle is the glamour style used for issue cards.
const defaultIssueStyle = "dark"

type (
	// App wires CLI services and shared dependencies. It is the composition
	// root for the CLI layer: every Cobra command handler receives an App
	// reference and builds its components through it.
	App struct {
		Config     config.Provider
		HTTPClient tzdata.HTTPDoer
		Fs         afero.Fs
		stdout     io.Writer
		stderr     io.Writer
		issueStyle string
	}

	// Dependencies defines the injection points for building an App. Nil
	// fields are replaced with production defaults by NewApp.
	Dependencies struct {
		Config     config.Provider
		HTTPClient tzdata.HTTPDoer
		Fs         afero.Fs
		Stdout     io.Writer
		Stderr     io.Writer
		// IssueStyle is the glamour style for issue cards (default "dark").
		IssueStyle string
	}

	// rootFlags holds the persistent flags shared by every subcommand.
	rootFlags struct {
		cfgFile string
		verbose bool
	}

	// session is the per-invocation state derived from configuration.
	session struct {
		cfg      *config.Config
		logger   *log.Logger
		registry *tzdata.Registry
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Stdout == nil {
		deps.Stdout = os.Stdout
	}
	if deps.Stderr == nil {
		deps.Stderr = os.Stderr
	}
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.HTTPClient == nil {
		deps.HTTPClient = http.DefaultClient
	}
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	if deps.IssueStyle == "" {
		deps.IssueStyle = defaultIssueStyle
	}

	return &App{
		Config:     deps.Config,
		HTTPClient: deps.HTTPClient,
		Fs:         deps.Fs,
		stdout:     deps.Stdout,
		stderr:     deps.Stderr,
		issueStyle: deps.IssueStyle,
	}
}

// loadOptions maps the root flags and per-command overrides to LoadOptions.
func (f *rootFlags) loadOptions(overrides map[string]any) config.LoadOptions {
	return config.LoadOptions{ConfigFilePath: f.cfgFile, Overrides: overrides}
}

// newSession loads configuration and builds the logger and registry. A
// configuration failure is rendered and returned as an ExitConfig error.
func (a *App) newSession(ctx context.Context, flags *rootFlags, overrides map[string]any) (*session, error) {
	cfg, err := a.Config.Load(ctx, flags.loadOptions(overrides))
	if err != nil {
		a.reportFailure(err, flags.verbose)
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}

	return &session{
		cfg:      cfg,
		logger:   newLogger(a.stderr, cfg.Log, flags.verbose),
		registry: tzdata.NewRegistry(a.Fs, cfg.DataDir),
	}, nil
}

// newUpdater builds the source, installer, rebuild hook and updater for the
// session's configuration.
func (a *App) newUpdater(s *session) (*tzdata.Updater, error) {
	cfg := s.cfg

	userAgent := cfg.Remote.UserAgent
	if userAgent == "" {
		userAgent = config.AppName + "/" + Version
	}

	source, err := tzdata.NewSource(tzdata.ModeFor(cfg.Online), tzdata.SourceOptions{
		ArchiveDir: cfg.ArchiveDir,
		Fs:         a.Fs,
		BaseURL:    cfg.Remote.BaseURL,
		Timeout:    cfg.Remote.Timeout,
		UserAgent:  userAgent,
		Client:     a.HTTPClient,
		Logger:     s.logger.WithPrefix("tzdata"),
	})
	if err != nil {
		return nil, &ExitError{Code: ExitConfig, Err: err}
	}

	hook, err := rebuild.New(cfg.Rebuild.Command, s.registry,
		rebuild.WithDir(cfg.RebuildDir()),
		rebuild.WithLogger(s.logger.WithPrefix("rebuild")),
	)
	if err != nil {
		ae := issue.NewErrorContext().
			WithOperation("configure rebuild command").
			WithResource("rebuild.command").
			WithSuggestion("Check the command for unbalanced quotes or parentheses").
			Wrap(err).
			BuildError()
		return nil, &ExitError{Code: ExitConfig, Err: ae}
	}

	installer := tzdata.NewInstaller(s.registry, tzdata.WithInstallerLogger(s.logger.WithPrefix("tzdata")))
	return tzdata.NewUpdater(source, installer, s.registry,
		tzdata.WithRebuilder(hook),
		tzdata.WithLogger(s.logger.WithPrefix("tzdata")),
	), nil
}

// reportFailure prints the error and, when one matches, the issue card.
func (a *App) reportFailure(err error, verbose bool) {
	fmt.Fprintln(a.stderr, ErrorStyle.Render("Error: ")+formatErrorForDisplay(err, verbose))

	id, ok := issueFor(err)
	if !ok {
		return
	}
	rendered, renderErr := issue.Get(id).Render(a.issueStyle)
	if renderErr != nil {
		return
	}
	fmt.Fprint(a.stderr, rendered)
}

// issueFor maps an error to its help card.
func issueFor(err error) (issue.Id, bool) {
	var ae *issue.ActionableError
	switch {
	case errors.Is(err, runlock.ErrLocked):
		return issue.UpdateLockedId, true
	case errors.Is(err, os.ErrPermission):
		return issue.PermissionDeniedId, true
	case errors.Is(err, tzdata.ErrVersionFetchFailed):
		return issue.VersionFetchFailedId, true
	case errors.Is(err, tzdata.ErrNoLocalArchives):
		return issue.NoLocalArchivesId, true
	case errors.Is(err, tzdata.ErrArchiveReadFailed):
		return issue.ArchiveReadFailedId, true
	case errors.Is(err, tzdata.ErrDownloadFailed):
		return issue.DownloadFailedId, true
	case errors.Is(err, tzdata.ErrInstallFailed):
		return issue.InstallFailedId, true
	case errors.As(err, &ae):
		return issue.ConfigLoadFailedId, true
	default:
		return 0, false
	}
}

// reportWarning prints a warning line and, when id is non-zero, its card.
func (a *App) reportWarning(msg string, id issue.Id) {
	fmt.Fprintln(a.stderr, WarningStyle.Render("Warning: ")+msg)
	if id == 0 {
		return
	}
	if rendered, err := issue.Get(id).Render(a.issueStyle); err == nil {
		fmt.Fprint(a.stderr, rendered)
	}
}
