// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
)

const (
	// OutcomeError means a step failed; the previous snapshot stays active.
	OutcomeError Outcome = iota
	// OutcomeNoUpdate means the installed version already is the latest.
	OutcomeNoUpdate
	// OutcomeUpdated means a new snapshot is active and the rebuild signal fired.
	OutcomeUpdated
)

type (
	// Outcome is the terminal state of one Updater.Run.
	Outcome int

	// Rebuilder is the downstream step that recompiles the active snapshot.
	// It is invoked only after an update and cannot change the outcome.
	Rebuilder interface {
		Rebuild(ctx context.Context) error
	}

	// RebuildFunc adapts a function to Rebuilder.
	RebuildFunc func(ctx context.Context) error

	// Report describes one orchestration cycle.
	Report struct {
		Outcome  Outcome
		Mode     Mode
		Previous string // version active before the run ("" if none)
		Latest   string // latest known version ("" if it could not be read)
		Err      error  // cause of OutcomeError

		// CleanupErr is a failure to delete the previous snapshot. It leaks
		// the old directory but does not make the run fail.
		CleanupErr error
		// RebuildErr is the rebuild step's failure, if any.
		RebuildErr error

		Started  time.Time
		Duration time.Duration
	}

	// Availability is the result of Updater.Check.
	Availability struct {
		Mode      Mode
		Current   string
		Latest    string
		Available bool
	}

	// Updater drives one version check, fetch, install, cleanup and rebuild
	// pass. It does not coordinate concurrent callers; two overlapping Runs
	// race on the same directories, so callers must serialize them.
	Updater struct {
		source    Source
		installer *Installer
		registry  *Registry
		rebuilder Rebuilder
		logger    *log.Logger
		now       func() time.Time
	}

	// UpdaterOption configures an Updater during construction.
	UpdaterOption func(*Updater)
)

// String returns "updated", "no_update" or "error".
func (o Outcome) String() string {
	switch o {
	case OutcomeUpdated:
		return "updated"
	case OutcomeNoUpdate:
		return "no_update"
	case OutcomeError:
		return "error"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Rebuild calls f.
func (f RebuildFunc) Rebuild(ctx context.Context) error { return f(ctx) }

// WithRebuilder sets the downstream rebuild step. Without one the signal is
// dropped.
func WithRebuilder(r Rebuilder) UpdaterOption {
	return func(u *Updater) {
		u.rebuilder = r
	}
}

// WithLogger sets the logger for progress and failure lines.
func WithLogger(l *log.Logger) UpdaterOption {
	return func(u *Updater) {
		u.logger = l
	}
}

// NewUpdater creates an Updater. installer and registry must share the same
// data directory; NewInstaller(registry) guarantees that.
func NewUpdater(source Source, installer *Installer, registry *Registry, opts ...UpdaterOption) *Updater {
	u := &Updater{
		source:    source,
		installer: installer,
		registry:  registry,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = discardLogger()
	}
	if u.rebuilder == nil {
		u.rebuilder = RebuildFunc(func(context.Context) error { return nil })
	}
	return u
}

// Registry returns the registry the Updater installs into.
func (u *Updater) Registry() *Registry { return u.registry }

// Mode reports the source strategy in use.
func (u *Updater) Mode() Mode { return u.source.Mode() }

// Check reads the latest and current versions without touching the
// filesystem.
func (u *Updater) Check(ctx context.Context) (*Availability, error) {
	latest, err := u.source.LatestVersion(ctx)
	if err != nil {
		return nil, err
	}
	current, err := u.registry.Current()
	if err != nil {
		return nil, err
	}
	return &Availability{
		Mode:      u.source.Mode(),
		Current:   current,
		Latest:    latest,
		Available: latest != current,
	}, nil
}

// Run performs one orchestration pass and always returns a terminal Report.
//
// The old snapshot is deleted only after the new one is installed; a failed
// deletion is logged and recorded in Report.CleanupErr but the outcome stays
// OutcomeUpdated. Cancellation of ctx is honored between steps only: once
// the install succeeded, cleanup and the rebuild signal always run.
func (u *Updater) Run(ctx context.Context) *Report {
	rep := &Report{Mode: u.source.Mode(), Started: u.now()}
	defer func() { rep.Duration = u.now().Sub(rep.Started) }()

	logger := u.logger.With("mode", rep.Mode.String())

	latest, err := u.source.LatestVersion(ctx)
	if err != nil {
		logger.Error("reading latest tzdata version failed", "err", err)
		return rep.fail(err)
	}
	rep.Latest = latest

	current, err := u.registry.Current()
	if err != nil {
		logger.Error("reading installed tzdata version failed", "err", err)
		return rep.fail(err)
	}
	rep.Previous = current

	if latest == current {
		logger.Info("tzdata is up to date", "version", current)
		rep.Outcome = OutcomeNoUpdate
		return rep
	}

	logger.Info("tzdata update available", "current", displayVersion(current), "latest", latest)

	if err := ctx.Err(); err != nil {
		logger.Error("tzdata update canceled before fetch", "err", err)
		return rep.fail(err)
	}
	archive, err := u.source.Fetch(ctx, latest)
	if err != nil {
		logger.Error("fetching tzdata archive failed", "version", latest, "err", err)
		return rep.fail(err)
	}

	if err := ctx.Err(); err != nil {
		logger.Error("tzdata update canceled before install", "err", err)
		return rep.fail(err)
	}
	if err := u.installer.Install(latest, archive); err != nil {
		logger.Error("installing tzdata failed", "version", latest, "err", err)
		return rep.fail(err)
	}

	if current != "" {
		if err := u.registry.Remove(current); err != nil {
			logger.Warn("removing previous tzdata snapshot failed", "version", current, "err", err)
			rep.CleanupErr = err
		}
	}

	rep.Outcome = OutcomeUpdated
	logger.Info("tzdata updated", "from", displayVersion(current), "to", latest)

	// The rebuild runs on a context detached from cancellation; the snapshot
	// is already active and must be compiled.
	if err := u.rebuild(context.WithoutCancel(ctx)); err != nil {
		logger.Error("tzdata rebuild failed", "version", latest, "err", err)
		rep.RebuildErr = err
	}
	return rep
}

// rebuild invokes the rebuilder, converting a panic into an error so Run
// always returns a Report.
func (u *Updater) rebuild(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("rebuild panicked: %v", p)
		}
	}()
	return u.rebuilder.Rebuild(ctx)
}

func (r *Report) fail(err error) *Report {
	r.Outcome = OutcomeError
	r.Err = err
	return r
}

func displayVersion(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func discardLogger() *log.Logger {
	return log.New(io.Discard)
}
