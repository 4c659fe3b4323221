// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/tzsync/tzsync/internal/config"
	"github.com/tzsync/tzsync/internal/runlock"
	"github.com/tzsync/tzsync/internal/schedule"
	"github.com/tzsync/tzsync/internal/tzdata"
	"github.com/tzsync/tzsync/internal/watch"
)

// watchParams bundles the inputs for runWatch.
type watchParams struct {
	stdout  io.Writer
	updater *tzdata.Updater
	cfg     *config.Config
	logger  *log.Logger
	clock   schedule.Clock
}

// newWatchCommand creates the `tzsync watch` command.
func newWatchCommand(app *App, flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Keep tzdata up to date until interrupted",
		Long: `Keep tzdata up to date until interrupted.

Runs an update at startup and then every schedule.interval. A failed run is
retried after schedule.retry_initial, doubling up to the interval. In offline
mode with schedule.watch_archives set, new archives in archive_dir trigger a
run right away.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true

			s, err := app.newSession(cmd.Context(), flags, nil)
			if err != nil {
				return err
			}
			updater, err := app.newUpdater(s)
			if err != nil {
				app.reportFailure(err, flags.verbose)
				return err
			}

			if err := runWatch(cmd.Context(), watchParams{
				stdout:  cmd.OutOrStdout(),
				updater: updater,
				cfg:     s.cfg,
				logger:  s.logger,
			}); err != nil {
				app.reportFailure(err, flags.verbose)
				return &ExitError{Code: ExitUpdate, Err: err}
			}
			return nil
		},
	}
}

// runWatch runs the scheduler, and the archive watcher when enabled, until
// ctx is canceled. Cancellation is a clean shutdown.
func runWatch(ctx context.Context, p watchParams) error {
	clock := p.clock
	if clock == nil {
		clock = schedule.RealClock{}
	}

	sched := schedule.New(lockedRunner(p.updater, p.cfg.DataDir, p.logger),
		schedule.WithInterval(p.cfg.Schedule.Interval),
		schedule.WithRetryInitial(p.cfg.Schedule.RetryInitial),
		schedule.WithClock(clock),
		schedule.WithLogger(p.logger.WithPrefix("schedule")),
		schedule.WithRunHook(func(rep *tzdata.Report, next time.Duration) {
			printReport(p.stdout, rep)
			fmt.Fprintln(p.stdout, SubtitleStyle.Render(fmt.Sprintf("  next run in %s", next)))
		}),
	)

	var watcher *watch.Watcher
	if p.cfg.Schedule.WatchArchives {
		if p.cfg.Online {
			p.logger.Warn("schedule.watch_archives only applies in offline mode, ignoring")
		} else {
			w, err := watch.New(watch.Config{
				Dir:    p.cfg.ArchiveDir,
				Logger: p.logger.WithPrefix("watch"),
				OnChange: func(context.Context, []string) error {
					sched.Notify()
					return nil
				},
			})
			if err != nil {
				return err
			}
			watcher = w
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Start(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return nil
	}
	return err
}

// lockedRunner wraps updater so every scheduled run holds the update lock.
// A busy lock turns into a failed run, which the scheduler retries.
func lockedRunner(updater *tzdata.Updater, dataDir string, logger *log.Logger) schedule.Runner {
	return schedule.RunFunc(func(ctx context.Context) *tzdata.Report {
		lock, err := runlock.TryAcquire(dataDir)
		switch {
		case err == nil:
			defer releaseLock(lock, logger)
		case errors.Is(err, runlock.ErrUnsupported):
		default:
			logger.Warn("skipping scheduled run", "err", err)
			return &tzdata.Report{Outcome: tzdata.OutcomeError, Mode: updater.Mode(), Err: err}
		}
		return updater.Run(ctx)
	})
}
