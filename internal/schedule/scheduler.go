// SPDX-License-Identifier: MPL-2.0

package schedule

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/tzsync/tzsync/internal/tzdata"
)

const (
	// DefaultInterval is the delay between successful runs.
	DefaultInterval = 24 * time.Hour
	// DefaultRetryInitial is the first retry delay after a failed run.
	DefaultRetryInitial = 5 * time.Minute

	flightKey = "update"
)

var errMissingReport = errors.New("runner returned no report")

type (
	// Runner performs one update cycle. *tzdata.Updater implements it.
	Runner interface {
		Run(ctx context.Context) *tzdata.Report
	}

	// RunFunc adapts a function to Runner.
	RunFunc func(ctx context.Context) *tzdata.Report

	// RunHook observes every completed loop run and the delay until the
	// next one.
	RunHook func(rep *tzdata.Report, next time.Duration)

	// Scheduler runs a Runner periodically.
	Scheduler struct {
		runner       Runner
		clock        Clock
		interval     time.Duration
		retryInitial time.Duration
		logger       *log.Logger
		hook         RunHook

		group  singleflight.Group
		wakeup chan struct{}
	}

	// Option configures a Scheduler during construction.
	Option func(*Scheduler)
)

// Run calls f.
func (f RunFunc) Run(ctx context.Context) *tzdata.Report { return f(ctx) }

// WithInterval sets the delay between successful runs.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithRetryInitial sets the first retry delay after a failed run.
func WithRetryInitial(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.retryInitial = d
		}
	}
}

// WithClock sets the clock (default RealClock).
func WithClock(c Clock) Option {
	return func(s *Scheduler) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *log.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithRunHook installs a hook called after every loop run.
func WithRunHook(h RunHook) Option {
	return func(s *Scheduler) {
		s.hook = h
	}
}

// New creates a Scheduler for runner.
func New(runner Runner, opts ...Option) *Scheduler {
	s := &Scheduler{
		runner:       runner,
		clock:        RealClock{},
		interval:     DefaultInterval,
		retryInitial: DefaultRetryInitial,
		logger:       log.New(io.Discard),
		wakeup:       make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retryInitial > s.interval {
		s.retryInitial = s.interval
	}
	return s
}

// Trigger runs one update cycle now. Callers arriving while a cycle is in
// flight wait for it and receive the same Report instead of starting
// another.
func (s *Scheduler) Trigger(ctx context.Context) *tzdata.Report {
	v, _, shared := s.group.Do(flightKey, func() (any, error) {
		return s.run(ctx), nil
	})
	if shared {
		s.logger.Debug("joined in-flight update run")
	}
	return v.(*tzdata.Report)
}

// Notify asks the running loop to start a cycle as soon as possible. It
// never blocks; requests arriving before the loop picks up the previous one
// are merged.
func (s *Scheduler) Notify() {
	select {
	case s.wakeup <- struct{}{}:
	default:
	}
}

// Start runs a cycle immediately and then keeps running cycles until ctx is
// done, which is the only way it returns. After a failed cycle the next one
// is retried with exponential backoff starting at the retry delay and capped
// at the interval; a successful cycle resets the backoff.
func (s *Scheduler) Start(ctx context.Context) error {
	retry := s.newBackOff()

	s.logger.Info("scheduler started", "interval", s.interval, "retry", s.retryInitial)
	for {
		rep := s.Trigger(ctx)

		next := s.interval
		if rep.Outcome == tzdata.OutcomeError {
			next = retry.NextBackOff()
			s.logger.Warn("update run failed, retrying", "err", rep.Err, "in", next)
		} else {
			retry.Reset()
			s.logger.Info("next update run scheduled", "outcome", rep.Outcome.String(), "in", next)
		}
		if s.hook != nil {
			s.hook(rep, next)
		}

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-s.clock.After(next):
		case <-s.wakeup:
			s.logger.Info("update run requested")
		}
	}
}

func (s *Scheduler) run(ctx context.Context) *tzdata.Report {
	rep := s.runner.Run(ctx)
	if rep == nil {
		rep = &tzdata.Report{Outcome: tzdata.OutcomeError, Err: errMissingReport}
	}
	return rep
}

// newBackOff returns the retry policy: doubling delays from retryInitial,
// never longer than interval, never giving up.
func (s *Scheduler) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.retryInitial
	b.MaxInterval = s.interval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}
