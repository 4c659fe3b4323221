// SPDX-License-Identifier: MPL-2.0

// Package watch monitors the offline archive directory and fires a debounced
// callback when tzdata archives appear, change or disappear.
//
// Events within the debounce window are coalesced so the callback fires once
// with the full set of changed archive names. Only the top level of the
// directory is watched; archive names are matched with doublestar globs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/charmbracelet/log"
	"github.com/fsnotify/fsnotify"
)

// defaultDebounce is the delay before firing the onChange callback after the
// last filesystem event. A copy into the directory emits a create followed
// by many writes; they coalesce into one callback.
const defaultDebounce = 2 * time.Second

// DefaultPatterns selects tzdata release archives.
var DefaultPatterns = []string{"tzdata*.tar.gz"}

// defaultIgnores lists names that never trigger callbacks even when they
// match a pattern: hidden files and in-progress downloads.
var defaultIgnores = []string{
	".*",
	"*.part",
	"*.tmp",
	"*.crdownload",
}

var errMissingDir = errors.New("watch: archive directory is required")

type (
	// Config holds the parameters for a Watcher.
	Config struct {
		// Dir is the archive directory to watch. It must exist.
		Dir string

		// Patterns are doublestar globs matched against file names in Dir.
		// Empty means DefaultPatterns.
		Patterns []string

		// Debounce is the quiet period after the last event before the callback
		// fires. Zero or negative values fall back to defaultDebounce.
		Debounce time.Duration

		// OnChange is called after the debounce window closes with the sorted,
		// deduplicated names of changed archives. A nil callback is a no-op.
		OnChange func(ctx context.Context, changed []string) error

		// Logger receives watcher diagnostics. nil discards them.
		Logger *log.Logger
	}

	// Watcher monitors an archive directory and fires a debounced callback
	// when matching files change. Run must be called exactly once; calling it
	// a second time returns an error.
	Watcher struct {
		cfg      Config
		fsw      *fsnotify.Watcher
		patterns []string
		logger   *log.Logger
		debounce time.Duration
		dir      string
		started  atomic.Bool
	}
)

// New creates a Watcher from the given Config. It resolves Dir to an absolute
// path, validates the patterns and registers Dir with fsnotify.
func New(cfg Config) (*Watcher, error) {
	if cfg.Dir == "" {
		return nil, errMissingDir
	}

	absDir, err := filepath.Abs(cfg.Dir)
	if err != nil {
		return nil, fmt.Errorf("watch: resolve archive directory: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch: %s is not a directory", absDir)
	}

	patterns := cfg.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	// Validate all patterns eagerly so invalid globs fail at construction
	// time rather than silently failing to match at runtime.
	if err := validatePatterns(patterns); err != nil {
		return nil, err
	}

	debounce := cfg.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(absDir); err != nil {
		fsw.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("watch: add directory %q: %w", absDir, err)
	}

	return &Watcher{
		cfg:      cfg,
		fsw:      fsw,
		patterns: slices.Clone(patterns),
		logger:   logger,
		debounce: debounce,
		dir:      absDir,
	}, nil
}

// Dir returns the absolute watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Run blocks until ctx is cancelled, processing filesystem events and
// dispatching debounced callbacks. It returns nil on clean context
// cancellation and propagates fatal watcher errors. Run must be called
// exactly once; a second call returns an error immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if !w.started.CompareAndSwap(false, true) {
		return fmt.Errorf("watch: Run called more than once")
	}

	var (
		mu      sync.Mutex
		pending = make(map[string]struct{})
		timer   *time.Timer
		running atomic.Bool
	)

	// fire drains the pending set and invokes the OnChange callback. It may
	// be scheduled by time.AfterFunc after ctx is cancelled, so it checks
	// ctx first. The skip-if-busy guard keeps callbacks from overlapping.
	fire := func() {
		if ctx.Err() != nil {
			return
		}
		if !running.CompareAndSwap(false, true) {
			w.logger.Debug("previous archive callback still running, deferring")
			// Retry so pending events are not lost when no further events arrive.
			mu.Lock()
			if timer != nil {
				timer.Reset(w.debounce)
			}
			mu.Unlock()
			return
		}
		defer running.Store(false)

		mu.Lock()
		if len(pending) == 0 {
			mu.Unlock()
			return
		}
		changed := slices.Sorted(maps.Keys(pending))
		clear(pending)
		mu.Unlock()

		w.logger.Info("archive directory changed", "dir", w.dir, "files", changed)
		if w.cfg.OnChange != nil {
			if err := w.cfg.OnChange(ctx, changed); err != nil {
				w.logger.Error("archive change callback failed", "err", err)
			}
		}
	}

	// The timer is accessed under mu because the event loop writes it under
	// the same lock.
	defer func() {
		mu.Lock()
		localTimer := timer
		mu.Unlock()
		if localTimer != nil && !localTimer.Stop() {
			select {
			case <-localTimer.C:
			default:
			}
		}
		if closeErr := w.fsw.Close(); closeErr != nil {
			w.logger.Warn("closing fsnotify watcher failed", "err", closeErr)
		}
	}()

	w.logger.Info("watching archive directory", "dir", w.dir, "patterns", w.patterns)
	for {
		select {
		case <-ctx.Done():
			return nil

		case evt, ok := <-w.fsw.Events:
			if !ok {
				return fmt.Errorf("watch: fsnotify event channel closed unexpectedly")
			}
			if evt.Op == fsnotify.Chmod {
				continue
			}

			name := filepath.Base(evt.Name)
			if filepath.Dir(evt.Name) != w.dir || !w.Matches(name) {
				continue
			}
			w.logger.Debug("archive event", "file", name, "op", evt.Op.String())

			mu.Lock()
			pending[name] = struct{}{}
			if timer == nil {
				timer = time.AfterFunc(w.debounce, fire)
			} else {
				timer.Reset(w.debounce)
			}
			mu.Unlock()

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return fmt.Errorf("watch: fsnotify error channel closed unexpectedly")
			}
			// isFatalFsnotifyError is platform-specific (see watcher_fatal_*.go).
			if isFatalFsnotifyError(err) {
				return fmt.Errorf("watch: fatal fsnotify error: %w", err)
			}
			w.logger.Warn("fsnotify error", "err", err)
		}
	}
}

// Matches reports whether a file name selects at least one pattern and no
// default ignore.
func (w *Watcher) Matches(name string) bool {
	if matchesAny(defaultIgnores, name) {
		return false
	}
	return matchesAny(w.patterns, name)
}

func matchesAny(patterns []string, name string) bool {
	for _, pat := range patterns {
		if matched, matchErr := doublestar.Match(pat, name); matchErr == nil && matched {
			return true
		}
	}
	return false
}

// validatePatterns checks that every pattern is a valid doublestar glob.
func validatePatterns(patterns []string) error {
	for _, pat := range patterns {
		if !doublestar.ValidatePattern(pat) {
			return fmt.Errorf("watch: invalid pattern %q: %w", pat, doublestar.ErrBadPattern)
		}
	}
	return nil
}
