// SPDX-License-Identifier: MPL-2.0

package watch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/google/go-cmp/cmp"
)

// runWatcher starts w.Run in the background and returns a stop function
// that cancels it and checks that Run returned nil.
func runWatcher(t *testing.T, w *Watcher) (stop func()) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- w.Run(ctx) }()

	return func() {
		t.Helper()
		cancel()
		select {
		case err := <-errCh:
			if err != nil {
				t.Errorf("Run() error: %v", err)
			}
		case <-time.After(5 * time.Second):
			t.Error("Run() did not return after cancel")
		}
	}
}

func writeArchive(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("archive"), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

// TestWatcherDebounce verifies that rapid archive events are coalesced into a
// single callback carrying every changed archive name.
func TestWatcherDebounce(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var (
		mu        sync.Mutex
		calls     int
		collected []string
	)
	done := make(chan struct{})

	w, err := New(Config{
		Dir:      dir,
		Debounce: 100 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			mu.Lock()
			defer mu.Unlock()
			calls++
			collected = append(collected, changed...)
			if calls == 1 {
				close(done)
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := runWatcher(t, w)

	for _, name := range []string{"tzdata2024b.tar.gz", "tzdata2023c.tar.gz", "tzdata2024a.tar.gz"} {
		writeArchive(t, dir, name)
		// Separate fsnotify events, still well within the debounce window.
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	// Allow a brief settle for any additional spurious callbacks.
	time.Sleep(200 * time.Millisecond)
	stop()

	mu.Lock()
	defer mu.Unlock()

	if calls != 1 {
		t.Errorf("expected 1 debounced callback, got %d", calls)
	}
	want := []string{"tzdata2023c.tar.gz", "tzdata2024a.tar.gz", "tzdata2024b.tar.gz"}
	if diff := cmp.Diff(want, collected); diff != "" {
		t.Errorf("changed archives mismatch (-want +got):\n%s", diff)
	}
}

// TestWatcherIgnoresUnrelatedFiles confirms that non-archive files, hidden
// files and partial downloads never trigger the callback.
func TestWatcherIgnoresUnrelatedFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	fired := make(chan []string, 10)

	w, err := New(Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := runWatcher(t, w)
	defer stop()

	for _, name := range []string{"README", "tzcode2024a.tar.gz", ".tzdata2024a.tar.gz", "tzdata2024a.tar.gz.part"} {
		writeArchive(t, dir, name)
	}
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeArchive(t, filepath.Join(dir, "nested"), "tzdata2024a.tar.gz")

	select {
	case changed := <-fired:
		t.Fatalf("callback fired for ignored files: %v", changed)
	case <-time.After(300 * time.Millisecond):
	}

	writeArchive(t, dir, "tzdata2024a.tar.gz")
	select {
	case changed := <-fired:
		if diff := cmp.Diff([]string{"tzdata2024a.tar.gz"}, changed); diff != "" {
			t.Errorf("changed mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for archive callback")
	}
}

// TestWatcherRemovalTriggers checks that deleting an archive also counts as
// a change, since it can lower the latest offline version.
func TestWatcherRemovalTriggers(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeArchive(t, dir, "tzdata2024a.tar.gz")
	fired := make(chan []string, 10)

	w, err := New(Config{
		Dir:      dir,
		Debounce: 50 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			fired <- changed
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := runWatcher(t, w)
	defer stop()

	if err := os.Remove(filepath.Join(dir, "tzdata2024a.tar.gz")); err != nil {
		t.Fatal(err)
	}

	select {
	case changed := <-fired:
		if diff := cmp.Diff([]string{"tzdata2024a.tar.gz"}, changed); diff != "" {
			t.Errorf("changed mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for removal callback")
	}
}

// TestWatcherSkipIfBusy verifies that callbacks never overlap: events arriving
// while a callback runs are delivered afterwards.
func TestWatcherSkipIfBusy(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	var (
		active  atomic.Int32
		overlap atomic.Bool
		mu      sync.Mutex
		seen    []string
	)
	release := make(chan struct{})
	second := make(chan struct{})

	w, err := New(Config{
		Dir:      dir,
		Debounce: 30 * time.Millisecond,
		OnChange: func(_ context.Context, changed []string) error {
			if active.Add(1) > 1 {
				overlap.Store(true)
			}
			defer active.Add(-1)

			mu.Lock()
			seen = append(seen, changed...)
			n := len(seen)
			mu.Unlock()

			if n == 1 {
				<-release
			} else {
				select {
				case <-second:
				default:
					close(second)
				}
			}
			return nil
		},
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := runWatcher(t, w)
	defer stop()

	writeArchive(t, dir, "tzdata2024a.tar.gz")
	time.Sleep(100 * time.Millisecond)
	writeArchive(t, dir, "tzdata2024b.tar.gz")
	time.Sleep(100 * time.Millisecond)
	close(release)

	select {
	case <-second:
	case <-time.After(5 * time.Second):
		t.Fatal("events during a busy callback were lost")
	}
	if overlap.Load() {
		t.Error("callbacks overlapped")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(seen) < 2 || seen[0] != "tzdata2024a.tar.gz" || seen[len(seen)-1] != "tzdata2024b.tar.gz" {
		t.Errorf("seen = %v", seen)
	}
}

func TestWatcherCallbackErrorIsLogged(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	called := make(chan struct{}, 1)

	w, err := New(Config{
		Dir:      dir,
		Debounce: 30 * time.Millisecond,
		OnChange: func(context.Context, []string) error {
			called <- struct{}{}
			return errors.New("scheduler stopped")
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	stop := runWatcher(t, w)

	writeArchive(t, dir, "tzdata2024a.tar.gz")
	select {
	case <-called:
	case <-time.After(5 * time.Second):
		t.Fatal("callback never fired")
	}
	// A failing callback must not stop the watcher.
	stop()
}

func TestWatcherContextCancel(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := w.Run(ctx); err != nil {
		t.Errorf("Run() on canceled context = %v, want nil", err)
	}
}

func TestWatcherDoubleRunError(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	stop := runWatcher(t, w)
	defer stop()

	// Wait until the first Run has claimed the watcher.
	for !w.started.Load() {
		time.Sleep(time.Millisecond)
	}

	err = w.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "more than once") {
		t.Errorf("second Run() = %v, want 'more than once' error", err)
	}
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()

	file := filepath.Join(t.TempDir(), "file")
	if err := os.WriteFile(file, nil, 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{name: "missing dir", cfg: Config{}, want: "archive directory is required"},
		{name: "nonexistent dir", cfg: Config{Dir: filepath.Join(t.TempDir(), "nope")}, want: "no such file"},
		{name: "not a directory", cfg: Config{Dir: file}, want: "is not a directory"},
		{name: "invalid pattern", cfg: Config{Dir: t.TempDir(), Patterns: []string{"tzdata[.tar.gz"}}, want: "invalid pattern"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := New(tt.cfg)
			if err == nil {
				t.Fatal("New() expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("New() error = %q, want it to contain %q", err, tt.want)
			}
		})
	}

	_, err := New(Config{Dir: t.TempDir(), Patterns: []string{"["}})
	if !errors.Is(err, doublestar.ErrBadPattern) {
		t.Errorf("invalid pattern error = %v, want doublestar.ErrBadPattern", err)
	}
}

func TestWatcherMatches(t *testing.T) {
	t.Parallel()

	w, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	defer w.fsw.Close()

	tests := []struct {
		name string
		want bool
	}{
		{"tzdata2024a.tar.gz", true},
		{"tzdata2024.tar.gz", true},
		{"tzdata2024a.tar.gz.part", false},
		{".tzdata2024a.tar.gz", false},
		{"tzcode2024a.tar.gz", false},
		{"tzdata2024a.zip", false},
		{"notes.txt", false},
	}
	for _, tt := range tests {
		if got := w.Matches(tt.name); got != tt.want {
			t.Errorf("Matches(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}

	custom, err := New(Config{Dir: t.TempDir(), Patterns: []string{"*.tgz"}})
	if err != nil {
		t.Fatal(err)
	}
	defer custom.fsw.Close()
	if !custom.Matches("tzdata2024a.tgz") || custom.Matches("tzdata2024a.tar.gz") {
		t.Error("custom patterns should replace the defaults")
	}
}
