// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/afero"
)

// stubSource is a Source with fixed answers and call counters.
type stubSource struct {
	latest     string
	latestErr  error
	archive    []byte
	fetchErr   error
	mode       Mode
	fetchCalls atomic.Int32
}

func (s *stubSource) LatestVersion(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return s.latest, s.latestErr
}

func (s *stubSource) Fetch(_ context.Context, _ string) ([]byte, error) {
	s.fetchCalls.Add(1)
	if s.fetchErr != nil {
		return nil, s.fetchErr
	}
	return s.archive, nil
}

func (s *stubSource) Mode() Mode { return s.mode }

// countingRebuilder records how often the rebuild signal fired.
type countingRebuilder struct {
	calls atomic.Int32
	err   error
}

func (c *countingRebuilder) Rebuild(context.Context) error {
	c.calls.Add(1)
	return c.err
}

// updaterFixture wires an Updater over a temporary data directory with
// snapshot current pre-installed.
type updaterFixture struct {
	fs        *failingFs
	registry  *Registry
	rebuilder *countingRebuilder
	updater   *Updater
}

func newUpdaterFixture(t *testing.T, src Source, current string) *updaterFixture {
	t.Helper()

	fsys := &failingFs{Fs: afero.NewOsFs()}
	reg := NewRegistry(fsys, filepath.Join(t.TempDir(), "data"))
	if err := fsys.MkdirAll(reg.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	if current != "" {
		installSnapshot(t, afero.NewOsFs(), reg.Dir(), current)
	}

	rb := &countingRebuilder{}
	return &updaterFixture{
		fs:        fsys,
		registry:  reg,
		rebuilder: rb,
		updater:   NewUpdater(src, NewInstaller(reg), reg, WithRebuilder(rb)),
	}
}

func (f *updaterFixture) installed(t *testing.T) []string {
	t.Helper()
	v, err := f.registry.Installed()
	if err != nil {
		t.Fatalf("Installed() error: %v", err)
	}
	return v
}

func TestUpdater_NoUpdate(t *testing.T) {
	t.Parallel()

	for _, version := range []string{"2023c", "2024a", "1996l"} {
		t.Run(version, func(t *testing.T) {
			t.Parallel()

			src := &stubSource{latest: version}
			f := newUpdaterFixture(t, src, version)

			rep := f.updater.Run(context.Background())
			if rep.Outcome != OutcomeNoUpdate {
				t.Fatalf("Run() outcome = %v (err %v), want no_update", rep.Outcome, rep.Err)
			}
			if n := f.fs.writes.Load(); n != 0 {
				t.Errorf("Run() performed %d file writes, want 0", n)
			}
			if n := src.fetchCalls.Load(); n != 0 {
				t.Errorf("Run() fetched %d times, want 0", n)
			}
			if n := f.rebuilder.calls.Load(); n != 0 {
				t.Errorf("rebuild fired %d times, want 0", n)
			}
			if diff := cmp.Diff([]string{version}, f.installed(t)); diff != "" {
				t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestUpdater_Updated(t *testing.T) {
	t.Parallel()

	tests := []struct {
		current string
		latest  string
	}{
		{current: "2023c", latest: "2023d"},
		{current: "2024b", latest: "2024a"},
		{current: "", latest: "2025a"},
	}

	for _, tt := range tests {
		t.Run(tt.current+"->"+tt.latest, func(t *testing.T) {
			t.Parallel()

			src := &stubSource{latest: tt.latest, archive: createTestArchive(t, memberContents(tt.latest))}
			f := newUpdaterFixture(t, src, tt.current)

			rep := f.updater.Run(context.Background())
			if rep.Outcome != OutcomeUpdated {
				t.Fatalf("Run() outcome = %v (err %v), want updated", rep.Outcome, rep.Err)
			}
			if rep.Previous != tt.current || rep.Latest != tt.latest {
				t.Errorf("Report versions = %q -> %q, want %q -> %q", rep.Previous, rep.Latest, tt.current, tt.latest)
			}
			if diff := cmp.Diff([]string{tt.latest}, f.installed(t)); diff != "" {
				t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
			}

			files, err := f.registry.Files(tt.latest)
			if err != nil {
				t.Fatalf("Files() error: %v", err)
			}
			want := DefaultMembers()
			slices.Sort(want)
			if diff := cmp.Diff(want, files); diff != "" {
				t.Errorf("snapshot members mismatch (-want +got):\n%s", diff)
			}
			if n := f.rebuilder.calls.Load(); n != 1 {
				t.Errorf("rebuild fired %d times, want exactly 1", n)
			}
			if rep.CleanupErr != nil || rep.RebuildErr != nil {
				t.Errorf("unexpected side errors: cleanup=%v rebuild=%v", rep.CleanupErr, rep.RebuildErr)
			}
		})
	}
}

func TestUpdater_RemoteExample(t *testing.T) {
	t.Parallel()

	archive := createTestArchive(t, memberContents("2023d"))
	srv, _ := newTestServer(t, "2023d\n", map[string][]byte{"2023d": archive})

	src := NewRemoteSource(WithBaseURL(srv.URL))
	f := newUpdaterFixture(t, src, "2023c")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeUpdated {
		t.Fatalf("Run() outcome = %v (err %v), want updated", rep.Outcome, rep.Err)
	}
	if rep.Mode != ModeOnline {
		t.Errorf("Report.Mode = %v, want online", rep.Mode)
	}
	if ok, _ := f.registry.Has("2023d"); !ok {
		t.Error("2023d snapshot missing")
	}
	if ok, _ := f.registry.Has("2023c"); ok {
		t.Error("2023c snapshot still present")
	}
}

func TestUpdater_VersionReadFailure(t *testing.T) {
	t.Parallel()

	src := &stubSource{latestErr: ErrVersionFetchFailed}
	f := newUpdaterFixture(t, src, "2023c")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeError || !errors.Is(rep.Err, ErrVersionFetchFailed) {
		t.Fatalf("Run() = %v / %v, want error / ErrVersionFetchFailed", rep.Outcome, rep.Err)
	}
	if n := f.fs.writes.Load(); n != 0 {
		t.Errorf("Run() performed %d file writes, want 0", n)
	}
	if diff := cmp.Diff([]string{"2023c"}, f.installed(t)); diff != "" {
		t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
	}
	if n := f.rebuilder.calls.Load(); n != 0 {
		t.Errorf("rebuild fired %d times, want 0", n)
	}
}

func TestUpdater_FetchFailure(t *testing.T) {
	t.Parallel()

	srv, _ := newTestServer(t, "2023d\n", nil)
	f := newUpdaterFixture(t, NewRemoteSource(WithBaseURL(srv.URL)), "2023c")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeError || !errors.Is(rep.Err, ErrDownloadFailed) {
		t.Fatalf("Run() = %v / %v, want error / ErrDownloadFailed", rep.Outcome, rep.Err)
	}
	if rep.Latest != "2023d" {
		t.Errorf("Report.Latest = %q, want 2023d", rep.Latest)
	}
	if diff := cmp.Diff([]string{"2023c"}, f.installed(t)); diff != "" {
		t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
	}
	if n := f.fs.writes.Load(); n != 0 {
		t.Errorf("Run() performed %d file writes, want 0", n)
	}
}

func TestUpdater_PartialInstallFailure(t *testing.T) {
	t.Parallel()

	src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
	f := newUpdaterFixture(t, src, "2023c")
	f.fs.failOpenFile = baseIs("europe")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeError || !errors.Is(rep.Err, ErrInstallFailed) {
		t.Fatalf("Run() = %v / %v, want error / ErrInstallFailed", rep.Outcome, rep.Err)
	}

	current, err := f.registry.Current()
	if err != nil {
		t.Fatalf("Current() error: %v", err)
	}
	if current != "2023c" {
		t.Errorf("Current() = %q after failed install, want 2023c", current)
	}
	files, err := f.registry.Files("2023c")
	if err != nil || len(files) != len(defaultMembers) {
		t.Errorf("previous snapshot damaged: files=%v err=%v", files, err)
	}

	// The next run retries the same version against the intact snapshot.
	f.fs.failOpenFile = nil
	rep = f.updater.Run(context.Background())
	if rep.Outcome != OutcomeUpdated {
		t.Fatalf("retry Run() outcome = %v (err %v), want updated", rep.Outcome, rep.Err)
	}
}

func TestUpdater_Idempotent(t *testing.T) {
	t.Parallel()

	src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
	f := newUpdaterFixture(t, src, "2023c")

	if got := f.updater.Run(context.Background()).Outcome; got != OutcomeUpdated {
		t.Fatalf("first Run() = %v, want updated", got)
	}
	if got := f.updater.Run(context.Background()).Outcome; got != OutcomeNoUpdate {
		t.Fatalf("second Run() = %v, want no_update", got)
	}
	if n := f.rebuilder.calls.Load(); n != 1 {
		t.Errorf("rebuild fired %d times, want 1", n)
	}
}

func TestUpdater_IdempotentWithForeignDirectories(t *testing.T) {
	t.Parallel()

	src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
	f := newUpdaterFixture(t, src, "2023c")

	// The rebuild compiles into the data directory and a mount point adds
	// lost+found; neither is a snapshot.
	var rebuilds atomic.Int32
	f.updater.rebuilder = RebuildFunc(func(context.Context) error {
		rebuilds.Add(1)
		for _, dir := range []string{"zoneinfo/Europe", "lost+found"} {
			if err := os.MkdirAll(filepath.Join(f.registry.Dir(), dir), 0o755); err != nil {
				return err
			}
		}
		return os.WriteFile(filepath.Join(f.registry.Dir(), "zoneinfo", "Europe", "Paris"), []byte("TZif"), 0o644)
	})

	want := []Outcome{OutcomeUpdated, OutcomeNoUpdate, OutcomeNoUpdate}
	for i, outcome := range want {
		rep := f.updater.Run(context.Background())
		if rep.Outcome != outcome {
			t.Fatalf("Run() #%d = %v (err %v), want %v", i+1, rep.Outcome, rep.Err, outcome)
		}
		if rep.Outcome == OutcomeNoUpdate && rep.Previous != "2023d" {
			t.Errorf("Run() #%d Previous = %q, want 2023d", i+1, rep.Previous)
		}
	}
	if n := rebuilds.Load(); n != 1 {
		t.Errorf("rebuild fired %d times, want 1", n)
	}
	if diff := cmp.Diff([]string{"2023d"}, f.installed(t)); diff != "" {
		t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
	}

	if _, err := f.registry.Prune(""); err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if _, err := os.Stat(filepath.Join(f.registry.Dir(), "zoneinfo", "Europe", "Paris")); err != nil {
		t.Errorf("Prune() removed rebuild output: %v", err)
	}
}

func TestUpdater_RollbackWithLeakedCleanup(t *testing.T) {
	t.Parallel()

	src := &stubSource{latest: "2024a", archive: createTestArchive(t, memberContents("2024a"))}
	f := newUpdaterFixture(t, src, "2024b")
	old := time.Now().Add(-24 * time.Hour)
	if err := os.Chtimes(f.registry.SnapshotPath("2024b"), old, old); err != nil {
		t.Fatal(err)
	}
	f.fs.failRemove = baseIs("2024b")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeUpdated || rep.CleanupErr == nil {
		t.Fatalf("Run() = %v (cleanup %v), want updated with a cleanup error", rep.Outcome, rep.CleanupErr)
	}
	if diff := cmp.Diff([]string{"2024a", "2024b"}, f.installed(t)); diff != "" {
		t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
	}

	current, err := f.registry.Current()
	if err != nil || current != "2024a" {
		t.Fatalf("Current() = %q, %v; want 2024a, nil", current, err)
	}
	if got := f.updater.Run(context.Background()).Outcome; got != OutcomeNoUpdate {
		t.Errorf("second Run() = %v, want no_update", got)
	}
}

func TestUpdater_ArchiveDirSharedWithDataDir(t *testing.T) {
	t.Parallel()

	f := newUpdaterFixture(t, nil, "2023c")
	offline := filepath.Join(f.registry.Dir(), ArchiveName("2023d"))
	if err := os.WriteFile(offline, createTestArchive(t, memberContents("2023d")), 0o644); err != nil {
		t.Fatal(err)
	}
	f.updater.source = NewLocalSource(f.registry.Dir())

	if rep := f.updater.Run(context.Background()); rep.Outcome != OutcomeUpdated {
		t.Fatalf("first Run() = %v (err %v), want updated", rep.Outcome, rep.Err)
	}
	if _, err := os.Stat(offline); err != nil {
		t.Fatalf("offline archive was consumed: %v", err)
	}
	if rep := f.updater.Run(context.Background()); rep.Outcome != OutcomeNoUpdate {
		t.Errorf("second Run() = %v (err %v), want no_update", rep.Outcome, rep.Err)
	}

	if _, err := f.registry.Prune(""); err != nil {
		t.Fatalf("Prune() error: %v", err)
	}
	if _, err := os.Stat(offline); err != nil {
		t.Errorf("Prune() removed the offline archive: %v", err)
	}
}

func TestUpdater_OfflineEmptyDirectory(t *testing.T) {
	t.Parallel()

	src := NewLocalSource(t.TempDir())
	f := newUpdaterFixture(t, src, "2023c")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeError || !errors.Is(rep.Err, ErrNoLocalArchives) {
		t.Fatalf("Run() = %v / %v, want error / ErrNoLocalArchives", rep.Outcome, rep.Err)
	}
	if rep.Mode != ModeOffline {
		t.Errorf("Report.Mode = %v, want offline", rep.Mode)
	}
}

func TestUpdater_OfflineUpdate(t *testing.T) {
	t.Parallel()

	archives := afero.NewMemMapFs()
	for _, v := range []string{"2023b", "2023d"} {
		if err := afero.WriteFile(archives, "/archives/"+ArchiveName(v), createTestArchive(t, memberContents(v)), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	src := NewLocalSource("/archives", WithLocalFs(archives))
	f := newUpdaterFixture(t, src, "2023c")

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeUpdated {
		t.Fatalf("Run() outcome = %v (err %v), want updated", rep.Outcome, rep.Err)
	}
	if diff := cmp.Diff([]string{"2023d"}, f.installed(t)); diff != "" {
		t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
	}
	// The archive directory is read-only input.
	if ok, _ := afero.Exists(archives, "/archives/tzdata2023d.tar.gz"); !ok {
		t.Error("offline source archive was consumed")
	}
}

func TestUpdater_CleanupFailureStillUpdated(t *testing.T) {
	t.Parallel()

	var logBuf bytes.Buffer
	src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
	f := newUpdaterFixture(t, src, "2023c")
	f.fs.failRemove = baseIs("2023c")
	f.updater = NewUpdater(src, NewInstaller(f.registry), f.registry,
		WithRebuilder(f.rebuilder), WithLogger(newBufferLogger(&logBuf)))

	rep := f.updater.Run(context.Background())
	if rep.Outcome != OutcomeUpdated {
		t.Fatalf("Run() outcome = %v (err %v), want updated", rep.Outcome, rep.Err)
	}
	if !errors.Is(rep.CleanupErr, errInjected) {
		t.Errorf("Report.CleanupErr = %v, want injected failure", rep.CleanupErr)
	}
	if n := f.rebuilder.calls.Load(); n != 1 {
		t.Errorf("rebuild fired %d times, want 1", n)
	}

	current, _ := f.registry.Current()
	if current != "2023d" {
		t.Errorf("Current() = %q with leaked snapshot, want 2023d", current)
	}
	if !strings.Contains(logBuf.String(), "removing previous tzdata snapshot failed") {
		t.Errorf("expected cleanup warning, got:\n%s", logBuf.String())
	}
}

func TestUpdater_RebuildFailures(t *testing.T) {
	t.Parallel()

	errRebuild := errors.New("zic exploded")
	tests := []struct {
		name      string
		rebuilder Rebuilder
		wantErr   string
	}{
		{
			name:      "error",
			rebuilder: RebuildFunc(func(context.Context) error { return errRebuild }),
			wantErr:   "zic exploded",
		},
		{
			name:      "panic",
			rebuilder: RebuildFunc(func(context.Context) error { panic("boom") }),
			wantErr:   "rebuild panicked: boom",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
			f := newUpdaterFixture(t, src, "2023c")
			u := NewUpdater(src, NewInstaller(f.registry), f.registry, WithRebuilder(tt.rebuilder))

			rep := u.Run(context.Background())
			if rep.Outcome != OutcomeUpdated {
				t.Fatalf("Run() outcome = %v, want updated", rep.Outcome)
			}
			if rep.RebuildErr == nil || rep.RebuildErr.Error() != tt.wantErr {
				t.Errorf("Report.RebuildErr = %v, want %q", rep.RebuildErr, tt.wantErr)
			}
		})
	}
}

func TestUpdater_RebuildSeesDetachedContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
	f := newUpdaterFixture(t, src, "2023c")

	var ctxErr error
	u := NewUpdater(src, NewInstaller(f.registry), f.registry, WithRebuilder(RebuildFunc(func(rctx context.Context) error {
		cancel()
		ctxErr = rctx.Err()
		return nil
	})))

	if rep := u.Run(ctx); rep.Outcome != OutcomeUpdated {
		t.Fatalf("Run() outcome = %v, want updated", rep.Outcome)
	}
	if ctxErr != nil {
		t.Errorf("rebuild context error = %v, want nil", ctxErr)
	}
}

func TestUpdater_CanceledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	src := &stubSource{latest: "2023d", archive: createTestArchive(t, memberContents("2023d"))}
	f := newUpdaterFixture(t, src, "2023c")

	rep := f.updater.Run(ctx)
	if rep.Outcome != OutcomeError || !errors.Is(rep.Err, context.Canceled) {
		t.Fatalf("Run() = %v / %v, want error / context.Canceled", rep.Outcome, rep.Err)
	}
	if diff := cmp.Diff([]string{"2023c"}, f.installed(t)); diff != "" {
		t.Errorf("Installed() mismatch (-want +got):\n%s", diff)
	}
}

func TestUpdater_Check(t *testing.T) {
	t.Parallel()

	src := &stubSource{latest: "2023d", mode: ModeOffline}
	f := newUpdaterFixture(t, src, "2023c")

	avail, err := f.updater.Check(context.Background())
	if err != nil {
		t.Fatalf("Check() error: %v", err)
	}
	want := &Availability{Mode: ModeOffline, Current: "2023c", Latest: "2023d", Available: true}
	if diff := cmp.Diff(want, avail); diff != "" {
		t.Errorf("Check() mismatch (-want +got):\n%s", diff)
	}
	if n := f.fs.writes.Load(); n != 0 {
		t.Errorf("Check() performed %d file writes, want 0", n)
	}

	src.latestErr = ErrVersionFetchFailed
	if _, err := f.updater.Check(context.Background()); !errors.Is(err, ErrVersionFetchFailed) {
		t.Errorf("Check() error = %v, want ErrVersionFetchFailed", err)
	}
}

func TestUpdater_ReportTiming(t *testing.T) {
	t.Parallel()

	src := &stubSource{latest: "2023c"}
	f := newUpdaterFixture(t, src, "2023c")

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	var tick int
	f.updater.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Second)
	}

	rep := f.updater.Run(context.Background())
	if !rep.Started.Equal(base.Add(time.Second)) || rep.Duration != time.Second {
		t.Errorf("Report timing = %v / %v, want %v / 1s", rep.Started, rep.Duration, base.Add(time.Second))
	}
	if rep.Outcome.String() != "no_update" {
		t.Errorf("Outcome.String() = %q", rep.Outcome.String())
	}
}
