// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"

	"github.com/tzsync/tzsync/internal/config"
	"github.com/tzsync/tzsync/internal/tzdata"
)

type (
	// ianaServer fakes the IANA version and release endpoints.
	ianaServer struct {
		*httptest.Server

		mu       sync.Mutex
		version  string
		archives map[string][]byte
		fail     bool
		agents   []string
	}

	// testEnv bundles an App with captured output and a session config.
	testEnv struct {
		app    *App
		stdout *bytes.Buffer
		stderr *bytes.Buffer
		cfg    *config.Config
	}
)

// tzdataArchive builds a gzip tar holding every allow-listed member.
func tzdataArchive(t *testing.T, version string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for _, name := range append(tzdata.DefaultMembers(), "Makefile") {
		body := "# tzdb " + version + " " + name + "\n"
		if err := tw.WriteHeader(&tar.Header{Name: name, Mode: 0o644, Size: int64(len(body)), Typeflag: tar.TypeReg}); err != nil {
			t.Fatal(err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	if err := gw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func newIANAServer(t *testing.T, version string, versions ...string) *ianaServer {
	t.Helper()

	s := &ianaServer{version: version, archives: map[string][]byte{}}
	for _, v := range versions {
		s.archives[v] = tzdataArchive(t, v)
	}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		s.agents = append(s.agents, r.UserAgent())
		if s.fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		switch {
		case r.URL.Path == "/tzdb/version":
			_, _ = w.Write([]byte(s.version + "\n"))
		case strings.HasPrefix(r.URL.Path, "/releases/"):
			name := strings.TrimPrefix(r.URL.Path, "/releases/")
			v, ok := tzdata.VersionFromArchiveName(name)
			body, found := s.archives[v]
			if !ok || !found {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write(body)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *ianaServer) setVersion(t *testing.T, version string) {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = version
	if _, ok := s.archives[version]; !ok {
		s.archives[version] = tzdataArchive(t, version)
	}
}

func (s *ianaServer) userAgents() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.agents)
}

func (s *ianaServer) setFailing(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = fail
}

// newTestEnv returns an App writing to buffers, rendering issue cards as
// plain text, plus an online configuration pointing at baseURL.
func newTestEnv(t *testing.T, baseURL string) *testEnv {
	t.Helper()

	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	app := NewApp(Dependencies{Stdout: stdout, Stderr: stderr, IssueStyle: "notty"})

	return &testEnv{
		app:    app,
		stdout: stdout,
		stderr: stderr,
		cfg: &config.Config{
			Online:   true,
			DataDir:  t.TempDir(),
			Remote:   config.RemoteConfig{BaseURL: baseURL, Timeout: 5 * time.Second},
			Schedule: config.ScheduleConfig{Interval: time.Hour, RetryInitial: time.Minute},
			Log:      config.LogConfig{Level: config.LogLevelDebug, Format: config.LogFormatText},
		},
	}
}

func (e *testEnv) session() *session {
	return &session{
		cfg:      e.cfg,
		logger:   log.NewWithOptions(e.stderr, log.Options{Level: log.DebugLevel}),
		registry: tzdata.NewRegistry(afero.NewOsFs(), e.cfg.DataDir),
	}
}

func (e *testEnv) updater(t *testing.T) (*tzdata.Updater, *session) {
	t.Helper()
	s := e.session()
	u, err := e.app.newUpdater(s)
	if err != nil {
		t.Fatalf("newUpdater() error: %v", err)
	}
	return u, s
}

func (e *testEnv) updateParams(t *testing.T) updateParams {
	t.Helper()
	u, s := e.updater(t)
	return updateParams{
		stdout:  e.stdout,
		app:     e.app,
		updater: u,
		logger:  s.logger,
		dataDir: e.cfg.DataDir,
	}
}
