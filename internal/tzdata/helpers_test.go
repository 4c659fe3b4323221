// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// memberContents returns plausible file contents for every allow-listed
// member, tagged with version so snapshots can be told apart.
func memberContents(version string) map[string]string {
	files := make(map[string]string, len(defaultMembers))
	for _, m := range defaultMembers {
		files[m] = "# tzdb " + version + " " + m + "\nZone\tEtc/UTC\t0\t-\tUTC\n"
	}
	return files
}

// createTestArchive builds a gzip tar containing files, plus a few members
// the installer must ignore.
func createTestArchive(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	write := func(name, body string) {
		hdr := &tar.Header{
			Name:     name,
			Mode:     0o644,
			Size:     int64(len(body)),
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("writing tar header: %v", err)
		}
		if _, err := tw.Write([]byte(body)); err != nil {
			t.Fatalf("writing tar body: %v", err)
		}
	}

	write("Makefile", "all:\n")
	write("zone.tab", "# legacy\n")
	for name, body := range files {
		write(name, body)
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("closing tar writer: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("closing gzip writer: %v", err)
	}
	return buf.Bytes()
}

// installSnapshot creates a complete snapshot directory for version.
func installSnapshot(t *testing.T, fsys afero.Fs, dir, version string) {
	t.Helper()
	if err := fsys.MkdirAll(filepath.Join(dir, version), 0o755); err != nil {
		t.Fatalf("creating snapshot dir: %v", err)
	}
	for name, body := range memberContents(version) {
		if err := afero.WriteFile(fsys, filepath.Join(dir, version, name), []byte(body), 0o644); err != nil {
			t.Fatalf("writing snapshot file: %v", err)
		}
	}
}

// failingFs wraps an afero.Fs and makes selected operations fail.
type failingFs struct {
	afero.Fs

	failOpenFile func(name string) bool
	failRemove   func(name string) bool
	failRename   bool

	writes atomic.Int32 // OpenFile calls with O_CREATE
}

var errInjected = errors.New("injected failure")

func (f *failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if flag&os.O_CREATE != 0 {
		f.writes.Add(1)
		if f.failOpenFile != nil && f.failOpenFile(name) {
			return nil, &os.PathError{Op: "open", Path: name, Err: errInjected}
		}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

func (f *failingFs) Create(name string) (afero.File, error) {
	return f.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o666)
}

func (f *failingFs) Remove(name string) error {
	if f.failRemove != nil && f.failRemove(name) {
		return &os.PathError{Op: "remove", Path: name, Err: errInjected}
	}
	return f.Fs.Remove(name)
}

func (f *failingFs) RemoveAll(name string) error {
	if f.failRemove != nil && f.failRemove(name) {
		return &os.PathError{Op: "removeall", Path: name, Err: errInjected}
	}
	return f.Fs.RemoveAll(name)
}

func (f *failingFs) Rename(oldname, newname string) error {
	if f.failRename {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: errInjected}
	}
	return f.Fs.Rename(oldname, newname)
}

// baseIs reports whether name's last element equals base.
func baseIs(base string) func(string) bool {
	return func(name string) bool {
		return filepath.Base(name) == base
	}
}

// hasPrefixBase reports whether name's last element starts with prefix.
func hasPrefixBase(prefix string) func(string) bool {
	return func(name string) bool {
		return strings.HasPrefix(filepath.Base(name), prefix)
	}
}

// newBufferLogger returns a logger writing plain text lines to w.
func newBufferLogger(w io.Writer) *log.Logger {
	return log.NewWithOptions(w, log.Options{Level: log.DebugLevel})
}
