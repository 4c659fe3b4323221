// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"github.com/spf13/afero"
)

type (
	// LocalSource reads versions and archives from a directory of
	// pre-downloaded tzdata<version>.tar.gz files.
	//
	// The latest version is the lexicographically last archive name. This
	// matches release order only while names sort like IANA's "YYYYx" tags;
	// the assumption is not validated.
	LocalSource struct {
		fs  afero.Fs
		dir string
	}

	// LocalOption configures a LocalSource during construction.
	LocalOption func(*LocalSource)
)

// WithLocalFs overrides the OS filesystem, primarily for tests.
func WithLocalFs(fs afero.Fs) LocalOption {
	return func(l *LocalSource) {
		l.fs = fs
	}
}

// NewLocalSource creates a LocalSource reading from dir.
func NewLocalSource(dir string, opts ...LocalOption) *LocalSource {
	l := &LocalSource{
		fs:  afero.NewOsFs(),
		dir: dir,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Mode returns ModeOffline.
func (l *LocalSource) Mode() Mode { return ModeOffline }

// Dir returns the archive directory.
func (l *LocalSource) Dir() string { return l.dir }

// Versions lists the versions of every archive in the directory, sorted
// lexicographically. Entries that do not follow the archive naming scheme
// are ignored.
func (l *LocalSource) Versions() ([]string, error) {
	entries, err := afero.ReadDir(l.fs, l.dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNoLocalArchives, l.dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, ok := VersionFromArchiveName(e.Name()); ok {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	versions := make([]string, 0, len(names))
	for _, name := range names {
		v, _ := VersionFromArchiveName(name)
		versions = append(versions, v)
	}
	return versions, nil
}

// LatestVersion returns the version of the lexicographically last archive.
func (l *LocalSource) LatestVersion(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	versions, err := l.Versions()
	if err != nil {
		return "", err
	}
	if len(versions) == 0 {
		return "", fmt.Errorf("%w: %s contains no %s*%s files", ErrNoLocalArchives, l.dir, ArchivePrefix, ArchiveSuffix)
	}

	latest := versions[len(versions)-1]
	if err := ValidateVersion(latest); err != nil {
		return "", fmt.Errorf("%w: %w", ErrNoLocalArchives, err)
	}
	return latest, nil
}

// Fetch reads the archive for version from the directory.
func (l *LocalSource) Fetch(ctx context.Context, version string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path := filepath.Join(l.dir, ArchiveName(version))
	data, err := afero.ReadFile(l.fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrArchiveReadFailed, path, err)
	}
	return data, nil
}
