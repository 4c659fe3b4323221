// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/afero"
)

const (
	// stagingPrefix marks in-flight extraction directories. Hidden names are
	// never reported as installed snapshots.
	stagingPrefix = ".staging-"
	// downloadPrefix marks the temporary archive written during an install.
	// The hidden name never collides with a tzdata<version>.tar.gz archive
	// the user keeps in the same directory.
	downloadPrefix = ".download-"
)

type (
	// Registry reports which snapshots are installed under a data directory.
	// There is no metadata file: a snapshot is installed iff a directory
	// named for a valid version holds every allow-listed member. Other
	// directories (rebuild output, lost+found) are never snapshots.
	//
	// The current version is the most recently installed snapshot, which
	// only matters when a failed cleanup left more than one behind.
	Registry struct {
		fs      afero.Fs
		dir     string
		members []string
	}

	// PruneResult lists what Registry.Prune removed.
	PruneResult struct {
		Snapshots []string // stale snapshot versions
		Archives  []string // leftover temporary archive file names
		Staging   []string // leftover staging directory names
	}
)

// NewRegistry creates a Registry over dir on fs. A nil fs means the OS
// filesystem.
func NewRegistry(fsys afero.Fs, dir string) *Registry {
	if fsys == nil {
		fsys = afero.NewOsFs()
	}
	return &Registry{fs: fsys, dir: dir, members: DefaultMembers()}
}

// Dir returns the data directory.
func (r *Registry) Dir() string { return r.dir }

// Fs returns the filesystem the registry operates on.
func (r *Registry) Fs() afero.Fs { return r.fs }

// SnapshotPath returns the directory a snapshot of version lives in.
func (r *Registry) SnapshotPath(version string) string {
	return filepath.Join(r.dir, version)
}

// Installed lists installed snapshot versions in lexicographic order. A
// missing data directory means nothing is installed.
func (r *Registry) Installed() ([]string, error) {
	snaps, err := r.snapshots()
	if err != nil {
		return nil, err
	}
	versions := make([]string, 0, len(snaps))
	for _, fi := range snaps {
		versions = append(versions, fi.Name())
	}
	return versions, nil
}

// Current returns the active version, or "" when nothing is installed. If a
// previous cleanup leaked a snapshot, the most recently installed one wins,
// so a rollback to a lower-sorting release stays active. Equal modification
// times fall back to the lexicographically greatest version.
func (r *Registry) Current() (string, error) {
	snaps, err := r.snapshots()
	if err != nil {
		return "", err
	}
	if len(snaps) == 0 {
		return "", nil
	}
	current := snaps[0]
	for _, fi := range snaps[1:] {
		if !fi.ModTime().Before(current.ModTime()) {
			current = fi
		}
	}
	return current.Name(), nil
}

// snapshots returns the directory entries that are installed snapshots,
// sorted by name.
func (r *Registry) snapshots() ([]os.FileInfo, error) {
	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: listing %s: %w", ErrTransport, r.dir, err)
	}

	var snaps []os.FileInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		ok, err := r.isSnapshot(e.Name())
		if err != nil {
			return nil, err
		}
		if ok {
			snaps = append(snaps, e)
		}
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Name() < snaps[j].Name() })
	return snaps, nil
}

// isSnapshot reports whether name is a valid version whose directory holds
// every allow-listed member as a regular file.
func (r *Registry) isSnapshot(name string) (bool, error) {
	if ValidateVersion(name) != nil {
		return false, nil
	}
	for _, m := range r.members {
		fi, err := r.fs.Stat(filepath.Join(r.dir, name, m))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return false, nil
		case err != nil:
			return false, fmt.Errorf("%w: %w", ErrTransport, err)
		case !fi.Mode().IsRegular():
			return false, nil
		}
	}
	return true, nil
}

// Has reports whether a snapshot for version is installed.
func (r *Registry) Has(version string) (bool, error) {
	if err := ValidateVersion(version); err != nil {
		return false, err
	}
	dir, err := afero.DirExists(r.fs, r.SnapshotPath(version))
	if err != nil {
		return false, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if !dir {
		return false, nil
	}
	return r.isSnapshot(version)
}

// Files lists the member files of an installed snapshot, sorted.
func (r *Registry) Files(version string) ([]string, error) {
	if err := ValidateVersion(version); err != nil {
		return nil, err
	}
	entries, err := afero.ReadDir(r.fs, r.SnapshotPath(version))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Mode().IsRegular() {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Size returns the total size in bytes of an installed snapshot's files.
func (r *Registry) Size(version string) (int64, error) {
	if err := ValidateVersion(version); err != nil {
		return 0, err
	}
	var total int64
	err := afero.Walk(r.fs, r.SnapshotPath(version), func(_ string, info os.FileInfo, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	return total, nil
}

// Remove deletes the snapshot for version. Removing a snapshot that does not
// exist is not an error.
func (r *Registry) Remove(version string) error {
	if err := ValidateVersion(version); err != nil {
		return err
	}
	if err := r.fs.RemoveAll(r.SnapshotPath(version)); err != nil {
		return fmt.Errorf("%w: removing snapshot %s: %w", ErrTransport, version, err)
	}
	return nil
}

// Prune removes every snapshot except keep, plus temporary archives and
// staging directories left behind by failed installs. An empty keep keeps
// the current version. Directories that are not snapshots and files not
// written by the installer are left alone.
func (r *Registry) Prune(keep string) (*PruneResult, error) {
	if keep == "" {
		current, err := r.Current()
		if err != nil {
			return nil, err
		}
		keep = current
	}

	entries, err := afero.ReadDir(r.fs, r.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return &PruneResult{}, nil
		}
		return nil, fmt.Errorf("%w: listing %s: %w", ErrTransport, r.dir, err)
	}

	res := &PruneResult{}
	var errs []error
	for _, e := range entries {
		name := e.Name()
		path := filepath.Join(r.dir, name)
		switch {
		case e.IsDir() && strings.HasPrefix(name, stagingPrefix):
			if rmErr := r.fs.RemoveAll(path); rmErr != nil {
				errs = append(errs, rmErr)
				continue
			}
			res.Staging = append(res.Staging, name)
		case e.IsDir() && name != keep:
			ok, snapErr := r.isSnapshot(name)
			if snapErr != nil {
				errs = append(errs, snapErr)
				continue
			}
			if !ok {
				continue
			}
			if rmErr := r.fs.RemoveAll(path); rmErr != nil {
				errs = append(errs, rmErr)
				continue
			}
			res.Snapshots = append(res.Snapshots, name)
		case !e.IsDir() && isTempArchiveName(name):
			if rmErr := r.fs.Remove(path); rmErr != nil {
				errs = append(errs, rmErr)
				continue
			}
			res.Archives = append(res.Archives, name)
		}
	}

	if len(errs) > 0 {
		return res, fmt.Errorf("%w: pruning %s: %w", ErrTransport, r.dir, errors.Join(errs...))
	}
	return res, nil
}

// stagingPath returns the extraction directory for version.
func (r *Registry) stagingPath(version string) string {
	return filepath.Join(r.dir, stagingPrefix+version)
}

// archivePath returns the temporary archive path for version.
func (r *Registry) archivePath(version string) string {
	return filepath.Join(r.dir, tempArchiveName(version))
}

// tempArchiveName returns the file name of the temporary archive for version.
func tempArchiveName(version string) string {
	return downloadPrefix + ArchiveName(version)
}

// isTempArchiveName reports whether name is a temporary archive written by
// the installer.
func isTempArchiveName(name string) bool {
	rest, ok := strings.CutPrefix(name, downloadPrefix)
	if !ok {
		return false
	}
	_, ok = VersionFromArchiveName(rest)
	return ok
}
