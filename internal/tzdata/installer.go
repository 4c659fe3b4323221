// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

// maxMemberBytes is the upper bound on a single extracted member (16 MB).
// The largest real member, "europe", is about 200 KB.
const maxMemberBytes = 16 << 20

var (
	errMemberTooLarge = errors.New("archive member exceeds size limit")
	errMissingMembers = errors.New("archive is missing allow-listed members")
)

type (
	// Installer writes an archive into the data directory and extracts the
	// allow-listed members into a snapshot named for its version.
	//
	// Extraction goes to a hidden staging directory which is renamed into
	// place only once every member is written, so a partial snapshot is never
	// visible under its final name.
	Installer struct {
		registry *Registry
		logger   *log.Logger
	}

	// InstallerOption configures an Installer during construction.
	InstallerOption func(*Installer)
)

// WithInstallerLogger sets the logger for install progress lines.
func WithInstallerLogger(l *log.Logger) InstallerOption {
	return func(i *Installer) {
		i.logger = l
	}
}

// NewInstaller creates an Installer writing into the registry's data
// directory.
func NewInstaller(registry *Registry, opts ...InstallerOption) *Installer {
	i := &Installer{registry: registry}
	for _, opt := range opts {
		opt(i)
	}
	if i.logger == nil {
		i.logger = discardLogger()
	}
	return i
}

// Install writes archive to a temporary file, extracts the allow-list into a
// staging directory, deletes the temporary file and renames the staging
// directory to the snapshot path. Any failure is an *InstallError.
//
// When extraction fails the temporary archive stays on disk; Registry.Prune
// reclaims it. The staging directory is always removed on failure.
func (i *Installer) Install(version string, archive []byte) error {
	if err := ValidateVersion(version); err != nil {
		return &InstallError{Version: version, Step: StepWriteArchive, Err: err}
	}

	fsys := i.registry.fs
	archivePath := i.registry.archivePath(version)
	stagingPath := i.registry.stagingPath(version)
	finalPath := i.registry.SnapshotPath(version)

	// 1. temp archive
	if err := fsys.MkdirAll(i.registry.dir, 0o755); err != nil {
		return &InstallError{Version: version, Step: StepWriteArchive, Err: err}
	}
	if err := writeFile(fsys, archivePath, bytes.NewReader(archive), int64(len(archive))); err != nil {
		return &InstallError{Version: version, Step: StepWriteArchive, Err: err}
	}

	// 2. extraction into staging
	if err := i.extract(archivePath, stagingPath); err != nil {
		_ = fsys.RemoveAll(stagingPath) // best-effort; staging names are never reported as installed
		return &InstallError{Version: version, Step: StepExtract, Err: err}
	}

	// 3. temp archive removal
	if err := fsys.Remove(archivePath); err != nil {
		_ = fsys.RemoveAll(stagingPath)
		return &InstallError{Version: version, Step: StepRemoveArchive, Err: err}
	}

	// 4. activation. A leftover directory under the final name cannot be the
	// current snapshot (the Updater only installs versions that differ from
	// it), so it is replaced.
	if err := fsys.RemoveAll(finalPath); err != nil {
		_ = fsys.RemoveAll(stagingPath)
		return &InstallError{Version: version, Step: StepActivate, Err: err}
	}
	if err := fsys.Rename(stagingPath, finalPath); err != nil {
		_ = fsys.RemoveAll(stagingPath)
		return &InstallError{Version: version, Step: StepActivate, Err: err}
	}

	i.logger.Info("installed tzdata", "version", version, "path", finalPath, "members", len(i.registry.members))
	return nil
}

// extract reads the gzip tar at archivePath and writes the allow-listed
// members into a fresh stagingPath. Every allow-listed member must be present.
func (i *Installer) extract(archivePath, stagingPath string) (err error) {
	fsys := i.registry.fs

	if err := fsys.RemoveAll(stagingPath); err != nil {
		return fmt.Errorf("clearing staging directory: %w", err)
	}
	if err := fsys.MkdirAll(stagingPath, 0o755); err != nil {
		return fmt.Errorf("creating staging directory: %w", err)
	}

	f, err := fsys.Open(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer func() {
		// Read-only file handle; close errors are exotic.
		_ = f.Close()
	}()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("creating gzip reader: %w", err)
	}
	defer func() { _ = gz.Close() }()

	members := i.registry.members
	wanted := make(map[string]bool, len(members))
	for _, m := range members {
		wanted[m] = false
	}

	tr := tar.NewReader(gz)
	for {
		hdr, nextErr := tr.Next()
		if errors.Is(nextErr, io.EOF) {
			break
		}
		if nextErr != nil {
			return fmt.Errorf("reading tar entry: %w", nextErr)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		// Archives are flat; "./africa" and "africa" name the same member.
		name := path.Clean(strings.TrimPrefix(hdr.Name, "./"))
		done, ok := wanted[name]
		if !ok || done {
			continue
		}

		if hdr.Size > maxMemberBytes {
			return fmt.Errorf("%s: %w", name, errMemberTooLarge)
		}
		if err := writeFile(fsys, filepath.Join(stagingPath, name), tr, hdr.Size); err != nil {
			return fmt.Errorf("extracting %s: %w", name, err)
		}
		wanted[name] = true
	}

	var missing []string
	for _, m := range members {
		if !wanted[m] {
			missing = append(missing, m)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", errMissingMembers, strings.Join(missing, ", "))
	}
	return nil
}

// writeFile writes exactly size bytes from r to a new file at p.
func writeFile(fsys afero.Fs, p string, r io.Reader, size int64) (err error) {
	f, err := fsys.OpenFile(p, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	n, err := io.CopyN(f, r, size)
	if err != nil {
		return fmt.Errorf("wrote %d of %d bytes: %w", n, size, err)
	}
	return nil
}
