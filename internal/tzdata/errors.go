// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"errors"
	"fmt"
)

var (
	// ErrVersionFetchFailed indicates the latest version could not be read
	// from the remote version endpoint.
	ErrVersionFetchFailed = errors.New("version fetch failed")

	// ErrNoLocalArchives indicates the offline archive directory is empty,
	// missing, or unreadable.
	ErrNoLocalArchives = errors.New("no local archives")

	// ErrArchiveReadFailed indicates a local archive file could not be read.
	ErrArchiveReadFailed = errors.New("archive read failed")

	// ErrDownloadFailed is the sentinel wrapped by DownloadError.
	ErrDownloadFailed = errors.New("download failed")

	// ErrInstallFailed is the sentinel wrapped by InstallError.
	ErrInstallFailed = errors.New("install failed")

	// ErrTransport covers unexpected lower-layer filesystem or transport
	// failures that do not belong to a specific step.
	ErrTransport = errors.New("transport or filesystem failure")

	// ErrInvalidVersion indicates a version string that cannot name a
	// snapshot directory.
	ErrInvalidVersion = errors.New("invalid version")
)

// InstallStep identifies the installer step that failed.
type InstallStep string

const (
	// StepWriteArchive writes the archive bytes to the temporary file.
	StepWriteArchive InstallStep = "write-archive"
	// StepExtract extracts the allow-listed members into the staging directory.
	StepExtract InstallStep = "extract"
	// StepRemoveArchive deletes the temporary archive file.
	StepRemoveArchive InstallStep = "remove-archive"
	// StepActivate renames the staging directory to its final name.
	StepActivate InstallStep = "activate"
)

type (
	// DownloadError describes a failed archive fetch over the network.
	// It matches ErrDownloadFailed and the underlying cause with errors.Is.
	DownloadError struct {
		Version    string
		StatusCode int // 0 when no response was received
		Err        error
	}

	// InstallError describes a failed Installer.Install call. It matches
	// ErrInstallFailed and the underlying cause with errors.Is.
	InstallError struct {
		Version string
		Step    InstallStep
		Err     error
	}
)

// Error returns a description naming the version and, when known, the HTTP
// status.
func (e *DownloadError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("downloading tzdata %s: unexpected status %d", e.Version, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("downloading tzdata %s: %v", e.Version, e.Err)
	default:
		return fmt.Sprintf("downloading tzdata %s failed", e.Version)
	}
}

// Unwrap exposes both the sentinel and the cause.
func (e *DownloadError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrDownloadFailed}
	}
	return []error{ErrDownloadFailed, e.Err}
}

// Error returns a description naming the version and the failed step.
func (e *InstallError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("installing tzdata %s: step %s failed", e.Version, e.Step)
	}
	return fmt.Sprintf("installing tzdata %s: step %s: %v", e.Version, e.Step, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *InstallError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInstallFailed}
	}
	return []error{ErrInstallFailed, e.Err}
}
