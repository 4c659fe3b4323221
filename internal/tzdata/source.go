// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/afero"
)

const (
	// ModeOnline reads versions and archives from the remote endpoints.
	ModeOnline Mode = iota
	// ModeOffline reads versions and archives from a local archive directory.
	ModeOffline
)

// errMissingArchiveDir is returned by NewSource for offline mode without an
// archive directory.
var errMissingArchiveDir = errors.New("offline mode requires an archive directory")

type (
	// Mode selects where versions and archives come from.
	Mode int

	// Source is the strategy the Updater consults for the latest version and
	// the archive bytes of a version. RemoteSource and LocalSource implement it.
	Source interface {
		// LatestVersion returns the normalized latest known version.
		LatestVersion(ctx context.Context) (string, error)
		// Fetch returns the compressed archive for version.
		Fetch(ctx context.Context, version string) ([]byte, error)
		// Mode reports which strategy this is.
		Mode() Mode
	}

	// SourceOptions carries the inputs NewSource needs for either mode.
	// Fields irrelevant to the selected mode are ignored.
	SourceOptions struct {
		// ArchiveDir is the local archive directory (offline, required).
		ArchiveDir string
		// Fs is the filesystem the local source reads from (offline, default OS).
		Fs afero.Fs
		// BaseURL overrides DefaultBaseURL (online).
		BaseURL string
		// Timeout bounds each network request (online, default DefaultTimeout).
		Timeout time.Duration
		// UserAgent is sent with every request (online).
		UserAgent string
		// Client overrides the HTTP transport (online).
		Client HTTPDoer
		// Logger receives progress lines.
		Logger *log.Logger
	}
)

// String returns "online" or "offline".
func (m Mode) String() string {
	switch m {
	case ModeOnline:
		return "online"
	case ModeOffline:
		return "offline"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// ModeFor maps the boolean online switch used by configuration to a Mode.
func ModeFor(online bool) Mode {
	if online {
		return ModeOnline
	}
	return ModeOffline
}

// NewSource builds the Source strategy for mode.
func NewSource(mode Mode, opts SourceOptions) (Source, error) {
	switch mode {
	case ModeOnline:
		var remoteOpts []RemoteOption
		if opts.BaseURL != "" {
			remoteOpts = append(remoteOpts, WithBaseURL(opts.BaseURL))
		}
		if opts.Timeout > 0 {
			remoteOpts = append(remoteOpts, WithTimeout(opts.Timeout))
		}
		if opts.UserAgent != "" {
			remoteOpts = append(remoteOpts, WithUserAgent(opts.UserAgent))
		}
		if opts.Client != nil {
			remoteOpts = append(remoteOpts, WithHTTPClient(opts.Client))
		}
		if opts.Logger != nil {
			remoteOpts = append(remoteOpts, WithRemoteLogger(opts.Logger))
		}
		return NewRemoteSource(remoteOpts...), nil
	case ModeOffline:
		if strings.TrimSpace(opts.ArchiveDir) == "" {
			return nil, errMissingArchiveDir
		}
		var localOpts []LocalOption
		if opts.Fs != nil {
			localOpts = append(localOpts, WithLocalFs(opts.Fs))
		}
		return NewLocalSource(opts.ArchiveDir, localOpts...), nil
	default:
		return nil, fmt.Errorf("unknown mode %v", mode)
	}
}

// interface guards
var (
	_ Source   = (*RemoteSource)(nil)
	_ Source   = (*LocalSource)(nil)
	_ HTTPDoer = (*http.Client)(nil)
)
