// SPDX-License-Identifier: MPL-2.0

package tzdata

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dustin/go-humanize"
)

const (
	// DefaultBaseURL is the IANA time zone distribution root.
	DefaultBaseURL = "https://data.iana.org/time-zones"

	// DefaultTimeout bounds each version or archive request.
	DefaultTimeout = 30 * time.Second

	versionPath = "/tzdb/version"

	// maxVersionBytes caps the version endpoint body. Real bodies are "2023d\n".
	maxVersionBytes = 1 << 10

	// maxArchiveBytes caps a downloaded archive (64 MB). Real tzdata archives
	// are under 1 MB.
	maxArchiveBytes = 64 << 20
)

// errArchiveTooLarge marks a response body that exceeded maxArchiveBytes.
var errArchiveTooLarge = errors.New("archive exceeds size limit")

type (
	// HTTPDoer is the transport capability RemoteSource needs. *http.Client
	// satisfies it; tests substitute their own.
	HTTPDoer interface {
		Do(req *http.Request) (*http.Response, error)
	}

	// RemoteSource reads the latest version and archives from the IANA
	// distribution endpoints.
	RemoteSource struct {
		client    HTTPDoer
		baseURL   string
		userAgent string
		timeout   time.Duration
		logger    *log.Logger
	}

	// RemoteOption configures a RemoteSource during construction.
	RemoteOption func(*RemoteSource)
)

// WithHTTPClient sets a custom transport, useful for tests or proxies.
func WithHTTPClient(c HTTPDoer) RemoteOption {
	return func(r *RemoteSource) {
		r.client = c
	}
}

// WithBaseURL overrides DefaultBaseURL, primarily for test servers and mirrors.
func WithBaseURL(base string) RemoteOption {
	return func(r *RemoteSource) {
		r.baseURL = strings.TrimRight(base, "/")
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) RemoteOption {
	return func(r *RemoteSource) {
		r.userAgent = ua
	}
}

// WithTimeout bounds each request. Non-positive values keep DefaultTimeout.
func WithTimeout(d time.Duration) RemoteOption {
	return func(r *RemoteSource) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithRemoteLogger sets the logger for download progress lines.
func WithRemoteLogger(l *log.Logger) RemoteOption {
	return func(r *RemoteSource) {
		r.logger = l
	}
}

// NewRemoteSource creates a RemoteSource with defaults:
// baseURL=DefaultBaseURL, timeout=DefaultTimeout, userAgent="tzsync/dev",
// client=http.DefaultClient.
func NewRemoteSource(opts ...RemoteOption) *RemoteSource {
	r := &RemoteSource{
		client:    http.DefaultClient,
		baseURL:   DefaultBaseURL,
		userAgent: "tzsync/dev",
		timeout:   DefaultTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = discardLogger()
	}
	return r
}

// Mode returns ModeOnline.
func (r *RemoteSource) Mode() Mode { return ModeOnline }

// VersionURL returns the URL of the plain-text version endpoint.
func (r *RemoteSource) VersionURL() string {
	return r.baseURL + versionPath
}

// ArchiveURL returns the download URL for version.
func (r *RemoteSource) ArchiveURL(version string) string {
	return r.baseURL + "/releases/" + ArchiveName(version)
}

// LatestVersion issues one GET to the version endpoint and returns the
// normalized body. Any failure, including timeout, wraps ErrVersionFetchFailed.
func (r *RemoteSource) LatestVersion(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	resp, err := r.get(ctx, r.VersionURL())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrVersionFetchFailed, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: unexpected status %d", ErrVersionFetchFailed, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxVersionBytes))
	if err != nil {
		return "", fmt.Errorf("%w: reading body: %w", ErrVersionFetchFailed, err)
	}

	version := NormalizeVersion(string(body))
	if err := ValidateVersion(version); err != nil {
		return "", fmt.Errorf("%w: %w", ErrVersionFetchFailed, err)
	}
	return version, nil
}

// Fetch downloads the archive for version. Failures are *DownloadError.
func (r *RemoteSource) Fetch(ctx context.Context, version string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	archiveURL := r.ArchiveURL(version)
	r.logger.Info("downloading tzdata", "version", version, "url", archiveURL)

	resp, err := r.get(ctx, archiveURL)
	if err != nil {
		return nil, &DownloadError{Version: version, Err: err}
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, &DownloadError{Version: version, StatusCode: resp.StatusCode}
	}

	var buf bytes.Buffer
	n, err := io.Copy(&buf, io.LimitReader(resp.Body, maxArchiveBytes+1))
	if err != nil {
		return nil, &DownloadError{Version: version, Err: fmt.Errorf("reading body: %w", err)}
	}
	if n > maxArchiveBytes {
		return nil, &DownloadError{Version: version, Err: errArchiveTooLarge}
	}

	r.logger.Info("downloaded tzdata", "version", version, "size", humanize.Bytes(uint64(n)))
	return buf.Bytes(), nil
}

// get issues a read-only request with the common headers.
func (r *RemoteSource) get(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}
