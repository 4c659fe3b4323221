// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	// LogLevelDebug enables debug lines.
	LogLevelDebug LogLevel = "debug"
	// LogLevelInfo is the default level.
	LogLevelInfo LogLevel = "info"
	// LogLevelWarn logs warnings and errors only.
	LogLevelWarn LogLevel = "warn"
	// LogLevelError logs errors only.
	LogLevelError LogLevel = "error"

	// LogFormatText is the human-readable terminal format.
	LogFormatText LogFormat = "text"
	// LogFormatJSON emits one JSON object per line.
	LogFormatJSON LogFormat = "json"
	// LogFormatLogfmt emits key=value pairs.
	LogFormatLogfmt LogFormat = "logfmt"

	// DefaultBaseURL is the IANA time zone distribution root.
	DefaultBaseURL = "https://data.iana.org/time-zones"
	// DefaultRebuildSubdir is the rebuild working directory under data_dir.
	DefaultRebuildSubdir = "build"
)

var (
	// ErrInvalidLogLevel is returned when a LogLevel value is not recognized.
	ErrInvalidLogLevel = errors.New("invalid log level")
	// ErrInvalidLogFormat is returned when a LogFormat value is not recognized.
	ErrInvalidLogFormat = errors.New("invalid log format")
	// ErrMissingArchiveDir is returned when offline mode has no archive directory.
	ErrMissingArchiveDir = errors.New("archive_dir is required when online is false")
	// ErrArchiveDirIsDataDir is returned when archive_dir and data_dir name
	// the same directory.
	ErrArchiveDirIsDataDir = errors.New("archive_dir must differ from data_dir")
	// ErrMissingDataDir is returned when no data directory could be determined.
	ErrMissingDataDir = errors.New("data_dir must not be empty")
	// ErrInvalidDuration is returned when a duration setting is not positive.
	ErrInvalidDuration = errors.New("invalid duration")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// LogLevel is the minimum level of emitted log lines.
	LogLevel string

	// LogFormat selects the log line encoding.
	LogFormat string

	// InvalidValueError is returned when an enumerated setting has an
	// unrecognized value. It wraps Sentinel for errors.Is() compatibility.
	InvalidValueError struct {
		Key      string
		Value    string
		Sentinel error
	}

	// InvalidDurationError is returned when a duration setting is not positive.
	InvalidDurationError struct {
		Key   string
		Value time.Duration
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Online selects the remote endpoints (true) or ArchiveDir (false).
		Online bool `json:"online" mapstructure:"online"`
		// ArchiveDir holds pre-downloaded archives for offline mode.
		ArchiveDir string `json:"archive_dir" mapstructure:"archive_dir"`
		// DataDir holds the installed snapshot, the run lock and temporary files.
		DataDir string `json:"data_dir" mapstructure:"data_dir"`
		// Remote configures the online source.
		Remote RemoteConfig `json:"remote" mapstructure:"remote"`
		// Rebuild configures the post-update hook.
		Rebuild RebuildConfig `json:"rebuild" mapstructure:"rebuild"`
		// Schedule configures `tzsync watch`.
		Schedule ScheduleConfig `json:"schedule" mapstructure:"schedule"`
		// Log configures the logger.
		Log LogConfig `json:"log" mapstructure:"log"`
	}

	// RemoteConfig configures the online version and archive endpoints.
	RemoteConfig struct {
		BaseURL string        `json:"base_url" mapstructure:"base_url"`
		Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
		// UserAgent is sent with every request; empty means tzsync/<version>.
		UserAgent string `json:"user_agent" mapstructure:"user_agent"`
	}

	// RebuildConfig configures the shell command run after an update.
	RebuildConfig struct {
		// Command is interpreted by the embedded POSIX shell. Empty disables
		// the hook.
		Command string `json:"command" mapstructure:"command"`
		// Dir is the working directory; empty means DataDir/build.
		Dir string `json:"dir" mapstructure:"dir"`
	}

	// ScheduleConfig configures the long-running scheduler.
	ScheduleConfig struct {
		// Interval between regular update runs.
		Interval time.Duration `json:"interval" mapstructure:"interval"`
		// RetryInitial is the first retry delay after a failed run; later
		// retries back off exponentially up to Interval.
		RetryInitial time.Duration `json:"retry_initial" mapstructure:"retry_initial"`
		// WatchArchives triggers a run when archives change in ArchiveDir
		// (offline mode only).
		WatchArchives bool `json:"watch_archives" mapstructure:"watch_archives"`
	}

	// LogConfig configures the logger.
	LogConfig struct {
		Level  LogLevel  `json:"level" mapstructure:"level"`
		Format LogFormat `json:"format" mapstructure:"format"`
	}
)

// String returns the string representation of the LogLevel.
func (l LogLevel) String() string { return string(l) }

// IsValid returns whether the LogLevel is one of the defined levels.
func (l LogLevel) IsValid() (bool, []error) {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarn, LogLevelError:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Key: "log.level", Value: string(l), Sentinel: ErrInvalidLogLevel}}
	}
}

// String returns the string representation of the LogFormat.
func (f LogFormat) String() string { return string(f) }

// IsValid returns whether the LogFormat is one of the defined formats.
func (f LogFormat) IsValid() (bool, []error) {
	switch f {
	case LogFormatText, LogFormatJSON, LogFormatLogfmt:
		return true, nil
	default:
		return false, []error{&InvalidValueError{Key: "log.format", Value: string(f), Sentinel: ErrInvalidLogFormat}}
	}
}

// Error implements the error interface for InvalidValueError.
func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("%s: %v %q", e.Key, e.Sentinel, e.Value)
}

// Unwrap returns the sentinel for errors.Is() compatibility.
func (e *InvalidValueError) Unwrap() error { return e.Sentinel }

// Error implements the error interface for InvalidDurationError.
func (e *InvalidDurationError) Error() string {
	return fmt.Sprintf("%s: duration must be positive, got %s", e.Key, e.Value)
}

// Unwrap returns ErrInvalidDuration for errors.Is() compatibility.
func (e *InvalidDurationError) Unwrap() error { return ErrInvalidDuration }

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	msgs := make([]string, 0, len(e.FieldErrors))
	for _, fe := range e.FieldErrors {
		msgs = append(msgs, fe.Error())
	}
	return fmt.Sprintf("invalid config: %s", strings.Join(msgs, "; "))
}

// Unwrap returns ErrInvalidConfig and the field errors for errors.Is().
func (e *InvalidConfigError) Unwrap() []error {
	return append([]error{ErrInvalidConfig}, e.FieldErrors...)
}

// IsValid returns whether the Config has valid fields.
func (c Config) IsValid() (bool, []error) {
	var errs []error
	if !c.Online && strings.TrimSpace(c.ArchiveDir) == "" {
		errs = append(errs, ErrMissingArchiveDir)
	}
	if strings.TrimSpace(c.DataDir) == "" {
		errs = append(errs, ErrMissingDataDir)
	} else if strings.TrimSpace(c.ArchiveDir) != "" && filepath.Clean(c.ArchiveDir) == filepath.Clean(c.DataDir) {
		errs = append(errs, ErrArchiveDirIsDataDir)
	}
	for _, d := range []struct {
		key   string
		value time.Duration
	}{
		{"remote.timeout", c.Remote.Timeout},
		{"schedule.interval", c.Schedule.Interval},
		{"schedule.retry_initial", c.Schedule.RetryInitial},
	} {
		if d.value <= 0 {
			errs = append(errs, &InvalidDurationError{Key: d.key, Value: d.value})
		}
	}
	if valid, fieldErrs := c.Log.Level.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.Log.Format.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// RebuildDir returns the working directory for the rebuild hook. It defaults
// to the "build" directory under DataDir, outside the snapshot namespace.
func (c Config) RebuildDir() string {
	if c.Rebuild.Dir != "" {
		return c.Rebuild.Dir
	}
	return filepath.Join(c.DataDir, DefaultRebuildSubdir)
}

// DefaultConfig returns the default configuration. DataDir falls back to ""
// when no platform data directory can be determined.
func DefaultConfig() *Config {
	dataDir, _ := DataDir()
	return &Config{
		Online:  true,
		DataDir: dataDir,
		Remote: RemoteConfig{
			BaseURL: DefaultBaseURL,
			Timeout: 30 * time.Second,
		},
		Schedule: ScheduleConfig{
			Interval:     24 * time.Hour,
			RetryInitial: 5 * time.Minute,
		},
		Log: LogConfig{
			Level:  LogLevelInfo,
			Format: LogFormatText,
		},
	}
}
