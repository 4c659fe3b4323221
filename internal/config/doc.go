// SPDX-License-Identifier: MPL-2.0

// Package config handles application configuration using Viper with CUE as the file format.
//
// Configuration is loaded from ~/.config/tzsync/config.cue (or the XDG equivalent on
// Linux, ~/Library/Application Support/tzsync/config.cue on macOS,
// %APPDATA%\tzsync\config.cue on Windows). Every key can be overridden through a
// TZSYNC_ environment variable, with dots replaced by underscores
// (TZSYNC_REMOTE_TIMEOUT=1m).
//
// Files are validated against an embedded CUE schema (config_schema.cue) before they
// are merged over the defaults.
package config
