// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"io"

	"github.com/charmbracelet/log"

	"github.com/tzsync/tzsync/internal/config"
)

// newLogger builds the process logger from the log settings. --verbose
// forces debug level regardless of configuration.
func newLogger(w io.Writer, cfg config.LogConfig, verbose bool) *log.Logger {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Prefix:          config.AppName,
	})

	level, err := log.ParseLevel(string(cfg.Level))
	if err != nil {
		level = log.InfoLevel
	}
	if verbose {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	switch cfg.Format {
	case config.LogFormatJSON:
		logger.SetFormatter(log.JSONFormatter)
	case config.LogFormatLogfmt:
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		logger.SetFormatter(log.TextFormatter)
	}
	return logger
}
