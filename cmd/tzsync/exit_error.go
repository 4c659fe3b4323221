// SPDX-License-Identifier: MPL-2.0

package cmd

import "fmt"

// Process exit codes.
const (
	// ExitOK covers both "updated" and "already up to date".
	ExitOK = 0
	// ExitConfig is a configuration or usage error.
	ExitConfig = 1
	// ExitUpdate is a failed update run; retry later.
	ExitUpdate = 2
	// ExitLocked means another run holds the update lock.
	ExitLocked = 3
)

// ExitError signals a non-zero exit code without forcing os.Exit in RunE handlers.
type ExitError struct {
	Code int
	Err  error
}

// Error returns the error message for ExitError.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the underlying error, if any.
func (e *ExitError) Unwrap() error {
	return e.Err
}
