// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Common helpers include environment variable management (MustSetenv, SetHomeDir),
// file operations (MustMkdirAll, MustWriteFile), resource cleanup (MustClose) and a
// manually advanced FakeClock for scheduler tests.
package testutil
