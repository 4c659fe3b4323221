// SPDX-License-Identifier: MPL-2.0

// Package issue provides actionable error handling with user-friendly messages.
//
// ActionableError carries an operation, a resource and remediation hints.
// The issue catalog maps failure classes of a tzdata update to Markdown
// guidance rendered in the terminal.
package issue
