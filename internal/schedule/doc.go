// SPDX-License-Identifier: MPL-2.0

// Package schedule drives repeated update runs: one at startup, then one
// per interval, retrying failed runs with exponential backoff capped at the
// interval. Concurrent triggers share a single in-flight run.
package schedule
