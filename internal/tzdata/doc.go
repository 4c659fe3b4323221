// SPDX-License-Identifier: MPL-2.0

// Package tzdata keeps an on-disk snapshot of the IANA time zone database in
// sync with a version source and swaps it atomically when a newer release
// appears.
//
// The package is organized into five concerns:
//   - source.go, remote.go, local.go: version lookup and archive retrieval,
//     either from data.iana.org (online) or a local archive directory (offline)
//   - installer.go: temp archive write, allow-list extraction into a staging
//     directory and rename into place
//   - registry.go: installed snapshot listing; the current version is derived
//     from which snapshot directory exists
//   - updater.go: the single-pass orchestrator that composes the above and
//     signals the downstream rebuild step
package tzdata
