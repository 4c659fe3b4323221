// SPDX-License-Identifier: MPL-2.0

// Package rebuild provides the downstream step the updater signals after a
// new snapshot is active: a POSIX shell command run by the embedded mvdan/sh
// interpreter, so no system shell is needed.
//
// The command sees the inherited environment plus:
//
//	TZSYNC_VERSION       the active tzdata version
//	TZSYNC_SNAPSHOT_DIR  the active snapshot directory
//	TZSYNC_DATA_DIR      the data directory
package rebuild
