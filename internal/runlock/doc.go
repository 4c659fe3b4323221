// SPDX-License-Identifier: MPL-2.0

// Package runlock serializes update runs across processes with an exclusive
// advisory lock on <data_dir>/.lock.
//
// The zero-byte lock file is harmless if orphaned: the kernel releases the
// flock when the descriptor is closed, including on process crash.
package runlock
