// SPDX-License-Identifier: MPL-2.0

//go:build !(linux || darwin || freebsd || openbsd || netbsd || dragonfly)

package runlock

// Lock is the stub for platforms without flock. Release is a no-op.
type Lock struct {
	path string
}

// TryAcquire always returns ErrUnsupported; callers run unlocked and must
// avoid overlapping runs themselves.
func TryAcquire(dataDir string) (*Lock, error) {
	return nil, ErrUnsupported
}

// Path returns the lock file path.
func (l *Lock) Path() string { return l.path }

// Release is a no-op.
func (l *Lock) Release() error { return nil }
