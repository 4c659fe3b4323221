// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/tzsync/tzsync/internal/runlock"
)

// acquireLock takes the update lock on dataDir. With wait > 0 it waits up
// to wait for a busy lock; otherwise it fails immediately. Failures are
// returned as ExitError: ExitLocked when another run holds the lock. On
// platforms without flock it warns and returns a nil lock, whose Release is
// a no-op.
func acquireLock(ctx context.Context, dataDir string, wait time.Duration, logger *log.Logger) (*runlock.Lock, error) {
	var (
		lock *runlock.Lock
		err  error
	)
	if wait > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, wait)
		lock, err = runlock.Acquire(waitCtx, dataDir, 0)
		cancel()
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("%w after waiting %s", runlock.ErrLocked, wait)
		}
	} else {
		lock, err = runlock.TryAcquire(dataDir)
	}

	switch {
	case err == nil:
		logger.Debug("acquired update lock", "path", lock.Path())
		return lock, nil
	case errors.Is(err, runlock.ErrUnsupported):
		logger.Warn("update lock unavailable on this platform, running unlocked")
		return nil, nil
	case errors.Is(err, runlock.ErrLocked):
		return nil, &ExitError{Code: ExitLocked, Err: err}
	default:
		return nil, &ExitError{Code: ExitUpdate, Err: fmt.Errorf("acquire update lock: %w", err)}
	}
}

// releaseLock releases lock, logging failures.
func releaseLock(lock *runlock.Lock, logger *log.Logger) {
	if err := lock.Release(); err != nil {
		logger.Warn("releasing update lock failed", "err", err)
	}
}
