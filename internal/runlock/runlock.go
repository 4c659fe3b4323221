// SPDX-License-Identifier: MPL-2.0

package runlock

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// FileName is the lock file created inside the data directory. Registry
// listings skip it because it is hidden.
const FileName = ".lock"

// DefaultPollInterval is how often Acquire retries a busy lock.
const DefaultPollInterval = 250 * time.Millisecond

var (
	// ErrLocked is returned when another process holds the lock.
	ErrLocked = errors.New("update lock is held by another process")
	// ErrUnsupported is returned on platforms without flock.
	ErrUnsupported = errors.New("file locking not available on this platform")
)

// Path returns the lock file path for dataDir.
func Path(dataDir string) string {
	return filepath.Join(dataDir, FileName)
}

// Acquire waits until the lock on dataDir is free, polling every interval
// (DefaultPollInterval when zero), or until ctx is done.
func Acquire(ctx context.Context, dataDir string, interval time.Duration) (*Lock, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	var lock *Lock
	op := func() error {
		l, err := TryAcquire(dataDir)
		if err != nil {
			if errors.Is(err, ErrLocked) {
				return err
			}
			return backoff.Permanent(err)
		}
		lock = l
		return nil
	}

	b := backoff.WithContext(backoff.NewConstantBackOff(interval), ctx)
	if err := backoff.Retry(op, b); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("waiting for %s: %w", Path(dataDir), ctxErr)
		}
		return nil, err
	}
	return lock, nil
}
