// SPDX-License-Identifier: MPL-2.0

package schedule

import "time"

type (
	// Clock abstracts time for the scheduler loop.
	Clock interface {
		Now() time.Time
		After(d time.Duration) <-chan time.Time
	}

	// RealClock implements Clock using the system clock.
	RealClock struct{}
)

// Now returns time.Now().
func (RealClock) Now() time.Time { return time.Now() }

// After returns time.After(d).
func (RealClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
