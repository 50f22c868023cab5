package engine

import "time"

// Clock supplies wall-clock time for expiry checks.
// Implemented by SystemClock (production) and testutil.FixedClock (tests).
type Clock interface {
	Now() time.Time
}

// SystemClock reads the system time.
type SystemClock struct{}

// Now returns the current system time.
func (SystemClock) Now() time.Time {
	return time.Now()
}
