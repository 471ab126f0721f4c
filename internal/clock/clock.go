package clock

import "time"

// Clock abstracts time.Now so time-dependent logic is testable.
type Clock interface {
	Now() time.Time
}

// Default implements Clock using the system clock.
type Default struct{}

// Now returns the current time.
func (Default) Now() time.Time {
	return time.Now()
}

// Fixed is a Clock pinned to a single instant, for tests.
type Fixed struct {
	T time.Time
}

// Now returns the pinned instant.
func (f Fixed) Now() time.Time {
	return f.T
}
