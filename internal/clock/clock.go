// Package clock abstracts wall-clock time so validity windows and progress
// timing can be tested deterministically.
package clock

import "time"

// Clock provides time operations.
type Clock interface {
	Now() time.Time
}

// Real implements Clock using the system time, always in UTC.
type Real struct{}

// Now returns the current UTC time.
func (Real) Now() time.Time {
	return time.Now().UTC()
}

// Fixed implements Clock with a fixed time for testing.
type Fixed struct {
	Time time.Time
}

// Now returns the fixed time.
func (f Fixed) Now() time.Time {
	return f.Time
}
