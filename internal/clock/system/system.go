// Package system provides the wall clock used to stamp run reports.
package system

import "time"

// Clock implements crawler.Clock on top of time.Now.
type Clock struct{}

// New returns a wall clock.
func New() Clock {
	return Clock{}
}

// Now returns the current UTC time truncated to milliseconds, the precision
// kept in run reports.
func (Clock) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
