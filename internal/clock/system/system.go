// Package system provides the wall clock.
package system

import "time"

// Clock reports UTC wall time truncated to microseconds to match Postgres
// timestamptz precision.
type Clock struct {
	now func() time.Time
}

// New returns a Clock over time.Now.
func New() *Clock {
	return &Clock{now: time.Now}
}

// Now returns the current time.
func (c *Clock) Now() time.Time {
	return c.now().UTC().Truncate(time.Microsecond)
}
