// Package clock abstracts wall-clock time so that timestamps recorded in the
// registry and the default index date range are reproducible in tests.
package clock

import "time"

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Real reads the system clock.
type Real struct{}

// Now returns time.Now truncated to microseconds so values survive the
// database round trip unchanged on every platform.
func (Real) Now() time.Time {
	return time.Now().Truncate(time.Microsecond)
}

// Or returns c, or Real when c is nil.
func Or(c Clock) Clock {
	if c == nil {
		return Real{}
	}
	return c
}

// StartOfDay returns midnight of t's day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
