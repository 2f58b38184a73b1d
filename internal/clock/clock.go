// Package clock abstracts time for components that make scheduling
// decisions, so tests can run without real-time waits.
package clock

import "time"

// Clock yields the current time.
type Clock interface {
	Now() time.Time
}

// Real is the wall clock.
type Real struct{}

func (Real) Now() time.Time { return time.Now() }

// Fixed always returns the same instant. Test helper.
type Fixed struct {
	T time.Time
}

func (f Fixed) Now() time.Time { return f.T }
