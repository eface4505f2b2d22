// Package clock abstracts wall time so expiry logic stays testable.
package clock

import "time"

type Clock interface {
	Now() time.Time
}

// RealClock implements Clock against the system clock
type RealClock struct{}

func (RealClock) Now() time.Time {
	return time.Now()
}

// FrozenClock implements Clock with a fixed instant, for tests
type FrozenClock struct {
	T time.Time
}

func (c FrozenClock) Now() time.Time {
	return c.T
}
