package core

import "time"

// Clock supplies "now" to the materializer and the projection engine.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock in Location (the process location when nil).
type SystemClock struct {
	Location *time.Location
}

func (c SystemClock) Now() time.Time {
	if c.Location == nil {
		return time.Now()
	}
	return time.Now().In(c.Location)
}

// FixedClock always returns T.
type FixedClock struct {
	T time.Time
}

func (c FixedClock) Now() time.Time { return c.T }

// Today returns the clock's current calendar date.
func Today(c Clock) Date {
	return DateOf(c.Now())
}
