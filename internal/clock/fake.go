package clock

import "time"

// FakeClock is a manually advanced Clock for tests. The start time is
// normalized to UTC so comparisons against values read back from the
// database stay stable across drivers.
type FakeClock struct {
	current time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{current: start.UTC()}
}

func (c *FakeClock) Now() time.Time {
	return c.current
}

// Advance moves the clock forward; a negative duration moves it back.
func (c *FakeClock) Advance(d time.Duration) {
	c.current = c.current.Add(d)
}
