package scheduler

import "time"

// Clock is the time source of the scheduler. Tests substitute a fake one so
// tick boundaries can be driven without real sleeps.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
