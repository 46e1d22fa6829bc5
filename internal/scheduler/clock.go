package scheduler

import (
	"math/rand/v2"
	"time"
)

// Clock is the time source of the cadence loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// JitterFunc returns a value drawn from [0, upper].
type JitterFunc func(upper time.Duration) time.Duration

func uniformJitter(upper time.Duration) time.Duration {
	if upper <= 0 {
		return 0
	}
	return rand.N(upper + 1)
}
