package schedule

import "time"

// Clock is the scheduler's view of time. Sleep is a plain timed suspension.
type Clock interface {
	Now() time.Time
	Sleep(d time.Duration)
}

type realClock struct{}

func (realClock) Now() time.Time        { return time.Now() }
func (realClock) Sleep(d time.Duration) { time.Sleep(d) }

// RealClock uses the process wall clock.
var RealClock Clock = realClock{}
