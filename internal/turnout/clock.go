package turnout

import "time"

// Timer is the part of *time.Timer the turnout needs.
type Timer interface {
	Stop() bool
}

// Clock schedules the delayed OFF message. Tests replace it to fire timers
// by hand.
type Clock interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

type realClock struct{}

func (realClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

func (realClock) Now() time.Time { return time.Now() }
