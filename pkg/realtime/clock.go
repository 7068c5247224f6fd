package realtime

import "time"

// Clock abstracts time so timers can be driven by tests.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a single-shot timer created by a Clock.
type Timer interface {
	// Stop prevents the timer from firing. It reports false when the
	// timer already fired or was stopped.
	Stop() bool
}

type realClock struct{}

// RealClock returns a Clock backed by the time package.
func RealClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// backoffClock adapts Clock to backoff.Clock.
type backoffClock struct{ clock Clock }

func (c backoffClock) Now() time.Time { return c.clock.Now() }
