// Package clock provides the monotonic timing primitives the mission
// executor schedules against: a wall-clock source and a fixed-period
// sleep loop that tolerates overruns without accumulating phase debt.
package clock

import (
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// Now returns the current monotonic time in fractional seconds, read via
// CLOCK_MONOTONIC rather than time.Now() so it is immune to wall-clock
// adjustments (NTP steps, manual clock sets).
func Now() float64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return float64(time.Now().UnixNano()) / 1e9
	}
	return float64(ts.Sec) + float64(ts.Nsec)/1e9
}

// Looper yields control every Dt seconds of monotonic time. On an
// overrun (the prior iteration ran past its deadline) it skips the
// sleep, counts the overrun, and re-anchors the next deadline to
// now+Dt — it never tries to make up lost phase.
type Looper struct {
	Dt      float64
	Name    string
	started bool
	tNext   float64
	stopped atomic.Bool
	overrun atomic.Uint64
}

// New creates a Looper for the given period (seconds) and name. Dt==0
// means "no rate limit": Sleep returns immediately and never overruns.
func New(dt float64, name string) *Looper {
	return &Looper{Dt: dt, Name: name}
}

// Bool reports whether the looper is still live. It becomes false after
// Stop, giving cooperative loops a clean way to notice an interrupt.
func (l *Looper) Bool() bool {
	return !l.stopped.Load()
}

// Stop marks the looper interrupted; the next Bool() call returns false.
func (l *Looper) Stop() {
	l.stopped.Store(true)
}

// NumOverruns returns the lifetime overrun count.
func (l *Looper) NumOverruns() uint64 {
	return l.overrun.Load()
}

// Sleep blocks until the next scheduled tick and returns whether this
// iteration overran (i.e. the previous one ran past its own deadline).
// Dt==0 is a no-op that always reports no overrun.
func (l *Looper) Sleep() (overran bool, now float64) {
	if l.Dt <= 0 {
		return false, Now()
	}
	now = Now()
	if !l.started {
		l.tNext = now + l.Dt
		l.started = true
	}
	if now < l.tNext {
		time.Sleep(time.Duration((l.tNext - now) * float64(time.Second)))
		l.tNext += l.Dt
		return false, Now()
	}
	l.overrun.Add(1)
	l.tNext = now + l.Dt
	return true, now
}
