// Package clock provides the time sources used by the conductor and the
// per-device command queues.
//
// All times are integer milliseconds. Production code uses Wall; tests and
// the scenario harness use Virtual, which only moves when advanced.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock is a millisecond time source with cancellable one-shot timers.
type Clock interface {
	// Now returns the current time in milliseconds.
	Now() int64

	// AfterFunc calls f once, delay milliseconds from now, on a goroutine
	// chosen by the implementation. A non-positive delay fires as soon as
	// possible but never inline.
	AfterFunc(delay int64, f func()) Timer
}

// Timer is a handle to a pending AfterFunc call.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// already fired or was stopped.
	Stop() bool
}

// Wall is the real-time clock.
type Wall struct{}

// Now returns Unix time in milliseconds.
func (Wall) Now() int64 {
	return time.Now().UnixMilli()
}

// AfterFunc wraps time.AfterFunc.
func (Wall) AfterFunc(delay int64, f func()) Timer {
	if delay < 0 {
		delay = 0
	}
	return time.AfterFunc(time.Duration(delay)*time.Millisecond, f)
}

// Sequence is a monotonic counter used to order events that share a
// timestamp. Safe for concurrent use.
type Sequence struct {
	seq atomic.Int64
}

// Next returns the next value, starting at 1.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
