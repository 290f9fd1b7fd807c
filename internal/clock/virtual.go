package clock

import (
	"sort"
	"sync"
)

// Virtual is a manually advanced clock. Timers only fire from Advance and
// AdvanceTo, on the calling goroutine, in due-time order (ties in creation
// order). While a timer fires, Now reports its due time.
//
// Timers created by a firing callback are eligible within the same advance
// if they fall due before its target.
type Virtual struct {
	mu     sync.Mutex
	now    int64
	seq    int64
	timers []*virtualTimer
}

type virtualTimer struct {
	clock *Virtual
	due   int64
	seq   int64
	fn    func()
}

// NewVirtual returns a virtual clock reading start.
func NewVirtual(start int64) *Virtual {
	return &Virtual{now: start}
}

// Now returns the virtual time.
func (v *Virtual) Now() int64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.now
}

// AfterFunc schedules f at now+delay.
func (v *Virtual) AfterFunc(delay int64, f func()) Timer {
	if delay < 0 {
		delay = 0
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	t := &virtualTimer{clock: v, due: v.now + delay, seq: v.seq, fn: f}
	i := sort.Search(len(v.timers), func(i int) bool {
		o := v.timers[i]
		return o.due > t.due || (o.due == t.due && o.seq > t.seq)
	})
	v.timers = append(v.timers, nil)
	copy(v.timers[i+1:], v.timers[i:])
	v.timers[i] = t
	return t
}

// Stop removes the timer if it is still pending.
func (t *virtualTimer) Stop() bool {
	v := t.clock
	v.mu.Lock()
	defer v.mu.Unlock()
	for i, o := range v.timers {
		if o == t {
			v.timers = append(v.timers[:i], v.timers[i+1:]...)
			return true
		}
	}
	return false
}

// Advance moves the clock forward by d milliseconds.
func (v *Virtual) Advance(d int64) {
	v.AdvanceTo(v.Now() + d)
}

// AdvanceTo fires every timer due at or before target, then sets the clock
// to target. Moving backwards is a no-op.
func (v *Virtual) AdvanceTo(target int64) {
	for {
		v.mu.Lock()
		if len(v.timers) == 0 || v.timers[0].due > target {
			if target > v.now {
				v.now = target
			}
			v.mu.Unlock()
			return
		}
		t := v.timers[0]
		v.timers = v.timers[1:]
		if t.due > v.now {
			v.now = t.due
		}
		v.mu.Unlock()
		t.fn()
	}
}

// Pending returns the number of armed timers.
func (v *Virtual) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.timers)
}

// NextDue returns the earliest pending due time.
func (v *Virtual) NextDue() (int64, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.timers) == 0 {
		return 0, false
	}
	return v.timers[0].due, true
}
