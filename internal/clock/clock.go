// Package clock abstracts timer scheduling so reconnect backoff, command
// pacing and simulated latency can be driven deterministically in tests.
package clock

import (
	"sort"
	"sync"
	"time"
)

// Timer is a scheduled callback that can be stopped before it fires.
type Timer interface {
	// Stop cancels the timer. Returns false if it already fired.
	Stop() bool
}

// Clock schedules work in time.
type Clock interface {
	Now() time.Time
	// After returns a channel that receives once after d.
	After(d time.Duration) <-chan time.Time
	// AfterFunc runs fn in its own goroutine after d.
	AfterFunc(d time.Duration, fn func()) Timer
}

// Real is the wall-clock implementation.
type Real struct{}

func (Real) Now() time.Time                         { return time.Now() }
func (Real) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (Real) AfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Fake is a manually advanced clock for tests. Timers fire synchronously
// inside Advance, in due order.
type Fake struct {
	mu     sync.Mutex
	now    time.Time
	nextID int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *Fake
	id      int
	due     time.Time
	fn      func()
	ch      chan time.Time
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// NewFake creates a Fake clock starting at an arbitrary fixed instant.
func NewFake() *Fake {
	return &Fake{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fake) After(d time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	f.schedule(d, nil, ch)
	return ch
}

func (f *Fake) AfterFunc(d time.Duration, fn func()) Timer {
	return f.schedule(d, fn, nil)
}

func (f *Fake) schedule(d time.Duration, fn func(), ch chan time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	t := &fakeTimer{clock: f, id: f.nextID, due: f.now.Add(d), fn: fn, ch: ch}
	f.timers = append(f.timers, t)
	return t
}

// Advance moves the clock forward by d, firing every timer due on the way in
// chronological order. Callbacks run on the calling goroutine and may
// schedule further timers, which fire too if they fall within d.
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	target := f.now.Add(d)
	f.mu.Unlock()

	for {
		t := f.popDue(target)
		if t == nil {
			break
		}
		if t.ch != nil {
			t.ch <- t.due
		}
		if t.fn != nil {
			t.fn()
		}
	}

	f.mu.Lock()
	f.now = target
	f.mu.Unlock()
}

// popDue removes and returns the earliest unfired timer due at or before
// target, advancing now to its due time, or nil if none remain.
func (f *Fake) popDue(target time.Time) *fakeTimer {
	f.mu.Lock()
	defer f.mu.Unlock()

	live := f.timers[:0]
	for _, t := range f.timers {
		if !t.stopped {
			live = append(live, t)
		}
	}
	f.timers = live

	sort.SliceStable(f.timers, func(i, j int) bool {
		if f.timers[i].due.Equal(f.timers[j].due) {
			return f.timers[i].id < f.timers[j].id
		}
		return f.timers[i].due.Before(f.timers[j].due)
	})

	if len(f.timers) == 0 || f.timers[0].due.After(target) {
		return nil
	}
	t := f.timers[0]
	f.timers = f.timers[1:]
	t.stopped = true
	if t.due.After(f.now) {
		f.now = t.due
	}
	return t
}
