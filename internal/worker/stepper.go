package worker

import (
	"sync"
	"time"
)

// Stepper is a Scheduler driven by its host: time only moves on Advance, and
// callbacks run on the goroutine that calls Advance or Flush. It suits hosts
// that already own an event loop, and deterministic tests.
type Stepper struct {
	mu     sync.Mutex
	now    time.Time
	timers timerQueue
	posted []func()
}

// NewStepper returns a Stepper whose clock starts at start.
func NewStepper(start time.Time) *Stepper {
	return &Stepper{now: start}
}

func (s *Stepper) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

func (s *Stepper) AfterFunc(d time.Duration, fn func()) *Task {
	if d < 0 {
		d = 0
	}
	return s.timers.add(s.Now().Add(d), fn)
}

func (s *Stepper) Post(fn func()) {
	s.mu.Lock()
	s.posted = append(s.posted, fn)
	s.mu.Unlock()
}

// Call runs fn immediately on the caller's goroutine.
func (s *Stepper) Call(fn func()) error {
	fn()
	return nil
}

// Advance moves the clock forward by d, running timers in deadline order
// with the clock set to each timer's deadline.
func (s *Stepper) Advance(d time.Duration) {
	s.mu.Lock()
	target := s.now.Add(d)
	s.mu.Unlock()

	s.runPosted()
	for {
		t := s.timers.popDue(target)
		if t == nil {
			break
		}
		s.mu.Lock()
		if t.when.After(s.now) {
			s.now = t.when
		}
		s.mu.Unlock()
		t.fn()
		s.runPosted()
	}
	s.mu.Lock()
	s.now = target
	s.mu.Unlock()
}

// Flush runs posted callbacks and timers already due.
func (s *Stepper) Flush() {
	s.Advance(0)
}

// Pending reports the number of scheduled timers.
func (s *Stepper) Pending() int {
	return s.timers.len()
}

func (s *Stepper) runPosted() {
	for {
		s.mu.Lock()
		if len(s.posted) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.posted[0]
		s.posted = s.posted[1:]
		s.mu.Unlock()
		fn()
	}
}
