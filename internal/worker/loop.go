package worker

import (
	"log"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

const queueLen = 64

// Loop is a single goroutine that owns all timers and completions of one
// session. Due timers always run before the next posted callback, so a
// callback observes every timer that expired before it was picked up.
type Loop struct {
	clock  clockwork.Clock
	timers timerQueue
	posts  chan func()
	wake   chan struct{}
	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
}

// NewLoop starts a loop driven by clock. A nil clock means wall time.
func NewLoop(clock clockwork.Clock) *Loop {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := &Loop{
		clock: clock,
		posts: make(chan func(), queueLen),
		wake:  make(chan struct{}, 1),
		quit:  make(chan struct{}),
		done:  make(chan struct{}),
	}
	go l.run()
	return l
}

// Now returns the loop clock's current time.
func (l *Loop) Now() time.Time {
	return l.clock.Now()
}

// AfterFunc schedules fn to run on the loop after d.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Task {
	if d < 0 {
		d = 0
	}
	t := l.timers.add(l.clock.Now().Add(d), fn)
	select {
	case l.wake <- struct{}{}:
	default:
	}
	return t
}

// Post queues fn to run on the loop. It drops fn once the loop is stopped.
func (l *Loop) Post(fn func()) {
	select {
	case l.posts <- fn:
	case <-l.quit:
		debugLog("worker loop stopped, dropping posted callback")
	}
}

// Call runs fn on the loop and waits for it. It must not be called from the
// loop goroutine itself.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	select {
	case l.posts <- func() {
		defer close(finished)
		fn()
	}:
	case <-l.quit:
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// Sync waits until every timer due at the current clock time has run.
func (l *Loop) Sync() error {
	return l.Call(func() {})
}

// Pending reports the number of scheduled timers.
func (l *Loop) Pending() int {
	return l.timers.len()
}

// Stop terminates the loop. Pending timers are discarded.
func (l *Loop) Stop() {
	l.once.Do(func() {
		close(l.quit)
	})
	<-l.done
}

func (l *Loop) run() {
	defer close(l.done)
	for {
		l.runDue()

		var (
			timer  clockwork.Timer
			timerC <-chan time.Time
		)
		if next, ok := l.timers.next(); ok {
			d := next.Sub(l.clock.Now())
			if d <= 0 {
				continue
			}
			timer = l.clock.NewTimer(d)
			timerC = timer.Chan()
		}

		select {
		case <-l.quit:
			if timer != nil {
				timer.Stop()
			}
			return
		case fn := <-l.posts:
			l.runDue()
			l.exec(fn)
		case <-timerC:
		case <-l.wake:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (l *Loop) runDue() {
	for {
		t := l.timers.popDue(l.clock.Now())
		if t == nil {
			return
		}
		l.exec(t.fn)
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("worker loop callback panic: %v", r)
		}
	}()
	fn()
}
