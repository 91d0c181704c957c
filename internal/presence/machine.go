// Package presence holds the avatar presence state (active, inactive,
// thinking) and its idle timeout. It is independent from the request
// lifecycle: the session controller only issues commands.
package presence

import (
	"time"

	"waverchat/internal/worker"
)

type State string

const (
	Active   State = "active"
	Inactive State = "inactive"
	Thinking State = "thinking"
)

// DefaultIdleTimeout is the inactivity window before presence turns inactive.
const DefaultIdleTimeout = 60 * time.Second

// Activity is a user interaction that counts as presence.
type Activity string

const (
	PointerDown Activity = "pointerdown"
	PointerMove Activity = "pointermove"
	KeyPress    Activity = "keypress"
	Scroll      Activity = "scroll"
	TouchStart  Activity = "touchstart"
)

var registered = map[Activity]struct{}{
	PointerDown: {},
	PointerMove: {},
	KeyPress:    {},
	Scroll:      {},
	TouchStart:  {},
}

// ParseActivity accepts only registered activity kinds.
func ParseActivity(kind string) (Activity, bool) {
	a := Activity(kind)
	_, ok := registered[a]
	return a, ok
}

// ParseState validates a command name.
func ParseState(s string) (State, bool) {
	switch State(s) {
	case Active, Inactive, Thinking:
		return State(s), true
	}
	return "", false
}

// Change is the state-change signal delivered to listeners.
type Change struct {
	State State     `json:"state"`
	From  State     `json:"from"`
	Cause string    `json:"cause"`
	At    time.Time `json:"at"`
}

// Machine is not safe for concurrent use; drive it from the scheduler's
// thread.
type Machine struct {
	sched       worker.Scheduler
	idleTimeout time.Duration
	state       State
	held        bool // a thinking command is outstanding
	idle        *worker.Task
	listeners   map[int]func(Change)
	nextID      int
	stopped     bool
}

// New returns a machine in the active state with its idle timer armed.
func New(sched worker.Scheduler, idleTimeout time.Duration) *Machine {
	if idleTimeout <= 0 {
		idleTimeout = DefaultIdleTimeout
	}
	m := &Machine{
		sched:       sched,
		idleTimeout: idleTimeout,
		state:       Active,
		listeners:   make(map[int]func(Change)),
	}
	m.armIdle()
	return m
}

// State returns the current presence value.
func (m *Machine) State() State {
	return m.state
}

// Subscribe registers fn for every state change and returns a function that
// removes it.
func (m *Machine) Subscribe(fn func(Change)) func() {
	if fn == nil {
		return func() {}
	}
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		delete(m.listeners, id)
	}
}

// Command applies an explicit transition request.
func (m *Machine) Command(s State) {
	if m.stopped {
		return
	}
	switch s {
	case Thinking:
		m.held = true
		m.transition(Thinking, "command")
	case Active:
		m.held = false
		m.transition(Active, "command")
	case Inactive:
		m.transition(Inactive, "command")
	}
}

// Activity records a user interaction. Unregistered kinds are ignored.
func (m *Machine) Activity(kind Activity) {
	if m.stopped {
		return
	}
	if _, ok := registered[kind]; !ok {
		return
	}
	if m.state == Inactive {
		next := Active
		if m.held {
			next = Thinking
		}
		m.transition(next, "activity:"+string(kind))
		return
	}
	m.armIdle()
}

// Stop disarms the idle timer and ignores further input.
func (m *Machine) Stop() {
	m.stopped = true
	m.disarmIdle()
}

func (m *Machine) transition(next State, cause string) {
	prev := m.state
	m.state = next
	if next == Inactive {
		m.disarmIdle()
	} else {
		m.armIdle()
	}
	if prev == next {
		return
	}
	worker.Debugf("presence %s -> %s (%s)", prev, next, cause)
	change := Change{State: next, From: prev, Cause: cause, At: m.sched.Now()}
	for _, id := range m.listenerIDs() {
		if fn, ok := m.listeners[id]; ok {
			fn(change)
		}
	}
}

// listenerIDs returns ids in subscription order so delivery is stable.
func (m *Machine) listenerIDs() []int {
	ids := make([]int, 0, len(m.listeners))
	for id := 0; id < m.nextID; id++ {
		if _, ok := m.listeners[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func (m *Machine) armIdle() {
	m.disarmIdle()
	m.idle = m.sched.AfterFunc(m.idleTimeout, m.onIdle)
}

func (m *Machine) disarmIdle() {
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
}

func (m *Machine) onIdle() {
	m.idle = nil
	if m.stopped || m.state == Inactive {
		return
	}
	m.transition(Inactive, "idle-timeout")
}
