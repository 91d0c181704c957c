package presence

import (
	"testing"
	"time"

	"waverchat/internal/worker"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func newMachine(t *testing.T) (*Machine, *worker.Stepper, *[]Change) {
	t.Helper()
	step := worker.NewStepper(epoch)
	m := New(step, DefaultIdleTimeout)
	var changes []Change
	m.Subscribe(func(c Change) { changes = append(changes, c) })
	return m, step, &changes
}

func TestIdleTimeoutMovesToInactive(t *testing.T) {
	m, step, changes := newMachine(t)
	step.Advance(59 * time.Second)
	if m.State() != Active {
		t.Fatalf("expected active before timeout, got %s", m.State())
	}
	step.Advance(time.Second)
	if m.State() != Inactive {
		t.Fatalf("expected inactive after 60s, got %s", m.State())
	}
	if len(*changes) != 1 || (*changes)[0].Cause != "idle-timeout" {
		t.Fatalf("unexpected changes: %+v", *changes)
	}
	if !(*changes)[0].At.Equal(epoch.Add(60 * time.Second)) {
		t.Fatalf("change stamped at %v", (*changes)[0].At)
	}
}

func TestActivityFromInactiveYieldsActive(t *testing.T) {
	for _, kind := range []Activity{PointerDown, PointerMove, KeyPress, Scroll, TouchStart} {
		m, step, _ := newMachine(t)
		m.Command(Inactive)
		m.Activity(kind)
		if m.State() != Active {
			t.Fatalf("%s: expected active, got %s", kind, m.State())
		}
		// the timer restarts from the activity
		step.Advance(59 * time.Second)
		if m.State() != Active {
			t.Fatalf("%s: expected active 59s after activity", kind)
		}
	}
}

func TestActivityResetsIdleTimer(t *testing.T) {
	m, step, _ := newMachine(t)
	for i := 0; i < 5; i++ {
		step.Advance(50 * time.Second)
		m.Activity(KeyPress)
	}
	if m.State() != Active {
		t.Fatalf("expected active while activity continues, got %s", m.State())
	}
	if step.Pending() != 1 {
		t.Fatalf("expected a single pending idle timer, got %d", step.Pending())
	}
	step.Advance(60 * time.Second)
	if m.State() != Inactive {
		t.Fatalf("expected inactive, got %s", m.State())
	}
}

func TestThinkingCommandFromAnyState(t *testing.T) {
	for _, from := range []State{Active, Inactive, Thinking} {
		m, _, _ := newMachine(t)
		m.Command(from)
		m.Command(Thinking)
		if m.State() != Thinking {
			t.Fatalf("from %s: expected thinking, got %s", from, m.State())
		}
	}
}

func TestThinkingTimesOutAndActivityRestoresIt(t *testing.T) {
	m, step, _ := newMachine(t)
	m.Command(Thinking)
	step.Advance(60 * time.Second)
	if m.State() != Inactive {
		t.Fatalf("expected inactive after 60s of thinking, got %s", m.State())
	}
	m.Activity(PointerMove)
	if m.State() != Thinking {
		t.Fatalf("held thinking should survive activity, got %s", m.State())
	}
	m.Command(Active)
	m.Command(Inactive)
	m.Activity(PointerMove)
	if m.State() != Active {
		t.Fatalf("released hold should resume active, got %s", m.State())
	}
}

func TestListenersOnlySeeRealChanges(t *testing.T) {
	m, _, changes := newMachine(t)
	m.Command(Active)
	m.Activity(Scroll)
	if len(*changes) != 0 {
		t.Fatalf("expected no changes, got %+v", *changes)
	}
	var second []State
	unsubscribe := m.Subscribe(func(c Change) { second = append(second, c.State) })
	m.Command(Thinking)
	unsubscribe()
	m.Command(Active)
	if len(*changes) != 2 {
		t.Fatalf("expected 2 changes, got %d", len(*changes))
	}
	if (*changes)[0].From != Active || (*changes)[0].State != Thinking {
		t.Fatalf("unexpected first change %+v", (*changes)[0])
	}
	if len(second) != 1 || second[0] != Thinking {
		t.Fatalf("unsubscribed listener saw %v", second)
	}
}

func TestUnregisteredActivityIgnored(t *testing.T) {
	m, _, _ := newMachine(t)
	m.Command(Inactive)
	m.Activity(Activity("resize"))
	if m.State() != Inactive {
		t.Fatalf("unregistered activity changed state to %s", m.State())
	}
	if _, ok := ParseActivity("wheel"); ok {
		t.Fatalf("wheel should not parse")
	}
	if a, ok := ParseActivity("touchstart"); !ok || a != TouchStart {
		t.Fatalf("touchstart should parse")
	}
}

func TestStopDisarmsTimer(t *testing.T) {
	m, step, changes := newMachine(t)
	m.Stop()
	step.Advance(2 * time.Minute)
	if m.State() != Active || len(*changes) != 0 {
		t.Fatalf("stopped machine changed: %s %+v", m.State(), *changes)
	}
	if step.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", step.Pending())
	}
}
