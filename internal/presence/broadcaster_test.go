package presence

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"waverchat/internal/worker"
)

type publishLog struct {
	mu     sync.Mutex
	states []State
}

func (p *publishLog) publish(_ context.Context, _ string, payload []byte) error {
	var change Change
	if err := json.Unmarshal(payload, &change); err != nil {
		return err
	}
	// a slow first publish must not let later changes overtake it
	if len(p.snapshot()) == 0 {
		time.Sleep(20 * time.Millisecond)
	}
	p.mu.Lock()
	p.states = append(p.states, change.State)
	p.mu.Unlock()
	return nil
}

func (p *publishLog) snapshot() []State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]State(nil), p.states...)
}

func TestBroadcasterKeepsChangeOrder(t *testing.T) {
	sink := &publishLog{}
	b := startBroadcaster(nil, "presence", sink.publish)

	step := worker.NewStepper(epoch)
	m := New(step, DefaultIdleTimeout)
	b.Attach(m)

	m.Command(Thinking)
	m.Command(Active)
	step.Advance(DefaultIdleTimeout)
	m.Activity(PointerMove)
	m.Command(Thinking)
	m.Command(Inactive)
	b.Close()

	want := []State{Thinking, Active, Inactive, Active, Thinking, Inactive}
	got := sink.snapshot()
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
}

func TestBroadcasterIgnoresChangesAfterClose(t *testing.T) {
	sink := &publishLog{}
	b := startBroadcaster(nil, "presence", sink.publish)
	b.Close()
	b.Publish(Change{State: Thinking, From: Active, At: epoch})
	b.Close()
	if got := sink.snapshot(); len(got) != 0 {
		t.Fatalf("publish after close reached redis: %v", got)
	}
}
