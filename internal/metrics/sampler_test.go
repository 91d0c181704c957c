package metrics

import (
	"errors"
	"math"
	"testing"
	"time"

	"waverchat/internal/models"
	"waverchat/internal/worker"
)

var epoch = time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)

func TestTicksReportElapsedOnly(t *testing.T) {
	step := worker.NewStepper(epoch)
	var samples []models.MetricsSnapshot
	s := NewSampler(step, func(m models.MetricsSnapshot) { samples = append(samples, m) })
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	step.Advance(350 * time.Millisecond)
	// start sample + ticks at 100, 200, 300ms
	if len(samples) != 4 {
		t.Fatalf("expected 4 samples, got %d", len(samples))
	}
	last := samples[len(samples)-1]
	if math.Abs(last.ElapsedSeconds-0.3) > 1e-9 {
		t.Fatalf("expected 0.3s elapsed, got %v", last.ElapsedSeconds)
	}
	if last.TokensPerSecond != 0 || last.Final {
		t.Fatalf("tick should not report throughput: %+v", last)
	}
}

func TestFinalizeComputesThroughputAndCumulative(t *testing.T) {
	step := worker.NewStepper(epoch)
	s := NewSampler(step, nil)
	_ = s.Start()
	step.Advance(2 * time.Second)
	snap, err := s.Finalize(models.TokenUsage{PromptTokens: 10, CompletionTokens: 40, TotalTokens: 999})
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if snap.TokensPerSecond != 20 {
		t.Fatalf("expected 20 tok/s, got %v", snap.TokensPerSecond)
	}
	if snap.Tokens.TotalTokens != 50 || snap.CumulativeTokens != 50 {
		t.Fatalf("expected normalized total 50, got %+v", snap)
	}
	if step.Pending() != 0 {
		t.Fatalf("tick leaked after finalize")
	}

	_ = s.Start()
	step.Advance(time.Second)
	snap, _ = s.Finalize(models.NewTokenUsage(5, 5))
	if snap.CumulativeTokens != 60 {
		t.Fatalf("expected cumulative 60, got %d", snap.CumulativeTokens)
	}
}

func TestZeroElapsedYieldsZeroThroughput(t *testing.T) {
	step := worker.NewStepper(epoch)
	s := NewSampler(step, nil)
	_ = s.Start()
	snap, err := s.Finalize(models.NewTokenUsage(3, 1000))
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if snap.TokensPerSecond != 0 || math.IsNaN(snap.TokensPerSecond) || math.IsInf(snap.TokensPerSecond, 0) {
		t.Fatalf("expected 0 tok/s, got %v", snap.TokensPerSecond)
	}
}

func TestSnapshotTotalsAlwaysConsistent(t *testing.T) {
	step := worker.NewStepper(epoch)
	var samples []models.MetricsSnapshot
	s := NewSampler(step, func(m models.MetricsSnapshot) { samples = append(samples, m) })
	inputs := []models.TokenUsage{
		{PromptTokens: 1, CompletionTokens: 2, TotalTokens: 3},
		{PromptTokens: -4, CompletionTokens: 9, TotalTokens: 1},
		{PromptTokens: 7, CompletionTokens: 0},
	}
	for _, in := range inputs {
		_ = s.Start()
		step.Advance(250 * time.Millisecond)
		_, _ = s.Finalize(in)
	}
	for _, snap := range samples {
		if snap.TokensPerSecond < 0 {
			t.Fatalf("negative throughput %+v", snap)
		}
		if snap.Tokens != nil && snap.Tokens.TotalTokens != snap.Tokens.PromptTokens+snap.Tokens.CompletionTokens {
			t.Fatalf("inconsistent tokens %+v", *snap.Tokens)
		}
	}
}

func TestSecondStartRejected(t *testing.T) {
	step := worker.NewStepper(epoch)
	s := NewSampler(step, nil)
	_ = s.Start()
	if err := s.Start(); !errors.Is(err, ErrCycleActive) {
		t.Fatalf("expected ErrCycleActive, got %v", err)
	}
	if step.Pending() != 1 {
		t.Fatalf("expected one tick scheduled, got %d", step.Pending())
	}
	if _, err := NewSampler(step, nil).Finalize(models.TokenUsage{}); !errors.Is(err, ErrNoCycle) {
		t.Fatalf("expected ErrNoCycle, got %v", err)
	}
}

func TestAbortAndReset(t *testing.T) {
	step := worker.NewStepper(epoch)
	s := NewSampler(step, nil)
	_ = s.Start()
	step.Advance(time.Second)
	_, _ = s.Finalize(models.NewTokenUsage(2, 2))

	_ = s.Start()
	s.Abort()
	if s.Active() || step.Pending() != 0 {
		t.Fatalf("abort left the cycle running")
	}
	if s.Cumulative() != 4 {
		t.Fatalf("abort should keep cumulative, got %d", s.Cumulative())
	}
	s.Reset()
	if s.Cumulative() != 0 || s.Snapshot() != (models.MetricsSnapshot{}) {
		t.Fatalf("reset did not clear: %+v", s.Snapshot())
	}
}

// laggingScheduler reports a clock running ahead of its timers, as happens
// when a callback blocks the scheduler thread.
type laggingScheduler struct {
	*worker.Stepper
	lag time.Duration
}

func (l *laggingScheduler) Now() time.Time {
	return l.Stepper.Now().Add(l.lag)
}

func TestStalledTicksAreSkipped(t *testing.T) {
	sched := &laggingScheduler{Stepper: worker.NewStepper(epoch)}
	var samples []models.MetricsSnapshot
	s := NewSampler(sched, func(m models.MetricsSnapshot) {
		samples = append(samples, m)
		if len(samples) == 2 {
			// the first tick's handler holds the thread for 350ms
			sched.lag = 350 * time.Millisecond
		}
	})
	if err := s.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	sched.Advance(150 * time.Millisecond)

	if len(samples) != 3 {
		t.Fatalf("expected start, first tick and one catch-up tick, got %d", len(samples))
	}
	if math.Abs(samples[1].ElapsedSeconds-0.1) > 1e-9 {
		t.Fatalf("expected first tick at 0.1s, got %v", samples[1].ElapsedSeconds)
	}
	if math.Abs(samples[2].ElapsedSeconds-0.5) > 1e-9 {
		t.Fatalf("expected next tick on the 0.5s grid point, got %v", samples[2].ElapsedSeconds)
	}
	sched.Advance(100 * time.Millisecond)
	if len(samples) != 4 || math.Abs(samples[3].ElapsedSeconds-0.6) > 1e-9 {
		t.Fatalf("expected tick at 0.6s, got %+v", samples[len(samples)-1])
	}
}
