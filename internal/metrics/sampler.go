package metrics

import (
	"errors"
	"time"

	"waverchat/internal/models"
	"waverchat/internal/worker"
)

// TickInterval is the elapsed-time sampling period during a request.
const TickInterval = 100 * time.Millisecond

var (
	ErrCycleActive = errors.New("metrics cycle already active")
	ErrNoCycle     = errors.New("no active metrics cycle")
)

// Sampler measures one request at a time. Not safe for concurrent use; run
// it on the scheduler thread.
type Sampler struct {
	sched    worker.Scheduler
	onSample func(models.MetricsSnapshot)

	active     bool
	start      time.Time
	ticks      int
	tick       *worker.Task
	cumulative int
	last       models.MetricsSnapshot
}

// NewSampler returns an idle sampler. onSample may be nil.
func NewSampler(sched worker.Scheduler, onSample func(models.MetricsSnapshot)) *Sampler {
	return &Sampler{sched: sched, onSample: onSample}
}

// Start opens a sampling cycle and begins ticking.
func (s *Sampler) Start() error {
	if s.active {
		return ErrCycleActive
	}
	s.active = true
	s.start = s.sched.Now()
	s.ticks = 0
	s.last = models.MetricsSnapshot{CumulativeTokens: s.cumulative}
	s.emit(s.last)
	s.schedule()
	return nil
}

// Finalize closes the cycle with the request's token usage and emits the
// final snapshot.
func (s *Sampler) Finalize(tokens models.TokenUsage) (models.MetricsSnapshot, error) {
	if !s.active {
		return models.MetricsSnapshot{}, ErrNoCycle
	}
	s.stopTick()
	s.active = false

	tokens = normalize(tokens)
	elapsed := s.elapsed()
	tps := 0.0
	if elapsed > 0 {
		tps = float64(tokens.CompletionTokens) / elapsed
	}
	s.cumulative += tokens.TotalTokens
	s.last = models.MetricsSnapshot{
		ElapsedSeconds:   elapsed,
		TokensPerSecond:  tps,
		CumulativeTokens: s.cumulative,
		Tokens:           &tokens,
		Final:            true,
	}
	s.emit(s.last)
	return s.last, nil
}

// Abort ends the cycle without counting tokens.
func (s *Sampler) Abort() {
	if !s.active {
		return
	}
	s.stopTick()
	s.active = false
}

// Reset zeroes the cumulative counter and the displayed values.
func (s *Sampler) Reset() {
	s.Abort()
	s.cumulative = 0
	s.last = models.MetricsSnapshot{}
	s.emit(s.last)
}

// Snapshot returns the most recent values.
func (s *Sampler) Snapshot() models.MetricsSnapshot {
	return s.last
}

func (s *Sampler) Active() bool {
	return s.active
}

func (s *Sampler) Cumulative() int {
	return s.cumulative
}

// schedule arms the next tick on the start-relative grid. Grid points that
// already passed while the scheduler was busy are skipped.
func (s *Sampler) schedule() {
	next := int(s.sched.Now().Sub(s.start)/TickInterval) + 1
	if next <= s.ticks {
		next = s.ticks + 1
	}
	s.ticks = next
	due := s.start.Add(time.Duration(s.ticks) * TickInterval)
	s.tick = s.sched.AfterFunc(due.Sub(s.sched.Now()), s.onTick)
}

func (s *Sampler) onTick() {
	s.tick = nil
	if !s.active {
		return
	}
	s.last = models.MetricsSnapshot{
		ElapsedSeconds:   s.elapsed(),
		CumulativeTokens: s.cumulative,
	}
	s.emit(s.last)
	s.schedule()
}

func (s *Sampler) stopTick() {
	if s.tick != nil {
		s.tick.Stop()
		s.tick = nil
	}
}

func (s *Sampler) elapsed() float64 {
	d := s.sched.Now().Sub(s.start).Seconds()
	if d < 0 {
		return 0
	}
	return d
}

func (s *Sampler) emit(snap models.MetricsSnapshot) {
	if s.onSample != nil {
		s.onSample(snap)
	}
}

func normalize(u models.TokenUsage) models.TokenUsage {
	estimated := u.Estimated
	u = u.Normalize()
	u.Estimated = estimated
	return u
}
