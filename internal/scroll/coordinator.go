package scroll

import (
	"sync"
	"time"

	"waverchat/internal/worker"
)

const (
	// PinThreshold is how close to the bottom still counts as pinned.
	PinThreshold = 50.0
	// SettleDelay debounces scroll events before a settled notification.
	SettleDelay = 150 * time.Millisecond
)

// Viewport is the scrollable message list owned by the renderer.
type Viewport interface {
	ScrollTop() float64
	ScrollHeight() float64
	ClientHeight() float64
	ScrollToBottom()
}

// Coordinator tracks whether the viewport follows the latest message. It
// runs on the scheduler thread.
type Coordinator struct {
	sched   worker.Scheduler
	view    Viewport
	pinned  bool
	settle  *worker.Task
	settled []func(pinned bool)
}

func NewCoordinator(sched worker.Scheduler, view Viewport) *Coordinator {
	return &Coordinator{sched: sched, view: view, pinned: true}
}

// OnSettled registers fn for debounced scroll-settled notifications.
func (c *Coordinator) OnSettled(fn func(pinned bool)) {
	if fn != nil {
		c.settled = append(c.settled, fn)
	}
}

func (c *Coordinator) Pinned() bool {
	return c.pinned
}

// OnContentAppended scrolls to the bottom when forced or already pinned,
// and reports whether it did.
func (c *Coordinator) OnContentAppended(force bool) bool {
	if !force && !c.pinned {
		return false
	}
	c.view.ScrollToBottom()
	c.pinned = true
	return true
}

// OnScroll recomputes pinned state and restarts the settle debounce.
func (c *Coordinator) OnScroll() {
	c.pinned = c.measure()
	if c.settle != nil {
		c.settle.Stop()
	}
	c.settle = c.sched.AfterFunc(SettleDelay, c.fireSettled)
}

// Stop cancels a pending settle notification.
func (c *Coordinator) Stop() {
	if c.settle != nil {
		c.settle.Stop()
		c.settle = nil
	}
}

func (c *Coordinator) fireSettled() {
	c.settle = nil
	c.pinned = c.measure()
	for _, fn := range c.settled {
		fn(c.pinned)
	}
}

func (c *Coordinator) measure() bool {
	distance := c.view.ScrollHeight() - c.view.ScrollTop() - c.view.ClientHeight()
	return distance <= PinThreshold
}

// TrackedViewport mirrors a viewport that lives in another process; the
// renderer reports geometry and receives scroll-to-bottom requests.
type TrackedViewport struct {
	mu       sync.Mutex
	top      float64
	height   float64
	client   float64
	onBottom func()
}

func NewTrackedViewport(onBottom func()) *TrackedViewport {
	return &TrackedViewport{onBottom: onBottom}
}

// Report records the renderer's latest geometry.
func (v *TrackedViewport) Report(top, height, client float64) {
	v.mu.Lock()
	v.top, v.height, v.client = top, height, client
	v.mu.Unlock()
}

func (v *TrackedViewport) ScrollTop() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.top
}

func (v *TrackedViewport) ScrollHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.height
}

func (v *TrackedViewport) ClientHeight() float64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.client
}

// ScrollToBottom assumes the renderer honours the request and asks it to.
func (v *TrackedViewport) ScrollToBottom() {
	v.mu.Lock()
	if v.height > v.client {
		v.top = v.height - v.client
	}
	fn := v.onBottom
	v.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// SetOnScrollToBottom replaces the scroll request hook.
func (v *TrackedViewport) SetOnScrollToBottom(fn func()) {
	v.mu.Lock()
	v.onBottom = fn
	v.mu.Unlock()
}
