package worker

import (
	"container/heap"
	"errors"
	"sync"
	"time"
)

// ErrStopped is returned when work is handed to a stopped Loop.
var ErrStopped = errors.New("worker loop stopped")

// Scheduler runs callbacks on a single logical thread. Every callback handed
// to AfterFunc or Post runs on that thread, never concurrently with another.
type Scheduler interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) *Task
	Post(fn func())
}

// Executor is a Scheduler that can also run fn synchronously on its thread.
type Executor interface {
	Scheduler
	Call(fn func()) error
}

// Task is a cancellable scheduled callback.
type Task struct {
	when  time.Time
	seq   uint64
	fn    func()
	index int
	queue *timerQueue
}

// Stop cancels the task. It reports false if the task already ran or was
// stopped before.
func (t *Task) Stop() bool {
	if t == nil || t.queue == nil {
		return false
	}
	return t.queue.remove(t)
}

// When returns the instant the task is due.
func (t *Task) When() time.Time {
	return t.when
}

// timerQueue is a deadline-ordered heap; ties run in scheduling order.
type timerQueue struct {
	mu    sync.Mutex
	items taskHeap
	seq   uint64
}

func (q *timerQueue) add(when time.Time, fn func()) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	t := &Task{when: when, seq: q.seq, fn: fn, queue: q}
	heap.Push(&q.items, t)
	return t
}

func (q *timerQueue) remove(t *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if t.index < 0 || t.index >= len(q.items) || q.items[t.index] != t {
		return false
	}
	heap.Remove(&q.items, t.index)
	t.index = -1
	return true
}

// popDue removes and returns the earliest task due at or before now.
func (q *timerQueue) popDue(now time.Time) *Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 || q.items[0].when.After(now) {
		return nil
	}
	t := heap.Pop(&q.items).(*Task)
	t.index = -1
	return t
}

func (q *timerQueue) next() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return time.Time{}, false
	}
	return q.items[0].when, true
}

func (q *timerQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

type taskHeap []*Task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].when.Equal(h[j].when) {
		return h[i].seq < h[j].seq
	}
	return h[i].when.Before(h[j].when)
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}
