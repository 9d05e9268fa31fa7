package core

import (
	"sync"
)

const (
	defaultQueueCap     = 16
	compactMinCap       = 64 // don't bother shrinking below this capacity
	compactShrinkFactor = 4
)

// taskQueue is a closable multi-producer/multi-consumer FIFO. Pushes wake a
// blocked consumer through the signal channel; Close discards everything
// still queued and wakes every consumer so workers can observe shutdown
// between iterations.
type taskQueue struct {
	mu     sync.Mutex
	tasks  []*Task
	closed bool

	signal chan struct{}
	done   chan struct{}
}

func newTaskQueue(workerHint int) *taskQueue {
	if workerHint < 1 {
		workerHint = 1
	}
	return &taskQueue{
		tasks:  make([]*Task, 0, defaultQueueCap),
		signal: make(chan struct{}, workerHint*2),
		done:   make(chan struct{}),
	}
}

// Push enqueues t. It reports false once the queue is closed.
func (q *taskQueue) Push(t *Task) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.tasks = append(q.tasks, t)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
		// Signal channel full; a consumer is already awake.
	}
	return true
}

// Pop removes the oldest task without blocking.
func (q *taskQueue) Pop() (*Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || len(q.tasks) == 0 {
		return nil, false
	}

	t := q.tasks[0]
	q.tasks[0] = nil // release the reference held by the backing array
	q.tasks = q.tasks[1:]
	q.maybeCompactLocked()
	return t, true
}

// Get blocks until a task is available, the queue is closed, or stop fires.
func (q *taskQueue) Get(stop <-chan struct{}) (*Task, bool) {
	for {
		if t, ok := q.Pop(); ok {
			return t, true
		}

		select {
		case <-q.signal:
		case <-q.done:
			return nil, false
		case <-stop:
			return nil, false
		}
	}
}

// Len returns the current backlog depth.
func (q *taskQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Close marks the queue closed and discards not-yet-dequeued tasks. Safe to
// call more than once.
func (q *taskQueue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.tasks = nil
	q.mu.Unlock()

	close(q.done)
}

func (q *taskQueue) maybeCompactLocked() {
	n := len(q.tasks)
	c := cap(q.tasks)

	if c < compactMinCap || n*compactShrinkFactor >= c {
		return
	}

	fresh := make([]*Task, n, max(c/2, defaultQueueCap))
	copy(fresh, q.tasks)
	q.tasks = fresh
}
