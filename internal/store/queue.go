package store

import (
	"sync"
)

// compactAfter is how many consumed slots the queue tolerates at the front
// of its slice before it shifts the pending actions down.
const compactAfter = 64

// Queue is the unbounded FIFO between Dispatch and the Run loop. Push never
// blocks, so middleware can dispatch while the loop is busy running an
// earlier action.
type Queue[T any] struct {
	mu       sync.Mutex
	nonEmpty *sync.Cond
	items    []T
	next     int // index of the oldest pending item
	closed   bool

	highWater int
}

// NewQueue creates a queue sized for hint pending items.
func NewQueue[T any](hint int) *Queue[T] {
	if hint < 0 {
		hint = 0
	}
	q := &Queue[T]{items: make([]T, 0, hint)}
	q.nonEmpty = sync.NewCond(&q.mu)
	return q
}

// Push appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Push(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, item)
	if depth := len(q.items) - q.next; depth > q.highWater {
		q.highWater = depth
	}
	q.nonEmpty.Signal()
	return true
}

// Pop removes and returns the oldest item, blocking until one is available.
// After Close, pending items are still returned; the second result is
// false once the queue is closed and empty.
func (q *Queue[T]) Pop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.pendingLocked() == 0 && !q.closed {
		q.nonEmpty.Wait()
	}
	return q.shiftLocked()
}

// TryPop returns the oldest item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.shiftLocked()
}

// Close stops accepting items and wakes all waiters.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.nonEmpty.Broadcast()
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked()
}

// QueueStats describes the backlog between Dispatch and the Run loop.
type QueueStats struct {
	Depth     int // Actions waiting to be processed
	HighWater int // Largest backlog observed
}

// Stats returns the current backlog.
func (q *Queue[T]) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Depth:     q.pendingLocked(),
		HighWater: q.highWater,
	}
}

func (q *Queue[T]) pendingLocked() int {
	return len(q.items) - q.next
}

// shiftLocked takes the oldest pending item. Must be called with mu held.
func (q *Queue[T]) shiftLocked() (T, bool) {
	var zero T
	if q.pendingLocked() == 0 {
		return zero, false
	}

	item := q.items[q.next]
	q.items[q.next] = zero
	q.next++

	switch {
	case q.next == len(q.items):
		// Drained: reuse the backing array from the start.
		q.items = q.items[:0]
		q.next = 0
	case q.next >= compactAfter && q.next*2 >= len(q.items):
		n := copy(q.items, q.items[q.next:])
		clear(q.items[n:])
		q.items = q.items[:n]
		q.next = 0
	}
	return item, true
}
