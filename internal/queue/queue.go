// Package queue provides the unbounded FIFO that feeds the engine's executor
// and the journal writer.
package queue

import "sync"

// FIFO is a thread-safe, unbounded first-in first-out queue.
//
// Producers never block, so a consumer that is itself a producer for another
// FIFO cannot deadlock against it.
//
// The queue uses a channel for signaling to enable context-aware waiting in
// consumer loops:
//
//	for {
//	    for v, ok := q.TryDequeue(); ok; v, ok = q.TryDequeue() {
//	        handle(v)
//	    }
//	    if q.Drained() {
//	        return
//	    }
//	    select {
//	    case <-ctx.Done():
//	        return
//	    case <-q.Wait():
//	    }
//	}
type FIFO[T any] struct {
	mu     sync.Mutex
	items  []T
	closed bool
	signal chan struct{} // buffered, size 1
}

// New creates an empty queue with room for capacity items before the first
// reallocation.
func New[T any](capacity int) *FIFO[T] {
	if capacity <= 0 {
		capacity = 64
	}
	return &FIFO[T]{
		items:  make([]T, 0, capacity),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds v to the back of the queue.
// Returns false if the queue is closed.
func (q *FIFO[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.items = append(q.items, v)

	// Non-blocking: the buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// TryDequeue removes and returns the front item without blocking.
func (q *FIFO[T]) TryDequeue() (T, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	v := q.items[0]

	// Clear the slot so the backing array does not retain v.
	q.items[0] = zero

	if len(q.items) == 1 {
		q.items = q.items[:0]
	} else {
		q.items = q.items[1:]
	}

	return v, true
}

// Wait returns a channel that signals when items may be available.
// After Close the channel is closed and always ready.
func (q *FIFO[T]) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *FIFO[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Close signals that no more items will be enqueued. Items already queued
// can still be dequeued.
func (q *FIFO[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal)
}

// Drained reports whether the queue is closed and empty.
func (q *FIFO[T]) Drained() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed && len(q.items) == 0
}
