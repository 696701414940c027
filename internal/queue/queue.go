// Package queue implements the unbounded FIFO work queue feeding background
// workers. Push never blocks the producer.
package queue

import "sync"

// Queue is an unbounded FIFO with a readiness signal.
type Queue[T any] struct {
	mu    sync.Mutex
	items []T
	ready chan struct{} // capacity 1: "there may be items"
}

// New returns an empty queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{ready: make(chan struct{}, 1)}
}

// Push appends x and signals Ready.
func (q *Queue[T]) Push(x T) {
	q.mu.Lock()
	q.items = append(q.items, x)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Ready fires after at least one Push since the last receive.
func (q *Queue[T]) Ready() <-chan struct{} { return q.ready }

// Drain removes and returns all queued items in FIFO order.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
