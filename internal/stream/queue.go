// Package stream moves items from one producer goroutine to one consumer
// through a bounded queue.
//
// Producers never block: when the queue is full the newest item is dropped.
// Consumers drain in batches with DrainAll, which blocks for the first item
// and then takes whatever else is already queued.
package stream

import (
	"context"
	"sync/atomic"
)

// DefaultCapacity is the queue size used when none is configured.
const DefaultCapacity = 400

// Queue is a fixed-capacity FIFO. It is safe for one producer and one
// consumer to use concurrently.
type Queue[T any] struct {
	ch chan T

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// Stats is a snapshot of queue counters.
type Stats struct {
	// Pushed is the number of items accepted by TryPush
	Pushed uint64

	// Dropped is the number of items rejected because the queue was full
	Dropped uint64
}

// NewQueue returns a queue holding at most capacity items.
// A non-positive capacity selects DefaultCapacity.
func NewQueue[T any](capacity int) *Queue[T] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue[T]{ch: make(chan T, capacity)}
}

// TryPush enqueues v without blocking. It returns false, leaving the queue
// untouched, if the queue is full. The caller keeps ownership of a rejected v.
func (q *Queue[T]) TryPush(v T) bool {
	select {
	case q.ch <- v:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Pop blocks until an item is available or ctx is done.
func (q *Queue[T]) Pop(ctx context.Context) (T, error) {
	select {
	case v := <-q.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryPop dequeues one item without blocking.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// DrainAll blocks for one item, then takes every item already queued.
// The batch is in FIFO order. It returns ctx.Err() only if ctx ends before
// the first item arrives.
func (q *Queue[T]) DrainAll(ctx context.Context) ([]T, error) {
	first, err := q.Pop(ctx)
	if err != nil {
		return nil, err
	}

	batch := make([]T, 1, 1+len(q.ch))
	batch[0] = first
	for {
		v, ok := q.TryPop()
		if !ok {
			return batch, nil
		}
		batch = append(batch, v)
	}
}

// Len returns the number of queued items.
func (q *Queue[T]) Len() int {
	return len(q.ch)
}

// Cap returns the queue capacity.
func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

// Stats returns the current counters.
func (q *Queue[T]) Stats() Stats {
	return Stats{
		Pushed:  q.pushed.Load(),
		Dropped: q.dropped.Load(),
	}
}
