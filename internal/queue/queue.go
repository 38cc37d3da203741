// Package queue provides the bounded single-producer/single-consumer
// transfer queue between the acquisition and persistence contexts.
//
// Push never blocks: when the queue is full the newest item is dropped and
// counted. Items already queued are never displaced.
package queue

import (
	"errors"
	"fmt"
	"sync/atomic"
)

var ErrCapacity = errors.New("queue: capacity must be > 0")

type Queue[T any] struct {
	ch chan T

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

func New[T any](capacity int) (*Queue[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w (got %d)", ErrCapacity, capacity)
	}
	return &Queue[T]{ch: make(chan T, capacity)}, nil
}

// TryPush enqueues v, or drops it when the queue is full. Only one goroutine
// may push.
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

// TryPop dequeues the oldest item without blocking. Only one goroutine may pop.
func (q *Queue[T]) TryPop() (T, bool) {
	select {
	case v := <-q.ch:
		return v, true
	default:
		var zero T
		return zero, false
	}
}

// C exposes the receive side so the consumer can block on activity.
func (q *Queue[T]) C() <-chan T { return q.ch }

func (q *Queue[T]) Len() int { return len(q.ch) }

func (q *Queue[T]) Cap() int { return cap(q.ch) }

func (q *Queue[T]) Pushed() uint64 { return q.pushed.Load() }

func (q *Queue[T]) Dropped() uint64 { return q.dropped.Load() }
