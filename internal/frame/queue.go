package frame

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

type DropPolicy int

const (
	// DropNewest rejects the incoming item when the queue is full.
	DropNewest DropPolicy = iota
	// DropOldest evicts the head of the queue to make room for the incoming item.
	DropOldest
)

func ParseDropPolicy(s string) (DropPolicy, error) {
	switch s {
	case "", "newest":
		return DropNewest, nil
	case "oldest":
		return DropOldest, nil
	default:
		return DropNewest, fmt.Errorf("unknown drop policy %q", s)
	}
}

func (p DropPolicy) String() string {
	if p == DropOldest {
		return "oldest"
	}
	return "newest"
}

// Queue is a fixed capacity FIFO whose producers never block.
type Queue[T any] struct {
	ch      chan T
	policy  DropPolicy
	pushMu  sync.Mutex
	dropped atomic.Uint64
}

func NewQueue[T any](capacity int, policy DropPolicy) *Queue[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue[T]{
		ch:     make(chan T, capacity),
		policy: policy,
	}
}

// TryPush enqueues v without blocking. It reports whether v was accepted;
// under DropOldest v is always accepted and the evicted head is counted as
// dropped instead.
func (q *Queue[T]) TryPush(v T) bool {
	if q.policy == DropNewest {
		select {
		case q.ch <- v:
			return true
		default:
			q.dropped.Add(1)
			return false
		}
	}

	// evict-and-insert must not interleave with another producer
	q.pushMu.Lock()
	defer q.pushMu.Unlock()
	for {
		select {
		case q.ch <- v:
			return true
		default:
		}
		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// TryPop dequeues without blocking. ok is false when the queue is empty.
func (q *Queue[T]) TryPop() (v T, ok bool) {
	select {
	case v = <-q.ch:
		return v, true
	default:
		return v, false
	}
}

// Pop waits up to timeout for an item. ok is false on timeout or when ctx is
// done.
func (q *Queue[T]) Pop(ctx context.Context, timeout time.Duration) (v T, ok bool) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case v = <-q.ch:
		return v, true
	case <-ctx.Done():
		return v, false
	case <-timer.C:
		return v, false
	}
}

// Next blocks until an item is available or ctx is done.
func (q *Queue[T]) Next(ctx context.Context) (v T, err error) {
	select {
	case v = <-q.ch:
		return v, nil
	case <-ctx.Done():
		return v, ctx.Err()
	}
}

// Drain removes every queued item and returns how many were discarded.
func (q *Queue[T]) Drain() int {
	n := 0
	for {
		select {
		case <-q.ch:
			n++
		default:
			return n
		}
	}
}

func (q *Queue[T]) Len() int {
	return len(q.ch)
}

func (q *Queue[T]) Cap() int {
	return cap(q.ch)
}

func (q *Queue[T]) Dropped() uint64 {
	return q.dropped.Load()
}

func (q *Queue[T]) Policy() DropPolicy {
	return q.policy
}
