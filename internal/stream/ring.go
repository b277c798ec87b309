// Package stream delivers actions from platform callbacks to consumers
// without ever blocking the producer.
package stream

import (
	"sync"
	"sync/atomic"
)

// Ring is a bounded channel with drop-oldest semantics.
//
// Producers never block: when the buffer is full the oldest element is
// discarded and counted. Consumers read from C() like a normal channel.
//
//	r := stream.NewRing[int](3)
//	for i := 0; i < 10; i++ {
//	    r.Push(i)
//	}
//	r.Close()
//	for v := range r.C() {
//	    fmt.Println(v) // 7, 8, 9
//	}
type Ring[T any] struct {
	mu      sync.Mutex
	ch      chan T
	closed  bool
	metrics Metrics
}

// NewRing creates a Ring with the given capacity.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic("stream: capacity must be > 0")
	}
	return &Ring[T]{ch: make(chan T, capacity)}
}

// C returns the receive side. It is closed by Close.
func (r *Ring[T]) C() <-chan T {
	return r.ch
}

// Push inserts v, discarding the oldest element if the buffer is full.
// Returns true if an element was dropped. Pushing to a closed ring is a no-op.
func (r *Ring[T]) Push(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}

	dropped := false
	select {
	case r.ch <- v:
	default:
		select {
		case <-r.ch:
			atomic.AddInt64(&r.metrics.Overwritten, 1)
			dropped = true
		default:
		}
		r.ch <- v
	}
	atomic.AddInt64(&r.metrics.Written, 1)
	return dropped
}

// TryPush inserts v only if there is room.
func (r *Ring[T]) TryPush(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return false
	}
	select {
	case r.ch <- v:
		atomic.AddInt64(&r.metrics.Written, 1)
		return true
	default:
		return false
	}
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	return len(r.ch)
}

// Cap returns the capacity.
func (r *Ring[T]) Cap() int {
	return cap(r.ch)
}

// Close closes the receive side. Buffered elements remain readable.
func (r *Ring[T]) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.closed {
		r.closed = true
		close(r.ch)
	}
}

// Metrics returns a snapshot of the counters.
func (r *Ring[T]) Metrics() Metrics {
	return Metrics{
		Written:     atomic.LoadInt64(&r.metrics.Written),
		Overwritten: atomic.LoadInt64(&r.metrics.Overwritten),
	}
}

// Metrics counts ring traffic.
type Metrics struct {
	Written     int64
	Overwritten int64
}
