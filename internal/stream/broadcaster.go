package stream

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Subscription is one consumer of a Broadcaster.
type Subscription[T any] struct {
	ring *Ring[T]
	b    *Broadcaster[T]
	id   uint64
}

// C returns the subscription's channel; it is closed on Cancel or when the
// broadcaster closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ring.C()
}

// Cancel detaches the subscription.
func (s *Subscription[T]) Cancel() {
	s.b.remove(s.id)
}

// Dropped returns how many values were discarded because the consumer lagged.
func (s *Subscription[T]) Dropped() int64 {
	return s.ring.Metrics().Overwritten
}

// Broadcaster fans values out to every subscriber. Each subscriber has its
// own drop-oldest ring so a slow consumer never stalls the others.
type Broadcaster[T any] struct {
	mu       sync.RWMutex
	subs     map[uint64]*Ring[T]
	next     uint64
	capacity int
	closed   bool
	logger   *logrus.Logger
	name     string
}

// NewBroadcaster creates a broadcaster whose subscribers buffer up to capacity values.
func NewBroadcaster[T any](name string, capacity int, logger *logrus.Logger) *Broadcaster[T] {
	if logger == nil {
		logger = logrus.New()
	}
	return &Broadcaster[T]{
		subs:     make(map[uint64]*Ring[T]),
		capacity: capacity,
		logger:   logger,
		name:     name,
	}
}

// Subscribe attaches a new consumer. Values published before the call are not delivered.
// Subscribing to a closed broadcaster returns an already closed subscription.
func (b *Broadcaster[T]) Subscribe() *Subscription[T] {
	ring := NewRing[T](b.capacity)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &Subscription[T]{ring: ring, b: b, id: b.next}
	if b.closed {
		ring.Close()
		return sub
	}
	b.subs[sub.id] = ring
	return sub
}

// Publish delivers v to every subscriber.
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for id, ring := range b.subs {
		if ring.Push(v) {
			b.logger.WithFields(logrus.Fields{
				"stream":       b.name,
				"subscriber":   id,
				"overwritten":  ring.Metrics().Overwritten,
				"buffer_limit": ring.Cap(),
			}).Warn("Subscriber lagging, dropped oldest value")
		}
	}
}

// Len returns the number of active subscribers.
func (b *Broadcaster[T]) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *Broadcaster[T]) remove(id uint64) {
	b.mu.Lock()
	ring, ok := b.subs[id]
	delete(b.subs, id)
	b.mu.Unlock()

	if ok {
		ring.Close()
	}
}

// Close closes every subscription and rejects new ones.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ring := range b.subs {
		ring.Close()
		delete(b.subs, id)
	}
}
