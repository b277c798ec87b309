package effect

import (
	"context"
	"sync"
)

type registryKey struct{}

// registry tracks in-flight cancellable effects by identifier.
type registry struct {
	mu      sync.Mutex
	next    uint64
	entries map[any]map[uint64]context.CancelFunc
}

// WithCancellation returns a context carrying a cancellation scope. Effects
// made Cancellable and Cancel effects executed under the same scope see each other.
func WithCancellation(ctx context.Context) context.Context {
	return context.WithValue(ctx, registryKey{}, &registry{entries: make(map[any]map[uint64]context.CancelFunc)})
}

func registryFrom(ctx context.Context) *registry {
	r, _ := ctx.Value(registryKey{}).(*registry)
	return r
}

func (r *registry) add(id any, cancel context.CancelFunc, cancelInFlight bool) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cancelInFlight {
		for _, c := range r.entries[id] {
			c()
		}
		delete(r.entries, id)
	}

	r.next++
	token := r.next
	if r.entries[id] == nil {
		r.entries[id] = make(map[uint64]context.CancelFunc)
	}
	r.entries[id][token] = cancel
	return token
}

func (r *registry) remove(id any, token uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if set, ok := r.entries[id]; ok {
		delete(set, token)
		if len(set) == 0 {
			delete(r.entries, id)
		}
	}
}

func (r *registry) cancel(id any) int {
	r.mu.Lock()
	set := r.entries[id]
	delete(r.entries, id)
	r.mu.Unlock()

	for _, c := range set {
		c()
	}
	return len(set)
}

// Cancellable marks e as cancellable under id. With cancelInFlight, starting
// it cancels any effect already running under the same id.
func (e Effect[A]) Cancellable(id any, cancelInFlight bool) Effect[A] {
	if e.run == nil {
		return e
	}
	return Effect[A]{run: func(ctx context.Context, send Send[A]) {
		r := registryFrom(ctx)
		if r == nil {
			e.run(ctx, send)
			return
		}
		child, cancel := context.WithCancel(ctx)
		token := r.add(id, cancel, cancelInFlight)
		defer func() {
			r.remove(id, token)
			cancel()
		}()
		e.run(child, func(a A) {
			if child.Err() == nil {
				send(a)
			}
		})
	}}
}

// Cancel returns an effect that cancels every running effect registered under id.
func Cancel[A any](id any) Effect[A] {
	return Effect[A]{run: func(ctx context.Context, _ Send[A]) {
		if r := registryFrom(ctx); r != nil {
			r.cancel(id)
		}
	}}
}
