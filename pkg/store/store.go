// Package store is a minimal reducer runtime: it owns a state value, feeds
// actions through a reducer one at a time and executes the effects the
// reducer returns, sending their actions back into itself.
package store

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/sirupsen/logrus"
	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/pkg/effect"
)

// Reducer evolves state for an action and returns follow-up work.
type Reducer[S, A any] func(state *S, action A) effect.Effect[A]

// Store serializes reducer calls. Actions sent while a reducer is running are
// queued and processed in order by the goroutine already draining the queue.
type Store[S, A any] struct {
	reducer Reducer[S, A]
	logger  *logrus.Logger

	mu          sync.Mutex
	state       S
	pending     []A
	draining    bool
	closed      bool
	subscribers []func(S)

	ctx    context.Context
	cancel context.CancelFunc
	group  *groutine.Group
}

// New creates a store. The store's effects run until Close.
func New[S, A any](initial S, reducer Reducer[S, A], logger *logrus.Logger) *Store[S, A] {
	if logger == nil {
		logger = logrus.New()
	}
	ctx, cancel := context.WithCancel(effect.WithCancellation(context.Background()))
	return &Store[S, A]{
		reducer: reducer,
		logger:  logger,
		state:   initial,
		ctx:     ctx,
		cancel:  cancel,
		group:   groutine.NewGroup(logger),
	}
}

// Send feeds an action to the reducer. It is safe to call from effects.
func (s *Store[S, A]) Send(action A) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, action)
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true

	for len(s.pending) > 0 && !s.closed {
		next := s.pending[0]
		s.pending = s.pending[1:]

		s.logger.WithField("action", fmt.Sprintf("%T", next)).Trace("Reducing action")
		eff := s.reducer(&s.state, next)
		snapshot := s.state
		subs := slices.Clone(s.subscribers)
		s.mu.Unlock()

		s.run(eff)
		for _, sub := range subs {
			sub(snapshot)
		}

		s.mu.Lock()
	}
	s.draining = false
	s.mu.Unlock()
}

// run starts eff unless the store is closed. Effects start before subscribers
// see the state they came from, so Close awaits them.
func (s *Store[S, A]) run(eff effect.Effect[A]) {
	if eff.IsNone() {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.group.Go(s.ctx, "store-effect", func(ctx context.Context) {
		eff.Execute(ctx, s.Send)
	})
}

// State returns a copy of the current state.
func (s *Store[S, A]) State() S {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe registers fn to be called with the state after every reduced action.
func (s *Store[S, A]) Subscribe(fn func(S)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscribers = append(s.subscribers, fn)
}

// Close cancels running effects, waits for them and drops further actions.
func (s *Store[S, A]) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.pending = nil
	s.mu.Unlock()

	s.cancel()
	s.group.Wait()
}

// Done is closed when the store is closed.
func (s *Store[S, A]) Done() <-chan struct{} {
	return s.ctx.Done()
}
