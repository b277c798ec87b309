// Package effect models deferred asynchronous work that may emit actions.
//
// An Effect does nothing until it is executed. Executing it runs its work
// with a context and a send function; the work may call send any number of
// times, from any goroutine, until it returns.
package effect

import (
	"context"
	"sync"

	"github.com/srg/bleflow/internal/groutine"
)

// Send delivers an action produced by an effect. Implementations must be
// safe for concurrent use.
type Send[A any] func(A)

// Effect is a lazily executed unit of asynchronous work producing actions of type A.
// The zero value is the no-op effect.
type Effect[A any] struct {
	run func(ctx context.Context, send Send[A])
}

// None returns an effect that completes immediately without emitting.
func None[A any]() Effect[A] {
	return Effect[A]{}
}

// Just returns an effect that emits the given actions in order.
func Just[A any](actions ...A) Effect[A] {
	if len(actions) == 0 {
		return None[A]()
	}
	return Effect[A]{run: func(ctx context.Context, send Send[A]) {
		for _, a := range actions {
			if ctx.Err() != nil {
				return
			}
			send(a)
		}
	}}
}

// Run wraps fn as an effect. fn should return once ctx is done.
func Run[A any](fn func(ctx context.Context, send Send[A])) Effect[A] {
	return Effect[A]{run: fn}
}

// Task runs fn and emits its result.
func Task[A any](fn func(ctx context.Context) A) Effect[A] {
	return Effect[A]{run: func(ctx context.Context, send Send[A]) {
		a := fn(ctx)
		if ctx.Err() == nil {
			send(a)
		}
	}}
}

// FireAndForget runs fn for its side effects and never emits.
func FireAndForget[A any](fn func(ctx context.Context)) Effect[A] {
	return Effect[A]{run: func(ctx context.Context, _ Send[A]) {
		fn(ctx)
	}}
}

// IsNone reports whether the effect has no work.
func (e Effect[A]) IsNone() bool {
	return e.run == nil
}

// Execute runs the effect and blocks until it completes.
func (e Effect[A]) Execute(ctx context.Context, send Send[A]) {
	if e.run == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	e.run(ctx, send)
}

// Stream executes the effect in the background and returns its actions on a
// channel closed on completion. The producer blocks while the consumer lags;
// actions are dropped once ctx is done.
func (e Effect[A]) Stream(ctx context.Context) <-chan A {
	out := make(chan A)
	groutine.Go(ctx, "effect-stream", func(ctx context.Context) {
		defer close(out)
		e.Execute(ctx, func(a A) {
			select {
			case out <- a:
			case <-ctx.Done():
			}
		})
	})
	return out
}

// Merge runs all effects concurrently and completes when every one has.
func Merge[A any](effects ...Effect[A]) Effect[A] {
	effects = nonEmpty(effects)
	switch len(effects) {
	case 0:
		return None[A]()
	case 1:
		return effects[0]
	}
	return Effect[A]{run: func(ctx context.Context, send Send[A]) {
		var wg sync.WaitGroup
		wg.Add(len(effects))
		for _, eff := range effects {
			groutine.Go(ctx, "effect-merge", func(ctx context.Context) {
				defer wg.Done()
				eff.Execute(ctx, send)
			})
		}
		wg.Wait()
	}}
}

// Concatenate runs effects one after another, stopping early if ctx is done.
func Concatenate[A any](effects ...Effect[A]) Effect[A] {
	effects = nonEmpty(effects)
	switch len(effects) {
	case 0:
		return None[A]()
	case 1:
		return effects[0]
	}
	return Effect[A]{run: func(ctx context.Context, send Send[A]) {
		for _, eff := range effects {
			if ctx.Err() != nil {
				return
			}
			eff.Execute(ctx, send)
		}
	}}
}

// Map transforms every action emitted by e.
func Map[A, B any](e Effect[A], f func(A) B) Effect[B] {
	if e.run == nil {
		return None[B]()
	}
	return Effect[B]{run: func(ctx context.Context, send Send[B]) {
		e.run(ctx, func(a A) { send(f(a)) })
	}}
}

// Filter drops actions for which keep returns false.
func Filter[A any](e Effect[A], keep func(A) bool) Effect[A] {
	if e.run == nil {
		return e
	}
	return Effect[A]{run: func(ctx context.Context, send Send[A]) {
		e.run(ctx, func(a A) {
			if keep(a) {
				send(a)
			}
		})
	}}
}

func nonEmpty[A any](effects []Effect[A]) []Effect[A] {
	out := effects[:0:0]
	for _, e := range effects {
		if e.run != nil {
			out = append(out, e)
		}
	}
	return out
}
