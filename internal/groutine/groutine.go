// Package groutine starts goroutines labelled for pprof so that BLE workers
// (operation queues, notification drains, scanners) are identifiable in profiles.
package groutine

import (
	"context"
	"fmt"
	"runtime/pprof"
	"sync"

	"github.com/sirupsen/logrus"
)

type ctxKey string

const goroutineNameKey ctxKey = "goroutine_name"

// Go starts fn on a new goroutine labelled with name.
//
//	groutine.Go(ctx, "op-queue", func(ctx context.Context) {
//	    // work
//	})
//
// If parentCtx is nil, context.Background() is used.
func Go(parentCtx context.Context, name string, fn func(ctx context.Context)) {
	if parentCtx == nil {
		parentCtx = context.Background()
	}

	labels := pprof.Labels("goroutine_name", name)

	go pprof.Do(parentCtx, labels, func(ctx context.Context) {
		ctx = context.WithValue(ctx, goroutineNameKey, name)
		fn(ctx)
	})
}

// GetName retrieves the goroutine name from the context.
func GetName(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if s, ok := ctx.Value(goroutineNameKey).(string); ok {
		return s
	}
	return ""
}

// Group runs named goroutines, recovers their panics and waits for all of them.
type Group struct {
	wg     sync.WaitGroup
	logger *logrus.Logger
}

// NewGroup creates a Group logging recovered panics to logger.
func NewGroup(logger *logrus.Logger) *Group {
	if logger == nil {
		logger = logrus.New()
	}
	return &Group{logger: logger}
}

// Go starts fn as a member of the group.
func (g *Group) Go(ctx context.Context, name string, fn func(ctx context.Context)) {
	g.wg.Add(1)
	Go(ctx, name, func(ctx context.Context) {
		defer g.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				g.logger.WithFields(logrus.Fields{
					"goroutine": name,
					"panic":     fmt.Sprint(r),
				}).Error("Goroutine panicked (recovered)")
			}
		}()
		fn(ctx)
	})
}

// Wait blocks until every goroutine started through the group has returned.
func (g *Group) Wait() {
	g.wg.Wait()
}
