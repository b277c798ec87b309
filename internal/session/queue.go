package session

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/internal/tracing"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// op is one queued ATT operation.
// run performs the blocking platform call; done reports the outcome exactly once.
type op struct {
	name  string
	attrs []attribute.KeyValue
	run   func(ctx context.Context) error
	done  func(err *bluetooth.Error)
}

// opQueue runs the operations of one link strictly one at a time, in order.
//
// A link allows a single outstanding ATT transaction. When an operation
// times out the worker reports connectionTimeout but still waits for the
// platform call to return before starting the next one, so operations never
// overlap. Closing the queue fails everything pending with the close reason.
type opQueue struct {
	peripheral string
	timeout    time.Duration
	logger     *logrus.Logger

	mu     sync.RWMutex
	ops    chan *op
	closed chan struct{}
	reason *bluetooth.Error
	done   chan struct{}
}

func newOpQueue(peripheral string, size int, timeout time.Duration, logger *logrus.Logger) *opQueue {
	return &opQueue{
		peripheral: peripheral,
		timeout:    timeout,
		logger:     logger,
		ops:        make(chan *op, size),
		closed:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// start launches the worker goroutine.
func (q *opQueue) start(ctx context.Context) {
	groutine.Go(ctx, "gatt-queue-"+q.peripheral, q.loop)
}

// enqueue schedules o. A closed or full queue completes o immediately.
func (q *opQueue) enqueue(o *op) {
	q.mu.RLock()
	if q.reason != nil {
		reason := q.reason
		q.mu.RUnlock()
		o.done(reason)
		return
	}

	select {
	case q.ops <- o:
		q.mu.RUnlock()
	default:
		q.mu.RUnlock()
		q.logger.WithFields(logrus.Fields{
			"peripheral": q.peripheral,
			"op":         o.name,
			"queue_size": cap(q.ops),
		}).Warn("Operation queue full, rejecting operation")
		o.done(bluetooth.NewKnownError(bluetooth.CodeOutOfSpace, "operation queue for %s is full", q.peripheral))
	}
}

// close fails pending and future operations with reason. Only the first call has effect.
func (q *opQueue) close(reason *bluetooth.Error) {
	q.mu.Lock()
	if q.reason != nil {
		q.mu.Unlock()
		return
	}
	q.reason = reason
	close(q.closed)
	q.mu.Unlock()
}

// wait blocks until the worker has exited.
func (q *opQueue) wait() {
	<-q.done
}

func (q *opQueue) loop(ctx context.Context) {
	defer close(q.done)

	for {
		select {
		case <-q.closed:
			q.drain()
			return
		case <-ctx.Done():
			q.close(bluetooth.NewError(ctx.Err()))
			q.drain()
			return
		case o := <-q.ops:
			if err := q.closedReason(); err != nil {
				o.done(err)
				continue
			}
			q.execute(ctx, o)
		}
	}
}

func (q *opQueue) closedReason() *bluetooth.Error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.reason
}

func (q *opQueue) drain() {
	reason := q.closedReason()
	for {
		select {
		case o := <-q.ops:
			o.done(reason)
		default:
			return
		}
	}
}

func (q *opQueue) execute(ctx context.Context, o *op) {
	attrs := append([]attribute.KeyValue{tracing.Peripheral(q.peripheral)}, o.attrs...)
	spanCtx, span := tracing.StartSpan(ctx, "session."+o.name, attrs...)

	opCtx, cancel := context.WithTimeout(spanCtx, q.timeout)
	defer cancel()

	result := make(chan error, 1)
	groutine.Go(opCtx, "gatt-op-"+o.name, func(ctx context.Context) {
		result <- o.run(ctx)
	})

	logger := q.logger.WithFields(logrus.Fields{
		"peripheral": q.peripheral,
		"op":         o.name,
	})

	var err *bluetooth.Error
	select {
	case runErr := <-result:
		err = bluetooth.NewError(runErr)
	case <-opCtx.Done():
		if reason := q.closedReason(); reason != nil {
			err = reason
			break
		}
		err = bluetooth.NewKnownError(bluetooth.CodeConnectionTimeout, "%s timed out after %s", o.name, q.timeout)
		logger.WithField("timeout", q.timeout).Warn("Operation timed out, waiting for the link to release it")
		select {
		case <-result:
		case <-q.closed:
		}
	case <-q.closed:
		err = q.closedReason()
	}

	if err != nil {
		logger.WithField("error", err).Debug("Operation failed")
		tracing.End(span, err)
	} else {
		logger.Debug("Operation completed")
		tracing.End(span, nil)
	}
	o.done(err)
}
