package session

import (
	"context"
	"sync/atomic"

	"github.com/hedzr/go-ringbuf/v2/mpmc"
	"github.com/sirupsen/logrus"

	"github.com/srg/bleflow/internal/groutine"
	"github.com/srg/bleflow/pkg/bluetooth"
)

// notification is a value pushed by the peripheral for one characteristic.
type notification struct {
	service        bluetooth.UUID
	characteristic bluetooth.UUID
	data           []byte
}

// demux moves notifications off platform goroutines.
//
// push never blocks: values land in an overlapped ring that drops the oldest
// entry when full. A single named goroutine drains the ring and delivers
// values in arrival order.
type demux struct {
	peripheral string
	buffer     mpmc.RichOverlappedRingBuffer[notification]
	signal     chan struct{}
	deliver    func(notification)
	logger     *logrus.Logger

	received    atomic.Uint64
	overwritten atomic.Uint64
	done        chan struct{}
}

func newDemux(peripheral string, size uint32, deliver func(notification), logger *logrus.Logger) *demux {
	return &demux{
		peripheral: peripheral,
		buffer:     mpmc.NewOverlappedRingBuffer[notification](size),
		signal:     make(chan struct{}, 1),
		deliver:    deliver,
		logger:     logger,
		done:       make(chan struct{}),
	}
}

// start launches the drain goroutine; it stops when ctx is done.
func (d *demux) start(ctx context.Context) {
	groutine.Go(ctx, "notification-demux-"+d.peripheral, d.loop)
}

// push enqueues a notification. The data slice is copied.
func (d *demux) push(service, characteristic bluetooth.UUID, data []byte) {
	n := notification{
		service:        service,
		characteristic: characteristic,
		data:           append([]byte(nil), data...),
	}

	d.received.Add(1)
	overwrites, err := d.buffer.EnqueueM(n)
	if err != nil {
		d.logger.WithFields(logrus.Fields{
			"peripheral": d.peripheral,
			"error":      err,
		}).Error("Failed to buffer notification")
		return
	}
	if overwrites > 0 {
		total := d.overwritten.Add(uint64(overwrites))
		d.logger.WithFields(logrus.Fields{
			"peripheral":  d.peripheral,
			"overwritten": total,
		}).Warn("Notification buffer full, dropped oldest notification")
	}

	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// stats returns how many notifications were received and how many were dropped.
func (d *demux) stats() (received, overwritten uint64) {
	return d.received.Load(), d.overwritten.Load()
}

func (d *demux) loop(ctx context.Context) {
	defer close(d.done)

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.signal:
			d.drain(ctx)
		}
	}
}

func (d *demux) drain(ctx context.Context) {
	for !d.buffer.IsEmpty() {
		if ctx.Err() != nil {
			return
		}
		n, err := d.buffer.Dequeue()
		if err != nil {
			return
		}
		d.deliver(n)
	}
}
