package main

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/srg/bleflow/internal/groutine"
)

const (
	progressUpdateInterval = 100 * time.Millisecond
	clearLineSequence      = "\r\033[K"
)

// progress shows what a command is waiting for with elapsed or remaining
// seconds. It writes nothing unless w is a terminal.
//
// A progress is single-use: Start once, Stop at least once.
type progress struct {
	w        io.Writer
	prefix   string
	duration time.Duration // countdown when positive

	mu      sync.Mutex
	phase   string
	started time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

func newProgress(w io.Writer, prefix, phase string) *progress {
	return &progress{w: w, prefix: prefix, phase: phase}
}

func newCountdown(w io.Writer, prefix, phase string, duration time.Duration) *progress {
	return &progress{w: w, prefix: prefix, phase: phase, duration: duration}
}

// Start begins redrawing the line in the background.
func (p *progress) Start() {
	if !isTerminal(p.w) {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.started = time.Now()
	p.draw(p.phase, 0)

	groutine.Go(ctx, "progress", func(ctx context.Context) {
		defer close(p.done)
		ticker := time.NewTicker(progressUpdateInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.mu.Lock()
				p.draw(p.phase, p.seconds())
				p.mu.Unlock()
			}
		}
	})
}

// SetPhase changes the label shown in parentheses.
func (p *progress) SetPhase(phase string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// Stop ends the redraw loop and clears the line.
func (p *progress) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = func() {}, nil
	p.mu.Unlock()

	if cancel == nil || done == nil {
		return
	}
	cancel()
	<-done
	fmt.Fprint(p.w, clearLineSequence)
}

func (p *progress) seconds() int {
	elapsed := time.Since(p.started)
	if p.duration <= 0 {
		return int(elapsed.Seconds())
	}
	remaining := p.duration - elapsed
	if remaining <= 0 {
		return 0
	}
	// Round to the nearest second
	return int(remaining.Seconds() + 0.5)
}

func (p *progress) draw(phase string, seconds int) {
	if seconds > 0 {
		fmt.Fprintf(p.w, "\r%s (%s %ds)   ", p.prefix, phase, seconds)
	} else {
		fmt.Fprintf(p.w, "\r%s (%s...)   ", p.prefix, phase)
	}
}
