package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/smallnest/ringbuffer"

	"github.com/srg/bleflow/pkg/bluetooth"
)

// ChunkWriter is an io.WriteCloser over one characteristic.
//
// Bytes are buffered in a ring and written through the session queue in
// chunks of MaximumWriteValueLength. Write blocks until every full chunk it
// produced was written; Flush and Close send the remainder. Chunk writes are
// not reported to the delegate.
type ChunkWriter struct {
	s     *Session
	char  bluetooth.Characteristic
	wtype bluetooth.WriteType

	mu     sync.Mutex
	buf    *ringbuffer.RingBuffer
	chunk  []byte
	closed bool
}

// NewChunkWriter returns a writer for c. capacity bounds the bytes buffered
// between chunk writes and is raised to at least one chunk.
func (s *Session) NewChunkWriter(c bluetooth.Characteristic, t bluetooth.WriteType, capacity int) *ChunkWriter {
	size := s.MaximumWriteValueLength(t)
	if capacity < size {
		capacity = size
	}
	return &ChunkWriter{
		s:     s,
		char:  c,
		wtype: t,
		buf:   ringbuffer.New(capacity),
		chunk: make([]byte, size),
	}
}

// Write buffers p, sending every complete chunk.
func (w *ChunkWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return 0, errors.New("chunk writer is closed")
	}

	written := 0
	for written < len(p) {
		n, err := w.buf.Write(p[written:])
		written += n
		if err != nil && !errors.Is(err, ringbuffer.ErrIsFull) {
			return written, err
		}
		for w.buf.Length() >= len(w.chunk) {
			if err := w.sendLocked(len(w.chunk)); err != nil {
				return written, err
			}
		}
	}
	return written, nil
}

// Flush sends whatever is buffered, in as many chunks as needed.
func (w *ChunkWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *ChunkWriter) flushLocked() error {
	for !w.buf.IsEmpty() {
		if err := w.sendLocked(len(w.chunk)); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and rejects further writes.
func (w *ChunkWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	return w.flushLocked()
}

func (w *ChunkWriter) sendLocked(max int) error {
	n, err := w.buf.TryRead(w.chunk[:max])
	if err != nil && !errors.Is(err, ringbuffer.ErrIsEmpty) {
		return fmt.Errorf("failed to read buffered data: %w", err)
	}
	if n == 0 {
		return nil
	}

	data := append([]byte(nil), w.chunk[:n]...)
	result := make(chan *bluetooth.Error, 1)
	w.s.writeCharacteristic(data, w.char, w.wtype, func(err *bluetooth.Error) {
		result <- err
	})
	if err := <-result; err != nil {
		return err
	}
	return nil
}
