// Package segment assembles a continuous sample stream into fixed-length
// segments.
//
// A capture callback pushes samples of arbitrary length at irregular times;
// the processing loop drains exactly one segment at a time in arrival order.
// Push never blocks on the consumer and never performs I/O.
package segment

import (
	"errors"
	"fmt"
	"math"

	"github.com/LCH-chanho/ECHO/pkg/buffer"
)

// ErrClosed is returned by Push after Close.
var ErrClosed = errors.New("segment: buffer closed")

// Samples returns the segment length in samples for a duration in seconds
// at the given rate: round(seconds * rate).
func Samples(seconds float64, rate int) int {
	return int(math.Round(seconds * float64(rate)))
}

// Buffer accumulates samples and yields segments of a fixed length.
type Buffer struct {
	size int
	buf  *buffer.Buffer[float32]
}

// New creates a Buffer yielding segments of size samples.
func New(size int) (*Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("segment: invalid size %d", size)
	}
	return &Buffer{
		size: size,
		buf:  buffer.N[float32](2 * size),
	}, nil
}

// Size returns the segment length in samples.
func (b *Buffer) Size() int { return b.size }

// Push appends samples to the tail. The slice is copied; the caller may
// reuse it immediately. Safe to call concurrently with Drain.
func (b *Buffer) Push(samples []float32) error {
	if len(samples) == 0 {
		return nil
	}
	if _, err := b.buf.Write(samples); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return nil
}

// Drain removes and returns exactly Size() samples from the head. It returns
// nil and false, leaving the buffer untouched, when fewer are buffered.
func (b *Buffer) Drain() ([]float32, bool) {
	return b.buf.Take(b.size)
}

// Ready returns a channel signalled after pushes. It is closed by Close.
func (b *Buffer) Ready() <-chan struct{} {
	return b.buf.Notify()
}

// Len returns the number of buffered samples.
func (b *Buffer) Len() int {
	return b.buf.Len()
}

// Closed reports whether Close has been called.
func (b *Buffer) Closed() bool {
	return b.buf.Closed()
}

// Close rejects further pushes. Whole segments already buffered can still
// be drained.
func (b *Buffer) Close() error {
	return b.buf.CloseWrite()
}
