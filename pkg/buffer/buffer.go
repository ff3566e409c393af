package buffer

import (
	"fmt"
	"io"
	"sync"
)

// Buffer is a thread-safe growable FIFO of elements. Producers append with
// Write and consumers remove fixed-size runs from the front with Take.
//
// Write never blocks on the consumer: it appends under a short mutex and
// signals a one-slot notification channel without waiting, which makes it
// usable from audio driver callbacks. Consumers that have nothing to take can
// wait on Notify instead of polling.
//
// CloseWrite ends the stream; data already buffered can still be taken.
type Buffer[T any] struct {
	writeNotify chan struct{}

	mu         sync.Mutex
	closeWrite bool
	buf        []T
}

// N creates a new Buffer with an initial capacity of n elements. The
// capacity is a hint; the buffer grows as needed.
func N[T any](n int) *Buffer[T] {
	return &Buffer[T]{
		writeNotify: make(chan struct{}, 1),
		buf:         make([]T, 0, n),
	}
}

// Write appends all elements of p to the end of the buffer.
// It returns a wrapped io.ErrClosedPipe after CloseWrite.
func (b *Buffer[T]) Write(p []T) (n int, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeWrite {
		return 0, fmt.Errorf("buffer: write to closed buffer: %w", io.ErrClosedPipe)
	}
	b.buf = append(b.buf, p...)
	select {
	case b.writeNotify <- struct{}{}:
	default:
	}
	return len(p), nil
}

// Take removes exactly n elements from the front of the buffer and returns
// them. If fewer than n elements are buffered, Take returns nil and false and
// leaves the buffer untouched.
//
// The returned slice is capped at n so appending to it never writes into
// elements that are still buffered.
func (b *Buffer[T]) Take(n int) ([]T, bool) {
	if n <= 0 {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.buf) < n {
		return nil, false
	}
	out := b.buf[:n:n]
	b.buf = b.buf[n:]
	if len(b.buf) == 0 {
		// Nothing live: drop the consumed backing array on the next append.
		b.buf = nil
	}
	return out, true
}

// Notify returns a channel that receives a value after writes. Several writes
// may coalesce into one notification. The channel is closed once the write
// side is closed.
func (b *Buffer[T]) Notify() <-chan struct{} {
	return b.writeNotify
}

// Len returns the number of buffered elements.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Closed reports whether the write side has been closed.
func (b *Buffer[T]) Closed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closeWrite
}

// CloseWrite closes the write side. Buffered elements can still be taken.
func (b *Buffer[T]) CloseWrite() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closeWrite {
		return nil
	}
	b.closeWrite = true
	close(b.writeNotify)
	return nil
}
