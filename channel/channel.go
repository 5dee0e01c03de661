// Package channel provides the bounded FIFO transport that connects pipeline
// stages.
//
// A Channel has one logical writer and one logical reader. The writer ends
// the stream with Close; buffered items are still delivered, after which
// Receive reports end-of-stream. The reader can walk away with Abandon, which
// makes every pending and future Send fail with ErrClosed so the writer
// learns to stop producing.
package channel

import (
	"context"
	"sync"

	apperrors "github.com/kbukum/stagekit/errors"
)

// ErrClosed is returned by Send once the channel was closed by its writer or
// abandoned by its reader. Match it with errors.Is.
var ErrClosed = apperrors.ChannelClosed()

// Channel is a bounded FIFO queue with explicit writer-close and
// reader-abandon. Capacity 0 makes every Send a synchronous hand-off.
type Channel[T any] struct {
	ch      chan T
	closing chan struct{}
	gone    chan struct{}

	// mu keeps close(ch) from racing a Send that has already passed its
	// closed check: senders hold the read lock, Close takes the write lock.
	mu          sync.RWMutex
	closeOnce   sync.Once
	abandonOnce sync.Once
}

// New creates a channel holding at most capacity buffered items.
// A negative capacity panics, as it does for make.
func New[T any](capacity int) *Channel[T] {
	if capacity < 0 {
		panic("channel: negative capacity")
	}
	return &Channel[T]{
		ch:      make(chan T, capacity),
		closing: make(chan struct{}),
		gone:    make(chan struct{}),
	}
}

// Send blocks until item is buffered or handed to a receiver. It fails with
// ErrClosed if the channel is closed or abandoned, and with ctx.Err() if ctx
// ends first. Ownership of item passes to the receiver on success.
func (c *Channel[T]) Send(ctx context.Context, item T) error {
	if c.stopped() {
		return apperrors.ChannelClosed()
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.stopped() {
		return apperrors.ChannelClosed()
	}

	select {
	case c.ch <- item:
		return nil
	case <-c.closing:
		return apperrors.ChannelClosed()
	case <-c.gone:
		return apperrors.ChannelClosed()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive blocks until an item is available, the stream ends, or ctx ends.
// ok is false with a nil error at end-of-stream.
func (c *Channel[T]) Receive(ctx context.Context) (item T, ok bool, err error) {
	select {
	case item, ok = <-c.ch:
		return item, ok, nil
	case <-ctx.Done():
		return item, false, ctx.Err()
	}
}

// C exposes the receive side for select loops. It is closed at
// end-of-stream.
func (c *Channel[T]) C() <-chan T {
	return c.ch
}

// Close ends the stream. It is idempotent and safe to call while other
// goroutines are blocked in Send; they return ErrClosed.
func (c *Channel[T]) Close() {
	c.closeOnce.Do(func() {
		close(c.closing)
		c.mu.Lock()
		close(c.ch)
		c.mu.Unlock()
	})
}

// Closed is closed once Close has been called.
func (c *Channel[T]) Closed() <-chan struct{} {
	return c.closing
}

// Abandon tells the writer that nobody will receive any more items. It is
// idempotent. Items still buffered are left for the garbage collector.
func (c *Channel[T]) Abandon() {
	c.abandonOnce.Do(func() {
		close(c.gone)
	})
}

// Abandoned is closed once the reader has abandoned the channel.
func (c *Channel[T]) Abandoned() <-chan struct{} {
	return c.gone
}

// Len returns the number of buffered items.
func (c *Channel[T]) Len() int {
	return len(c.ch)
}

// Cap returns the buffer capacity.
func (c *Channel[T]) Cap() int {
	return cap(c.ch)
}

func (c *Channel[T]) stopped() bool {
	select {
	case <-c.closing:
		return true
	case <-c.gone:
		return true
	default:
		return false
	}
}
