package pipeline

import (
	"context"
	"iter"

	"github.com/kbukum/stagekit/channel"
	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/logger"
)

// Source produces the items of a run. Next reports ok=false once exhausted.
// Close is called exactly once when the run no longer needs the source.
type Source[T any] interface {
	Next(ctx context.Context) (item T, ok bool, err error)
	Close() error
}

// SourceFunc adapts a function to Source. Close is a no-op.
type SourceFunc[T any] func(ctx context.Context) (T, bool, error)

func (f SourceFunc[T]) Next(ctx context.Context) (T, bool, error) { return f(ctx) }

func (f SourceFunc[T]) Close() error { return nil }

type sliceSource[T any] struct {
	items []T
	i     int
}

func (s *sliceSource[T]) Next(context.Context) (T, bool, error) {
	var zero T
	if s.i >= len(s.items) {
		return zero, false, nil
	}
	v := s.items[s.i]
	s.i++
	return v, true, nil
}

func (s *sliceSource[T]) Close() error { return nil }

type chanSource[T any] struct {
	ch <-chan T
}

func (s chanSource[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	select {
	case v, ok := <-s.ch:
		return v, ok, nil
	case <-ctx.Done():
		return zero, false, ctx.Err()
	}
}

func (s chanSource[T]) Close() error { return nil }

type seqSource[T any] struct {
	next func() (T, bool)
	stop func()
}

func (s *seqSource[T]) Next(context.Context) (T, bool, error) {
	v, ok := s.next()
	return v, ok, nil
}

func (s *seqSource[T]) Close() error {
	s.stop()
	return nil
}

// From starts a pipeline at src. The channel leaving the source has
// capacity 0 unless Backpressure says otherwise.
func From[T any](src Source[T]) *Builder[T] {
	return fromFactory(func() Source[T] { return src })
}

// FromSlice emits the elements of items in order.
func FromSlice[T any](items []T) *Builder[T] {
	return fromFactory(func() Source[T] { return &sliceSource[T]{items: items} })
}

// FromChannel emits everything received on ch until it is closed.
func FromChannel[T any](ch <-chan T) *Builder[T] {
	return fromFactory(func() Source[T] { return chanSource[T]{ch: ch} })
}

// FromSeq emits the values of seq. The iterator is stopped when the run
// ends early.
func FromSeq[T any](seq iter.Seq[T]) *Builder[T] {
	return fromFactory(func() Source[T] {
		next, stop := iter.Pull(seq)
		return &seqSource[T]{next: next, stop: stop}
	})
}

// FromFunc emits values from fn until it reports ok=false or fails.
func FromFunc[T any](fn func(ctx context.Context) (T, bool, error)) *Builder[T] {
	return From[T](SourceFunc[T](fn))
}

// fromFactory creates a fresh source per build, so slice and seq builders
// can be built more than once.
func fromFactory[T any](newSource func() Source[T]) *Builder[T] {
	return &Builder[T]{
		wire: func(r *run, capacity int) *channel.Channel[T] {
			if capacity < 0 {
				r.invalid(sourceName, bufferError(capacity))
				capacity = 0
			}
			out := channel.New[T](capacity)
			f := &feeder[T]{
				stageState: r.newState(sourceName, Serial()),
				newSource:  newSource,
				out:        out,
			}
			r.add(f.stageState, f.run, nil, out)
			return out
		},
	}
}

const sourceName = "source"

// feeder pulls from a Source and pushes into the head channel.
type feeder[T any] struct {
	*stageState
	newSource func() Source[T]
	out       *channel.Channel[T]
}

func (f *feeder[T]) run(ctx context.Context) settlement {
	src := f.newSource()
	defer func() {
		if err := src.Close(); err != nil {
			f.log.Warn("source close failed", logger.ErrorFields("close", err))
		}
	}()

	for {
		if ctx.Err() != nil {
			return settlement{canceled: true}
		}
		select {
		case <-f.out.Abandoned():
			return settlement{detached: true}
		default:
		}

		v, ok, err := src.Next(ctx)
		if err != nil {
			if canceledBy(ctx, err) {
				return settlement{canceled: true}
			}
			return settlement{err: apperrors.SourceFailed(err)}
		}
		if !ok {
			return settlement{}
		}
		f.admitted(ctx)

		// Cancellation stops the feeder only. Closing the head channel then
		// lets every stage drain what it already holds.
		if err := f.out.Send(ctx, v); err != nil {
			if ctx.Err() != nil {
				return settlement{canceled: true}
			}
			return settlement{detached: true}
		}
		f.emitted.Add(1)
		f.rec.Emitted(ctx)
	}
}
