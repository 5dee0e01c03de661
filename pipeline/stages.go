package pipeline

import (
	"context"
	"fmt"
	"slices"
	"time"

	apperrors "github.com/kbukum/stagekit/errors"
)

// FilterMap appends a stage whose transformation may drop an item by
// returning keep=false. Dropped items still count as received.
func FilterMap[I, O any](b *Builder[I], fn func(ctx context.Context, in I) (out O, keep bool, err error), policy Policy, opts ...StageOption) *Builder[O] {
	return attach[I, O](b, policy, opts, fn, nil)
}

// Filter keeps the items for which keep returns true.
func Filter[T any](b *Builder[T], keep func(T) bool, opts ...StageOption) *Builder[T] {
	return attach[T, T](b, Serial(), opts, func(_ context.Context, in T) (T, bool, error) {
		return in, keep(in), nil
	}, nil)
}

// Tap runs fn for its side effect and passes every item through unchanged.
// An error from fn fails the stage.
func Tap[T any](b *Builder[T], fn func(ctx context.Context, v T) error, opts ...StageOption) *Builder[T] {
	return attach[T, T](b, Serial(), opts, func(ctx context.Context, in T) (T, bool, error) {
		return in, true, fn(ctx, in)
	}, nil)
}

// Batch groups items into slices of up to size. A partial batch is emitted
// when maxWait passes after its first item (if maxWait > 0) and at
// end-of-stream, including the one a cancellation causes.
func Batch[T any](b *Builder[T], size int, maxWait time.Duration, opts ...StageOption) *Builder[[]T] {
	if size < 1 {
		opts = append(slices.Clone(opts), withError(apperrors.InvalidConfig("batch_size", fmt.Sprintf("batch size must be >= 1, got %d", size))))
	}
	return attach[T, []T](b, Serial(), opts, nil, func(st *stage[T, []T]) func(context.Context) settlement {
		return func(ctx context.Context) settlement {
			return runBatch(ctx, st, size, maxWait)
		}
	})
}

func runBatch[T any](ctx context.Context, st *stage[T, []T], size int, maxWait time.Duration) settlement {
	sendCtx := context.WithoutCancel(ctx)
	buf := make([]T, 0, size)

	var timer *time.Timer
	var timeout <-chan time.Time
	stopTimer := func() {
		if timer != nil {
			timer.Stop()
			timer, timeout = nil, nil
		}
	}
	defer stopTimer()

	flush := func() error {
		stopTimer()
		if len(buf) == 0 {
			return nil
		}
		batch := buf
		buf = make([]T, 0, size)
		return st.emit(sendCtx, batch)
	}

	for {
		if r := st.stopped(nil); r != stopNone {
			return r.settlement()
		}

		select {
		case v, ok := <-st.in.C():
			if !ok {
				if err := flush(); err != nil {
					return settlement{detached: true}
				}
				return endOfStream(ctx).settlement()
			}
			st.admitted(ctx)
			buf = append(buf, v)
			if len(buf) == 1 && maxWait > 0 {
				timer = time.NewTimer(maxWait)
				timeout = timer.C
			}
			if len(buf) >= size {
				if err := flush(); err != nil {
					return settlement{detached: true}
				}
			}
		case <-timeout:
			timer, timeout = nil, nil
			if err := flush(); err != nil {
				return settlement{detached: true}
			}
		case <-st.out.Abandoned():
			return settlement{detached: true}
		}
	}
}
