package pipeline

import (
	"context"
)

// Collect drains out and returns every result together with the run's
// error. If ctx ends first the run is canceled, the output is closed, and
// the items received so far are returned with the cancellation error.
func Collect[T any](ctx context.Context, out *Output[T]) ([]T, error) {
	var items []T
	err := consume(ctx, out, func(v T) error {
		items = append(items, v)
		return nil
	})
	return items, err
}

// Drain discards every result and returns the run's error.
func Drain[T any](ctx context.Context, out *Output[T]) error {
	return consume(ctx, out, func(T) error { return nil })
}

// ForEach calls fn for every result. An error from fn closes the output,
// waits for the run to wind down, and is returned as is.
func ForEach[T any](ctx context.Context, out *Output[T], fn func(T) error) error {
	return consume(ctx, out, fn)
}

// Reduce folds every result into an accumulator.
func Reduce[T, A any](ctx context.Context, out *Output[T], initial A, fn func(A, T) A) (A, error) {
	acc := initial
	err := consume(ctx, out, func(v T) error {
		acc = fn(acc, v)
		return nil
	})
	return acc, err
}

// Run builds b and collects its results.
func Run[T any](ctx context.Context, b *Builder[T], opts ...RunOption) ([]T, error) {
	out, _, err := Build(ctx, b, opts...)
	if err != nil {
		return nil, err
	}
	return Collect(ctx, out)
}

func consume[T any](ctx context.Context, out *Output[T], fn func(T) error) error {
	h := out.Handle()
	for {
		select {
		case v, ok := <-out.C():
			if !ok {
				return wait(h)
			}
			if err := fn(v); err != nil {
				out.Close()
				wait(h)
				return err
			}
		case <-ctx.Done():
			h.Cancel()
			out.Close()
			if err := wait(h); err != nil {
				return err
			}
			return ctx.Err()
		}
	}
}

func wait(h *Handle) error {
	res, _ := h.Wait(context.Background())
	return res.Err
}
