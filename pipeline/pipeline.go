package pipeline

import (
	"context"
	"fmt"
	"iter"

	"github.com/kbukum/stagekit/channel"
	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/observability"
)

// Builder describes a pipeline ending in items of type T. Builders are
// immutable: every call returns a new Builder, and one Builder can be built
// any number of times.
type Builder[T any] struct {
	wire     func(r *run, capacity int) *channel.Channel[T]
	capacity int
}

type stageOptions struct {
	name   string
	buffer int
	errs   []error
}

// StageOption configures a stage added with Then and friends.
type StageOption func(*stageOptions)

// WithName names the stage in logs, stats, and errors. The default is
// "stage-<index>".
func WithName(name string) StageOption {
	return func(o *stageOptions) { o.name = name }
}

// WithBuffer sets the capacity of the stage's output channel. The default
// is 0, a synchronous hand-off.
func WithBuffer(size int) StageOption {
	return func(o *stageOptions) { o.buffer = size }
}

func withError(err error) StageOption {
	return func(o *stageOptions) { o.errs = append(o.errs, err) }
}

// Then appends a stage applying fn under policy.
func Then[I, O any](b *Builder[I], fn Transform[I, O], policy Policy, opts ...StageOption) *Builder[O] {
	return attach[I, O](b, policy, opts, func(ctx context.Context, in I) (O, bool, error) {
		out, err := fn(ctx, in)
		return out, true, err
	}, nil)
}

// Backpressure sets the capacity of the channel leaving b, letting the
// producer run up to size items ahead of its consumer.
func Backpressure[T any](b *Builder[T], size int) *Builder[T] {
	return &Builder[T]{wire: b.wire, capacity: size}
}

// attach wires a stage behind b. custom, when set, replaces the policy
// runners.
func attach[I, O any](
	b *Builder[I],
	policy Policy,
	opts []StageOption,
	fn func(ctx context.Context, in I) (O, bool, error),
	custom func(st *stage[I, O]) func(context.Context) settlement,
) *Builder[O] {
	var so stageOptions
	for _, opt := range opts {
		opt(&so)
	}
	return &Builder[O]{
		capacity: so.buffer,
		wire: func(r *run, capacity int) *channel.Channel[O] {
			in := b.wire(r, b.capacity)

			name := so.name
			if name == "" {
				name = fmt.Sprintf("stage-%d", r.nextIndex())
			}
			if err := policy.validate(); err != nil {
				r.invalid(name, err)
			}
			for _, err := range so.errs {
				r.invalid(name, err)
			}
			if capacity < 0 {
				r.invalid(name, bufferError(capacity))
				capacity = 0
			}

			out := channel.New[O](capacity)
			st := &stage[I, O]{
				stageState: r.newState(name, policy),
				in:         in,
				out:        out,
				fn:         fn,
			}
			if custom != nil {
				st.custom = custom(st)
			}
			r.add(st.stageState, st.run, in, out)
			return out
		},
	}
}

func bufferError(size int) error {
	return apperrors.InvalidConfig("buffer", fmt.Sprintf("buffer must be >= 0, got %d", size))
}

type runOptions struct {
	name     string
	log      *logger.Logger
	metrics  *observability.StageMetrics
	observer Observer
}

// RunOption configures a single build.
type RunOption func(*runOptions)

// WithRunName names the run in logs, metrics, and snapshots.
func WithRunName(name string) RunOption {
	return func(o *runOptions) { o.name = name }
}

// WithLogger sets the logger for the run. The default is the "pipeline"
// component logger.
func WithLogger(l *logger.Logger) RunOption {
	return func(o *runOptions) { o.log = l }
}

// WithMetrics records stage measurements into m.
func WithMetrics(m *observability.StageMetrics) RunOption {
	return func(o *runOptions) { o.metrics = m }
}

// WithObserver registers fn to receive the run's lifecycle events.
func WithObserver(fn Observer) RunOption {
	return func(o *runOptions) { o.observer = fn }
}

// Build validates the pipeline and starts it. Nothing runs if any stage is
// misconfigured; the error is then an INVALID_CONFIG AppError.
//
// The caller must drain the returned Output or Close it. Canceling ctx or
// calling Handle.Cancel stops the source, which closes the head channel.
// Items already inside the pipeline keep flowing and reach the Output
// before it ends; transformations are never interrupted.
func Build[T any](ctx context.Context, b *Builder[T], opts ...RunOption) (*Output[T], *Handle, error) {
	o := runOptions{name: "pipeline"}
	for _, opt := range opts {
		opt(&o)
	}

	r := newRun(o)
	tail := b.wire(r, b.capacity)
	if err := r.configError(); err != nil {
		return nil, nil, err
	}
	r.start(ctx)

	h := &Handle{r: r}
	return &Output[T]{ch: tail, h: h}, h, nil
}

// Handle observes and controls a running pipeline.
type Handle struct {
	r *run
}

// ID returns the run's UUID.
func (h *Handle) ID() string { return h.r.id }

// Name returns the run name.
func (h *Handle) Name() string { return h.r.name }

// Done is closed once every stage has settled.
func (h *Handle) Done() <-chan struct{} { return h.r.done }

// Wait blocks until every stage has settled and returns the aggregated
// result, or returns ctx.Err() if ctx ends first.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-h.r.done:
		return h.Result(), nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// Result returns the aggregated result. It is the zero Result until Done
// is closed.
func (h *Handle) Result() Result {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.result
}

// Status reports the coarse state of the run.
func (h *Handle) Status() RunStatus {
	h.r.mu.Lock()
	defer h.r.mu.Unlock()
	return h.r.status
}

// Stats returns live counters for the source (index 0) and every stage.
func (h *Handle) Stats() []StageStats { return h.r.stats() }

// Snapshot returns a serializable view of the run.
func (h *Handle) Snapshot() Snapshot { return h.r.snapshot() }

// Cancel stops pulling from the source. Items already admitted drain through
// the remaining stages. It does not wait.
func (h *Handle) Cancel() { h.r.cancel(nil) }

// Output is the receiving end of a pipeline.
type Output[T any] struct {
	ch *channel.Channel[T]
	h  *Handle
}

// Receive returns the next result. ok is false once every stage has
// finished and the stream is drained.
func (o *Output[T]) Receive(ctx context.Context) (T, bool, error) {
	return o.ch.Receive(ctx)
}

// C exposes the result stream for select loops.
func (o *Output[T]) C() <-chan T { return o.ch.C() }

// Close drops the receiver. The last stage stops, abandons its input, and
// the shutdown travels back to the source.
func (o *Output[T]) Close() { o.ch.Abandon() }

// Handle returns the run's handle.
func (o *Output[T]) Handle() *Handle { return o.h }

// All ranges over the remaining results. Breaking out of the loop closes
// the output.
func (o *Output[T]) All() iter.Seq[T] {
	return func(yield func(T) bool) {
		for v := range o.ch.C() {
			if !yield(v) {
				o.Close()
				return
			}
		}
	}
}
