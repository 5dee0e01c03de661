package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kbukum/stagekit/channel"
	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/observability"
)

// Transform turns one input item into one output item, or fails.
type Transform[I, O any] func(ctx context.Context, in I) (O, error)

// stageState holds the identity and live counters of one stage. It is
// shared by the runner goroutines and by Handle.Stats readers.
type stageState struct {
	name   string
	index  int
	policy Policy
	log    *logger.Logger
	rec    *observability.StageRecorder

	received atomic.Uint64
	emitted  atomic.Uint64
	inFlight atomic.Int64
	peak     atomic.Int64

	mu      sync.Mutex
	settled bool
	outcome Outcome
}

// admitted counts a received item and returns its sequence number.
func (s *stageState) admitted(ctx context.Context) uint64 {
	s.rec.Received(ctx)
	return s.received.Add(1) - 1
}

func (s *stageState) begin(ctx context.Context) {
	s.rec.Started(ctx)
	n := s.inFlight.Add(1)
	for {
		p := s.peak.Load()
		if n <= p || s.peak.CompareAndSwap(p, n) {
			return
		}
	}
}

func (s *stageState) end(ctx context.Context, d time.Duration) {
	s.inFlight.Add(-1)
	s.rec.Finished(ctx, d)
}

func (s *stageState) settle(o Outcome) {
	s.mu.Lock()
	s.settled = true
	s.outcome = o
	s.mu.Unlock()
}

func (s *stageState) stats() StageStats {
	st := StageStats{
		Name:         s.name,
		Index:        s.index,
		Policy:       s.policy.String(),
		Received:     s.received.Load(),
		Emitted:      s.emitted.Load(),
		InFlight:     s.inFlight.Load(),
		PeakInFlight: s.peak.Load(),
		State:        string(RunRunning),
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.settled {
		st.State = s.outcome.Status.String()
		if s.outcome.Err != nil {
			st.Error = s.outcome.Err.Error()
		}
	}
	return st
}

// settlement is what a runner reports when it stops.
type settlement struct {
	err      error
	detached bool
	canceled bool
}

type stopReason int

const (
	stopNone stopReason = iota
	stopEOS
	stopCanceled
	stopDetached
	stopHalted
)

func (r stopReason) settlement() settlement {
	switch r {
	case stopCanceled:
		return settlement{canceled: true}
	case stopDetached:
		return settlement{detached: true}
	default:
		return settlement{}
	}
}

// stage runs one transformation between two channels. fn reports keep=false
// to drop an item.
type stage[I, O any] struct {
	*stageState
	in  *channel.Channel[I]
	out *channel.Channel[O]
	fn  func(ctx context.Context, in I) (out O, keep bool, err error)

	// custom replaces the policy runners, as Batch does.
	custom func(ctx context.Context) settlement
}

func (st *stage[I, O]) run(ctx context.Context) settlement {
	if st.custom != nil {
		return st.custom(ctx)
	}
	switch st.policy.Kind() {
	case KindOrdered:
		return st.runOrdered(ctx)
	case KindUnordered:
		return st.runUnordered(ctx)
	default:
		return st.runSerial(ctx)
	}
}

// next waits for the next input item. Halt and a detached receiver win over
// a ready item so that nothing new is admitted once the stage must stop.
// Run cancellation is not watched here: it stops the feeder, and the stage
// sees it as end-of-stream after draining what is already buffered.
func (st *stage[I, O]) next(ctx context.Context, halt <-chan struct{}) (I, stopReason) {
	var zero I
	if r := st.stopped(halt); r != stopNone {
		return zero, r
	}
	select {
	case v, ok := <-st.in.C():
		if !ok {
			return zero, endOfStream(ctx)
		}
		return v, stopNone
	case <-halt:
		return zero, stopHalted
	case <-st.out.Abandoned():
		return zero, stopDetached
	}
}

// stopped polls the stop signals in priority order.
func (st *stage[I, O]) stopped(halt <-chan struct{}) stopReason {
	select {
	case <-halt:
		return stopHalted
	default:
	}
	select {
	case <-st.out.Abandoned():
		return stopDetached
	default:
		return stopNone
	}
}

// endOfStream records a stream cut short by run cancellation as canceled.
func endOfStream(ctx context.Context) stopReason {
	if ctx.Err() != nil {
		return stopCanceled
	}
	return stopEOS
}

// acquire takes one of the stage's n slots.
func (st *stage[I, O]) acquire(sem chan struct{}, halt <-chan struct{}) stopReason {
	select {
	case sem <- struct{}{}:
		return stopNone
	case <-halt:
		return stopHalted
	case <-st.out.Abandoned():
		return stopDetached
	}
}

// call invokes the transformation, recovering panics as errors. The
// transformation keeps the run's values but not its cancellation: an
// admitted item always runs to completion.
func (st *stage[I, O]) call(ctx context.Context, in I) (out O, keep bool, err error) {
	st.begin(ctx)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			var zero O
			out, keep, err = zero, false, fmt.Errorf("panic in transformation: %v", r)
		}
		st.end(ctx, time.Since(start))
	}()
	return st.fn(context.WithoutCancel(ctx), in)
}

func (st *stage[I, O]) emit(ctx context.Context, v O) error {
	if err := st.out.Send(ctx, v); err != nil {
		return err
	}
	st.emitted.Add(1)
	st.rec.Emitted(ctx)
	return nil
}

func (st *stage[I, O]) failure(seq uint64, err error) settlement {
	return settlement{err: apperrors.TransformationFailed(st.name, seq, err)}
}

func (st *stage[I, O]) runSerial(ctx context.Context) settlement {
	sendCtx := context.WithoutCancel(ctx)
	for {
		v, reason := st.next(ctx, nil)
		if reason != stopNone {
			return reason.settlement()
		}
		seq := st.admitted(ctx)

		out, keep, err := st.call(ctx, v)
		if err != nil {
			return st.failure(seq, err)
		}
		if keep {
			if err := st.emit(sendCtx, out); err != nil {
				return settlement{detached: true}
			}
		}
	}
}

func canceledBy(ctx context.Context, err error) bool {
	return ctx.Err() != nil && errors.Is(err, ctx.Err())
}

// latch is a one-shot stop signal shared by a stage's goroutines.
type latch struct {
	ch   chan struct{}
	once sync.Once
}

func newLatch() *latch {
	return &latch{ch: make(chan struct{})}
}

func (l *latch) trip() {
	l.once.Do(func() { close(l.ch) })
}

func (l *latch) done() <-chan struct{} {
	return l.ch
}

func (l *latch) tripped() bool {
	select {
	case <-l.ch:
		return true
	default:
		return false
	}
}
