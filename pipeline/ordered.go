package pipeline

import (
	"context"
)

// future is the pending result of one admitted item.
type future[O any] struct {
	seq  uint64
	done chan struct{}
	out  O
	keep bool
	err  error
}

// runOrdered keeps up to n units in flight and hands their futures to a
// single emitter in admission order. A slot is released only when the
// emitter has dealt with the future holding it, so a slow head item stalls
// admission even if later items have finished.
func (st *stage[I, O]) runOrdered(ctx context.Context) settlement {
	n := st.policy.Concurrency()
	sem := make(chan struct{}, n)
	queue := make(chan *future[O], n)
	halt := newLatch()
	sendCtx := context.WithoutCancel(ctx)

	var tail settlement
	emitterDone := make(chan struct{})
	go func() {
		defer close(emitterDone)
		dropping := false
		for f := range queue {
			<-f.done
			switch {
			case dropping:
			case f.err != nil:
				tail = st.failure(f.seq, f.err)
				dropping = true
				halt.trip()
			case f.keep:
				if err := st.emit(sendCtx, f.out); err != nil {
					tail.detached = true
					dropping = true
					halt.trip()
				}
			}
			<-sem
		}
	}()

	var reason stopReason
	for {
		if reason = st.acquire(sem, halt.done()); reason != stopNone {
			break
		}
		v, r := st.next(ctx, halt.done())
		if r != stopNone {
			<-sem
			reason = r
			break
		}
		f := &future[O]{seq: st.admitted(ctx), done: make(chan struct{})}
		queue <- f
		go func() {
			defer close(f.done)
			f.out, f.keep, f.err = st.call(ctx, v)
			if f.err != nil {
				halt.trip()
			}
		}()
	}
	close(queue)
	<-emitterDone

	return merge(reason.settlement(), tail)
}

// merge combines the admission loop's stop reason with what the emitting
// side observed. A failure outranks everything else.
func merge(a, b settlement) settlement {
	if b.err != nil {
		return settlement{err: b.err}
	}
	if a.err != nil {
		return settlement{err: a.err}
	}
	return settlement{
		detached: a.detached || b.detached,
		canceled: a.canceled || b.canceled,
	}
}
