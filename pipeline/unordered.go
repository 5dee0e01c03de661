package pipeline

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// runUnordered keeps up to n units in flight. Each unit sends its own result
// as soon as it is ready and then frees its slot. The slot is taken before an
// item is received, so the stage never holds an item it cannot start.
func (st *stage[I, O]) runUnordered(ctx context.Context) settlement {
	n := st.policy.Concurrency()
	sem := make(chan struct{}, n)
	halt := newLatch()
	sendCtx := context.WithoutCancel(ctx)

	var detached atomic.Bool
	var g errgroup.Group

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
		seq := st.admitted(ctx)
		g.Go(func() error {
			defer func() { <-sem }()

			out, keep, err := st.call(ctx, v)
			if err != nil {
				halt.trip()
				return st.failure(seq, err).err
			}
			// Results finishing after a failure was observed are dropped.
			if !keep || halt.tripped() {
				return nil
			}
			if err := st.emit(sendCtx, out); err != nil {
				detached.Store(true)
				halt.trip()
			}
			return nil
		})
	}
	err := g.Wait()

	return merge(reason.settlement(), settlement{
		err:      err,
		detached: detached.Load(),
	})
}
