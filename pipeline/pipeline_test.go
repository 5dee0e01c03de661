package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kbukum/stagekit/errors"
)

func double(_ context.Context, v int) (int, error)    { return v * 2, nil }
func increment(_ context.Context, v int) (int, error) { return v + 1, nil }
func identity(_ context.Context, v int) (int, error)  { return v, nil }

func seq(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// hasCode reports whether any error in err's chain carries code.
func hasCode(err error, code apperrors.ErrorCode) bool {
	return errors.Is(err, &apperrors.AppError{Code: code})
}

func TestRun_DoubleThenIncrement(t *testing.T) {
	b := Then(Then(FromSlice(seq(5)), double, Serial()), increment, Serial())

	got, err := Run(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5, 7, 9}, got)
}

func TestRun_IdentityUnordered(t *testing.T) {
	b := Then(FromSlice(seq(5)), identity, Unordered(2), WithBuffer(0))

	got, err := Run(context.Background(), b)
	require.NoError(t, err)
	assert.ElementsMatch(t, []int{0, 1, 2, 3, 4}, got)
}

func jitter(_ context.Context, v int) (int, error) {
	time.Sleep(time.Duration(rand.IntN(300)) * time.Microsecond)
	return v*v + 1, nil
}

func TestOrdered_MatchesSerialApplication(t *testing.T) {
	input := seq(200)
	want := make([]int, len(input))
	for i, v := range input {
		want[i], _ = jitter(context.Background(), v)
	}

	for _, n := range []int{1, 2, 8, 32} {
		t.Run(fmt.Sprintf("n=%d", n), func(t *testing.T) {
			got, err := Run(context.Background(), Then(FromSlice(input), jitter, Ordered(n)))
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestUnordered_SingleSlotKeepsOrder(t *testing.T) {
	got, err := Run(context.Background(), Then(FromSlice(seq(100)), jitter, Unordered(1)))
	require.NoError(t, err)

	want := make([]int, 100)
	for i := range want {
		want[i] = i*i + 1
	}
	assert.Equal(t, want, got)
}

func TestInFlightNeverExceedsConcurrency(t *testing.T) {
	const n = 3
	for _, p := range []Policy{Ordered(n), Unordered(n)} {
		t.Run(p.String(), func(t *testing.T) {
			var current, peak atomic.Int64
			fn := func(_ context.Context, v int) (int, error) {
				c := current.Add(1)
				for {
					old := peak.Load()
					if c <= old || peak.CompareAndSwap(old, c) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				current.Add(-1)
				return v, nil
			}

			out, h, err := Build(context.Background(), Then(FromSlice(seq(60)), fn, p, WithName("work")))
			require.NoError(t, err)
			got, err := Collect(context.Background(), out)
			require.NoError(t, err)

			assert.Len(t, got, 60)
			assert.LessOrEqual(t, peak.Load(), int64(n))
			stats := h.Stats()
			require.Len(t, stats, 2)
			assert.Equal(t, "work", stats[1].Name)
			assert.LessOrEqual(t, stats[1].PeakInFlight, int64(n))
			assert.GreaterOrEqual(t, stats[1].PeakInFlight, int64(1))
			assert.Equal(t, int64(0), stats[1].InFlight)
		})
	}
}

func TestOrdered_HeadOfLineBlocking(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(s string) {
		mu.Lock()
		events = append(events, s)
		mu.Unlock()
	}

	fn := func(_ context.Context, v int) (int, error) {
		record(fmt.Sprintf("start:%d", v))
		if v == 0 {
			time.Sleep(30 * time.Millisecond)
		}
		record(fmt.Sprintf("done:%d", v))
		return v, nil
	}

	got, err := Run(context.Background(), Then(FromSlice(seq(3)), fn, Ordered(2)))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, got)

	mu.Lock()
	defer mu.Unlock()
	done0 := slices.Index(events, "done:0")
	start2 := slices.Index(events, "start:2")
	require.NotEqual(t, -1, done0)
	require.NotEqual(t, -1, start2)
	assert.Less(t, done0, start2, "item 2 must wait for the slow head item: %v", events)
}

func TestBackpressureBoundsAdmission(t *testing.T) {
	const n, buffer = 2, 3

	var pulled atomic.Int64
	src := FromFunc(func(context.Context) (int, bool, error) {
		return int(pulled.Add(1)), true, nil
	})
	out, h, err := Build(context.Background(), Then(src, identity, Unordered(n), WithBuffer(buffer)))
	require.NoError(t, err)

	accepted := func() uint64 { return h.Stats()[1].Received }
	require.Eventually(t, func() bool {
		return accepted() == n+buffer && pulled.Load() == n+buffer+1
	}, time.Second, 5*time.Millisecond)

	// Nobody drains: the counts must stay put.
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, uint64(n+buffer), accepted())
	assert.Equal(t, int64(n+buffer+1), pulled.Load())
	assert.Equal(t, buffer, out.ch.Len())

	out.Close()
	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, res.OK(), "dropping the receiver is not a failure: %v", res.Err)
	assert.True(t, res.Outcomes[1].Detached)
	assert.True(t, res.Outcomes[0].Detached)
}

func TestBackpressureStep(t *testing.T) {
	var pulled atomic.Int64
	src := FromFunc(func(context.Context) (int, bool, error) {
		return int(pulled.Add(1)), true, nil
	})
	out, h, err := Build(context.Background(), Backpressure(src, 4))
	require.NoError(t, err)

	require.Eventually(t, func() bool { return pulled.Load() == 5 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int64(5), pulled.Load())
	assert.Equal(t, 4, out.ch.Cap())

	out.Close()
	_, err = h.Wait(context.Background())
	require.NoError(t, err)
}

func TestShutdown_SingleEndOfStream(t *testing.T) {
	b := Then(Then(FromSlice(seq(20)), double, Ordered(3)), increment, Unordered(2), WithBuffer(2))
	out, h, err := Build(context.Background(), b, WithRunName("shutdown"))
	require.NoError(t, err)

	got, err := Collect(context.Background(), out)
	require.NoError(t, err)
	assert.Len(t, got, 20)

	_, ok, err := out.Receive(context.Background())
	assert.NoError(t, err)
	assert.False(t, ok)

	res, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 3)
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Index)
		assert.Equal(t, StatusCompleted, o.Status, o.Stage)
		assert.False(t, o.Detached, o.Stage)
		assert.False(t, o.Canceled, o.Stage)
	}
	assert.Equal(t, "source", res.Outcomes[0].Stage)
	assert.Equal(t, uint64(20), res.Outcomes[0].Emitted)
	assert.Equal(t, uint64(20), res.Outcomes[2].Emitted)

	snap := h.Snapshot()
	assert.Equal(t, RunCompleted, snap.Status)
	assert.Equal(t, "shutdown", snap.Name)
	require.NotNil(t, snap.FinishedAt)
	for _, st := range snap.Stages {
		assert.Equal(t, "completed", st.State)
	}
}

func TestFailureContainment(t *testing.T) {
	for _, p := range []Policy{Serial(), Ordered(4), Unordered(1)} {
		t.Run(p.String(), func(t *testing.T) {
			boom := errors.New("boom")
			explode := func(_ context.Context, v int) (int, error) {
				if v == 3 {
					return 0, boom
				}
				return v, nil
			}

			b := FromSlice([]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10})
			b = Then(b, identity, Serial(), WithName("pass"))
			b = Then(b, explode, p, WithName("explode"))
			b = Then(b, identity, Serial(), WithName("after"))

			out, h, err := Build(context.Background(), b)
			require.NoError(t, err)

			done := make(chan struct{})
			var got []int
			go func() {
				defer close(done)
				got, err = Collect(context.Background(), out)
			}()
			select {
			case <-done:
			case <-time.After(2 * time.Second):
				t.Fatal("pipeline deadlocked after a stage failure")
			}

			assert.Equal(t, []int{1, 2}, got)
			require.Error(t, err)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodePipelineFailed))
			assert.ErrorIs(t, err, boom)

			appErr, ok := apperrors.AsAppError(err)
			require.True(t, ok)
			cause, ok := appErr.Cause.(*apperrors.AppError)
			require.True(t, ok)
			assert.Equal(t, apperrors.ErrCodeTransformationFailed, cause.Code)
			assert.Equal(t, "explode", cause.Details["stage"])
			assert.Equal(t, uint64(2), cause.Details["seq"])

			res := h.Result()
			assert.False(t, res.OK())
			failures := res.Failures()
			require.Len(t, failures, 1)
			assert.Equal(t, 2, failures[0].Index)
			assert.Equal(t, StatusCompleted, res.Outcomes[3].Status)
			assert.Equal(t, RunFailed, h.Status())
		})
	}
}

func TestFailure_FirstByStageOrderIsPrimary(t *testing.T) {
	aStarted := make(chan struct{})
	bFailed := make(chan struct{})
	errA := errors.New("a failed")
	errB := errors.New("b failed")

	// b fails first in time, but a sits earlier in the pipeline.
	a := func(_ context.Context, v int) (int, error) {
		if v == 2 {
			close(aStarted)
			<-bFailed
			return 0, errA
		}
		return v, nil
	}
	bfn := func(context.Context, int) (int, error) {
		<-aStarted
		close(bFailed)
		return 0, errB
	}

	b := Then(Then(FromSlice([]int{1, 2, 3}), a, Serial(), WithName("a")), bfn, Serial(), WithName("b"))
	_, err := Run(context.Background(), b)
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.ErrorIs(t, appErr.Cause, errA)
	assert.ErrorIs(t, err, errA)
	failures, ok := appErr.Details["failures"].([]string)
	require.True(t, ok)
	assert.Len(t, failures, 2)
}

func TestSourceFailure(t *testing.T) {
	broken := errors.New("disk gone")
	i := 0
	src := FromFunc(func(context.Context) (int, bool, error) {
		i++
		if i > 2 {
			return 0, false, broken
		}
		return i, true, nil
	})

	out, h, err := Build(context.Background(), Then(src, identity, Serial()))
	require.NoError(t, err)
	got, err := Collect(context.Background(), out)

	assert.Equal(t, []int{1, 2}, got)
	assert.True(t, hasCode(err, apperrors.ErrCodeSourceFailed))
	assert.ErrorIs(t, err, broken)

	res := h.Result()
	require.Len(t, res.Failures(), 1)
	assert.Equal(t, 0, res.Failures()[0].Index)
	assert.Equal(t, StatusCompleted, res.Outcomes[1].Status)
}

func TestPanicIsReportedAsFailure(t *testing.T) {
	fn := func(_ context.Context, v int) (int, error) {
		if v == 1 {
			panic("bad input")
		}
		return v, nil
	}
	for _, p := range []Policy{Serial(), Ordered(2), Unordered(2)} {
		t.Run(p.String(), func(t *testing.T) {
			_, err := Run(context.Background(), Then(FromSlice(seq(5)), fn, p))
			require.Error(t, err)
			assert.True(t, hasCode(err, apperrors.ErrCodeTransformationFailed))
			assert.Contains(t, err.Error(), "bad input")
		})
	}
}

func TestCancel_StopsAdmissionAndSettles(t *testing.T) {
	src := FromFunc(func(context.Context) (int, bool, error) { return 1, true, nil })
	slow := func(_ context.Context, v int) (int, error) {
		time.Sleep(time.Millisecond)
		return v, nil
	}
	b := Then(Then(src, slow, Unordered(4)), slow, Ordered(2))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, h, err := Build(ctx, b)
	require.NoError(t, err)
	got, err := Collect(ctx, out)

	assert.NotEmpty(t, got)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCanceled), "got %v", err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, RunCanceled, h.Status())

	for _, st := range h.Stats() {
		assert.Equal(t, int64(0), st.InFlight, st.Name)
		assert.Equal(t, "completed", st.State, st.Name)
	}
}

func TestHandleCancel_DeliversAdmittedItems(t *testing.T) {
	started := make(chan struct{})
	gate := make(chan struct{})
	var once sync.Once
	var interrupted atomic.Bool
	gated := func(ctx context.Context, v int) (int, error) {
		once.Do(func() { close(started) })
		<-gate
		if ctx.Err() != nil {
			interrupted.Store(true)
		}
		return v, nil
	}

	a := Then(FromSlice(seq(20)), identity, Serial(), WithBuffer(5), WithName("a"))
	out, h, err := Build(context.Background(), Then(a, gated, Serial(), WithName("b")))
	require.NoError(t, err)

	<-started
	// b holds one item, five wait in the buffer, a is blocked on the next.
	require.Eventually(t, func() bool {
		st := h.Stats()
		return st[1].Emitted == 6 && st[1].Received == 7
	}, time.Second, 5*time.Millisecond)

	h.Cancel()
	close(gate)

	got, err := Collect(context.Background(), out)
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCanceled), "got %v", err)
	assert.Equal(t, RunCanceled, h.Status())
	assert.False(t, interrupted.Load(), "transformations must not see the cancellation")

	res := h.Result()
	assert.Empty(t, res.Failures())
	assert.Equal(t, seq(7), got)
	assert.Equal(t, uint64(7), res.Outcomes[1].Emitted)
	for _, o := range res.Outcomes {
		assert.False(t, o.Detached, o.Stage)
		assert.True(t, o.Canceled, o.Stage)
	}
}

func TestCancel_EveryEmittedItemIsReceivedDownstream(t *testing.T) {
	policies := []Policy{Serial(), Ordered(3), Unordered(3)}
	for _, p := range policies {
		t.Run(p.String(), func(t *testing.T) {
			src := FromFunc(func(context.Context) (int, bool, error) { return 1, true, nil })
			slow := func(_ context.Context, v int) (int, error) {
				time.Sleep(time.Millisecond)
				return v, nil
			}
			b := Then(src, identity, p, WithBuffer(4))
			b = Then(b, slow, p, WithBuffer(4))
			b = Then(b, identity, Serial())

			out, h, err := Build(context.Background(), b)
			require.NoError(t, err)
			for range 5 {
				_, ok, err := out.Receive(context.Background())
				require.NoError(t, err)
				require.True(t, ok)
			}
			h.Cancel()

			rest, err := Collect(context.Background(), out)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeCanceled), "got %v", err)

			res := h.Result()
			for i := 1; i < len(res.Outcomes); i++ {
				prev, cur := res.Outcomes[i-1], res.Outcomes[i]
				assert.Equal(t, prev.Emitted, cur.Received, "%s -> %s", prev.Stage, cur.Stage)
				assert.False(t, cur.Detached, cur.Stage)
			}
			last := res.Outcomes[len(res.Outcomes)-1]
			assert.Equal(t, last.Emitted, uint64(5+len(rest)))
		})
	}
}

func TestDetach_IsNotAFailure(t *testing.T) {
	src := FromFunc(func(context.Context) (int, bool, error) { return 7, true, nil })
	out, h, err := Build(context.Background(), Then(Then(src, double, Ordered(2)), increment, Unordered(2)))
	require.NoError(t, err)

	for range 3 {
		v, ok, err := out.Receive(context.Background())
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, 15, v)
	}
	out.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK(), "unexpected error %v", res.Err)
	assert.True(t, res.Outcomes[2].Detached)
	assert.Equal(t, RunCompleted, h.Status())
}

func TestOutputAll_BreakClosesOutput(t *testing.T) {
	src := FromFunc(func(context.Context) (int, bool, error) { return 1, true, nil })
	out, h, err := Build(context.Background(), Then(src, identity, Serial()))
	require.NoError(t, err)

	count := 0
	for range out.All() {
		count++
		if count == 5 {
			break
		}
	}
	<-h.Done()
	assert.True(t, h.Result().OK())
}

func TestFromSeq_StopsIteratorOnDetach(t *testing.T) {
	var stopped atomic.Bool
	numbers := func(yield func(int) bool) {
		defer stopped.Store(true)
		for i := 0; ; i++ {
			if !yield(i) {
				return
			}
		}
	}

	out, h, err := Build(context.Background(), Then(FromSeq(numbers), identity, Serial()))
	require.NoError(t, err)
	v, ok, err := out.Receive(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, v)

	out.Close()
	<-h.Done()
	assert.True(t, stopped.Load())
}

func TestFromChannel(t *testing.T) {
	ch := make(chan int, 3)
	ch <- 1
	ch <- 2
	ch <- 3
	close(ch)

	got, err := Run(context.Background(), Then(FromChannel(ch), double, Serial()))
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 6}, got)
}

func TestBuild_InvalidConfigStartsNothing(t *testing.T) {
	tests := []struct {
		name  string
		build func(src *Builder[int]) *Builder[int]
		field string
	}{
		{"ordered zero", func(b *Builder[int]) *Builder[int] { return Then(b, identity, Ordered(0)) }, "concurrency"},
		{"unordered negative", func(b *Builder[int]) *Builder[int] { return Then(b, identity, Unordered(-2)) }, "concurrency"},
		{"negative buffer", func(b *Builder[int]) *Builder[int] { return Then(b, identity, Serial(), WithBuffer(-1)) }, "buffer"},
		{"negative backpressure", func(b *Builder[int]) *Builder[int] { return Backpressure(b, -5) }, "buffer"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var pulled atomic.Int64
			src := FromFunc(func(context.Context) (int, bool, error) {
				pulled.Add(1)
				return 0, false, nil
			})

			out, h, err := Build(context.Background(), tc.build(src))
			require.Error(t, err)
			assert.Nil(t, out)
			assert.Nil(t, h)
			assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
			appErr, _ := apperrors.AsAppError(err)
			assert.Equal(t, tc.field, appErr.Details["field"])

			time.Sleep(10 * time.Millisecond)
			assert.Zero(t, pulled.Load())
		})
	}
}

func TestBuild_MultipleConfigErrors(t *testing.T) {
	b := Then(Then(FromSlice(seq(3)), identity, Ordered(0), WithName("first")), identity, Unordered(0), WithName("second"))
	_, _, err := Build(context.Background(), b)
	require.Error(t, err)

	appErr, ok := apperrors.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperrors.ErrCodeInvalidConfig, appErr.Code)
	assert.Len(t, appErr.Details["errors"], 2)

	cause, ok := appErr.Cause.(*apperrors.AppError)
	require.True(t, ok)
	assert.Equal(t, "first", cause.Details["stage"])
}

func TestBuilder_ReusableAcrossBuilds(t *testing.T) {
	b := Then(FromSlice(seq(4)), double, Ordered(2))

	out1, h1, err := Build(context.Background(), b)
	require.NoError(t, err)
	out2, h2, err := Build(context.Background(), b)
	require.NoError(t, err)

	got1, err := Collect(context.Background(), out1)
	require.NoError(t, err)
	got2, err := Collect(context.Background(), out2)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2, 4, 6}, got1)
	assert.Equal(t, got1, got2)
	assert.NotEqual(t, h1.ID(), h2.ID())
}

func TestDefaultStageNames(t *testing.T) {
	out, h, err := Build(context.Background(), Then(Then(FromSlice(seq(2)), double, Serial()), double, Serial(), WithName("named")))
	require.NoError(t, err)
	require.NoError(t, Drain(context.Background(), out))

	names := make([]string, 0, 3)
	for _, st := range h.Stats() {
		names = append(names, st.Name)
	}
	assert.Equal(t, []string{"source", "stage-1", "named"}, names)
}

func TestObserverEvents(t *testing.T) {
	var mu sync.Mutex
	var events []Event
	observer := func(ev Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	}

	out, h, err := Build(context.Background(),
		Then(Then(FromSlice(seq(3)), double, Serial()), increment, Serial()),
		WithRunName("observed"), WithObserver(observer))
	require.NoError(t, err)
	require.NoError(t, Drain(context.Background(), out))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, events, 5)
	assert.Equal(t, EventRunStarted, events[0].Type)
	assert.Equal(t, EventRunFinished, events[4].Type)
	assert.Equal(t, RunCompleted, events[4].Status)

	settled := 0
	for _, ev := range events {
		assert.Equal(t, h.ID(), ev.RunID)
		assert.Equal(t, "observed", ev.Name)
		if ev.Type == EventStageSettled {
			settled++
			require.NotNil(t, ev.Stage)
			assert.Equal(t, "completed", ev.Stage.State)
		}
	}
	assert.Equal(t, 3, settled)
}

func TestReduceAndForEach(t *testing.T) {
	out, _, err := Build(context.Background(), Then(FromSlice(seq(5)), increment, Unordered(3)))
	require.NoError(t, err)
	sum, err := Reduce(context.Background(), out, 0, func(acc, v int) int { return acc + v })
	require.NoError(t, err)
	assert.Equal(t, 15, sum)

	stop := errors.New("enough")
	src := FromFunc(func(context.Context) (int, bool, error) { return 1, true, nil })
	out, h, err := Build(context.Background(), Then(src, identity, Serial()))
	require.NoError(t, err)
	seen := 0
	err = ForEach(context.Background(), out, func(int) error {
		seen++
		if seen == 3 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 3, seen)
	assert.True(t, h.Result().OK())
}

func TestWait_ContextEndsFirst(t *testing.T) {
	src := FromFunc(func(context.Context) (int, bool, error) { return 1, true, nil })
	out, h, err := Build(context.Background(), Then(src, identity, Serial()))
	require.NoError(t, err)
	defer func() {
		out.Close()
		<-h.Done()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, RunRunning, h.Status())
}
