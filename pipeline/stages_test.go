package pipeline

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kbukum/stagekit/errors"
)

func TestFilterMap(t *testing.T) {
	parse := func(_ context.Context, s string) (int, bool, error) {
		n, err := strconv.Atoi(s)
		if err != nil {
			return 0, false, nil
		}
		return n, true, nil
	}

	out, h, err := Build(context.Background(), FilterMap(FromSlice([]string{"1", "x", "3", "", "5"}), parse, Ordered(2)))
	require.NoError(t, err)
	got, err := Collect(context.Background(), out)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, got)

	stats := h.Stats()
	assert.Equal(t, uint64(5), stats[1].Received)
	assert.Equal(t, uint64(3), stats[1].Emitted)
}

func TestFilter(t *testing.T) {
	even := func(v int) bool { return v%2 == 0 }
	got, err := Run(context.Background(), Filter(FromSlice(seq(10)), even))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6, 8}, got)
}

func TestTap(t *testing.T) {
	var mu sync.Mutex
	var seen []int
	tap := func(_ context.Context, v int) error {
		mu.Lock()
		seen = append(seen, v)
		mu.Unlock()
		return nil
	}

	got, err := Run(context.Background(), Then(Tap(FromSlice(seq(4)), tap), double, Serial()))
	require.NoError(t, err)
	assert.Equal(t, []int{0, 2, 4, 6}, got)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
}

func TestTap_ErrorFailsStage(t *testing.T) {
	bad := errors.New("audit log full")
	tap := func(_ context.Context, v int) error {
		if v == 2 {
			return bad
		}
		return nil
	}

	got, err := Run(context.Background(), Tap(FromSlice(seq(5)), tap, WithName("audit")))
	assert.Equal(t, []int{0, 1}, got)
	assert.ErrorIs(t, err, bad)
	assert.Contains(t, err.Error(), "audit")
}

func TestBatch_BySize(t *testing.T) {
	got, err := Run(context.Background(), Batch(FromSlice([]int{1, 2, 3, 4, 5, 6, 7}), 3, 0))
	require.NoError(t, err)
	assert.Equal(t, [][]int{{1, 2, 3}, {4, 5, 6}, {7}}, got)
}

func TestBatch_FlushesOnTimeout(t *testing.T) {
	ch := make(chan int)
	out, h, err := Build(context.Background(), Batch(FromChannel(ch), 10, 50*time.Millisecond))
	require.NoError(t, err)

	ch <- 1
	ch <- 2

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	batch, ok, err := out.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{1, 2}, batch)

	ch <- 3
	close(ch)
	batch, ok, err = out.Receive(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []int{3}, batch)

	_, ok, err = out.Receive(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := h.Wait(ctx)
	require.NoError(t, err)
	assert.True(t, res.OK())
}

func TestBatch_InvalidSize(t *testing.T) {
	_, _, err := Build(context.Background(), Batch(FromSlice(seq(3)), 0, 0))
	require.Error(t, err)
	assert.True(t, apperrors.IsCode(err, apperrors.ErrCodeInvalidConfig))
	appErr, _ := apperrors.AsAppError(err)
	assert.Equal(t, "batch_size", appErr.Details["field"])
}

func TestBatch_InvalidSizeLeavesCallerOptions(t *testing.T) {
	opts := make([]StageOption, 1, 2)
	opts[0] = WithName("batched")

	_, _, err := Build(context.Background(), Batch(FromSlice(seq(3)), 0, 0, opts...))
	require.Error(t, err)
	assert.Nil(t, opts[:cap(opts)][1], "Batch wrote into the caller's options")
}
