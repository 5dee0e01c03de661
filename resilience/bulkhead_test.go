package resilience

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	apperrors "github.com/kbukum/stagekit/errors"
)

func TestBulkhead_LimitsConcurrency(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{Name: "disk", MaxConcurrent: 2})
	var current, peak atomic.Int32

	fn := WithBulkhead(b, func(_ context.Context, in int) (int, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		current.Add(-1)
		return in, nil
	})

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := fn(context.Background(), i); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if peak.Load() > 2 {
		t.Errorf("expected at most 2 concurrent calls, got %d", peak.Load())
	}
	if b.InUse() != 0 || b.Available() != 2 {
		t.Errorf("expected all slots released, in use %d", b.InUse())
	}
}

func holdSlot(t *testing.T, b *Bulkhead) (release func()) {
	t.Helper()
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = b.Execute(context.Background(), func() error {
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	return func() { close(done) }
}

func TestBulkhead_FailFast(t *testing.T) {
	rejected := ""
	b := NewBulkhead(BulkheadConfig{Name: "disk", MaxConcurrent: 1, MaxWait: -1, OnReject: func(n string) { rejected = n }})
	release := holdSlot(t, b)
	defer release()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadFull) || !apperrors.IsCode(err, apperrors.ErrCodeUnavailable) {
		t.Errorf("expected bulkhead full, got %v", err)
	}
	if rejected != "disk" {
		t.Errorf("expected OnReject to fire, got %q", rejected)
	}
}

func TestBulkhead_WaitTimeout(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1, MaxWait: 10 * time.Millisecond})
	release := holdSlot(t, b)
	defer release()

	err := b.Execute(context.Background(), func() error { return nil })
	if !errors.Is(err, ErrBulkheadTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}

func TestBulkhead_WaitsForContext(t *testing.T) {
	b := NewBulkhead(BulkheadConfig{MaxConcurrent: 1})
	release := holdSlot(t, b)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := b.Execute(ctx, func() error { return nil }); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", err)
	}
}
