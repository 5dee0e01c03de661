package component

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kbukum/stagekit/observability"
)

type mockComponent struct {
	name     string
	startErr error
	stopErr  error
	status   observability.HealthStatus
	events   *[]string
}

func (m *mockComponent) Name() string { return m.name }

func (m *mockComponent) Start(context.Context) error {
	if m.events != nil {
		*m.events = append(*m.events, "start:"+m.name)
	}
	return m.startErr
}

func (m *mockComponent) Stop(context.Context) error {
	if m.events != nil {
		*m.events = append(*m.events, "stop:"+m.name)
	}
	return m.stopErr
}

func (m *mockComponent) Health(context.Context) observability.Health {
	return observability.Health{Name: m.name, Status: m.status}
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(&mockComponent{name: "pipeline"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := r.Register(&mockComponent{name: "pipeline"}); err == nil {
		t.Fatal("expected duplicate registration to fail")
	}
}

func TestGet(t *testing.T) {
	r := NewRegistry()
	c := &mockComponent{name: "monitor"}
	_ = r.Register(c)

	if r.Get("monitor") != c {
		t.Error("expected registered component")
	}
	if r.Get("missing") != nil {
		t.Error("expected nil for unknown component")
	}
	if len(r.All()) != 1 {
		t.Errorf("expected 1 component, got %d", len(r.All()))
	}
}

func TestStartStopOrder(t *testing.T) {
	var events []string
	r := NewRegistry()
	for _, name := range []string{"a", "b", "c"} {
		_ = r.Register(&mockComponent{name: name, events: &events})
	}

	ctx := context.Background()
	if err := r.StartAll(ctx); err != nil {
		t.Fatalf("StartAll failed: %v", err)
	}
	if err := r.StopAll(ctx); err != nil {
		t.Fatalf("StopAll failed: %v", err)
	}

	want := "start:a,start:b,start:c,stop:c,stop:b,stop:a"
	if got := strings.Join(events, ","); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestStartAllErrorStopsStartedOnly(t *testing.T) {
	var events []string
	r := NewRegistry()
	_ = r.Register(&mockComponent{name: "a", events: &events})
	_ = r.Register(&mockComponent{name: "b", events: &events, startErr: errors.New("boom")})
	_ = r.Register(&mockComponent{name: "c", events: &events})

	ctx := context.Background()
	err := r.StartAll(ctx)
	if err == nil || !strings.Contains(err.Error(), "failed to start b") {
		t.Fatalf("expected start failure for b, got %v", err)
	}
	_ = r.StopAll(ctx)

	want := "start:a,start:b,stop:a"
	if got := strings.Join(events, ","); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestStopAllJoinsErrors(t *testing.T) {
	r := NewRegistry()
	errA := errors.New("a failed")
	errB := errors.New("b failed")
	_ = r.Register(&mockComponent{name: "a", stopErr: errA})
	_ = r.Register(&mockComponent{name: "b", stopErr: errB})

	ctx := context.Background()
	_ = r.StartAll(ctx)
	err := r.StopAll(ctx)
	if !errors.Is(err, errA) || !errors.Is(err, errB) {
		t.Errorf("expected both stop errors, got %v", err)
	}
}

func TestHealthAll(t *testing.T) {
	r := NewRegistry()
	_ = r.Register(&mockComponent{name: "a", status: observability.HealthStatusUp})
	_ = r.Register(&mockComponent{name: "b", status: observability.HealthStatusDegraded})

	results := r.HealthAll(context.Background())
	if len(results) != 2 || results[1].Status != observability.HealthStatusDegraded {
		t.Fatalf("unexpected health %v", results)
	}

	sh := observability.NewServiceHealth("svc", "1")
	sh.Check(context.Background(), Checker(r.Get("a")), Checker(r.Get("b")))
	if sh.Status != observability.HealthStatusDegraded {
		t.Errorf("expected degraded, got %s", sh.Status)
	}
}

func TestStartOne(t *testing.T) {
	var events []string
	r := NewRegistry()
	_ = r.Register(&mockComponent{name: "a", events: &events})
	ctx := context.Background()
	_ = r.StartAll(ctx)

	_ = r.Register(&mockComponent{name: "late", events: &events})
	if err := r.StartOne(ctx, "late"); err != nil {
		t.Fatalf("StartOne failed: %v", err)
	}
	if err := r.StartOne(ctx, "late"); err != nil {
		t.Fatalf("second StartOne should be a no-op: %v", err)
	}
	if err := r.StartOne(ctx, "missing"); err == nil {
		t.Fatal("expected error for unknown component")
	}
	_ = r.StopAll(ctx)

	want := "start:a,start:late,stop:late,stop:a"
	if got := strings.Join(events, ","); got != want {
		t.Errorf("got %s, want %s", got, want)
	}
}
