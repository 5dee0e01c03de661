package pipeline

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/stagekit/component"
	"github.com/kbukum/stagekit/observability"
)

// Component runs a pipeline as a lifecycle component. Start builds and
// launches the run; Stop cancels it and waits for every stage to settle.
type Component struct {
	name  string
	start func(ctx context.Context) (*Handle, error)

	mu     sync.Mutex
	handle *Handle
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent wraps start, which must build the pipeline and arrange for
// its output to be consumed.
func NewComponent(name string, start func(ctx context.Context) (*Handle, error)) *Component {
	return &Component{name: name, start: start}
}

func (c *Component) Name() string { return c.name }

// Start launches the run. The run outlives ctx; use Stop to end it.
func (c *Component) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.handle != nil {
		return fmt.Errorf("pipeline %s already started", c.name)
	}
	h, err := c.start(context.WithoutCancel(ctx))
	if err != nil {
		return err
	}
	c.handle = h
	return nil
}

// Stop cancels the run and waits until it has settled or ctx ends.
func (c *Component) Stop(ctx context.Context) error {
	h := c.Handle()
	if h == nil {
		return nil
	}
	h.Cancel()
	_, err := h.Wait(ctx)
	return err
}

// Handle returns the current run, or nil before Start.
func (c *Component) Handle() *Handle {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.handle
}

// Health is up while the run is running or finished cleanly, degraded
// once canceled, and down after a failure.
func (c *Component) Health(_ context.Context) observability.Health {
	h := c.Handle()
	if h == nil {
		return observability.Health{Name: c.name, Status: observability.HealthStatusDown, Message: "not started"}
	}

	snap := h.Snapshot()
	health := observability.Health{
		Name:    c.name,
		Status:  observability.HealthStatusUp,
		Message: string(snap.Status),
		Details: map[string]any{"run_id": snap.RunID, "stages": len(snap.Stages) - 1},
	}
	switch snap.Status {
	case RunFailed:
		health.Status = observability.HealthStatusDown
		health.Message = snap.Error
	case RunCanceled:
		health.Status = observability.HealthStatusDegraded
	}
	return health
}

func (c *Component) Describe() component.Description {
	d := component.Description{Name: c.name, Type: "pipeline"}
	if h := c.Handle(); h != nil {
		d.Details = "run " + h.ID()
	}
	return d
}
