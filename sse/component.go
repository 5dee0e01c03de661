package sse

import (
	"context"
	"fmt"
	"sync"

	"github.com/kbukum/stagekit/component"
	"github.com/kbukum/stagekit/observability"
)

// Component wraps an SSE Hub as a lifecycle-managed component.
type Component struct {
	hub  *Hub
	wg   sync.WaitGroup
	mu   sync.Mutex
	path string
}

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// NewComponent creates a new SSE component with a fresh Hub. path is only
// used for the startup summary.
func NewComponent(path string, opts ...HubOption) *Component {
	return &Component{
		hub:  NewHub(opts...),
		path: path,
	}
}

// Hub returns the underlying Hub.
func (c *Component) Hub() *Hub { return c.hub }

func (c *Component) Name() string { return "sse" }

// Start launches the Hub's event loop in a background goroutine.
func (c *Component) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.hub.Run()
	}()
	return nil
}

// Stop signals the Hub to shut down and waits for Run to return.
func (c *Component) Stop(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.hub.Stop()
	c.wg.Wait()
	return nil
}

func (c *Component) Health(_ context.Context) observability.Health {
	status := observability.HealthStatusUp
	select {
	case <-c.hub.Done():
		status = observability.HealthStatusDown
	default:
	}
	return observability.Health{
		Name:    c.Name(),
		Status:  status,
		Message: fmt.Sprintf("%d clients connected", c.hub.ClientCount()),
	}
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "SSE Hub",
		Type:    "sse",
		Details: fmt.Sprintf("Path: %s", c.path),
	}
}
