package component

import (
	"context"

	"github.com/kbukum/stagekit/observability"
)

// Component represents a lifecycle-managed part of the process.
type Component interface {
	// Name returns the unique name of the component for registration.
	Name() string

	// Start starts the component. It must not block past startup.
	Start(ctx context.Context) error

	// Stop gracefully shuts the component down.
	Stop(ctx context.Context) error

	// Health returns the current health of the component.
	Health(ctx context.Context) observability.Health
}

// Description holds summary information for the startup log.
type Description struct {
	// Name is the display name. If empty, the component's Name() is used.
	Name string
	// Type categorizes the component: "pipeline", "server".
	Type    string
	Details string
}

// Describable is optionally implemented by components to describe
// themselves in the startup summary.
type Describable interface {
	Describe() Description
}

// Checker adapts a Component to observability.HealthChecker.
func Checker(c Component) observability.HealthChecker {
	return checker{c}
}

type checker struct{ c Component }

func (ch checker) CheckHealth(ctx context.Context) observability.Health {
	return ch.c.Health(ctx)
}
