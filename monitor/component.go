package monitor

import (
	"context"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/stagekit/bootstrap"
	"github.com/kbukum/stagekit/component"
	"github.com/kbukum/stagekit/observability"
)

const componentName = "monitor"

var (
	_ component.Component   = (*Component)(nil)
	_ component.Describable = (*Component)(nil)
)

// Component wraps Server as a lifecycle-managed component.
type Component struct {
	server *Server
}

// NewComponent returns a component backed by s.
func NewComponent(s *Server) *Component {
	return &Component{server: s}
}

func (c *Component) Name() string { return componentName }

func (c *Component) Start(ctx context.Context) error { return c.server.Start(ctx) }

func (c *Component) Stop(ctx context.Context) error { return c.server.Stop(ctx) }

func (c *Component) Health(_ context.Context) observability.Health {
	return observability.Health{
		Name:    componentName,
		Status:  observability.HealthStatusUp,
		Message: c.server.Addr(),
	}
}

func (c *Component) Describe() component.Description {
	return component.Description{
		Name:    "Monitor",
		Type:    "server",
		Details: c.server.Addr() + " (h2c)",
	}
}

// TrackRoutes adds the server's routes to the startup summary, sorted by
// path then method.
func (s *Server) TrackRoutes(summary *bootstrap.Summary) {
	routes := s.engine.Routes()
	slices.SortFunc(routes, func(a, b gin.RouteInfo) int {
		if c := strings.Compare(a.Path, b.Path); c != 0 {
			return c
		}
		return strings.Compare(a.Method, b.Method)
	})
	for _, r := range routes {
		summary.TrackRoute(r.Method, r.Path, handlerName(r.Handler))
	}
}

// handlerName shortens gin's handler path, e.g.
// "github.com/kbukum/stagekit/monitor.(*Server).getRun-fm" to "Server.getRun".
func handlerName(full string) string {
	name := strings.TrimSuffix(full, "-fm")
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name = strings.NewReplacer("(*", "", ")", "").Replace(name)
	if pkg, rest, ok := strings.Cut(name, "."); ok && strings.ToLower(pkg) == pkg && rest != "" {
		name = rest
	}
	return name
}
