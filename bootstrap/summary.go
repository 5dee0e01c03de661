package bootstrap

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/kbukum/stagekit/component"
	"github.com/kbukum/stagekit/observability"
)

// StageInfo describes one stage of a tracked pipeline.
type StageInfo struct {
	Name   string
	Policy string
}

// PipelineInfo describes a pipeline the command will run.
type PipelineInfo struct {
	Name   string
	Stages []StageInfo
}

// RouteInfo represents a registered HTTP route.
type RouteInfo struct {
	Method  string
	Path    string
	Handler string
}

// Summary tracks and displays the application bootstrap process.
type Summary struct {
	mu              sync.Mutex
	serviceName     string
	version         string
	startupDuration time.Duration
	pipelines       []PipelineInfo
	routes          []RouteInfo
}

// NewSummary creates a new bootstrap summary tracker.
func NewSummary(serviceName, version string) *Summary {
	return &Summary{serviceName: serviceName, version: version}
}

// SetStartupDuration records the total startup time.
func (s *Summary) SetStartupDuration(d time.Duration) {
	s.mu.Lock()
	s.startupDuration = d
	s.mu.Unlock()
}

// TrackPipeline records a pipeline and its stages.
func (s *Summary) TrackPipeline(name string, stages ...StageInfo) {
	s.mu.Lock()
	s.pipelines = append(s.pipelines, PipelineInfo{Name: name, Stages: stages})
	s.mu.Unlock()
}

// TrackRoute records an HTTP route.
func (s *Summary) TrackRoute(method, path, handler string) {
	s.mu.Lock()
	s.routes = append(s.routes, RouteInfo{Method: method, Path: path, Handler: handler})
	s.mu.Unlock()
}

// Pipelines returns the tracked pipelines.
func (s *Summary) Pipelines() []PipelineInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PipelineInfo(nil), s.pipelines...)
}

// Routes returns the tracked routes.
func (s *Summary) Routes() []RouteInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RouteInfo(nil), s.routes...)
}

// Write prints the summary to w, including components described by the
// registry and their live health.
func (s *Summary) Write(ctx context.Context, w io.Writer, registry *component.Registry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fmt.Fprintf(w, "\n🚀 %s v%s started in %.2fs\n\n", s.serviceName, s.version, s.startupDuration.Seconds())

	var components []component.Component
	if registry != nil {
		components = registry.All()
	}

	if len(components) == 0 {
		fmt.Fprintf(w, "📦 Components\n   └── No components registered\n")
	} else {
		fmt.Fprintf(w, "📦 Components\n")
		for i, c := range components {
			d := component.Description{Name: c.Name()}
			if dc, ok := c.(component.Describable); ok {
				d = dc.Describe()
				if d.Name == "" {
					d.Name = c.Name()
				}
			}
			line := d.Name
			if d.Type != "" {
				line += " [" + d.Type + "]"
			}
			if d.Details != "" {
				line += ": " + d.Details
			}
			fmt.Fprintf(w, "   %s %s\n", branch(i, len(components)), line)
		}
	}

	if len(s.pipelines) > 0 {
		fmt.Fprintf(w, "\n🔀 Pipelines\n")
		for i, p := range s.pipelines {
			last := i == len(s.pipelines)-1
			fmt.Fprintf(w, "   %s %s (%d stages)\n", branch(i, len(s.pipelines)), p.Name, len(p.Stages))
			indent := "│   "
			if last {
				indent = "    "
			}
			for j, st := range p.Stages {
				fmt.Fprintf(w, "   %s%s %s: %s\n", indent, branch(j, len(p.Stages)), st.Name, st.Policy)
			}
		}
	}

	if len(s.routes) > 0 {
		fmt.Fprintf(w, "\n🌐 Routes (%d)\n", len(s.routes))
		for i, r := range s.routes {
			fmt.Fprintf(w, "   %s %-7s %s → %s\n", branch(i, len(s.routes)), r.Method, r.Path, r.Handler)
		}
	}

	if registry != nil {
		results := registry.HealthAll(ctx)
		if len(results) > 0 {
			fmt.Fprintf(w, "\n🏥 Health Check\n")
			up := 0
			for i, h := range results {
				msg := ""
				if h.Message != "" {
					msg = " (" + h.Message + ")"
				}
				if h.Status == observability.HealthStatusUp {
					up++
				}
				fmt.Fprintf(w, "   %s %s %s: %s%s\n", branch(i, len(results)), healthIcon(h.Status), h.Name, strings.ToLower(string(h.Status)), msg)
			}
			if up == len(results) {
				fmt.Fprintf(w, "\n✅ All components healthy (%d/%d)\n", up, len(results))
			} else {
				fmt.Fprintf(w, "\n⚠️  Some components have issues (%d/%d healthy)\n", up, len(results))
			}
		}
	}

	fmt.Fprintf(w, "\n")
}

func branch(i, n int) string {
	if i == n-1 {
		return "└──"
	}
	return "├──"
}

func healthIcon(status observability.HealthStatus) string {
	switch status {
	case observability.HealthStatusUp:
		return "✅"
	case observability.HealthStatusDegraded:
		return "⚠️"
	case observability.HealthStatusDown:
		return "❌"
	default:
		return "❓"
	}
}
