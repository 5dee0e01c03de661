package monitor

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	apperrors "github.com/kbukum/stagekit/errors"
	"github.com/kbukum/stagekit/observability"
	"github.com/kbukum/stagekit/pipeline"
	"github.com/kbukum/stagekit/sse"
	"github.com/kbukum/stagekit/validation"
	"github.com/kbukum/stagekit/version"
)

// DataResponse is the success envelope.
type DataResponse struct {
	Data any   `json:"data"`
	Meta *Meta `json:"meta,omitempty"`
}

// Meta carries list metadata.
type Meta struct {
	Total int `json:"total"`
}

func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		c.JSON(appErr.HTTPStatus, appErr.ToResponse())
		return
	}
	c.JSON(http.StatusInternalServerError, apperrors.Internal(err).ToResponse())
}

// healthz reports down (503) when any component is down. Failed runs only
// degrade the service.
func (s *Server) healthz(c *gin.Context) {
	var components []observability.Health
	if s.checker != nil {
		components = s.checker(c.Request.Context())
	}

	status := observability.HealthStatusUp
	for _, h := range components {
		if h.Status == observability.HealthStatusDown {
			status = observability.HealthStatusDown
			break
		}
		if h.Status == observability.HealthStatusDegraded {
			status = observability.HealthStatusDegraded
		}
	}

	runs := s.runs.Health()
	if status == observability.HealthStatusUp {
		for _, h := range runs {
			if h.Status != observability.HealthStatusUp {
				status = observability.HealthStatusDegraded
				break
			}
		}
	}

	code := http.StatusOK
	if status == observability.HealthStatusDown {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, observability.ServiceHealth{
		Service:    s.service,
		Status:     status,
		Version:    version.Get().Short(),
		CheckedAt:  time.Now().UTC(),
		Components: append(components, runs...),
	})
}

func (s *Server) version(c *gin.Context) {
	c.JSON(http.StatusOK, version.Get())
}

func (s *Server) listRuns(c *gin.Context) {
	runs := s.runs.List()
	c.JSON(http.StatusOK, DataResponse{Data: runs, Meta: &Meta{Total: len(runs)}})
}

// lookup validates :id and finds the run, writing the error response when
// either fails.
func (s *Server) lookup(c *gin.Context) (string, pipeline.Snapshot, bool) {
	id, err := validation.ValidateUUID("id", c.Param("id"))
	if err != nil {
		respondError(c, err)
		return "", pipeline.Snapshot{}, false
	}
	snap, ok := s.runs.Get(id.String())
	if !ok {
		respondError(c, apperrors.NotFound("run", id.String()))
		return "", pipeline.Snapshot{}, false
	}
	return id.String(), snap, true
}

func (s *Server) getRun(c *gin.Context) {
	if _, snap, ok := s.lookup(c); ok {
		c.JSON(http.StatusOK, DataResponse{Data: snap})
	}
}

func (s *Server) cancelRun(c *gin.Context) {
	id, snap, ok := s.lookup(c)
	if !ok {
		return
	}
	h := s.runs.Handle(id)
	if h == nil || snap.Status != pipeline.RunRunning {
		respondError(c, apperrors.Conflict("run", "not running").
			WithDetail("status", string(snap.Status)))
		return
	}
	h.Cancel()
	c.JSON(http.StatusAccepted, DataResponse{Data: gin.H{"run_id": id, "status": "canceling"}})
}

// runEvents streams a run's events, starting with its current snapshot.
func (s *Server) runEvents(c *gin.Context) {
	id, snap, ok := s.lookup(c)
	if !ok {
		return
	}
	initial, err := sse.JSONFrame(EventSnapshot, snap)
	if err != nil {
		respondError(c, apperrors.Internal(err))
		return
	}
	clientID := sse.RunClientID(id, uuid.NewString())
	sse.ServeSSE(s.hub, c.Writer, c.Request, clientID, []sse.Frame{initial}, sse.WithRunID(id))
}
