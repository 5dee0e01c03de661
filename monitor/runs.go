package monitor

import (
	"slices"
	"strings"
	"sync"

	"github.com/kbukum/stagekit/logger"
	"github.com/kbukum/stagekit/observability"
	"github.com/kbukum/stagekit/pipeline"
	"github.com/kbukum/stagekit/sse"
)

// EventSnapshot is the SSE event carrying a run snapshot. It is the first
// frame on every run event stream.
const EventSnapshot = "run.snapshot"

type entry struct {
	handle *pipeline.Handle
	snap   pipeline.Snapshot
}

// Runs records pipeline runs from their events and forwards those events
// to an SSE broadcaster. Runs.Observe is a pipeline.Observer.
type Runs struct {
	mu       sync.RWMutex
	runs     map[string]*entry
	finished []string
	retain   int
	bc       sse.Broadcaster
	log      *logger.Logger
}

// RunsOption configures Runs.
type RunsOption func(*Runs)

// WithBroadcaster forwards every observed event to bc. The broadcaster
// must be running, or Observe may block once its queue fills.
func WithBroadcaster(bc sse.Broadcaster) RunsOption {
	return func(r *Runs) { r.bc = bc }
}

// WithRetain bounds how many finished runs are kept. Zero keeps all.
func WithRetain(n int) RunsOption {
	return func(r *Runs) { r.retain = n }
}

// NewRuns creates an empty run registry.
func NewRuns(opts ...RunsOption) *Runs {
	r := &Runs{
		runs: make(map[string]*entry),
		log:  logger.Get("monitor"),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Observer returns Observe as a pipeline.Observer, for pipeline.WithObserver.
func (r *Runs) Observer() pipeline.Observer { return r.Observe }

// Observe folds ev into the run's stored snapshot and broadcasts it.
func (r *Runs) Observe(ev pipeline.Event) {
	r.mu.Lock()
	e := r.entry(ev.RunID)
	switch ev.Type {
	case pipeline.EventRunStarted:
		e.snap.Name = ev.Name
		e.snap.Status = ev.Status
		e.snap.StartedAt = ev.Time
	case pipeline.EventStageSettled:
		if ev.Stage != nil {
			e.snap.Stages = upsertStage(e.snap.Stages, *ev.Stage)
		}
	case pipeline.EventRunFinished:
		t := ev.Time
		e.snap.Status = ev.Status
		e.snap.FinishedAt = &t
		e.snap.Error = ev.Error
		r.finished = append(r.finished, ev.RunID)
		r.evict()
	}
	r.mu.Unlock()

	if ev.Type == pipeline.EventRunFinished {
		r.log.Debug("run recorded", logger.Fields(logger.FieldRunID, ev.RunID, logger.FieldStatus, string(ev.Status)))
	}
	if r.bc == nil {
		return
	}
	f, err := sse.JSONFrame(string(ev.Type), ev)
	if err != nil {
		r.log.Warn("event encoding failed", logger.ErrorFields("json_frame", err))
		return
	}
	r.bc.Broadcast(sse.RunPattern(ev.RunID), f)
}

// Track attaches a live handle so snapshots include in-flight counters.
// A run that already finished is recorded as finished and counts against
// the retain limit.
func (r *Runs) Track(h *pipeline.Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[h.ID()]; !ok && h.Status() != pipeline.RunRunning {
		r.runs[h.ID()] = &entry{handle: h, snap: h.Snapshot()}
		r.finished = append(r.finished, h.ID())
		r.evict()
		return
	}
	e := r.entry(h.ID())
	e.handle = h
	if e.snap.Name == "" {
		e.snap.Name = h.Name()
	}
}

// entry returns the entry for id, creating it. Callers hold mu.
func (r *Runs) entry(id string) *entry {
	e, ok := r.runs[id]
	if !ok {
		e = &entry{snap: pipeline.Snapshot{RunID: id, Status: pipeline.RunRunning}}
		r.runs[id] = e
	}
	return e
}

func (r *Runs) evict() {
	if r.retain <= 0 {
		return
	}
	for len(r.finished) > r.retain {
		delete(r.runs, r.finished[0])
		r.finished = r.finished[1:]
	}
}

// Get returns the latest snapshot of run id.
func (r *Runs) Get(id string) (pipeline.Snapshot, bool) {
	r.mu.RLock()
	e, ok := r.runs[id]
	var h *pipeline.Handle
	var snap pipeline.Snapshot
	if ok {
		h = e.handle
		snap = e.snap
	}
	r.mu.RUnlock()
	if !ok {
		return pipeline.Snapshot{}, false
	}
	if h != nil {
		return h.Snapshot(), true
	}
	snap.Stages = slices.Clone(snap.Stages)
	return snap, true
}

// Handle returns the live handle of run id, if one was tracked.
func (r *Runs) Handle(id string) *pipeline.Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.runs[id]; ok {
		return e.handle
	}
	return nil
}

// List returns snapshots of every known run, oldest first.
func (r *Runs) List() []pipeline.Snapshot {
	r.mu.RLock()
	ids := make([]string, 0, len(r.runs))
	for id := range r.runs {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	out := make([]pipeline.Snapshot, 0, len(ids))
	for _, id := range ids {
		if snap, ok := r.Get(id); ok {
			out = append(out, snap)
		}
	}
	slices.SortFunc(out, func(a, b pipeline.Snapshot) int {
		if c := a.StartedAt.Compare(b.StartedAt); c != 0 {
			return c
		}
		return strings.Compare(a.RunID, b.RunID)
	})
	return out
}

// Health reports one entry per known run: failed runs are down and
// canceled runs degraded.
func (r *Runs) Health() []observability.Health {
	snaps := r.List()
	out := make([]observability.Health, 0, len(snaps))
	for _, s := range snaps {
		h := observability.Health{
			Name:    s.Name,
			Status:  observability.HealthStatusUp,
			Message: string(s.Status),
			Details: map[string]any{"run_id": s.RunID},
		}
		switch s.Status {
		case pipeline.RunFailed:
			h.Status = observability.HealthStatusDown
			h.Message = s.Error
		case pipeline.RunCanceled:
			h.Status = observability.HealthStatusDegraded
		}
		out = append(out, h)
	}
	return out
}

func upsertStage(stages []pipeline.StageStats, st pipeline.StageStats) []pipeline.StageStats {
	for i := range stages {
		if stages[i].Index == st.Index {
			stages[i] = st
			return stages
		}
	}
	stages = append(stages, st)
	slices.SortFunc(stages, func(a, b pipeline.StageStats) int { return a.Index - b.Index })
	return stages
}
