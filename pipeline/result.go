package pipeline

import (
	"time"
)

// Status is the settled state of one stage.
type Status int

const (
	StatusCompleted Status = iota
	StatusFailed
)

func (s Status) String() string {
	if s == StatusFailed {
		return "failed"
	}
	return "completed"
}

// Outcome is the settled result of one stage. Index 0 is the source.
type Outcome struct {
	Stage    string
	Index    int
	Policy   Policy
	Status   Status
	Err      error
	Received uint64
	Emitted  uint64
	// Detached is set when the stage stopped because its receiver went away.
	Detached bool
	// Canceled is set when the stage's input ended because the run was
	// canceled.
	Canceled bool
	Duration time.Duration
}

// Result aggregates every stage outcome of a run.
type Result struct {
	RunID    string
	Name     string
	Outcomes []Outcome
	// Err is nil on success. Otherwise it is a PIPELINE_FAILED AppError whose
	// cause is the first failure in stage order, or a CANCELED AppError when
	// the run was canceled without any stage failing.
	Err      error
	Started  time.Time
	Finished time.Time
}

// OK reports whether the run succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Failures returns the outcomes of failed stages in stage order.
func (r Result) Failures() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == StatusFailed {
			out = append(out, o)
		}
	}
	return out
}

// RunStatus is the coarse state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCanceled  RunStatus = "canceled"
)

// StageStats is a live view of one stage's counters.
type StageStats struct {
	Name         string `json:"name"`
	Index        int    `json:"index"`
	Policy       string `json:"policy"`
	Received     uint64 `json:"received"`
	Emitted      uint64 `json:"emitted"`
	InFlight     int64  `json:"in_flight"`
	PeakInFlight int64  `json:"peak_in_flight"`
	State        string `json:"state"`
	Error        string `json:"error,omitempty"`
}

// Snapshot is a point-in-time view of a run, safe to serialize.
type Snapshot struct {
	RunID      string       `json:"run_id"`
	Name       string       `json:"name"`
	Status     RunStatus    `json:"status"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
	Stages     []StageStats `json:"stages"`
	Error      string       `json:"error,omitempty"`
}
