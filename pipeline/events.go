package pipeline

import "time"

// EventType names a run lifecycle event.
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventStageSettled EventType = "stage.settled"
	EventRunFinished  EventType = "run.finished"
)

// Event describes a change in a run's lifecycle.
type Event struct {
	Type   EventType   `json:"type"`
	RunID  string      `json:"run_id"`
	Name   string      `json:"name"`
	Time   time.Time   `json:"time"`
	Status RunStatus   `json:"status"`
	Stage  *StageStats `json:"stage,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Observer receives run events. It is called from the run's goroutines and
// must not block.
type Observer func(Event)
