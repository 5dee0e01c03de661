package sse

// Broadcaster is an interface for broadcasting events to clients.
// This allows handlers to depend on an abstraction rather than a concrete Hub.
type Broadcaster interface {
	// Broadcast sends f to all clients whose ID matches pattern.
	// Pattern uses glob-style matching (e.g., "run:*" or "run:abc123:*").
	Broadcast(pattern string, f Frame)
}

// RunClientID names a client subscribed to one pipeline run.
func RunClientID(runID, clientID string) string {
	return "run:" + runID + ":" + clientID
}

// RunPattern matches every client subscribed to runID.
func RunPattern(runID string) string {
	return "run:" + runID + ":*"
}
