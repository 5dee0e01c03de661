package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Infrastructure event types. Run lifecycle events use the pipeline's own
// event names ("run.started", "stage.settled", "run.finished").
const (
	// EventTypeConnected is sent when a client successfully connects.
	EventTypeConnected = "connected"

	// EventTypeKeepAlive is used for keep-alive comments.
	EventTypeKeepAlive = "keepalive"

	// EventTypeMessage is the default event type.
	EventTypeMessage = "message"

	// EventTypeError is sent when an error occurs.
	EventTypeError = "error"
)

// Frame is one server-sent event.
type Frame struct {
	Event string
	Data  []byte
}

// JSONFrame encodes v as the data of an event.
func JSONFrame(event string, v any) (Frame, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Frame{}, fmt.Errorf("encode %s event: %w", event, err)
	}
	return Frame{Event: event, Data: data}, nil
}

// WriteTo writes f in the text/event-stream format. Multi-line data is split
// over several data fields.
func (f Frame) WriteTo(w io.Writer) (int64, error) {
	var buf bytes.Buffer
	if f.Event != "" && f.Event != EventTypeMessage {
		fmt.Fprintf(&buf, "event: %s\n", f.Event)
	}
	for line := range bytes.SplitSeq(f.Data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.WriteTo(w)
}
