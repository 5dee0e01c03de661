package sse

import (
	"fmt"
	"net/http"
	"time"

	"github.com/kbukum/stagekit/logger"
)

// ConnectedEvent is sent when a client successfully connects.
type ConnectedEvent struct {
	ClientID string            `json:"client_id"`
	RunID    string            `json:"run_id,omitempty"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ServeSSE streams frames to one client until the request ends or the hub
// stops. Frames passed in initial are written right after the connected
// event, before anything broadcast later.
func ServeSSE(hub *Hub, w http.ResponseWriter, r *http.Request, clientID string, initial []Frame, opts ...ClientOption) {
	log := hub.log.WithFields(logger.Fields("client_id", clientID))

	flusher, ok := w.(http.Flusher)
	if !ok {
		log.Error("streaming not supported")
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	// SSE connections are long-lived and must not hit the server's
	// WriteTimeout.
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		log.Debug("could not disable write deadline", logger.ErrorFields("set_write_deadline", err))
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	client := NewClient(clientID, opts...)
	if !hub.Register(client) {
		http.Error(w, "event stream is shutting down", http.StatusServiceUnavailable)
		return
	}
	defer hub.Unregister(client)

	connected, _ := JSONFrame(EventTypeConnected, ConnectedEvent{
		ClientID: clientID,
		RunID:    client.RunID(),
		Metadata: client.Metadata(),
	})
	_, _ = connected.WriteTo(w)
	for _, f := range initial {
		_, _ = f.WriteTo(w)
	}
	flusher.Flush()
	log.Debug("client connected", logger.Fields("remote_addr", r.RemoteAddr))

	keepAlive := time.NewTicker(hub.keepAlive)
	defer keepAlive.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Debug("client disconnected", logger.Fields("reason", ctx.Err().Error()))
			return

		case f, ok := <-client.Frames():
			if !ok {
				return
			}
			if _, err := f.WriteTo(w); err != nil {
				log.Debug("write failed", logger.ErrorFields("write", err))
				return
			}
			flusher.Flush()

		case <-keepAlive.C:
			// Lines starting with ':' are comments.
			_, _ = fmt.Fprintf(w, ": %s %d\n\n", EventTypeKeepAlive, time.Now().Unix())
			flusher.Flush()
		}
	}
}
