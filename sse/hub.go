package sse

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/kbukum/stagekit/logger"
)

// DefaultClientBuffer is the number of frames queued per client before
// further frames are dropped.
const DefaultClientBuffer = 256

// DefaultKeepAlive is the interval between keep-alive comments. It should be
// shorter than typical proxy timeouts (60s).
const DefaultKeepAlive = 30 * time.Second

// Client represents a connected SSE client.
type Client struct {
	id        string
	metadata  map[string]string
	frames    chan Frame
	closeOnce sync.Once
	log       *logger.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithMetadata adds a metadata key-value pair to the client.
func WithMetadata(key, value string) ClientOption {
	return func(c *Client) {
		c.metadata[key] = value
	}
}

// WithRunID records the run the client follows.
func WithRunID(runID string) ClientOption {
	return WithMetadata("run_id", runID)
}

// WithClientBuffer overrides DefaultClientBuffer.
func WithClientBuffer(size int) ClientOption {
	return func(c *Client) {
		c.frames = make(chan Frame, size)
	}
}

// NewClient creates a new SSE client with optional metadata.
func NewClient(id string, opts ...ClientOption) *Client {
	c := &Client{
		id:       id,
		metadata: make(map[string]string),
		frames:   make(chan Frame, DefaultClientBuffer),
		log:      logger.Get("sse"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Metadata returns all client metadata.
func (c *Client) Metadata() map[string]string { return c.metadata }

// GetMetadata returns a specific metadata value.
func (c *Client) GetMetadata(key string) string { return c.metadata[key] }

// RunID returns the run the client follows, if any.
func (c *Client) RunID() string { return c.metadata["run_id"] }

// Frames returns the channel of frames queued for the client. It is closed
// when the client is unregistered.
func (c *Client) Frames() <-chan Frame { return c.frames }

// Send queues f. It returns false, dropping f, when the client is too slow.
func (c *Client) Send(f Frame) bool {
	select {
	case c.frames <- f:
		return true
	default:
		c.log.Warn("client buffer full, dropping frame", logger.Fields("client_id", c.id, "event", f.Event))
		return false
	}
}

// Close closes the client's frame channel. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.frames) })
}

// Message is a frame addressed to every client matching Pattern.
type Message struct {
	Pattern string
	Frame   Frame
}

// Hub manages SSE client connections and message broadcasting. All client
// map writes happen on the Run goroutine.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	broadcast  chan *Message
	done       chan struct{}
	stopOnce   sync.Once
	mu         sync.RWMutex
	keepAlive  time.Duration
	log        *logger.Logger
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithKeepAlive sets the keep-alive interval used by ServeSSE.
func WithKeepAlive(d time.Duration) HubOption {
	return func(h *Hub) { h.keepAlive = d }
}

// NewHub creates a new SSE hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Message, 256),
		done:       make(chan struct{}),
		keepAlive:  DefaultKeepAlive,
		log:        logger.Get("sse"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main event loop. It blocks until Stop is called and
// should be run in a goroutine.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.closeAllClients()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.id] = client
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client registered", logger.Fields("client_id", client.id, "total_clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client.id]; ok {
				delete(h.clients, client.id)
				client.Close()
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("client unregistered", logger.Fields("client_id", client.id, "total_clients", total))

		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

// Stop signals the hub to shut down. It closes all client connections
// and causes Run to return. Safe to call multiple times.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Done is closed once Stop has been called.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, client := range h.clients {
		client.Close()
		delete(h.clients, id)
	}
	h.log.Debug("all clients closed during shutdown")
}

// Register adds a client to the hub. It returns false, closing the client,
// if the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case <-h.done:
		client.Close()
		return false
	default:
	}
	select {
	case h.register <- client:
		return true
	case <-h.done:
		client.Close()
		return false
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast sends f to all clients matching pattern. Frames sent after Stop
// are discarded.
func (h *Hub) Broadcast(pattern string, f Frame) {
	select {
	case h.broadcast <- &Message{Pattern: pattern, Frame: f}:
	case <-h.done:
	}
}

func (h *Hub) deliver(msg *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	matched := 0
	for id, client := range h.clients {
		ok, err := filepath.Match(msg.Pattern, id)
		if err != nil {
			h.log.Error("bad client pattern", logger.MergeWithError(logger.Fields("pattern", msg.Pattern), err))
			return
		}
		if ok && client.Send(msg.Frame) {
			matched++
		}
	}
	h.log.Debug("broadcast", logger.Fields("pattern", msg.Pattern, "event", msg.Frame.Event, "match_count", matched))
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ClientIDs returns the IDs of all connected clients.
func (h *Hub) ClientIDs() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.clients))
	for id := range h.clients {
		ids = append(ids, id)
	}
	return ids
}

// Client returns a client by ID, or nil if not found.
func (h *Hub) Client(id string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.clients[id]
}

var _ Broadcaster = (*Hub)(nil)
