// file: internal/realtime/events.go
// version: 2.0.0
// guid: a4067674-0057-461c-9afb-0f7b642b0391

// Package realtime fans processing events out to Server-Sent Events clients.
package realtime

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// EventType defines the type of real-time event
type EventType string

const (
	EventRunStarted   EventType = "run.started"
	EventRunProgress  EventType = "run.progress"
	EventRunSucceeded EventType = "run.succeeded"
	EventRunFailed    EventType = "run.failed"
	EventFileSkipped  EventType = "file.skipped"
	EventConnected    EventType = "connection.established"
	EventHeartbeat    EventType = "heartbeat"
)

// DefaultHeartbeat is the keep-alive interval for idle streams.
const DefaultHeartbeat = 15 * time.Second

const clientBuffer = 100

// Event is one message delivered to clients. VideoID is empty for
// system-wide events.
type Event struct {
	Type      EventType      `json:"type"`
	VideoID   string         `json:"video_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// Client represents a connected SSE client
type Client struct {
	ID      string
	Channel chan *Event

	mu     sync.RWMutex
	videos map[string]bool
}

// NewClient creates a new SSE client
func NewClient(id string) *Client {
	return &Client{
		ID:      id,
		Channel: make(chan *Event, clientBuffer),
		videos:  make(map[string]bool),
	}
}

// Subscribe limits the client to events for videoID. A client with no
// subscriptions receives everything.
func (c *Client) Subscribe(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.videos[videoID] = true
}

// Unsubscribe removes a video filter.
func (c *Client) Unsubscribe(videoID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.videos, videoID)
}

// Wants reports whether event should be delivered to the client.
func (c *Client) Wants(event *Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return event.VideoID == "" || len(c.videos) == 0 || c.videos[event.VideoID]
}

// EventHub manages SSE connections and event distribution
type EventHub struct {
	mu        sync.RWMutex
	clients   map[string]*Client
	logger    zerolog.Logger
	heartbeat time.Duration
	seq       atomic.Uint64
	dropped   atomic.Uint64
	now       func() time.Time
}

// NewEventHub creates a new event hub
func NewEventHub(logger zerolog.Logger) *EventHub {
	return &EventHub{
		clients:   make(map[string]*Client),
		logger:    logger.With().Str("component", "events").Logger(),
		heartbeat: DefaultHeartbeat,
		now:       time.Now,
	}
}

// RegisterClient registers a new client
func (h *EventHub) RegisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[client.ID] = client
	h.logger.Debug().Str("client", client.ID).Int("clients", len(h.clients)).Msg("client registered")
}

// UnregisterClient removes a client and closes its channel.
func (h *EventHub) UnregisterClient(clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if client, exists := h.clients[clientID]; exists {
		close(client.Channel)
		delete(h.clients, clientID)
		h.logger.Debug().Str("client", clientID).Int("clients", len(h.clients)).Msg("client unregistered")
	}
}

// Publish stamps event and delivers it to every interested client. Slow
// clients lose events rather than blocking the publisher.
func (h *EventHub) Publish(event *Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = h.now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, client := range h.clients {
		if !client.Wants(event) {
			continue
		}
		select {
		case client.Channel <- event:
		default:
			h.dropped.Add(1)
			h.logger.Warn().Str("client", client.ID).Str("type", string(event.Type)).Msg("client channel full, dropping event")
		}
	}
}

// ClientCount returns the number of connected clients
func (h *EventHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Dropped returns how many deliveries were discarded for slow clients.
func (h *EventHub) Dropped() uint64 { return h.dropped.Load() }

// HandleSSE streams events to one client until the request ends.
// ?video=<id> restricts the stream to a single video.
func (h *EventHub) HandleSSE(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache, no-transform")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	// the server write timeout would otherwise end the stream
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Time{})

	clientID := fmt.Sprintf("client-%d", h.seq.Add(1))
	client := NewClient(clientID)
	if videoID := c.Query("video"); videoID != "" {
		client.Subscribe(videoID)
	}

	h.RegisterClient(client)
	defer h.UnregisterClient(clientID)

	if err := writeEvent(c, &Event{
		Type:      EventConnected,
		Timestamp: h.now(),
		Data:      map[string]any{"client_id": clientID},
	}); err != nil {
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-c.Request.Context().Done():
			return
		case event, ok := <-client.Channel:
			if !ok {
				return
			}
			if err := writeEvent(c, event); err != nil {
				h.logger.Debug().Err(err).Str("client", clientID).Msg("write to client failed")
				return
			}
		case <-ticker.C:
			if err := writeEvent(c, &Event{Type: EventHeartbeat, Timestamp: h.now()}); err != nil {
				return
			}
		}
	}
}

func writeEvent(c *gin.Context, event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", event.Type, data); err != nil {
		return err
	}
	c.Writer.Flush()
	return nil
}
