package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"facetrack-go/internal/core/model"
)

// Client represents a single connected SSE client.
// It's essentially a channel where we send messages destined for this client.
type Client chan []byte

// Hub manages the set of active clients and broadcasts messages to them.
type Hub struct {
	// Registered clients.
	clients map[Client]bool

	// Inbound messages from the application (e.g. a stored sighting).
	broadcast chan []byte

	// Mutex to protect concurrent access to the clients map. Also guards
	// closed, which marks the hub as shut down: clients registering after
	// that point get their channel closed right away so their handlers
	// terminate instead of waiting for messages that will never come.
	mu     sync.Mutex
	closed bool

	log *log.Entry
}

// SightingData defines the structure of the data sent via SSE when a
// sighting has been stored. Keep this lean, only include what a live
// view needs to render an entry.
type SightingData struct {
	EventID     string    `json:"event_id"`
	Name        string    `json:"name"`
	CameraID    string    `json:"camera_id"`
	Location    string    `json:"location"`
	Timestamp   time.Time `json:"timestamp"`
	Confidence  float64   `json:"confidence"`
	TrackID     uint64    `json:"track_id"`
	EvidenceURL string    `json:"evidence_url,omitempty"`
}

// NewHub creates a new Hub instance.
func NewHub() *Hub {
	return &Hub{
		broadcast: make(chan []byte, 64),
		clients:   make(map[Client]bool),
		log:       log.WithField("component", "sse"),
	}
}

// Run starts the hub's processing loop. It should be run in a separate
// goroutine and exits once the context is cancelled, closing all client
// channels so their handlers terminate too.
func (h *Hub) Run(ctx context.Context) {
	h.log.Info("SSE hub started")
	for {
		select {
		case message := <-h.broadcast:
			h.mu.Lock()
			for client := range h.clients {
				// Non-blocking send so one slow client cannot stall the hub.
				select {
				case client <- message:
				default:
					h.log.Warn("SSE client channel full, skipping message")
				}
			}
			h.mu.Unlock()

		case <-ctx.Done():
			h.mu.Lock()
			h.closed = true
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			h.mu.Unlock()
			h.log.Info("SSE hub stopped")
			return
		}
	}
}

// Register adds a new client to the hub.
func (h *Hub) Register(client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(client)
		return
	}
	h.clients[client] = true
	h.log.Debugf("SSE client registered. Total clients: %d", len(h.clients))
}

// Unregister removes a client from the hub and closes its channel.
func (h *Hub) Unregister(client Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client)
	}
	h.log.Debugf("SSE client unregistered. Total clients: %d", len(h.clients))
}

// Broadcast sends a message to all registered clients.
func (h *Hub) Broadcast(message []byte) {
	// Avoid blocking the caller if the broadcast channel is full.
	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("SSE broadcast channel full, message dropped")
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// BroadcastSighting formats and broadcasts a stored sighting. imagePath
// is the evidence filename assigned by the sink, empty when no image
// was written.
func (h *Hub) BroadcastSighting(ev model.SightingEvent, imagePath string) {
	data := SightingData{
		EventID:    ev.ID,
		Name:       ev.Identity,
		CameraID:   ev.CameraID,
		Location:   ev.Location,
		Timestamp:  ev.Timestamp,
		Confidence: ev.Confidence,
		TrackID:    ev.TrackID,
	}
	if imagePath != "" {
		data.EvidenceURL = "/evidence/" + imagePath
	}

	jsonData, err := json.Marshal(data)
	if err != nil {
		h.log.Errorf("Error marshalling sighting for SSE: %v", err)
		return
	}
	h.Broadcast(jsonData)
}
