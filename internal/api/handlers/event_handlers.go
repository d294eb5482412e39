package handlers

import (
	"io"

	"facetrack-go/internal/sse"

	"github.com/gin-gonic/gin"
)

// EventHandler behandelt den Echtzeit-Stream akzeptierter Sichtungen
type EventHandler struct {
	hub *sse.Hub
}

// NewEventHandler erstellt einen neuen Event-Handler
func NewEventHandler(hub *sse.Hub) *EventHandler {
	return &EventHandler{hub: hub}
}

// RegisterRoutes registriert die Stream-Route
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events/stream", h.StreamEvents)
}

// StreamEvents hält die Verbindung offen und leitet Sichtungen als
// Server-Sent Events weiter
func (h *EventHandler) StreamEvents(c *gin.Context) {
	// SSE-Header setzen
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	// Client-Kanal erstellen und beim Hub registrieren
	client := make(sse.Client, 10) // Puffer für 10 Nachrichten
	h.hub.Register(client)
	defer h.hub.Unregister(client)

	c.Stream(func(w io.Writer) bool {
		// Auf die nächste Nachricht warten
		msg, ok := <-client
		if !ok {
			return false // Kanal geschlossen, Stream beenden
		}

		c.SSEvent("sighting", string(msg))
		return true
	})
}
