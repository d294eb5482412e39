package handlers

import (
	"net/http"
	"time"

	"facetrack-go/internal/utils"

	"github.com/gin-gonic/gin"
)

// GetHealth beantwortet die Liveness-Anfrage
func (h *APIHandler) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"time":           time.Now(),
	})
}

// GetSystemStats liefert System- und Pipeline-Statistiken
func (h *APIHandler) GetSystemStats(c *gin.Context) {
	snap := h.registry.Snapshot()

	c.JSON(http.StatusOK, gin.H{
		"system": utils.GetSystemStats(),
		"pipeline": gin.H{
			"writer":         snap.Writer,
			"cameras":        snap.Cameras,
			"queue_depth":    len(h.events),
			"queue_capacity": cap(h.events),
		},
	})
}
