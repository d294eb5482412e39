package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// GetGallery listet die geladenen Identitäten der Referenzgalerie auf
func (h *APIHandler) GetGallery(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"labels":    h.gallery.Labels(),
		"size":      h.gallery.Size(),
		"loaded_at": h.gallery.LoadedAt(),
	})
}

// ReloadGallery lädt die Galerie-Datei neu ein. Schlägt das Laden fehl,
// bleibt der bisherige Stand in Betrieb.
func (h *APIHandler) ReloadGallery(c *gin.Context) {
	if err := h.gallery.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to reload gallery: %v", err)})
		return
	}

	log.Infof("Gallery reloaded via API: %d vectors", h.gallery.Size())
	c.JSON(http.StatusOK, gin.H{
		"message": "Gallery reloaded successfully",
		"size":    h.gallery.Size(),
	})
}
