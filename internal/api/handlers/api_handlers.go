package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"facetrack-go/config"
	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/models"
	"facetrack-go/internal/db/repository"
	"facetrack-go/internal/gallery"
	"facetrack-go/internal/metrics"

	"github.com/gin-gonic/gin"
)

// APIHandler behandelt API-Anfragen für das System
type APIHandler struct {
	cfg       *config.Config
	repo      repository.Repository
	gallery   *gallery.Gallery
	registry  *metrics.Registry
	events    chan model.SightingEvent
	startedAt time.Time
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cfg *config.Config, repo repository.Repository, gal *gallery.Gallery, registry *metrics.Registry, events chan model.SightingEvent) *APIHandler {
	return &APIHandler{
		cfg:       cfg,
		repo:      repo,
		gallery:   gal,
		registry:  registry,
		events:    events,
		startedAt: time.Now(),
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// System-Endpunkte
	router.GET("/health", h.GetHealth)
	router.GET("/stats", h.GetStats)
	router.GET("/system/stats", h.GetSystemStats)

	// Sichtungs-Endpunkte
	router.GET("/presence", h.GetPresence)
	router.GET("/sightings", h.ListSightings)
	router.GET("/sightings/:id", h.GetSighting)

	// Kamera-Endpunkte
	router.GET("/cameras", h.ListCameras)

	// Galerie-Endpunkte
	router.GET("/gallery", h.GetGallery)
	router.POST("/gallery/reload", h.ReloadGallery)
}

// GetPresence gibt die jeweils letzte Sichtung pro Person zurück.
// Mit ?within=<Minuten> werden nur Personen geliefert, die innerhalb
// des Fensters gesehen wurden.
func (h *APIHandler) GetPresence(c *gin.Context) {
	var since time.Time
	if within := c.Query("within"); within != "" {
		minutes, err := strconv.Atoi(within)
		if err != nil || minutes <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'within' parameter, expected positive minutes"})
			return
		}
		since = time.Now().Add(-time.Duration(minutes) * time.Minute)
	}

	entries, err := h.repo.GetPresence(since)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch presence: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"presence": entries,
		"count":    len(entries),
	})
}

// ListSightings gibt das Sichtungsprotokoll zurück, gefiltert und paginiert
func (h *APIHandler) ListSightings(c *gin.Context) {
	// Paginierung
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	pageSize, _ := strconv.Atoi(c.DefaultQuery("pageSize", "20"))
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * pageSize

	filter := repository.SightingFilter{
		Name:     c.Query("name"),
		CameraID: c.Query("camera"),
		Location: c.Query("location"),
		Limit:    pageSize,
		Offset:   offset,
	}

	// Optionales Zeitfenster (RFC3339)
	if s := c.Query("since"); s != "" {
		ts, err := time.Parse(time.RFC3339, s)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'since' parameter, expected RFC3339 timestamp"})
			return
		}
		filter.Since = ts
	}
	if u := c.Query("until"); u != "" {
		ts, err := time.Parse(time.RFC3339, u)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid 'until' parameter, expected RFC3339 timestamp"})
			return
		}
		filter.Until = ts
	}

	sightings, total, err := h.repo.GetSightings(filter)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch sightings: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sightings": sightings,
		"pagination": gin.H{
			"page":     page,
			"pageSize": pageSize,
			"total":    total,
		},
	})
}

// GetSighting gibt eine einzelne Sichtung zurück. Numerische IDs werden
// als Datenbank-ID interpretiert, alles andere als Ereignis-UUID.
func (h *APIHandler) GetSighting(c *gin.Context) {
	idParam := c.Param("id")

	var sighting *models.Sighting
	var err error
	if n, convErr := strconv.ParseUint(idParam, 10, 32); convErr == nil {
		sighting, err = h.repo.GetSightingByID(uint(n))
	} else {
		sighting, err = h.repo.GetSightingByEventID(idParam)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch sighting: %v", err)})
		return
	}
	if sighting == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Sighting not found"})
		return
	}

	c.JSON(http.StatusOK, sighting)
}

// cameraInfo fasst Konfiguration und Laufzeitzustand einer Kamera zusammen
type cameraInfo struct {
	ID       string                  `json:"id"`
	Location string                  `json:"location"`
	Status   string                  `json:"status"`
	Metrics  *metrics.CameraSnapshot `json:"metrics,omitempty"`
}

// ListCameras gibt die konfigurierten Kameras samt Laufzeitzustand zurück
func (h *APIHandler) ListCameras(c *gin.Context) {
	snap := h.registry.Snapshot()
	byID := make(map[string]metrics.CameraSnapshot, len(snap.Cameras))
	for _, cs := range snap.Cameras {
		byID[cs.CameraID] = cs
	}

	cameras := make([]cameraInfo, 0, len(h.cfg.Cameras))
	for _, cam := range h.cfg.Cameras {
		info := cameraInfo{ID: cam.ID, Location: cam.Location, Status: "stopped"}
		if cs, ok := byID[cam.ID]; ok {
			m := cs
			info.Metrics = &m
			if cs.Connected {
				info.Status = "running"
			} else {
				info.Status = "degraded"
			}
		}
		cameras = append(cameras, info)
	}

	c.JSON(http.StatusOK, gin.H{
		"cameras": cameras,
		"count":   len(cameras),
	})
}

// GetStats gibt Statistiken über das Sichtungsprotokoll zurück
func (h *APIHandler) GetStats(c *gin.Context) {
	stats, err := h.repo.GetStatistics()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Failed to fetch statistics: %v", err)})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"total_sightings":   stats.TotalSightings,
		"known_sightings":   stats.KnownSightings,
		"unknown_sightings": stats.UnknownSightings,
		"distinct_people":   stats.DistinctPeople,
		"latest_sighting":   stats.LatestSighting,
	})
}
