// Package api baut den HTTP-Server der Status-API zusammen: Routen,
// Middleware-Kette und die statische Auslieferung der Beweisbilder.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"facetrack-go/config"
	"facetrack-go/internal/api/handlers"
	"facetrack-go/internal/api/middleware"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// Server kapselt den HTTP-Server samt Router
type Server struct {
	cfg        *config.Config
	router     *gin.Engine
	httpServer *http.Server
	log        *log.Entry
}

// NewServer erstellt den HTTP-Server mit allen Routen
func NewServer(cfg *config.Config, apiHandler *handlers.APIHandler, eventHandler *handlers.EventHandler) *Server {
	r := gin.New()

	// Middleware-Kette
	r.Use(requestid.New())
	r.Use(middleware.RequestLogger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST"},
		AllowHeaders: []string{"Origin", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	// API-Routen
	apiGroup := r.Group("/api")
	apiHandler.RegisterRoutes(apiGroup)
	eventHandler.RegisterRoutes(apiGroup)

	// Statische Auslieferung der Beweisbilder
	r.Static("/evidence", cfg.Evidence.Dir)

	s := &Server{
		cfg:    cfg,
		router: r,
		log:    log.WithField("component", "api"),
	}
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Langer Timeout für den SSE-Stream
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Start startet den HTTP-Server und blockiert bis zum Shutdown
func (s *Server) Start() error {
	s.log.Infof("Starting HTTP server on %s", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown beendet den HTTP-Server geordnet
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("Shutting down HTTP server")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down server: %w", err)
	}
	return nil
}

// Router gibt den Router für Tests zurück
func (s *Server) Router() *gin.Engine {
	return s.router
}
