package cleanup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"facetrack-go/config"

	log "github.com/sirupsen/logrus"
)

// SightingPruner ist der Teil des Repositories, den der Dienst braucht:
// Löschen alter Zeilen mit Rückgabe der verwaisten Bilddateien.
type SightingPruner interface {
	DeleteSightingsBefore(cutoff time.Time) ([]string, int64, error)
}

// CleanupService ist verantwortlich für die automatische Bereinigung alter Daten
type CleanupService struct {
	pruner        SightingPruner
	config        config.CleanupConfig
	evidenceDir   string
	checkInterval time.Duration
}

// NewCleanupService erstellt einen neuen Cleanup-Service
func NewCleanupService(pruner SightingPruner, cfg config.CleanupConfig, evidenceDir string) *CleanupService {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour // Standardmäßig einmal täglich prüfen
	}
	return &CleanupService{
		pruner:        pruner,
		config:        cfg,
		evidenceDir:   evidenceDir,
		checkInterval: interval,
	}
}

// Start startet den Bereinigungsdienst im Hintergrund
func (s *CleanupService) Start(ctx context.Context) {
	log.Info("Cleanup service started")

	// Sofort eine erste Bereinigung durchführen
	if err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	// Ticker für regelmäßige Bereinigung einrichten
	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup führt die eigentliche Bereinigung durch
func (s *CleanupService) RunCleanup(ctx context.Context) error {
	if s.config.RetentionDays <= 0 {
		log.Info("Cleanup disabled (retention days <= 0)")
		return nil
	}

	// Stichtag für den Vergleich
	cutoffDate := time.Now().AddDate(0, 0, -s.config.RetentionDays)
	log.Infof("Cleaning up sightings older than %s", cutoffDate.Format("2006-01-02"))

	// 1. Alte Sichtungen löschen, Pfade der Beweisbilder einsammeln
	paths, deleted, err := s.pruner.DeleteSightingsBefore(cutoffDate)
	if err != nil {
		return fmt.Errorf("failed to delete old sightings: %w", err)
	}

	// 2. Verwaiste Bilddateien entfernen
	var removed, errorCount int
	for _, name := range paths {
		filePath := filepath.Join(s.evidenceDir, name)
		if err := os.Remove(filePath); err != nil {
			if !os.IsNotExist(err) {
				log.Warnf("Failed to delete evidence file %s: %v", filePath, err)
				errorCount++
			}
			continue
		}
		removed++
	}

	log.Infof("Cleanup completed: deleted %d sightings, removed %d evidence files, encountered %d errors",
		deleted, removed, errorCount)
	return nil
}
