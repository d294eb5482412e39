package repository

import (
	"errors"
	"time"

	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/models"

	"gorm.io/gorm"
)

// SightingFilter schränkt Abfragen auf das Sichtungsprotokoll ein.
// Leere Felder filtern nicht.
type SightingFilter struct {
	Name     string
	CameraID string
	Location string
	Since    time.Time
	Until    time.Time
	Limit    int
	Offset   int
}

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	// Sichtungs-Methoden
	SaveSighting(sighting *models.Sighting) error
	GetSightingByID(id uint) (*models.Sighting, error)
	GetSightingByEventID(eventID string) (*models.Sighting, error)
	GetSightings(filter SightingFilter) ([]models.Sighting, int64, error)
	DeleteSightingsBefore(cutoff time.Time) ([]string, int64, error)

	// Anwesenheits-Methoden
	GetPresence(since time.Time) ([]models.PresenceEntry, error)

	// Statistik-Methoden
	GetStatistics() (models.SightingStats, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Sichtungs-Methoden

// SaveSighting speichert eine Sichtung
func (r *SQLiteRepository) SaveSighting(sighting *models.Sighting) error {
	return r.db.Save(sighting).Error
}

// GetSightingByID holt eine Sichtung anhand ihrer ID
func (r *SQLiteRepository) GetSightingByID(id uint) (*models.Sighting, error) {
	var sighting models.Sighting
	result := r.db.First(&sighting, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &sighting, nil
}

// GetSightingByEventID holt eine Sichtung anhand ihrer Ereignis-UUID
func (r *SQLiteRepository) GetSightingByEventID(eventID string) (*models.Sighting, error) {
	var sighting models.Sighting
	result := r.db.Where("event_id = ?", eventID).First(&sighting)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}
	return &sighting, nil
}

// apply übersetzt den Filter in WHERE-Bedingungen
func (f SightingFilter) apply(q *gorm.DB) *gorm.DB {
	if f.Name != "" {
		q = q.Where("name = ?", f.Name)
	}
	if f.CameraID != "" {
		q = q.Where("camera_id = ?", f.CameraID)
	}
	if f.Location != "" {
		q = q.Where("location = ?", f.Location)
	}
	if !f.Since.IsZero() {
		q = q.Where("time >= ?", f.Since)
	}
	if !f.Until.IsZero() {
		q = q.Where("time < ?", f.Until)
	}
	return q
}

// GetSightings holt Sichtungen mit Filter und Pagination, neueste zuerst
func (r *SQLiteRepository) GetSightings(filter SightingFilter) ([]models.Sighting, int64, error) {
	var total int64
	if err := filter.apply(r.db.Model(&models.Sighting{})).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	var sightings []models.Sighting
	result := filter.apply(r.db.Model(&models.Sighting{})).
		Order("time DESC").
		Limit(limit).
		Offset(filter.Offset).
		Find(&sightings)
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return sightings, total, nil
}

// DeleteSightingsBefore entfernt alle Sichtungen vor dem Stichtag
// endgültig und liefert die Pfade ihrer Beweisbilder zurück, damit der
// Aufrufer die Dateien nachziehen kann
func (r *SQLiteRepository) DeleteSightingsBefore(cutoff time.Time) ([]string, int64, error) {
	var paths []string
	if err := r.db.Model(&models.Sighting{}).
		Where("time < ? AND image_path <> ''", cutoff).
		Pluck("image_path", &paths).Error; err != nil {
		return nil, 0, err
	}

	result := r.db.Unscoped().Where("time < ?", cutoff).Delete(&models.Sighting{})
	if result.Error != nil {
		return nil, 0, result.Error
	}
	return paths, result.RowsAffected, nil
}

// Anwesenheits-Methoden

// GetPresence liefert pro Name die jeweils letzte Sichtung seit dem
// angegebenen Zeitpunkt, neueste zuerst
func (r *SQLiteRepository) GetPresence(since time.Time) ([]models.PresenceEntry, error) {
	sub := r.db.Model(&models.Sighting{}).
		Select("name, MAX(time) AS last_seen").
		Group("name")
	if !since.IsZero() {
		sub = sub.Where("time >= ?", since)
	}

	var entries []models.PresenceEntry
	err := r.db.Model(&models.Sighting{}).
		Select("sightings.name, sightings.time AS last_seen, sightings.location, sightings.camera_id, sightings.confidence, sightings.image_path").
		Joins("JOIN (?) latest ON sightings.name = latest.name AND sightings.time = latest.last_seen", sub).
		Group("sightings.name").
		Order("last_seen DESC").
		Scan(&entries).Error
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Statistik-Methoden

// GetStatistics gibt Statistiken über das Sichtungsprotokoll zurück
func (r *SQLiteRepository) GetStatistics() (models.SightingStats, error) {
	var stats models.SightingStats

	// Zähle alle Sichtungen
	if err := r.db.Model(&models.Sighting{}).Count(&stats.TotalSightings).Error; err != nil {
		return stats, err
	}

	// Zähle Sichtungen bekannter Personen
	if err := r.db.Model(&models.Sighting{}).
		Where("name <> ?", model.UnknownLabel).
		Count(&stats.KnownSightings).Error; err != nil {
		return stats, err
	}
	stats.UnknownSightings = stats.TotalSightings - stats.KnownSightings

	// Zähle unterschiedliche Namen (ohne Unknown)
	if err := r.db.Model(&models.Sighting{}).
		Where("name <> ?", model.UnknownLabel).
		Distinct("name").
		Count(&stats.DistinctPeople).Error; err != nil {
		return stats, err
	}

	// Ermittle die neueste Sichtung
	var latest models.Sighting
	if err := r.db.Order("time DESC").First(&latest).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return stats, err
		}
	} else {
		stats.LatestSighting = latest.Time
	}

	return stats, nil
}
