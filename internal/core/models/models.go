package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Sighting repräsentiert eine protokollierte Sichtung einer Person
type Sighting struct {
	gorm.Model
	EventID    string         `gorm:"uniqueIndex;not null"` // UUID des Ereignisses
	Name       string         `gorm:"index;not null"`       // Identität oder "Unknown"
	Time       time.Time      `gorm:"index"`                // Aufnahmezeitpunkt des Einzelbilds
	Location   string         `gorm:"index"`                // Standort-Label der Kamera
	CameraID   string         `gorm:"index"`                // Kamera-Kennung
	ImagePath  string         // Relativer Pfad zum Beweisbild
	Confidence float64        // Übereinstimmungssicherheit [0,1]
	TrackID    uint64         `gorm:"index"`     // Track, aus dem die Sichtung stammt
	Box        datatypes.JSON `gorm:"type:json"` // Begrenzungsrahmen {x,y,w,h}
}

// PresenceEntry fasst die jeweils letzte Sichtung einer Person zusammen
type PresenceEntry struct {
	Name       string    `json:"name"`
	LastSeen   time.Time `json:"last_seen"`
	Location   string    `json:"location"`
	CameraID   string    `json:"camera_id"`
	Confidence float64   `json:"confidence"`
	ImagePath  string    `json:"image_path"`
}

// SightingStats repräsentiert Statistiken über das Sichtungsprotokoll
type SightingStats struct {
	TotalSightings   int64     // Gesamtzahl der Sichtungen
	KnownSightings   int64     // Sichtungen bekannter Personen
	UnknownSightings int64     // Sichtungen unbekannter Personen
	DistinctPeople   int64     // Anzahl unterschiedlicher Namen
	LatestSighting   time.Time // Zeitstempel der neuesten Sichtung
}
