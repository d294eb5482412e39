// Package evidence legt Beweisbilder im Dateisystem ab und schreibt die
// zugehörige Sichtung in die Datenbank. In der Datenbank steht nur der
// Dateiname; der Beweis-Ordner wird erst beim Ausliefern und Aufräumen
// wieder davorgesetzt.
package evidence

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"

	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/models"
)

// SightingStore ist der Teil des Repositories, den der Sink benötigt.
type SightingStore interface {
	SaveSighting(sighting *models.Sighting) error
}

// StorageSink schreibt Sichtungsereignisse als Datenbankzeile plus
// JPEG-Datei. Er wird vom EventWriter hinter der Debounce-Sperre
// aufgerufen.
type StorageSink struct {
	dir   string
	store SightingStore
	log   *log.Entry
}

// NewStorageSink erstellt einen Sink, der Beweisbilder unter dir ablegt.
func NewStorageSink(dir string, store SightingStore) (*StorageSink, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("fehler beim erstellen des beweis-verzeichnisses %s: %w", dir, err)
	}
	return &StorageSink{
		dir:   dir,
		store: store,
		log:   log.WithFields(log.Fields{"component": "evidence"}),
	}, nil
}

// Dir gibt das Beweis-Verzeichnis zurück.
func (s *StorageSink) Dir() string {
	return s.dir
}

// Store persistiert ein Ereignis und gibt den Dateinamen des
// Beweisbilds zurück. Schlägt das Schreiben der Bilddatei fehl, wird
// die Zeile trotzdem gespeichert, nur ohne Bildpfad. Ereignisse ohne
// Bildausschnitt erzeugen ebenfalls nur eine Zeile.
func (s *StorageSink) Store(ctx context.Context, ev model.SightingEvent) (string, error) {
	filename := ""
	if len(ev.EvidenceJPEG) > 0 {
		filename = evidenceFilename(ev)
		path := filepath.Join(s.dir, filename)
		if err := os.WriteFile(path, ev.EvidenceJPEG, 0644); err != nil {
			s.log.Errorf("Failed to write evidence image %s: %v", path, err)
			s.log.Warnf("Proceeding to store sighting record for '%s' without image", ev.Identity)
			filename = ""
		}
	}

	boxJSON, err := json.Marshal(ev.Box)
	if err != nil {
		return "", fmt.Errorf("fehler beim serialisieren der box: %w", err)
	}

	row := &models.Sighting{
		EventID:    ev.ID,
		Name:       ev.Identity,
		Time:       ev.Timestamp,
		Location:   ev.Location,
		CameraID:   ev.CameraID,
		ImagePath:  filename,
		Confidence: ev.Confidence,
		TrackID:    ev.TrackID,
		Box:        datatypes.JSON(boxJSON),
	}
	if err := s.store.SaveSighting(row); err != nil {
		return "", fmt.Errorf("fehler beim speichern der sichtung %s: %w", ev.ID, err)
	}

	s.log.Debugf("Stored sighting record ID %d for '%s' (event %s)", row.ID, ev.Identity, ev.ID)
	return filename, nil
}

// evidenceFilename baut den Dateinamen aus Identität, Zeitstempel und
// Standort. Millisekunden halten Dateinamen innerhalb eines
// Debounce-Fensters eindeutig.
func evidenceFilename(ev model.SightingEvent) string {
	stamp := ev.Timestamp.Format("20060102-150405.000")
	return fmt.Sprintf("%s_%s_%s.jpg", sanitize(ev.Identity), stamp, sanitize(ev.Location))
}

// sanitize ersetzt alles außer Buchstaben, Ziffern, Binde- und
// Unterstrichen, damit Namen aus der Galerie keine Pfade bilden können.
func sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, s)
}
