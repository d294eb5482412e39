package tracking

import (
	"image"

	"facetrack-go/internal/core/model"
)

// Tracker ist die Fähigkeitsschnittstelle eines visuellen Einzelobjekt-Trackers.
// Implementierungen (CSRT, KCF, MIL) liegen in internal/video; Tests verwenden Fakes.
type Tracker interface {
	// Init setzt den Tracker auf die Box im gegebenen Bild auf.
	Init(img image.Image, box model.BoundingBox) bool
	// Update verfolgt das Ziel in das nächste Bild. ok=false bedeutet
	// Tracking-Verlust; die zurückgegebene Box ist dann unbrauchbar.
	Update(img image.Image) (model.BoundingBox, bool)
	// Close gibt die Ressourcen des Trackers frei.
	Close()
}

// TrackerFactory erzeugt einen neuen, noch nicht initialisierten Tracker.
type TrackerFactory func() (Tracker, error)
