// Package pipeline verbindet Videoquellen, Tracking, Erkennung und
// Ereignis-Schreiber zu einer laufenden Verarbeitung pro Kamera.
package pipeline

import (
	"context"
	"image"
	"time"
)

// Frame ist ein dekodiertes Einzelbild samt Aufnahmezeitpunkt.
type Frame struct {
	Image     image.Image
	Timestamp time.Time
}

// FrameSource liefert die Einzelbilder einer Kamera. Implementierungen
// kapseln den eigentlichen Videozugriff (RTSP, Datei, Testdaten).
type FrameSource interface {
	// NextFrame blockiert bis zum nächsten Einzelbild oder bis der
	// Kontext abgebrochen wird.
	NextFrame(ctx context.Context) (Frame, error)

	// Reconnect baut die Verbindung zur Quelle neu auf, nachdem
	// NextFrame fehlgeschlagen ist.
	Reconnect(ctx context.Context) error

	// Close gibt alle Ressourcen der Quelle frei.
	Close() error
}
