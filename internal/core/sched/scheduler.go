// Package sched steuert die Erkennungskadenz einer Kamera: Das
// Tracking läuft auf jedem Einzelbild, die teure Gesichtserkennung
// nur auf jedem N-ten.
package sched

import (
	"context"
	"fmt"
	"image"
	"math"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/draw"

	"facetrack-go/internal/core/model"
)

// DefaultScale ist der Verkleinerungsfaktor für Einzelbilder vor der
// Erkennung.
const DefaultScale = 0.5

// Oracle liefert Gesichter samt Embeddings für ein Einzelbild.
type Oracle interface {
	DetectFaces(ctx context.Context, img image.Image) ([]model.Detection, error)
}

// Matcher ordnet einem Embedding eine Identität aus der Galerie zu.
type Matcher interface {
	Match(embedding []float32) model.IdentityMatch
}

// Scheduler entscheidet pro Einzelbild, ob eine Erkennung ansteht, und
// führt sie aus. Der Zähler beginnt bei 0, das allererste Bild einer
// Kamera wird also immer erkannt. Nicht nebenläufig sicher: Ein
// Scheduler gehört genau einem Kamera-Worker.
type Scheduler struct {
	interval uint64
	scale    float64
	counter  uint64
	oracle   Oracle
	matcher  Matcher
	log      *log.Entry
}

// New erstellt einen Scheduler für die angegebene Kamera. Werte von
// interval unter 1 werden auf 1 angehoben, unbrauchbare scale-Werte auf
// DefaultScale gesetzt.
func New(cameraID string, interval int, scale float64, oracle Oracle, matcher Matcher) *Scheduler {
	if interval < 1 {
		interval = 1
	}
	if scale <= 0 || scale > 1 {
		scale = DefaultScale
	}
	return &Scheduler{
		interval: uint64(interval),
		scale:    scale,
		oracle:   oracle,
		matcher:  matcher,
		log: log.WithFields(log.Fields{
			"component": "sched",
			"camera":    cameraID,
		}),
	}
}

// Tick zählt das aktuelle Einzelbild und meldet, ob dafür eine
// Erkennung ansteht.
func (s *Scheduler) Tick() bool {
	due := s.counter%s.interval == 0
	s.counter++
	return due
}

// Recognize verkleinert das Bild, holt Erkennungen vom Oracle und
// ordnet jedem Gesicht über den Matcher eine Identität zu. Die
// gelieferten Boxen sind zurück in Originalbild-Koordinaten skaliert.
func (s *Scheduler) Recognize(ctx context.Context, img image.Image) ([]model.RecognizedFace, error) {
	detections, err := s.oracle.DetectFaces(ctx, downscale(img, s.scale))
	if err != nil {
		return nil, fmt.Errorf("gesichtserkennung fehlgeschlagen: %w", err)
	}

	inv := 1.0 / s.scale
	faces := make([]model.RecognizedFace, 0, len(detections))
	for _, d := range detections {
		match := model.IdentityMatch{Label: model.UnknownLabel}
		if s.matcher != nil && len(d.Embedding) > 0 {
			match = s.matcher.Match(d.Embedding)
		}
		faces = append(faces, model.RecognizedFace{
			Box:        d.Box.Scale(inv),
			Identity:   match.Label,
			Confidence: model.ClampConfidence(match.Confidence),
			Embedding:  d.Embedding,
		})
	}

	if len(faces) > 0 {
		s.log.WithField("faces", len(faces)).Debug("Erkennung abgeschlossen")
	}
	return faces, nil
}

// downscale verkleinert das Bild um den Faktor f. Für f >= 1 wird das
// Original unverändert zurückgegeben.
func downscale(img image.Image, f float64) image.Image {
	if f >= 1.0 {
		return img
	}
	b := img.Bounds()
	w := int(math.Round(float64(b.Dx()) * f))
	h := int(math.Round(float64(b.Dy()) * f))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Over, nil)
	return dst
}
