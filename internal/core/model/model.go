package model

import (
	"image"
	"math"
	"time"
)

// UnknownLabel ist die Identität für erkannte, aber nicht zugeordnete Gesichter.
const UnknownLabel = "Unknown"

// BoundingBox beschreibt einen Bildausschnitt in Pixelkoordinaten (x, y, Breite, Höhe).
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Area gibt die Fläche der Box in Pixeln zurück.
func (b BoundingBox) Area() int {
	if b.W <= 0 || b.H <= 0 {
		return 0
	}
	return b.W * b.H
}

// Rect konvertiert die Box in ein image.Rectangle.
func (b BoundingBox) Rect() image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.W, b.Y+b.H)
}

// BoxFromRect erstellt eine BoundingBox aus einem image.Rectangle.
func BoxFromRect(r image.Rectangle) BoundingBox {
	return BoundingBox{X: r.Min.X, Y: r.Min.Y, W: r.Dx(), H: r.Dy()}
}

// Clamp beschneidet die Box auf die Bildgrenzen (0,0)-(width,height).
func (b BoundingBox) Clamp(width, height int) BoundingBox {
	x1 := clampInt(b.X, 0, width)
	y1 := clampInt(b.Y, 0, height)
	x2 := clampInt(b.X+b.W, x1, width)
	y2 := clampInt(b.Y+b.H, y1, height)
	return BoundingBox{X: x1, Y: y1, W: x2 - x1, H: y2 - y1}
}

// Scale skaliert alle Koordinaten der Box mit dem Faktor f.
func (b BoundingBox) Scale(f float64) BoundingBox {
	return BoundingBox{
		X: int(math.Round(float64(b.X) * f)),
		Y: int(math.Round(float64(b.Y) * f)),
		W: int(math.Round(float64(b.W) * f)),
		H: int(math.Round(float64(b.H) * f)),
	}
}

// IoU berechnet Intersection-over-Union zweier Boxen im Bereich [0,1].
func (b BoundingBox) IoU(o BoundingBox) float64 {
	xA := maxInt(b.X, o.X)
	yA := maxInt(b.Y, o.Y)
	xB := minInt(b.X+b.W, o.X+o.W)
	yB := minInt(b.Y+b.H, o.Y+o.H)

	interW := maxInt(0, xB-xA)
	interH := maxInt(0, yB-yA)
	inter := interW * interH

	union := b.Area() + o.Area() - inter
	if union <= 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// Detection ist ein einzelnes Erkennungsergebnis eines Recognition-Zyklus.
// Das Embedding ist optional; ohne Embedding bleibt die Identität "Unknown".
type Detection struct {
	Box       BoundingBox
	Score     float64
	Embedding []float32
}

// IdentityMatch ist das Ergebnis eines Galerie-Vergleichs.
type IdentityMatch struct {
	Label      string
	Confidence float64
}

// RecognizedFace ist eine Detection mit aufgelöster Identität,
// Eingabe für die Reconciliation des TrackManagers.
type RecognizedFace struct {
	Box        BoundingBox
	Identity   string
	Confidence float64
	Embedding  []float32
}

// SightingEvent ist ein unveränderliches Sichtungsereignis, erzeugt vom
// CameraWorker und vom EventWriter konsumiert.
type SightingEvent struct {
	ID           string
	Identity     string
	CameraID     string
	Location     string
	Timestamp    time.Time
	Confidence   float64
	TrackID      uint64
	Box          BoundingBox
	EvidenceJPEG []byte
}

// ClampConfidence begrenzt einen Konfidenzwert auf [0,1].
func ClampConfidence(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
