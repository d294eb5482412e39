package video

import (
	"fmt"
	"image"

	gocv "gocv.io/x/gocv"
	"gocv.io/x/gocv/contrib"

	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/tracking"
)

// Unterstützte Tracker-Verfahren
const (
	TrackerCSRT = "csrt"
	TrackerKCF  = "kcf"
	TrackerMIL  = "mil"
)

// matCache hält die Mat-Konvertierung des zuletzt gesehenen Bildes vor.
// Der Worker ruft alle Tracker einer Kamera nacheinander mit demselben
// image.Image auf; ohne Cache würde jedes Update erneut konvertieren.
// Der Vergleich läuft über die Interface-Identität, Frames sind immer
// Zeigertypen wie *image.RGBA.
type matCache struct {
	img image.Image
	mat gocv.Mat
	ok  bool
}

func (c *matCache) get(img image.Image) (gocv.Mat, bool) {
	if c.ok && img == c.img {
		return c.mat, true
	}
	if c.ok {
		c.mat.Close()
		c.ok = false
	}

	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.Mat{}, false
	}
	c.img = img
	c.mat = mat
	c.ok = true
	return c.mat, true
}

func (c *matCache) Close() {
	if c.ok {
		c.mat.Close()
		c.ok = false
	}
	c.img = nil
}

// TrackerProvider erzeugt die gocv-Tracker einer Kamera. Alle Tracker
// derselben Kamera teilen sich den Konvertierungs-Cache; der Provider
// gehört deshalb wie die Quelle exklusiv der Worker-Goroutine.
type TrackerProvider struct {
	kind  string
	cache *matCache
}

// NewTrackerProvider prüft das Verfahren und erstellt den Provider.
func NewTrackerProvider(kind string) (*TrackerProvider, error) {
	switch kind {
	case TrackerCSRT, TrackerKCF, TrackerMIL:
	default:
		return nil, fmt.Errorf("unbekanntes tracker-verfahren: %q", kind)
	}
	return &TrackerProvider{kind: kind, cache: &matCache{}}, nil
}

// Factory liefert die TrackerFactory für den TrackManager der Kamera.
func (p *TrackerProvider) Factory() tracking.TrackerFactory {
	return func() (tracking.Tracker, error) {
		t, err := newGocvTracker(p.kind)
		if err != nil {
			return nil, err
		}
		return &trackerAdapter{t: t, cache: p.cache}, nil
	}
}

// Close gibt den Konvertierungs-Cache frei.
func (p *TrackerProvider) Close() {
	p.cache.Close()
}

func newGocvTracker(kind string) (gocv.Tracker, error) {
	switch kind {
	case TrackerCSRT:
		return contrib.NewTrackerCSRT(), nil
	case TrackerKCF:
		return contrib.NewTrackerKCF(), nil
	case TrackerMIL:
		return gocv.NewTrackerMIL(), nil
	default:
		return nil, fmt.Errorf("unbekanntes tracker-verfahren: %q", kind)
	}
}

// trackerAdapter übersetzt zwischen der image.Image-Welt des
// TrackManagers und der Mat-Welt von gocv.
type trackerAdapter struct {
	t     gocv.Tracker
	cache *matCache
}

func (a *trackerAdapter) Init(img image.Image, box model.BoundingBox) bool {
	mat, ok := a.cache.get(img)
	if !ok {
		return false
	}
	return a.t.Init(mat, box.Rect())
}

func (a *trackerAdapter) Update(img image.Image) (model.BoundingBox, bool) {
	mat, ok := a.cache.get(img)
	if !ok {
		return model.BoundingBox{}, false
	}
	rect, ok := a.t.Update(mat)
	if !ok {
		return model.BoundingBox{}, false
	}
	return model.BoxFromRect(rect), true
}

func (a *trackerAdapter) Close() {
	a.t.Close()
}
