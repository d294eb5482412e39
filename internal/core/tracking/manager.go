package tracking

import (
	"image"
	"sort"
	"time"

	"facetrack-go/internal/core/model"

	log "github.com/sirupsen/logrus"
)

// Track ist der Zustand eines verfolgten Gesichts innerhalb einer Kamera.
// Tracks gehören exklusiv ihrem Manager und werden nur von dessen
// Kamera-Goroutine verändert.
type Track struct {
	ID         uint64
	Box        model.BoundingBox
	Identity   string
	Confidence float64
	LastSeen   time.Time
	CreatedAt  time.Time

	tracker Tracker
}

// Transition beschreibt das Ergebnis der Reconciliation für eine Detection:
// entweder wurde ein bestehender Track aktualisiert oder ein neuer angelegt.
// Der CameraWorker leitet daraus die Sichtungsereignisse ab.
type Transition struct {
	TrackID        uint64
	Identity       string
	Confidence     float64
	Box            model.BoundingBox
	PrevIdentity   string
	PrevConfidence float64
	NewTrack       bool
}

// Manager verwaltet die aktiven Tracks einer Kamera: Fortschreibung pro
// Frame, räumliche Reconciliation gegen Erkennungsergebnisse und Eviction.
type Manager struct {
	factory        TrackerFactory
	matchThreshold float64

	tracks map[uint64]*Track
	nextID uint64

	log *log.Entry
}

// NewManager erstellt einen TrackManager für eine Kamera.
// matchThreshold ist der minimale IoU, ab dem eine Detection einem
// bestehenden Track zugeordnet wird.
func NewManager(cameraID string, factory TrackerFactory, matchThreshold float64) *Manager {
	return &Manager{
		factory:        factory,
		matchThreshold: matchThreshold,
		tracks:         make(map[uint64]*Track),
		log: log.WithFields(log.Fields{
			"component": "tracking",
			"camera":    cameraID,
		}),
	}
}

// Count gibt die Anzahl der aktiven Tracks zurück.
func (m *Manager) Count() int {
	return len(m.tracks)
}

// UpdateAll schreibt jeden aktiven Track in das neue Bild fort. Bei Erfolg
// werden Box und LastSeen aktualisiert; ein fehlgeschlagenes Update lässt
// den Zustand unangetastet, der Track fällt später der Eviction anheim.
func (m *Manager) UpdateAll(img image.Image, now time.Time) {
	bounds := img.Bounds()
	for _, t := range m.tracks {
		box, ok := t.tracker.Update(img)
		if !ok {
			continue
		}
		t.Box = box.Clamp(bounds.Dx(), bounds.Dy())
		t.LastSeen = now
	}
}

// EvictStale entfernt genau die Tracks, deren letzte Sichtung länger als
// timeout zurückliegt, und schließt deren Tracker. Wiederholte Aufrufe mit
// demselben Zeitpunkt entfernen nichts weiter.
func (m *Manager) EvictStale(now time.Time, timeout time.Duration) int {
	evicted := 0
	for id, t := range m.tracks {
		if now.Sub(t.LastSeen) > timeout {
			t.tracker.Close()
			delete(m.tracks, id)
			evicted++
			m.log.WithFields(log.Fields{
				"track_id": id,
				"identity": t.Identity,
			}).Debug("Track evicted")
		}
	}
	return evicted
}

// Reconcile ordnet Erkennungsergebnisse den aktiven Tracks zu. Für jede
// Detection wird der Track mit dem höchsten IoU gesucht; liegt dieser über
// matchThreshold und ist der Track in diesem Zyklus noch nicht vergeben,
// wird derselbe Track weitergeführt: der Tracker wird frisch am
// Detektionsrahmen aufgesetzt (verhindert akkumulierten Drift) und
// Identität, Konfidenz und LastSeen überschrieben. Andernfalls entsteht
// ein neuer Track mit frischer ID. Bei mehreren Detections auf denselben
// Track gewinnt die erste in Eingabereihenfolge, spätere erzeugen neue
// Tracks.
func (m *Manager) Reconcile(faces []model.RecognizedFace, img image.Image, now time.Time) []Transition {
	bounds := img.Bounds()
	candidates := m.sortedIDs()
	claimed := make(map[uint64]bool, len(faces))
	transitions := make([]Transition, 0, len(faces))

	for _, f := range faces {
		box := f.Box.Clamp(bounds.Dx(), bounds.Dy())

		var bestID uint64
		bestIoU := 0.0
		found := false
		for _, id := range candidates {
			if iou := m.tracks[id].Box.IoU(box); iou > bestIoU {
				bestIoU = iou
				bestID = id
				found = true
			}
		}

		if found && bestIoU > m.matchThreshold && !claimed[bestID] {
			claimed[bestID] = true
			transitions = append(transitions, m.refresh(m.tracks[bestID], f, box, img, now))
			continue
		}

		tr, ok := m.create(f, box, img, now)
		if ok {
			transitions = append(transitions, tr)
		}
	}

	return transitions
}

// refresh führt einen bestehenden Track mit einer neuen Detection fort.
func (m *Manager) refresh(t *Track, f model.RecognizedFace, box model.BoundingBox, img image.Image, now time.Time) Transition {
	prevIdentity, prevConfidence := t.Identity, t.Confidence

	nt, err := m.factory()
	if err != nil {
		m.log.WithError(err).Warn("Tracker creation failed, keeping previous handle")
	} else if nt.Init(img, box) {
		t.tracker.Close()
		t.tracker = nt
	} else {
		nt.Close()
		m.log.WithField("track_id", t.ID).Warn("Tracker re-init failed, keeping previous handle")
	}

	t.Box = box
	t.Identity = f.Identity
	t.Confidence = f.Confidence
	t.LastSeen = now

	return Transition{
		TrackID:        t.ID,
		Identity:       t.Identity,
		Confidence:     t.Confidence,
		Box:            t.Box,
		PrevIdentity:   prevIdentity,
		PrevConfidence: prevConfidence,
	}
}

// create legt einen neuen Track an. Schlägt die Tracker-Initialisierung
// fehl, entsteht kein Track und die Detection verfällt für diesen Zyklus.
func (m *Manager) create(f model.RecognizedFace, box model.BoundingBox, img image.Image, now time.Time) (Transition, bool) {
	nt, err := m.factory()
	if err != nil {
		m.log.WithError(err).Warn("Tracker creation failed, dropping detection")
		return Transition{}, false
	}
	if !nt.Init(img, box) {
		nt.Close()
		m.log.WithField("box", box).Warn("Tracker init failed, dropping detection")
		return Transition{}, false
	}

	m.nextID++
	t := &Track{
		ID:         m.nextID,
		Box:        box,
		Identity:   f.Identity,
		Confidence: f.Confidence,
		LastSeen:   now,
		CreatedAt:  now,
		tracker:    nt,
	}
	m.tracks[t.ID] = t

	m.log.WithFields(log.Fields{
		"track_id": t.ID,
		"identity": t.Identity,
	}).Debug("Track created")

	return Transition{
		TrackID:        t.ID,
		Identity:       t.Identity,
		Confidence:     t.Confidence,
		Box:            t.Box,
		PrevIdentity:   model.UnknownLabel,
		PrevConfidence: 0,
		NewTrack:       true,
	}, true
}

// Close schließt alle Tracker und leert den Track-Bestand.
func (m *Manager) Close() {
	for id, t := range m.tracks {
		t.tracker.Close()
		delete(m.tracks, id)
	}
}

// sortedIDs liefert die aktiven Track-IDs aufsteigend, damit die
// Bestwahl bei IoU-Gleichstand deterministisch ist.
func (m *Manager) sortedIDs() []uint64 {
	ids := make([]uint64, 0, len(m.tracks))
	for id := range m.tracks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
