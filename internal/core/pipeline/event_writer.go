package pipeline

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"facetrack-go/internal/core/debounce"
	"facetrack-go/internal/core/model"
	"facetrack-go/internal/metrics"
)

// Sink persistiert eine durchgelassene Sichtung (Datenbankzeile plus
// Beweisbild auf der Platte) und gibt den abgelegten Bildpfad zurück,
// leer wenn kein Bild geschrieben wurde.
type Sink interface {
	Store(ctx context.Context, ev model.SightingEvent) (string, error)
}

// Broadcaster verteilt gespeicherte Sichtungen an Live-Abonnenten,
// etwa den SSE-Hub oder den MQTT-Publisher. imagePath ist der von der
// Senke vergebene Pfad des Beweisbilds.
type Broadcaster interface {
	BroadcastSighting(ev model.SightingEvent, imagePath string)
}

// EventWriter ist der einzige Konsument des gemeinsamen
// Ereigniskanals. Er wendet die Abklingzeit an, persistiert
// durchgelassene Sichtungen und reicht sie an die Broadcaster weiter.
type EventWriter struct {
	events       <-chan model.SightingEvent
	gate         *debounce.Gate
	sink         Sink
	broadcasters []Broadcaster
	stats        *metrics.WriterStats
	drainTimeout time.Duration
	log          *log.Entry
}

// NewEventWriter erstellt den Schreiber. drainTimeout begrenzt, wie
// lange beim Herunterfahren noch gepufferte Ereignisse abgearbeitet
// werden.
func NewEventWriter(events <-chan model.SightingEvent, gate *debounce.Gate, sink Sink,
	stats *metrics.WriterStats, drainTimeout time.Duration, broadcasters ...Broadcaster) *EventWriter {

	if drainTimeout <= 0 {
		drainTimeout = 5 * time.Second
	}
	return &EventWriter{
		events:       events,
		gate:         gate,
		sink:         sink,
		broadcasters: broadcasters,
		stats:        stats,
		drainTimeout: drainTimeout,
		log:          log.WithField("component", "writer"),
	}
}

// Run verarbeitet Ereignisse bis zum Kontextabbruch und leert danach
// den Kanalpuffer innerhalb der Abflussfrist.
func (w *EventWriter) Run(ctx context.Context) {
	w.log.Info("Event writer started")
	defer w.log.Info("Event writer stopped")

	for {
		select {
		case ev := <-w.events:
			w.handle(ctx, ev)
		case <-ctx.Done():
			w.drain()
			return
		}
	}
}

// handle wendet Abklingzeit und Senke auf genau ein Ereignis an. Die
// Abklingzeit rechnet mit dem Aufnahmezeitpunkt des Einzelbilds, nicht
// mit der Wanduhr beim Schreiben.
func (w *EventWriter) handle(ctx context.Context, ev model.SightingEvent) {
	if !w.gate.Allow(ev.Identity, ev.Timestamp) {
		w.stats.Suppressed.Add(1)
		return
	}

	imagePath, err := w.sink.Store(ctx, ev)
	if err != nil {
		w.stats.SinkErrors.Add(1)
		w.log.WithError(err).WithFields(log.Fields{
			"identity": ev.Identity,
			"camera":   ev.CameraID,
		}).Error("Failed to store sighting")
		return
	}
	w.stats.Written.Add(1)

	w.log.WithFields(log.Fields{
		"identity":   ev.Identity,
		"camera":     ev.CameraID,
		"location":   ev.Location,
		"track":      ev.TrackID,
		"confidence": ev.Confidence,
	}).Info("Sighting recorded")

	for _, b := range w.broadcasters {
		b.BroadcastSighting(ev, imagePath)
	}
}

// drain arbeitet bereits gepufferte Ereignisse nach dem Abbruch ab,
// höchstens bis die Abflussfrist erreicht ist.
func (w *EventWriter) drain() {
	deadline := time.Now().Add(w.drainTimeout)
	drained := 0
	for time.Now().Before(deadline) {
		select {
		case ev := <-w.events:
			ctx, cancel := context.WithTimeout(context.Background(), w.drainTimeout)
			w.handle(ctx, ev)
			cancel()
			drained++
		default:
			if drained > 0 {
				w.log.WithField("count", drained).Info("Drained buffered sightings on shutdown")
			}
			return
		}
	}
	w.log.WithField("count", drained).Warn("Drain deadline reached, remaining sightings discarded")
}
