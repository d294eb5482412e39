package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/draw"
	"image/jpeg"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/sched"
	"facetrack-go/internal/core/tracking"
	"facetrack-go/internal/metrics"
)

// WorkerConfig bündelt die Laufzeitparameter eines Kamera-Workers.
type WorkerConfig struct {
	// TrackTimeout ist die Zeit ohne Lebenszeichen, nach der ein Track
	// verworfen wird.
	TrackTimeout time.Duration
	// RecognitionTimeout begrenzt einen einzelnen Erkennungsaufruf.
	RecognitionTimeout time.Duration
	// ReconnectBackoff ist die Wartezeit vor dem ersten
	// Wiederverbindungsversuch, sie verdoppelt sich bis MaxBackoff.
	ReconnectBackoff time.Duration
	MaxBackoff       time.Duration
	// JPEGQuality gilt für die Beweisbild-Ausschnitte, 0 nimmt den
	// Encoder-Standard.
	JPEGQuality int
}

// DefaultWorkerConfig liefert die Standardparameter.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		TrackTimeout:       3 * time.Second,
		RecognitionTimeout: 10 * time.Second,
		ReconnectBackoff:   2 * time.Second,
		MaxBackoff:         30 * time.Second,
	}
}

// CameraWorker verarbeitet den Videostrom genau einer Kamera: Tracking
// auf jedem Einzelbild, Erkennung im konfigurierten Takt, Sichtungen in
// den gemeinsamen Ereigniskanal.
type CameraWorker struct {
	cameraID string
	location string
	source   FrameSource
	tracks   *tracking.Manager
	sched    *sched.Scheduler
	events   chan<- model.SightingEvent
	stats    *metrics.CameraStats
	cfg      WorkerConfig
	log      *log.Entry
}

// NewCameraWorker verdrahtet einen Worker. Der Ereigniskanal wird von
// allen Kameras gemeinsam genutzt und vom EventWriter geleert.
func NewCameraWorker(cameraID, location string, source FrameSource, tracks *tracking.Manager,
	scheduler *sched.Scheduler, events chan<- model.SightingEvent,
	stats *metrics.CameraStats, cfg WorkerConfig) *CameraWorker {

	if cfg.TrackTimeout <= 0 {
		cfg.TrackTimeout = DefaultWorkerConfig().TrackTimeout
	}
	if cfg.ReconnectBackoff <= 0 {
		cfg.ReconnectBackoff = DefaultWorkerConfig().ReconnectBackoff
	}
	if cfg.MaxBackoff < cfg.ReconnectBackoff {
		cfg.MaxBackoff = cfg.ReconnectBackoff
	}

	return &CameraWorker{
		cameraID: cameraID,
		location: location,
		source:   source,
		tracks:   tracks,
		sched:    scheduler,
		events:   events,
		stats:    stats,
		cfg:      cfg,
		log: log.WithFields(log.Fields{
			"component": "pipeline",
			"camera":    cameraID,
		}),
	}
}

// Run treibt die Kamera bis zum Kontextabbruch. Fehler der Videoquelle
// führen zu Wiederverbindungsversuchen mit wachsender Wartezeit, die
// Tracks altern währenddessen normal weiter.
func (w *CameraWorker) Run(ctx context.Context) {
	w.log.Info("Camera worker started")
	defer w.log.Info("Camera worker stopped")
	defer w.tracks.Close()
	defer func() {
		if err := w.source.Close(); err != nil {
			w.log.WithError(err).Warn("Failed to close frame source")
		}
	}()

	for {
		frame, err := w.source.NextFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.stats.SetConnected(false)
			w.log.WithError(err).Warn("Frame source failed, attempting to reconnect")
			if !w.reconnect(ctx) {
				return
			}
			continue
		}
		w.stats.SetConnected(true)
		w.processFrame(ctx, frame)
	}
}

// processFrame ist der Takt der Pipeline: Tracker auf jedem Bild,
// Erkennung nur wenn der Scheduler sie fällig meldet. Schlägt die
// Erkennung fehl, wird das Bild ohne Sichtungen abgeschlossen und die
// Tracker laufen unverändert weiter.
func (w *CameraWorker) processFrame(ctx context.Context, frame Frame) {
	w.stats.MarkFrame(frame.Timestamp)

	w.tracks.UpdateAll(frame.Image, frame.Timestamp)
	if evicted := w.tracks.EvictStale(frame.Timestamp, w.cfg.TrackTimeout); evicted > 0 {
		w.log.WithField("count", evicted).Debug("Evicted stale tracks")
	}

	if w.sched.Tick() {
		rctx := ctx
		if w.cfg.RecognitionTimeout > 0 {
			var cancel context.CancelFunc
			rctx, cancel = context.WithTimeout(ctx, w.cfg.RecognitionTimeout)
			defer cancel()
		}

		faces, err := w.sched.Recognize(rctx, frame.Image)
		if err != nil {
			w.stats.OracleErrors.Add(1)
			w.log.WithError(err).Warn("Recognition failed, trackers keep running")
		} else {
			w.stats.Recognitions.Add(1)
			w.stats.Faces.Add(uint64(len(faces)))
			transitions := w.tracks.Reconcile(faces, frame.Image, frame.Timestamp)
			w.emit(transitions, frame)
		}
	}

	w.stats.SetActiveTracks(w.tracks.Count())
}

// emit baut aus den meldepflichtigen Track-Übergängen Sichtungsereignisse
// samt Beweisbild und legt sie in den gemeinsamen Kanal. Ist der Kanal voll,
// wird die Sichtung verworfen und gezählt statt die Kamera zu blockieren.
func (w *CameraWorker) emit(transitions []tracking.Transition, frame Frame) {
	for _, tr := range transitions {
		if tr.NewTrack {
			w.stats.TracksCreated.Add(1)
		}
		if !emitable(tr) {
			continue
		}

		crop, err := cropJPEG(frame.Image, tr.Box, w.cfg.JPEGQuality)
		if err != nil {
			w.log.WithError(err).WithField("track", tr.TrackID).Warn("Failed to encode evidence crop")
		}

		ev := model.SightingEvent{
			ID:           uuid.NewString(),
			Identity:     tr.Identity,
			CameraID:     w.cameraID,
			Location:     w.location,
			Timestamp:    frame.Timestamp,
			Confidence:   tr.Confidence,
			TrackID:      tr.TrackID,
			Box:          tr.Box,
			EvidenceJPEG: crop,
		}

		select {
		case w.events <- ev:
			w.stats.Events.Add(1)
		default:
			w.stats.EventsDropped.Add(1)
			w.log.WithFields(log.Fields{
				"identity": ev.Identity,
				"track":    ev.TrackID,
			}).Warn("Event queue full, sighting dropped")
		}
	}
}

// emitable entscheidet, ob ein Übergang eine Sichtung auslöst: neue
// Tracks immer (über Unbekannte entscheidet der Debounce-Filter),
// bestehende nur beim Identitätswechsel auf ein bekanntes Label.
// Fortlaufende Erkennungen derselben Identität melden nichts, der Track
// selbst hält die Anwesenheit fest.
func emitable(tr tracking.Transition) bool {
	if tr.NewTrack {
		return true
	}
	return tr.Identity != tr.PrevIdentity && tr.Identity != model.UnknownLabel
}

// reconnect versucht die Quelle wiederherzustellen, bis es gelingt oder
// der Kontext abbricht. Liefert false nur bei Abbruch.
func (w *CameraWorker) reconnect(ctx context.Context) bool {
	backoff := w.cfg.ReconnectBackoff
	for {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(backoff):
		}

		w.stats.Reconnects.Add(1)
		if err := w.source.Reconnect(ctx); err == nil {
			w.log.Info("Frame source reconnected")
			return true
		} else {
			w.log.WithError(err).WithField("backoff", backoff.String()).Warn("Reconnect attempt failed")
		}

		backoff *= 2
		if backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}
}

// cropJPEG schneidet die Box aus dem Einzelbild und kodiert sie als
// JPEG. Eine leere Box liefert nil ohne Fehler.
func cropJPEG(img image.Image, box model.BoundingBox, quality int) ([]byte, error) {
	if box.Area() == 0 {
		return nil, nil
	}

	r := box.Rect()
	var crop image.Image
	if si, ok := img.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		crop = si.SubImage(r)
	} else {
		dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		draw.Draw(dst, dst.Bounds(), img, r.Min, draw.Src)
		crop = dst
	}

	var opts *jpeg.Options
	if quality > 0 {
		opts = &jpeg.Options{Quality: quality}
	}
	buf := new(bytes.Buffer)
	if err := jpeg.Encode(buf, crop, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
