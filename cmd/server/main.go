package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"facetrack-go/config"
	"facetrack-go/internal/api"
	"facetrack-go/internal/api/handlers"
	"facetrack-go/internal/core/debounce"
	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/pipeline"
	"facetrack-go/internal/core/sched"
	"facetrack-go/internal/core/tracking"
	"facetrack-go/internal/db"
	"facetrack-go/internal/db/repository"
	"facetrack-go/internal/evidence"
	"facetrack-go/internal/gallery"
	"facetrack-go/internal/logger"
	"facetrack-go/internal/metrics"
	"facetrack-go/internal/mqtt"
	"facetrack-go/internal/recognizer"
	"facetrack-go/internal/services/cleanup"
	"facetrack-go/internal/sse"
	"facetrack-go/internal/utils"
	"facetrack-go/internal/video"
)

const (
	defaultConfigPath = "/config/config.yaml"

	// statusInterval ist der Takt des periodischen Statuslogs.
	statusInterval = 60 * time.Second

	// shutdownTimeout begrenzt das Warten auf offene HTTP-Verbindungen.
	shutdownTimeout = 10 * time.Second
)

func main() {
	configPath := os.Getenv("FACETRACK_CONFIG_FILE")
	if configPath == "" {
		configPath = defaultConfigPath
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if err := logger.Init(cfg.Log); err != nil {
		log.Errorf("Failed to initialize logger completely: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)

	// --- Datenbank und Repository ---
	log.Info("Initializing database...")
	if err := db.Initialize(cfg); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	repo := repository.NewSQLiteRepository(db.DB)

	// Lebensdauer aller Hintergrundarbeiten, endet mit SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Galerie ---
	gal, err := gallery.Open(cfg.Gallery.Path, cfg.Gallery.MaxDistance)
	if err != nil {
		log.Fatalf("Failed to load gallery: %v", err)
	}
	if cfg.Gallery.Watch {
		if err := gal.Watch(ctx); err != nil {
			log.Warnf("Gallery watching disabled: %v", err)
		}
	}

	// --- Erkennungsdienst ---
	oracle := recognizer.NewClient(cfg.Recognizer)
	pingCtx, cancelPing := context.WithTimeout(ctx, 5*time.Second)
	if err := oracle.Ping(pingCtx); err != nil {
		log.Warnf("Recognition service not reachable yet, continuing anyway: %v", err)
	}
	cancelPing()

	// --- Pipeline-Bausteine ---
	registry := metrics.NewRegistry()
	events := make(chan model.SightingEvent, cfg.Pipeline.QueueSize)
	gate := debounce.NewGate(time.Duration(cfg.Pipeline.DebounceInterval)*time.Second, cfg.Pipeline.LogUnknown)

	sink, err := evidence.NewStorageSink(cfg.Evidence.Dir, repo)
	if err != nil {
		log.Fatalf("Failed to prepare evidence storage: %v", err)
	}

	// --- SSE-Hub ---
	// Der Hub bekommt einen eigenen Kontext: Er muss die Worker und den
	// Schreiber überleben, damit beim Herunterfahren nachgelaufene
	// Sichtungen die offenen Streams noch erreichen.
	hub := sse.NewHub()
	hubCtx, stopHub := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(hubCtx)
	}()

	// --- MQTT ---
	publisher := mqtt.NewPublisher(cfg.MQTT)
	if err := publisher.Start(); err != nil {
		log.Warnf("MQTT publisher failed to start, continuing without broker: %v", err)
	}

	writer := pipeline.NewEventWriter(events, gate, sink, registry.Writer(),
		time.Duration(cfg.Pipeline.DrainGrace)*time.Second, hub, publisher)

	// --- Kamera-Worker ---
	workerCfg := pipeline.WorkerConfig{
		TrackTimeout:       time.Duration(cfg.Pipeline.TrackerTimeout) * time.Second,
		RecognitionTimeout: time.Duration(cfg.Pipeline.RecognitionTimeout) * time.Second,
		ReconnectBackoff:   time.Duration(cfg.Pipeline.ReconnectBackoff) * time.Second,
		MaxBackoff:         time.Duration(cfg.Pipeline.MaxBackoff) * time.Second,
		JPEGQuality:        cfg.Evidence.JPEGQuality,
	}

	var workers []*pipeline.CameraWorker
	var providers []*video.TrackerProvider
	for _, cam := range cfg.Cameras {
		provider, err := video.NewTrackerProvider(cfg.Pipeline.Tracker)
		if err != nil {
			log.Fatalf("Invalid tracker configuration: %v", err)
		}

		source, err := video.OpenSource(ctx, cam.ID, cam.URL,
			cfg.Pipeline.OpenRetries, time.Duration(cfg.Pipeline.OpenRetryDelay)*time.Second)
		if err != nil {
			provider.Close()
			log.WithError(err).Errorf("Camera %s could not be started, skipping", cam.ID)
			continue
		}
		providers = append(providers, provider)

		manager := tracking.NewManager(cam.ID, provider.Factory(), cfg.Pipeline.MatchThreshold)
		scheduler := sched.New(cam.ID, cfg.Pipeline.RecognitionInterval, cfg.Pipeline.DownscaleFactor, oracle, gal)
		workers = append(workers, pipeline.NewCameraWorker(cam.ID, cam.Location,
			source, manager, scheduler, events, registry.Camera(cam.ID), workerCfg))
		log.Infof("Camera %s ready (%s)", cam.ID, cam.Location)
	}
	if len(workers) == 0 {
		log.Fatalf("No camera could be started (%d configured), nothing to do", len(cfg.Cameras))
	}

	supervisor := pipeline.NewSupervisor(writer, workers...)
	supervisor.Start(ctx)

	// --- Hintergrunddienste ---
	cleanupService := cleanup.NewCleanupService(repo, cfg.Cleanup, cfg.Evidence.Dir)
	go cleanupService.Start(ctx)

	go statusLoop(ctx, registry, gate, publisher, events)

	// --- HTTP-API ---
	apiHandler := handlers.NewAPIHandler(cfg, repo, gal, registry, events)
	server := api.NewServer(cfg, apiHandler, handlers.NewEventHandler(hub))
	go func() {
		if err := server.Start(); err != nil {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	log.Infof("facetrack-go is running: %d of %d cameras started, API on %s:%d",
		len(workers), len(cfg.Cameras), cfg.Server.Host, cfg.Server.Port)

	<-ctx.Done()
	stop()
	log.Info("Shutdown signal received")

	// 1. Worker stoppen; der Schreiber leert den Kanal innerhalb der
	//    Abflussfrist, der Hub verteilt dabei noch.
	supervisor.Wait()
	for _, p := range providers {
		p.Close()
	}

	// 2. Hub schließen, damit enden die offenen SSE-Streams.
	stopHub()
	<-hubDone

	// 3. HTTP-Server abbauen.
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Errorf("Error during server shutdown: %v", err)
	}
	cancelShutdown()

	// 4. MQTT trennen.
	publisher.Stop()

	log.Info("Server stopped.")
}

// statusLoop schreibt periodisch eine Zusammenfassung der Pipeline ins
// Log, räumt die Debounce-Tabelle auf und meldet den Kamerastatus per
// MQTT als Retained-Nachricht.
func statusLoop(ctx context.Context, registry *metrics.Registry, gate *debounce.Gate,
	publisher *mqtt.Publisher, events chan model.SightingEvent) {

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snap := registry.Snapshot()

			var frames, emitted, dropped uint64
			connected := 0
			for _, cam := range snap.Cameras {
				frames += cam.Frames
				emitted += cam.Events
				dropped += cam.EventsDropped
				if cam.Connected {
					connected++
				}
				publisher.PublishCameraStatus(cam.CameraID, cam)
			}

			if pruned := gate.Prune(time.Now()); pruned > 0 {
				log.Debugf("Pruned %d expired debounce entries", pruned)
			}

			sys := utils.GetSystemStats()
			log.WithFields(log.Fields{
				"cameras_connected": connected,
				"cameras_total":     len(snap.Cameras),
				"frames":            frames,
				"events":            emitted,
				"events_dropped":    dropped,
				"written":           snap.Writer.Written,
				"suppressed":        snap.Writer.Suppressed,
				"sink_errors":       snap.Writer.SinkErrors,
				"queue":             fmt.Sprintf("%d/%d", len(events), cap(events)),
				"cpu":               fmt.Sprintf("%.1f%%", sys.CPUUsage),
				"memory":            utils.FormatBytes(sys.MemoryAlloc),
			}).Info("Pipeline status")
		}
	}
}
