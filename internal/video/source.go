// Package video bindet OpenCV über gocv an: Frame-Quellen für
// RTSP-Streams, Videodateien und lokale Geräte sowie die visuellen
// Tracker. Alles außerhalb dieses Pakets arbeitet mit image.Image und
// kennt keine Mats.
package video

import (
	"context"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	gocv "gocv.io/x/gocv"

	"facetrack-go/internal/core/pipeline"
)

// Standardwerte für den Verbindungsaufbau
const (
	DefaultOpenRetries    = 3
	DefaultOpenRetryDelay = 2 * time.Second
)

// Source liest Frames aus einer OpenCV-VideoCapture. Die Quelle kann ein
// RTSP-Stream, eine Videodatei oder ein Geräteindex sein; gocv
// entscheidet anhand der URL. Source ist nicht nebenläufig nutzbar und
// gehört exklusiv der Worker-Goroutine ihrer Kamera.
type Source struct {
	cameraID   string
	url        string
	retries    int
	retryDelay time.Duration

	capture *gocv.VideoCapture
	mat     gocv.Mat

	log *log.Entry
}

// OpenSource öffnet die Quelle mit begrenztem Wiederholungsversuch.
// Schlägt jeder Versuch fehl, kommt ein Fehler zurück und die Kamera
// bleibt außen vor.
func OpenSource(ctx context.Context, cameraID, url string, retries int, retryDelay time.Duration) (*Source, error) {
	if retries <= 0 {
		retries = DefaultOpenRetries
	}
	if retryDelay <= 0 {
		retryDelay = DefaultOpenRetryDelay
	}

	s := &Source{
		cameraID:   cameraID,
		url:        url,
		retries:    retries,
		retryDelay: retryDelay,
		mat:        gocv.NewMat(),
		log: log.WithFields(log.Fields{
			"component": "video",
			"camera":    cameraID,
		}),
	}

	if err := s.open(ctx); err != nil {
		s.mat.Close()
		return nil, err
	}
	return s, nil
}

// open versucht bis zu retries-mal, die Capture zu öffnen.
func (s *Source) open(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= s.retries; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		capture, err := gocv.OpenVideoCapture(s.url)
		if err == nil && !capture.IsOpened() {
			capture.Close()
			err = fmt.Errorf("video capture did not open")
		}
		if err == nil {
			// Minimaler Puffer, der Worker soll aktuelle Frames sehen
			capture.Set(gocv.VideoCaptureBufferSize, 1)
			s.capture = capture
			s.log.Infof("Video source opened (attempt %d/%d)", attempt, s.retries)
			return nil
		}

		lastErr = err
		s.log.Warnf("Failed to open video source (attempt %d/%d): %v", attempt, s.retries, err)
		if attempt < s.retries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(s.retryDelay):
			}
		}
	}
	return fmt.Errorf("konnte videoquelle nach %d versuchen nicht öffnen: %w", s.retries, lastErr)
}

// NextFrame liest den nächsten Frame und konvertiert ihn in ein
// image.Image. Der Zeitstempel ist die Wanduhrzeit beim Einlesen; alle
// nachgelagerten Zeitfenster rechnen mit ihm.
func (s *Source) NextFrame(ctx context.Context) (pipeline.Frame, error) {
	if err := ctx.Err(); err != nil {
		return pipeline.Frame{}, err
	}
	if s.capture == nil {
		return pipeline.Frame{}, fmt.Errorf("video capture is not open")
	}

	if ok := s.capture.Read(&s.mat); !ok || s.mat.Empty() {
		return pipeline.Frame{}, fmt.Errorf("failed to read frame from video source")
	}

	img, err := s.mat.ToImage()
	if err != nil {
		return pipeline.Frame{}, fmt.Errorf("fehler beim konvertieren des frames: %w", err)
	}

	return pipeline.Frame{Image: img, Timestamp: time.Now()}, nil
}

// Reconnect schließt die Capture und öffnet sie neu, wieder mit
// begrenztem Wiederholungsversuch.
func (s *Source) Reconnect(ctx context.Context) error {
	if s.capture != nil {
		s.capture.Close()
		s.capture = nil
	}
	return s.open(ctx)
}

// Close gibt Capture und Lesepuffer frei.
func (s *Source) Close() error {
	var err error
	if s.capture != nil {
		err = s.capture.Close()
		s.capture = nil
	}
	s.mat.Close()
	return err
}
