// Package recognizer spricht den externen Erkennungsdienst an. Der
// Dienst nimmt ein JPEG entgegen und liefert pro Gesicht eine Box
// samt Embedding; die Zuordnung zu Identitäten geschieht erst in der
// Galerie.
package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"facetrack-go/config"
	"facetrack-go/internal/core/model"
)

// Log-Felder für die Recognizer-Komponente definieren
var logFields = log.Fields{
	"component": "recognizer",
}

// Client implementiert die Kommunikation mit dem Erkennungsdienst
type Client struct {
	cfg        config.RecognizerConfig
	httpClient *http.Client
}

// apiInfoResponse enthält Informationen über den Erkennungsdienst
type apiInfoResponse struct {
	Status    string   `json:"status"`
	Version   string   `json:"version"`
	Backend   string   `json:"backend"`
	Providers []string `json:"providers"`
}

// apiDetectResponse enthält die Antwort auf eine Gesichtserkennungsanfrage
type apiDetectResponse struct {
	Status     string `json:"status"`
	FacesCount int    `json:"faces_count"`
	Faces      []struct {
		BoundingBox []int     `json:"bbox"`
		Confidence  float64   `json:"confidence"`
		Embedding   []float32 `json:"embedding,omitempty"`
	} `json:"faces"`
	ProcessTime float64 `json:"process_time"`
}

// NewClient erstellt einen neuen Client für den Erkennungsdienst
func NewClient(cfg config.RecognizerConfig) *Client {
	timeout := time.Duration(cfg.Timeout) * time.Second
	if cfg.Timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// Ping prüft, ob der Erkennungsdienst verfügbar ist
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/info", c.cfg.URL), nil)
	if err != nil {
		return fmt.Errorf("fehler beim Erstellen der Anfrage: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fehler bei der Verbindung zum Erkennungsdienst: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("erkennungsdienst ist nicht verfügbar, Status: %d", resp.StatusCode)
	}

	var info apiInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("fehler beim Dekodieren der Antwort: %w", err)
	}
	if info.Status != "ok" {
		return fmt.Errorf("erkennungsdienst meldet Status %q", info.Status)
	}

	log.WithFields(logFields).WithFields(log.Fields{
		"version": info.Version,
		"backend": info.Backend,
	}).Info("Recognition service reachable")
	return nil
}

// encodeImage kodiert ein Bild im JPEG-Format für die Übertragung
func encodeImage(img image.Image) ([]byte, error) {
	buf := new(bytes.Buffer)
	err := jpeg.Encode(buf, img, nil)
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DetectFaces sendet ein Einzelbild an den Erkennungsdienst und
// liefert die gefundenen Gesichter als Detections. Die Boxen kommen
// als [x1,y1,x2,y2] vom Dienst und werden hier in Breite/Höhe
// umgerechnet.
func (c *Client) DetectFaces(ctx context.Context, img image.Image) ([]model.Detection, error) {
	// Bild für die Übertragung vorbereiten
	imgData, err := encodeImage(img)
	if err != nil {
		return nil, fmt.Errorf("fehler beim Kodieren des Bildes: %w", err)
	}

	// Multipart-Form vorbereiten
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", "frame.jpg")
	if err != nil {
		return nil, fmt.Errorf("fehler beim Erstellen des Formularfeldes: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imgData)); err != nil {
		return nil, fmt.Errorf("fehler beim Kopieren der Bilddaten: %w", err)
	}

	if err := writer.WriteField("threshold", fmt.Sprintf("%f", c.cfg.DetThreshold)); err != nil {
		return nil, fmt.Errorf("fehler beim Schreiben von threshold: %w", err)
	}
	if err := writer.WriteField("extract_embedding", "true"); err != nil {
		return nil, fmt.Errorf("fehler beim Schreiben von extract_embedding: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("fehler beim Schließen des Formularschreibers: %w", err)
	}

	// Request erstellen und senden
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("%s/detect", c.cfg.URL), body)
	if err != nil {
		return nil, fmt.Errorf("fehler beim Erstellen der Anfrage: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fehler bei der HTTP-Anfrage: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unerwarteter Status: %d, Antwort: %s", resp.StatusCode, string(bodyBytes))
	}

	// Antwort auswerten
	var apiResp apiDetectResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, fmt.Errorf("fehler beim Dekodieren der Antwort: %w", err)
	}
	if apiResp.Status != "ok" {
		return nil, fmt.Errorf("API-Fehler: %s", apiResp.Status)
	}

	detections := make([]model.Detection, 0, len(apiResp.Faces))
	for _, f := range apiResp.Faces {
		if len(f.BoundingBox) != 4 {
			log.WithFields(logFields).Warnf("Skipping face with malformed bbox of length %d", len(f.BoundingBox))
			continue
		}
		detections = append(detections, model.Detection{
			Box: model.BoundingBox{
				X: f.BoundingBox[0],
				Y: f.BoundingBox[1],
				W: f.BoundingBox[2] - f.BoundingBox[0],
				H: f.BoundingBox[3] - f.BoundingBox[1],
			},
			Score:     f.Confidence,
			Embedding: f.Embedding,
		})
	}

	log.WithFields(logFields).WithFields(log.Fields{
		"faces":        len(detections),
		"process_time": apiResp.ProcessTime,
	}).Debug("Detection request completed")
	return detections, nil
}
