package api

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"facetrack-go/config"
	"facetrack-go/internal/api/handlers"
	"facetrack-go/internal/core/model"
	"facetrack-go/internal/metrics"
	"facetrack-go/internal/sse"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Evidence: config.EvidenceConfig{Dir: dir},
	}

	hub := sse.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	apiHandler := handlers.NewAPIHandler(cfg, nil, nil, metrics.NewRegistry(), nil)
	return NewServer(cfg, apiHandler, handlers.NewEventHandler(hub)), dir
}

func TestServerServesHealthWithRequestID(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("X-Request-ID header missing")
	}
}

func TestServerAllowsCrossOriginRequests(t *testing.T) {
	srv, _ := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodOptions, "/api/health", nil)
	req.Header.Set("Origin", "http://viewer.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204 for preflight", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestServerServesEvidenceFiles(t *testing.T) {
	srv, dir := newTestServer(t)
	if err := os.WriteFile(filepath.Join(dir, "alice.jpg"), []byte("jpegbytes"), 0644); err != nil {
		t.Fatalf("writing evidence file: %v", err)
	}

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/evidence/alice.jpg", nil)
	srv.Router().ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if w.Body.String() != "jpegbytes" {
		t.Errorf("body = %q, want file content", w.Body.String())
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/evidence/missing.jpg", nil)
	srv.Router().ServeHTTP(w, req)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 for a missing file", w.Code)
	}
}

func TestServerStreamsSightings(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Server:   config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Evidence: config.EvidenceConfig{Dir: dir},
	}

	hub := sse.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	hubDone := make(chan struct{})
	go func() {
		defer close(hubDone)
		hub.Run(ctx)
	}()

	apiHandler := handlers.NewAPIHandler(cfg, nil, nil, metrics.NewRegistry(), nil)
	srv := NewServer(cfg, apiHandler, handlers.NewEventHandler(hub))
	ts := httptest.NewServer(srv.Router())

	resp, err := http.Get(ts.URL + "/api/events/stream")
	if err != nil {
		t.Fatalf("opening stream: %v", err)
	}

	// Warten, bis der Handler seinen Client beim Hub registriert hat.
	deadline := time.Now().Add(5 * time.Second)
	for hub.ClientCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if hub.ClientCount() == 0 {
		t.Fatal("stream client never registered")
	}

	hub.BroadcastSighting(model.SightingEvent{
		ID:        "ev-1",
		Identity:  "Alice",
		CameraID:  "cam-front",
		Location:  "Lobby",
		Timestamp: time.Now(),
	}, "alice.jpg")

	reader := bufio.NewReader(resp.Body)
	var event, data string
	for data == "" {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("reading stream: %v", err)
		}
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "event:") {
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
		if strings.HasPrefix(line, "data:") {
			data = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		}
	}

	if event != "sighting" {
		t.Errorf("event = %q, want sighting", event)
	}
	if !strings.Contains(data, `"name":"Alice"`) {
		t.Errorf("payload %q does not carry the identity", data)
	}
	if !strings.Contains(data, `"evidence_url":"/evidence/alice.jpg"`) {
		t.Errorf("payload %q does not carry the evidence URL", data)
	}

	// Der geschlossene Hub muss den Stream-Handler beenden, damit der
	// Server beim Herunterfahren nicht auf offene Streams wartet.
	resp.Body.Close()
	cancel()
	select {
	case <-hubDone:
	case <-time.After(5 * time.Second):
		t.Fatal("hub did not stop")
	}
	ts.Close()
}
