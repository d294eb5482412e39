package evidence

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"facetrack-go/internal/core/model"
	"facetrack-go/internal/core/models"
)

type fakeStore struct {
	saved []*models.Sighting
	err   error
}

func (f *fakeStore) SaveSighting(s *models.Sighting) error {
	if f.err != nil {
		return f.err
	}
	f.saved = append(f.saved, s)
	return nil
}

func event() model.SightingEvent {
	return model.SightingEvent{
		ID:           "ev-1",
		Identity:     "Alice",
		CameraID:     "cam-front",
		Location:     "Lobby",
		Timestamp:    time.Date(2025, 6, 1, 8, 30, 15, 250*int(time.Millisecond), time.UTC),
		Confidence:   0.92,
		TrackID:      7,
		Box:          model.BoundingBox{X: 10, Y: 20, W: 30, H: 40},
		EvidenceJPEG: []byte("jpeg-bytes"),
	}
}

func TestStoreWritesImageAndRow(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	sink, err := NewStorageSink(dir, store)
	if err != nil {
		t.Fatalf("NewStorageSink: %v", err)
	}

	ev := event()
	path, err := sink.Store(context.Background(), ev)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}

	if len(store.saved) != 1 {
		t.Fatalf("saved %d rows, want 1", len(store.saved))
	}
	row := store.saved[0]
	if path != row.ImagePath {
		t.Errorf("Store returned path %q, row has %q", path, row.ImagePath)
	}
	if row.EventID != "ev-1" || row.Name != "Alice" || row.CameraID != "cam-front" || row.Location != "Lobby" {
		t.Errorf("unexpected row: %+v", row)
	}
	if row.TrackID != 7 || row.Confidence != 0.92 {
		t.Errorf("unexpected track/confidence: %+v", row)
	}
	if !strings.Contains(string(row.Box), `"w":30`) {
		t.Errorf("box JSON missing width: %s", row.Box)
	}

	want := "Alice_20250601-083015.250_Lobby.jpg"
	if row.ImagePath != want {
		t.Errorf("ImagePath = %q, want %q", row.ImagePath, want)
	}
	data, err := os.ReadFile(filepath.Join(dir, row.ImagePath))
	if err != nil {
		t.Fatalf("reading evidence file: %v", err)
	}
	if string(data) != "jpeg-bytes" {
		t.Errorf("evidence file content = %q", data)
	}
}

func TestStoreWithoutCropPersistsRowOnly(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	sink, err := NewStorageSink(dir, store)
	if err != nil {
		t.Fatalf("NewStorageSink: %v", err)
	}

	ev := event()
	ev.EvidenceJPEG = nil
	path, err := sink.Store(context.Background(), ev)
	if err != nil {
		t.Fatalf("Store: %v", err)
	}
	if path != "" {
		t.Errorf("Store returned path %q, want empty", path)
	}

	if len(store.saved) != 1 {
		t.Fatalf("saved %d rows, want 1", len(store.saved))
	}
	if store.saved[0].ImagePath != "" {
		t.Errorf("ImagePath = %q, want empty", store.saved[0].ImagePath)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("reading dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected no evidence files, found %d", len(entries))
	}
}

func TestStoreSanitizesFilename(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{}
	sink, err := NewStorageSink(dir, store)
	if err != nil {
		t.Fatalf("NewStorageSink: %v", err)
	}

	ev := event()
	ev.Identity = "../etc/passwd"
	ev.Location = "Floor 3"
	if _, err := sink.Store(context.Background(), ev); err != nil {
		t.Fatalf("Store: %v", err)
	}

	name := store.saved[0].ImagePath
	if strings.ContainsAny(name, "/\\ ") {
		t.Errorf("filename %q contains unsafe characters", name)
	}
	if !strings.HasSuffix(name, "_Floor_3.jpg") {
		t.Errorf("filename %q does not carry sanitized location", name)
	}
	if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
		t.Errorf("evidence file not inside sink dir: %v", err)
	}
}

func TestStoreKeepsRowWhenImageWriteFails(t *testing.T) {
	parent := t.TempDir()
	dir := filepath.Join(parent, "evidence")
	store := &fakeStore{}
	sink, err := NewStorageSink(dir, store)
	if err != nil {
		t.Fatalf("NewStorageSink: %v", err)
	}

	// Verzeichnis durch eine Datei ersetzen, damit WriteFile scheitert
	if err := os.RemoveAll(dir); err != nil {
		t.Fatalf("removing dir: %v", err)
	}
	if err := os.WriteFile(dir, []byte("not a dir"), 0644); err != nil {
		t.Fatalf("blocking dir: %v", err)
	}

	path, err := sink.Store(context.Background(), event())
	if err != nil {
		t.Fatalf("Store should survive a failed image write: %v", err)
	}
	if path != "" {
		t.Errorf("Store returned path %q, want empty after failed write", path)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d rows, want 1", len(store.saved))
	}
	if store.saved[0].ImagePath != "" {
		t.Errorf("ImagePath = %q, want empty after failed write", store.saved[0].ImagePath)
	}
}

func TestStorePropagatesRepositoryError(t *testing.T) {
	dir := t.TempDir()
	store := &fakeStore{err: errors.New("disk full")}
	sink, err := NewStorageSink(dir, store)
	if err != nil {
		t.Fatalf("NewStorageSink: %v", err)
	}

	_, err = sink.Store(context.Background(), event())
	if err == nil {
		t.Fatal("expected error from repository to propagate")
	}
	if !strings.Contains(err.Error(), "disk full") {
		t.Errorf("error %q does not wrap repository failure", err)
	}
}
