// Package metrics sammelt Laufzeitzähler der Pipeline. Die Zähler
// werden von den Kamera-Workern und dem Ereignis-Schreiber atomar
// gepflegt und für die Status-API sowie das periodische Statuslog
// als Momentaufnahme ausgelesen.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CameraStats zählt die Verarbeitungsschritte einer einzelnen Kamera.
type CameraStats struct {
	Frames        atomic.Uint64
	Recognitions  atomic.Uint64
	Faces         atomic.Uint64
	TracksCreated atomic.Uint64
	Events        atomic.Uint64
	EventsDropped atomic.Uint64
	OracleErrors  atomic.Uint64
	Reconnects    atomic.Uint64

	activeTracks  atomic.Int64
	connected     atomic.Bool
	lastFrameUnix atomic.Int64
}

// MarkFrame verbucht ein verarbeitetes Einzelbild samt Zeitstempel.
func (c *CameraStats) MarkFrame(now time.Time) {
	c.Frames.Add(1)
	c.lastFrameUnix.Store(now.UnixNano())
}

// SetActiveTracks setzt die aktuelle Anzahl aktiver Tracks.
func (c *CameraStats) SetActiveTracks(n int) {
	c.activeTracks.Store(int64(n))
}

// SetConnected setzt den Verbindungszustand der Videoquelle.
func (c *CameraStats) SetConnected(ok bool) {
	c.connected.Store(ok)
}

// WriterStats zählt die Arbeit des Ereignis-Schreibers.
type WriterStats struct {
	Written    atomic.Uint64
	Suppressed atomic.Uint64
	SinkErrors atomic.Uint64
}

// CameraSnapshot ist der auslesbare Stand einer Kamera.
type CameraSnapshot struct {
	CameraID      string    `json:"camera_id"`
	Connected     bool      `json:"connected"`
	Frames        uint64    `json:"frames"`
	Recognitions  uint64    `json:"recognitions"`
	Faces         uint64    `json:"faces"`
	TracksCreated uint64    `json:"tracks_created"`
	ActiveTracks  int64     `json:"active_tracks"`
	Events        uint64    `json:"events"`
	EventsDropped uint64    `json:"events_dropped"`
	OracleErrors  uint64    `json:"oracle_errors"`
	Reconnects    uint64    `json:"reconnects"`
	LastFrame     time.Time `json:"last_frame"`
}

// WriterSnapshot ist der auslesbare Stand des Ereignis-Schreibers.
type WriterSnapshot struct {
	Written    uint64 `json:"written"`
	Suppressed uint64 `json:"suppressed"`
	SinkErrors uint64 `json:"sink_errors"`
}

// Snapshot fasst alle Zähler zu einem Zeitpunkt zusammen.
type Snapshot struct {
	Cameras []CameraSnapshot `json:"cameras"`
	Writer  WriterSnapshot   `json:"writer"`
}

// Registry hält die Zähler aller Kameras und des Schreibers.
type Registry struct {
	mu      sync.RWMutex
	cameras map[string]*CameraStats
	writer  WriterStats
}

// NewRegistry erstellt eine leere Registry.
func NewRegistry() *Registry {
	return &Registry{cameras: make(map[string]*CameraStats)}
}

// Camera liefert die Zähler der Kamera und legt sie beim ersten
// Zugriff an.
func (r *Registry) Camera(id string) *CameraStats {
	r.mu.RLock()
	c, ok := r.cameras[id]
	r.mu.RUnlock()
	if ok {
		return c
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok = r.cameras[id]; ok {
		return c
	}
	c = &CameraStats{}
	r.cameras[id] = c
	return c
}

// Writer liefert die Zähler des Ereignis-Schreibers.
func (r *Registry) Writer() *WriterStats {
	return &r.writer
}

// Snapshot liest alle Zähler aus, Kameras stabil nach ID sortiert.
func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	ids := make([]string, 0, len(r.cameras))
	for id := range r.cameras {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)

	snap := Snapshot{
		Cameras: make([]CameraSnapshot, 0, len(ids)),
		Writer: WriterSnapshot{
			Written:    r.writer.Written.Load(),
			Suppressed: r.writer.Suppressed.Load(),
			SinkErrors: r.writer.SinkErrors.Load(),
		},
	}
	for _, id := range ids {
		r.mu.RLock()
		c := r.cameras[id]
		r.mu.RUnlock()

		var last time.Time
		if ns := c.lastFrameUnix.Load(); ns > 0 {
			last = time.Unix(0, ns)
		}
		snap.Cameras = append(snap.Cameras, CameraSnapshot{
			CameraID:      id,
			Connected:     c.connected.Load(),
			Frames:        c.Frames.Load(),
			Recognitions:  c.Recognitions.Load(),
			Faces:         c.Faces.Load(),
			TracksCreated: c.TracksCreated.Load(),
			ActiveTracks:  c.activeTracks.Load(),
			Events:        c.Events.Load(),
			EventsDropped: c.EventsDropped.Load(),
			OracleErrors:  c.OracleErrors.Load(),
			Reconnects:    c.Reconnects.Load(),
			LastFrame:     last,
		})
	}
	return snap
}
