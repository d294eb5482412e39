// Package gallery lädt die Referenz-Embeddings bekannter Personen und
// beantwortet Ähnlichkeitsanfragen über einen HNSW-Index. Die Galerie
// kann im laufenden Betrieb neu geladen werden, ohne dass die
// Kamera-Worker davon etwas mitbekommen.
package gallery

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/coder/hnsw"
	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"facetrack-go/internal/core/model"
)

const (
	// maxNeighbors ist der HNSW-Parameter M.
	maxNeighbors = 16

	// DefaultMaxDistance ist die größte euklidische Distanz, bis zu der
	// ein Nachbar noch als Treffer gilt.
	DefaultMaxDistance = 0.6

	// reloadDebounce fasst schnell aufeinanderfolgende Dateiänderungen
	// zu einem einzigen Neuladen zusammen.
	reloadDebounce = 500 * time.Millisecond
)

// Entry ist ein Referenzvektor einer Identität.
type Entry struct {
	Label     string
	Embedding []float32
}

// LabelInfo beschreibt eine Identität für die Status-API.
type LabelInfo struct {
	Label   string `json:"label"`
	Vectors int    `json:"vectors"`
}

// index ist ein unveränderlicher Stand der Galerie. Bei einem Reload
// wird der komplette Index ausgetauscht, nie in-place verändert.
type index struct {
	graph    *hnsw.Graph[int64]
	labels   map[int64]string
	counts   map[string]int
	dim      int
	loadedAt time.Time
}

// Gallery hält den aktuellen Index und tauscht ihn bei Reload atomar
// aus. Match läuft lesend und blockiert Reloads nicht nennenswert.
type Gallery struct {
	path        string
	maxDistance float64

	mu  sync.RWMutex
	idx *index

	log *log.Entry
}

// Open lädt die Galerie-Datei. Ein Fehler beim ersten Laden ist für den
// Aufrufer fatal, spätere Reload-Fehler behalten den alten Stand.
func Open(path string, maxDistance float64) (*Gallery, error) {
	if maxDistance <= 0 {
		maxDistance = DefaultMaxDistance
	}
	g := &Gallery{
		path:        path,
		maxDistance: maxDistance,
		log:         log.WithField("component", "gallery"),
	}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// Reload liest die Datei neu ein und tauscht den Index bei Erfolg aus.
// Bei einem Fehler bleibt der bisherige Index unverändert in Betrieb.
func (g *Gallery) Reload() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		return fmt.Errorf("galerie-datei nicht lesbar: %w", err)
	}
	entries, err := parseEntries(data)
	if err != nil {
		return err
	}
	idx, err := buildIndex(entries)
	if err != nil {
		return err
	}
	idx.loadedAt = time.Now()

	g.mu.Lock()
	g.idx = idx
	g.mu.Unlock()

	g.log.WithFields(log.Fields{
		"labels":  len(idx.counts),
		"vectors": len(idx.labels),
	}).Info("Gallery loaded")
	return nil
}

// Match liefert die Identität des nächsten Nachbarn. Liegt dessen
// Distanz über der Obergrenze oder ist die Galerie leer, bleibt das
// Label Unknown; die Konfidenz ist in jedem Fall clamp(1 - distanz).
func (g *Gallery) Match(embedding []float32) model.IdentityMatch {
	g.mu.RLock()
	idx := g.idx
	g.mu.RUnlock()

	if idx == nil || idx.graph == nil {
		return model.IdentityMatch{Label: model.UnknownLabel}
	}
	if len(embedding) != idx.dim {
		g.log.WithFields(log.Fields{
			"got":  len(embedding),
			"want": idx.dim,
		}).Warn("Embedding dimension mismatch, treating as unknown")
		return model.IdentityMatch{Label: model.UnknownLabel}
	}

	neighbors := idx.graph.Search(embedding, 1)
	if len(neighbors) == 0 {
		return model.IdentityMatch{Label: model.UnknownLabel}
	}

	n := neighbors[0]
	dist := float64(hnsw.EuclideanDistance(embedding, n.Value))
	confidence := model.ClampConfidence(1.0 - dist)
	if dist > g.maxDistance {
		return model.IdentityMatch{Label: model.UnknownLabel, Confidence: confidence}
	}
	return model.IdentityMatch{Label: idx.labels[n.Key], Confidence: confidence}
}

// Labels liefert alle Identitäten samt Vektorzahl, stabil sortiert.
func (g *Gallery) Labels() []LabelInfo {
	g.mu.RLock()
	idx := g.idx
	g.mu.RUnlock()

	if idx == nil {
		return nil
	}
	infos := make([]LabelInfo, 0, len(idx.counts))
	for label, n := range idx.counts {
		infos = append(infos, LabelInfo{Label: label, Vectors: n})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Label < infos[j].Label })
	return infos
}

// Size liefert die Gesamtzahl indizierter Vektoren.
func (g *Gallery) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil {
		return 0
	}
	return len(g.idx.labels)
}

// LoadedAt liefert den Zeitpunkt des letzten erfolgreichen Ladens.
func (g *Gallery) LoadedAt() time.Time {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if g.idx == nil {
		return time.Time{}
	}
	return g.idx.loadedAt
}

// Watch überwacht das Verzeichnis der Galerie-Datei und lädt bei
// Änderungen entprellt neu. Überwacht wird das Verzeichnis statt der
// Datei, weil Editoren und Sync-Tools Dateien per Rename ersetzen.
func (g *Gallery) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("galerie-überwachung nicht möglich: %w", err)
	}
	if err := watcher.Add(filepath.Dir(g.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("galerie-verzeichnis nicht überwachbar: %w", err)
	}

	go func() {
		defer watcher.Close()
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != filepath.Clean(g.path) {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				pending = time.After(reloadDebounce)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.log.WithError(err).Warn("Gallery watcher error")
			case <-pending:
				pending = nil
				if err := g.Reload(); err != nil {
					g.log.WithError(err).Error("Gallery reload failed, keeping previous index")
				}
			}
		}
	}()

	g.log.WithField("path", g.path).Info("Watching gallery file for changes")
	return nil
}

// buildIndex baut aus den normalisierten Einträgen einen frischen
// HNSW-Index. Alle Vektoren müssen dieselbe Länge haben.
func buildIndex(entries []Entry) (*index, error) {
	idx := &index{
		labels: make(map[int64]string, len(entries)),
		counts: make(map[string]int),
	}

	var g *hnsw.Graph[int64]
	var id int64
	for _, e := range entries {
		if len(e.Embedding) == 0 {
			return nil, fmt.Errorf("label %q: leerer embedding-vektor", e.Label)
		}
		if idx.dim == 0 {
			idx.dim = len(e.Embedding)
		} else if len(e.Embedding) != idx.dim {
			return nil, fmt.Errorf("label %q: vektorlänge %d passt nicht zu %d", e.Label, len(e.Embedding), idx.dim)
		}

		if g == nil {
			g = hnsw.NewGraph[int64]()
			g.M = maxNeighbors
			g.Ml = 1.0 / float64(maxNeighbors)
			g.Distance = hnsw.EuclideanDistance
		}
		g.Add(hnsw.MakeNode(id, e.Embedding))
		idx.labels[id] = e.Label
		idx.counts[e.Label]++
		id++
	}

	idx.graph = g
	return idx, nil
}
