// Package debounce unterdrückt wiederholte Sichtungen derselben Identität
// innerhalb einer konfigurierbaren Abklingzeit.
package debounce

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"facetrack-go/internal/core/model"
)

// Gate entscheidet, ob eine Sichtung protokolliert wird. Eine Instanz wird
// von allen Kamera-Workern gemeinsam genutzt: Die Abklingzeit gilt pro
// Identität über alle Kameras hinweg.
type Gate struct {
	mu         sync.Mutex
	cooldown   time.Duration
	logUnknown bool
	lastSeen   map[string]time.Time
	log        *log.Entry
}

// NewGate erstellt ein Gate mit der angegebenen Abklingzeit. Ist logUnknown
// false, werden unbekannte Gesichter grundsätzlich verworfen.
func NewGate(cooldown time.Duration, logUnknown bool) *Gate {
	return &Gate{
		cooldown:   cooldown,
		logUnknown: logUnknown,
		lastSeen:   make(map[string]time.Time),
		log:        log.WithField("component", "debounce"),
	}
}

// Allow prüft und reserviert in einem Schritt: Liegt die letzte
// durchgelassene Sichtung der Identität mindestens die Abklingzeit zurück
// (oder gab es noch keine), wird der Zeitstempel sofort übernommen und true
// geliefert. Konkurrierende Aufrufe für dieselbe Identität gewinnen daher
// höchstens einmal pro Abklingfenster.
func (g *Gate) Allow(identity string, now time.Time) bool {
	if identity == model.UnknownLabel && !g.logUnknown {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if last, ok := g.lastSeen[identity]; ok && now.Sub(last) < g.cooldown {
		g.log.WithFields(log.Fields{
			"identity":  identity,
			"remaining": (g.cooldown - now.Sub(last)).String(),
		}).Debug("Sichtung unterdrückt, Abklingzeit läuft noch")
		return false
	}

	g.lastSeen[identity] = now
	return true
}

// Prune entfernt Einträge, deren Abklingzeit zum Zeitpunkt now bereits
// abgelaufen ist. Wird periodisch aufgerufen, damit die Tabelle bei vielen
// wechselnden Identitäten nicht unbegrenzt wächst.
func (g *Gate) Prune(now time.Time) int {
	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for identity, last := range g.lastSeen {
		if now.Sub(last) >= g.cooldown {
			delete(g.lastSeen, identity)
			removed++
		}
	}
	return removed
}

// Len liefert die Anzahl aktuell gemerkter Identitäten.
func (g *Gate) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.lastSeen)
}
