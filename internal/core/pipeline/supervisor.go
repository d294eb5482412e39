package pipeline

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// Supervisor startet die Kamera-Worker und den Ereignis-Schreiber und
// wartet beim Herunterfahren auf deren Ende.
type Supervisor struct {
	writer  *EventWriter
	workers []*CameraWorker
	wg      sync.WaitGroup
	log     *log.Entry
}

// NewSupervisor erstellt einen Supervisor über den gegebenen Workern.
func NewSupervisor(writer *EventWriter, workers ...*CameraWorker) *Supervisor {
	return &Supervisor{
		writer:  writer,
		workers: workers,
		log:     log.WithField("component", "supervisor"),
	}
}

// Start fährt Schreiber und Worker als Goroutinen hoch. Der Kontext
// steuert die Lebensdauer aller Teile.
func (s *Supervisor) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.writer.Run(ctx)
	}()

	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			w.Run(ctx)
		}()
	}
	s.log.Infof("Started %d camera workers", len(s.workers))
}

// Wait blockiert, bis alle Worker und der Schreiber beendet sind.
func (s *Supervisor) Wait() {
	s.wg.Wait()
	s.log.Info("All pipeline goroutines stopped")
}
