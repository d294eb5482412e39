package tracking

import (
	"errors"
	"image"
	"testing"
	"time"

	"facetrack-go/internal/core/model"
)

type fakeTracker struct {
	box         model.BoundingBox
	initOK      bool
	updateOK    bool
	initCalls   int
	updateCalls int
	closed      bool
}

func (f *fakeTracker) Init(_ image.Image, box model.BoundingBox) bool {
	f.initCalls++
	if !f.initOK {
		return false
	}
	f.box = box
	return true
}

func (f *fakeTracker) Update(_ image.Image) (model.BoundingBox, bool) {
	f.updateCalls++
	if !f.updateOK {
		return model.BoundingBox{}, false
	}
	return f.box, true
}

func (f *fakeTracker) Close() { f.closed = true }

// trackerRecorder hands out fake trackers and keeps them for inspection.
type trackerRecorder struct {
	made       []*fakeTracker
	factoryErr error
	initOK     bool
}

func newRecorder() *trackerRecorder {
	return &trackerRecorder{initOK: true}
}

func (r *trackerRecorder) factory() (Tracker, error) {
	if r.factoryErr != nil {
		return nil, r.factoryErr
	}
	t := &fakeTracker{initOK: r.initOK, updateOK: true}
	r.made = append(r.made, t)
	return t, nil
}

func testFrame() image.Image {
	return image.NewRGBA(image.Rect(0, 0, 640, 480))
}

func face(box model.BoundingBox, identity string, confidence float64) model.RecognizedFace {
	return model.RecognizedFace{Box: box, Identity: identity, Confidence: confidence}
}

func TestReconcileCreatesNewTracks(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	// Scenario: two disjoint detections, no active tracks.
	faces := []model.RecognizedFace{
		face(model.BoundingBox{0, 0, 50, 50}, "Alice", 0.9),
		face(model.BoundingBox{100, 100, 50, 50}, model.UnknownLabel, 0.2),
	}
	trs := m.Reconcile(faces, testFrame(), now)

	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	if !trs[0].NewTrack || !trs[1].NewTrack {
		t.Errorf("expected both transitions to create tracks: %+v", trs)
	}
	if trs[0].TrackID == trs[1].TrackID {
		t.Errorf("track ids must be distinct, both %d", trs[0].TrackID)
	}
	if m.Count() != 2 {
		t.Errorf("expected 2 active tracks, got %d", m.Count())
	}
}

func TestReconcileUpdatesOverlappingTrack(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	seed := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{10, 10, 40, 40}, model.UnknownLabel, 0.1),
	}, testFrame(), now)
	if len(seed) != 1 || !seed[0].NewTrack {
		t.Fatalf("seeding failed: %+v", seed)
	}

	// IoU of the two boxes is about 0.84, well above the 0.3 threshold.
	next := now.Add(time.Second)
	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{12, 11, 42, 39}, "Alice", 0.8),
	}, testFrame(), next)

	if len(trs) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(trs))
	}
	tr := trs[0]
	if tr.NewTrack {
		t.Error("expected the existing track to be continued, not a new one")
	}
	if tr.TrackID != seed[0].TrackID {
		t.Errorf("track id changed: %d -> %d", seed[0].TrackID, tr.TrackID)
	}
	if tr.PrevIdentity != model.UnknownLabel || tr.Identity != "Alice" {
		t.Errorf("identity transition wrong: %q -> %q", tr.PrevIdentity, tr.Identity)
	}
	if tr.Box != (model.BoundingBox{12, 11, 42, 39}) {
		t.Errorf("box not updated: %+v", tr.Box)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 active track, got %d", m.Count())
	}

	// The tracker handle must have been replaced at the detection box.
	if len(rec.made) != 2 {
		t.Fatalf("expected a fresh tracker for the re-init, made %d", len(rec.made))
	}
	if !rec.made[0].closed {
		t.Error("old tracker handle was not closed")
	}
	if rec.made[1].box != tr.Box {
		t.Errorf("new tracker initialised at %+v, want %+v", rec.made[1].box, tr.Box)
	}
}

func TestReconcileBelowThresholdCreatesNew(t *testing.T) {
	rec := newRecorder()
	// Threshold chosen so the constructed pair lands exactly on it.
	m := NewManager("cam1", rec.factory, 1.0/3.0)
	now := time.Now()

	m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 20, 10}, "Alice", 0.9),
	}, testFrame(), now)

	// IoU({0,0,20,10}, {10,0,20,10}) == 1/3: not strictly greater, new track.
	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{10, 0, 20, 10}, "Bob", 0.7),
	}, testFrame(), now.Add(time.Second))

	if len(trs) != 1 || !trs[0].NewTrack {
		t.Fatalf("expected a new track at exact threshold, got %+v", trs)
	}
	if m.Count() != 2 {
		t.Errorf("expected 2 tracks, got %d", m.Count())
	}
}

func TestReconcileTieBreakFirstDetectionWins(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	seed := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{10, 10, 40, 40}, model.UnknownLabel, 0.1),
	}, testFrame(), now)

	// Both detections best-match the same track; the first claims it,
	// the second must spawn a new track.
	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{11, 11, 40, 40}, "Alice", 0.9),
		face(model.BoundingBox{11, 11, 40, 40}, "Bob", 0.8),
	}, testFrame(), now.Add(time.Second))

	if len(trs) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(trs))
	}
	if trs[0].NewTrack || trs[0].TrackID != seed[0].TrackID || trs[0].Identity != "Alice" {
		t.Errorf("first detection should continue track %d as Alice: %+v", seed[0].TrackID, trs[0])
	}
	if !trs[1].NewTrack || trs[1].TrackID == seed[0].TrackID || trs[1].Identity != "Bob" {
		t.Errorf("second detection should spawn a new track for Bob: %+v", trs[1])
	}
}

func TestEvictStale(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 30, 30}, "Alice", 0.9),
		face(model.BoundingBox{100, 100, 30, 30}, "Bob", 0.9),
		face(model.BoundingBox{200, 200, 30, 30}, "Carol", 0.9),
	}, testFrame(), now)

	m.tracks[1].LastSeen = now
	m.tracks[2].LastSeen = now.Add(-4 * time.Second)
	m.tracks[3].LastSeen = now.Add(-3 * time.Second) // exactly timeout, must stay

	if got := m.EvictStale(now, 3*time.Second); got != 1 {
		t.Fatalf("expected exactly 1 eviction, got %d", got)
	}
	if m.Count() != 2 {
		t.Errorf("expected 2 remaining tracks, got %d", m.Count())
	}
	if _, ok := m.tracks[2]; ok {
		t.Error("stale track 2 still present")
	}
	if !rec.made[1].closed {
		t.Error("evicted track's handle was not closed")
	}
	if rec.made[0].closed || rec.made[2].closed {
		t.Error("surviving tracks' handles were closed")
	}

	// Idempotent: a second call at the same instant removes nothing.
	if got := m.EvictStale(now, 3*time.Second); got != 0 {
		t.Errorf("second eviction at same now removed %d tracks", got)
	}
	if m.Count() != 2 {
		t.Errorf("count changed on idempotent call: %d", m.Count())
	}
}

func TestUpdateAllRefreshesOnlySuccessfulTrackers(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	t0 := time.Now()

	m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{10, 10, 30, 30}, "Alice", 0.9),
		face(model.BoundingBox{200, 200, 30, 30}, "Bob", 0.9),
	}, testFrame(), t0)

	moved := model.BoundingBox{15, 15, 30, 30}
	rec.made[0].box = moved      // simulated motion
	rec.made[1].updateOK = false // simulated tracking loss

	t1 := t0.Add(time.Second)
	m.UpdateAll(testFrame(), t1)

	if m.tracks[1].Box != moved {
		t.Errorf("successful update did not move box: %+v", m.tracks[1].Box)
	}
	if !m.tracks[1].LastSeen.Equal(t1) {
		t.Errorf("successful update did not refresh LastSeen")
	}
	if m.tracks[2].Box != (model.BoundingBox{200, 200, 30, 30}) {
		t.Errorf("failed update changed box: %+v", m.tracks[2].Box)
	}
	if !m.tracks[2].LastSeen.Equal(t0) {
		t.Errorf("failed update refreshed LastSeen")
	}

	// The lost track ages out while the live one survives.
	now := t0.Add(4 * time.Second)
	if got := m.EvictStale(now, 3*time.Second); got != 1 {
		t.Fatalf("expected the lost track to be evicted, got %d", got)
	}
	if _, ok := m.tracks[1]; !ok {
		t.Error("live track was evicted")
	}
}

func TestUpdateAllClampsToFrame(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{500, 400, 40, 40}, "Alice", 0.9),
	}, testFrame(), now)

	rec.made[0].box = model.BoundingBox{620, 470, 50, 50}
	m.UpdateAll(testFrame(), now.Add(time.Second))

	if got := m.tracks[1].Box; got != (model.BoundingBox{620, 470, 20, 10}) {
		t.Errorf("box not clamped to frame: %+v", got)
	}
}

func TestReconcileClampsDetectionBox(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)

	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{600, 450, 100, 100}, "Alice", 0.9),
	}, testFrame(), time.Now())

	if len(trs) != 1 {
		t.Fatalf("expected 1 transition, got %d", len(trs))
	}
	if trs[0].Box != (model.BoundingBox{600, 450, 40, 30}) {
		t.Errorf("detection box not clamped: %+v", trs[0].Box)
	}
}

func TestTrackIDsAreNeverReused(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	first := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 30, 30}, "Alice", 0.9),
	}, testFrame(), now)

	m.EvictStale(now.Add(10*time.Second), 3*time.Second)
	if m.Count() != 0 {
		t.Fatalf("eviction failed, %d tracks left", m.Count())
	}

	second := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 30, 30}, "Bob", 0.9),
	}, testFrame(), now.Add(11*time.Second))

	if second[0].TrackID <= first[0].TrackID {
		t.Errorf("track id reused: %d after %d", second[0].TrackID, first[0].TrackID)
	}
}

func TestReconcileDropsDetectionOnInitFailure(t *testing.T) {
	rec := newRecorder()
	rec.initOK = false
	m := NewManager("cam1", rec.factory, 0.3)

	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 30, 30}, "Alice", 0.9),
	}, testFrame(), time.Now())

	if len(trs) != 0 || m.Count() != 0 {
		t.Errorf("init failure must not create tracks: %d transitions, %d tracks", len(trs), m.Count())
	}
}

func TestReconcileDropsDetectionOnFactoryError(t *testing.T) {
	rec := newRecorder()
	rec.factoryErr = errors.New("no tracker available")
	m := NewManager("cam1", rec.factory, 0.3)

	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 30, 30}, "Alice", 0.9),
	}, testFrame(), time.Now())

	if len(trs) != 0 || m.Count() != 0 {
		t.Errorf("factory error must not create tracks: %d transitions, %d tracks", len(trs), m.Count())
	}
}

func TestRefreshKeepsOldHandleWhenReinitFails(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)
	now := time.Now()

	m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{10, 10, 40, 40}, model.UnknownLabel, 0.1),
	}, testFrame(), now)

	rec.initOK = false
	trs := m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{12, 11, 40, 40}, "Alice", 0.8),
	}, testFrame(), now.Add(time.Second))

	if len(trs) != 1 || trs[0].NewTrack {
		t.Fatalf("expected the track to be continued: %+v", trs)
	}
	if trs[0].Identity != "Alice" {
		t.Errorf("identity not overwritten on failed re-init: %q", trs[0].Identity)
	}
	if rec.made[0].closed {
		t.Error("previous handle must survive a failed re-init")
	}
	if len(rec.made) == 2 && !rec.made[1].closed {
		t.Error("failed replacement handle must be closed")
	}
}

func TestManagerClose(t *testing.T) {
	rec := newRecorder()
	m := NewManager("cam1", rec.factory, 0.3)

	m.Reconcile([]model.RecognizedFace{
		face(model.BoundingBox{0, 0, 30, 30}, "Alice", 0.9),
		face(model.BoundingBox{100, 100, 30, 30}, "Bob", 0.9),
	}, testFrame(), time.Now())

	m.Close()
	if m.Count() != 0 {
		t.Errorf("close left %d tracks", m.Count())
	}
	for i, ft := range rec.made {
		if !ft.closed {
			t.Errorf("tracker %d not closed", i)
		}
	}
}
