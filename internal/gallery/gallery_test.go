package gallery

import (
	"math"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"facetrack-go/internal/core/model"
)

func writeGallery(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gallery.json")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("writing gallery file: %v", err)
	}
	return path
}

func almostEqual(a, b float64) bool {
	return math.Abs(a-b) < 1e-3
}

func TestParseEntriesAcceptsAllShapes(t *testing.T) {
	want := []Entry{
		{Label: "alice", Embedding: []float32{1, 0}},
		{Label: "alice", Embedding: []float32{0.9, 0.1}},
		{Label: "bob", Embedding: []float32{0, 1}},
	}

	cases := []struct {
		name string
		json string
	}{
		{
			"label to vector list",
			`{"alice": [[1,0],[0.9,0.1]], "bob": [[0,1]]}`,
		},
		{
			"label to single vector mixed in",
			`{"alice": [[1,0],[0.9,0.1]], "bob": [0,1]}`,
		},
		{
			"entry list",
			`[{"label":"alice","embedding":[1,0]},{"label":"alice","embedding":[0.9,0.1]},{"label":"bob","embedding":[0,1]}]`,
		},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := parseEntries([]byte(c.json))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, want) {
				t.Errorf("parsed %+v, want %+v", got, want)
			}
		})
	}
}

func TestParseEntriesRejectsBadInput(t *testing.T) {
	cases := []struct {
		name string
		json string
	}{
		{"not json", `not json at all`},
		{"value neither vector nor list", `{"alice": "zzz"}`},
		{"entry without label", `[{"embedding":[1,0]}]`},
		{"empty file", ``},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if _, err := parseEntries([]byte(c.json)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestOpenRejectsMixedDimensions(t *testing.T) {
	path := writeGallery(t, `{"alice": [[1,0]], "bob": [[1,0,0]]}`)
	_, err := Open(path, 0.6)
	if err == nil {
		t.Fatal("expected a dimension error")
	}
	if !strings.Contains(err.Error(), "bob") {
		t.Errorf("error should name the offending label: %v", err)
	}
}

func TestMatch(t *testing.T) {
	path := writeGallery(t, `{"alice": [[1,0,0,0]], "bob": [[0,1,0,0]]}`)
	g, err := Open(path, 0.6)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	t.Run("near neighbor matches", func(t *testing.T) {
		m := g.Match([]float32{0.9, 0, 0, 0})
		if m.Label != "alice" {
			t.Errorf("label %q, want alice", m.Label)
		}
		if !almostEqual(m.Confidence, 0.9) {
			t.Errorf("confidence %.4f, want ~0.9", m.Confidence)
		}
	})

	t.Run("exact vector has full confidence", func(t *testing.T) {
		m := g.Match([]float32{0, 1, 0, 0})
		if m.Label != "bob" || !almostEqual(m.Confidence, 1.0) {
			t.Errorf("got %q/%.4f, want bob/1.0", m.Label, m.Confidence)
		}
	})

	t.Run("distant vector stays unknown with its confidence", func(t *testing.T) {
		// Distance to alice is sqrt(0.5) ~ 0.707, above the 0.6 limit.
		m := g.Match([]float32{0.5, 0.5, 0, 0})
		if m.Label != model.UnknownLabel {
			t.Errorf("label %q, want %q", m.Label, model.UnknownLabel)
		}
		if !almostEqual(m.Confidence, 1.0-math.Sqrt(0.5)) {
			t.Errorf("confidence %.4f, want ~%.4f", m.Confidence, 1.0-math.Sqrt(0.5))
		}
	})

	t.Run("dimension mismatch stays unknown", func(t *testing.T) {
		m := g.Match([]float32{1, 0})
		if m.Label != model.UnknownLabel || m.Confidence != 0 {
			t.Errorf("got %q/%.4f, want %q/0", m.Label, m.Confidence, model.UnknownLabel)
		}
	})
}

func TestMatchEmptyGallery(t *testing.T) {
	path := writeGallery(t, `{}`)
	g, err := Open(path, 0.6)
	if err != nil {
		t.Fatalf("an empty gallery must open cleanly: %v", err)
	}
	m := g.Match([]float32{1, 0, 0, 0})
	if m.Label != model.UnknownLabel || m.Confidence != 0 {
		t.Errorf("got %q/%.4f, want %q/0", m.Label, m.Confidence, model.UnknownLabel)
	}
	if g.Size() != 0 {
		t.Errorf("size %d, want 0", g.Size())
	}
}

func TestReloadKeepsPreviousIndexOnFailure(t *testing.T) {
	path := writeGallery(t, `{"alice": [[1,0,0,0]]}`)
	g, err := Open(path, 0.6)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	if err := os.WriteFile(path, []byte(`{broken`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.Reload(); err == nil {
		t.Fatal("expected reload to fail on broken file")
	}
	if m := g.Match([]float32{1, 0, 0, 0}); m.Label != "alice" {
		t.Errorf("previous index lost after failed reload, got %q", m.Label)
	}

	if err := os.WriteFile(path, []byte(`{"bob": [[0,1,0,0]]}`), 0644); err != nil {
		t.Fatal(err)
	}
	if err := g.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if m := g.Match([]float32{0, 1, 0, 0}); m.Label != "bob" {
		t.Errorf("new index not active after reload, got %q", m.Label)
	}
	if m := g.Match([]float32{1, 0, 0, 0}); m.Label != model.UnknownLabel {
		t.Errorf("stale identity still matching after reload: %q", m.Label)
	}
}

func TestLabels(t *testing.T) {
	path := writeGallery(t, `{"bob": [[0,1]], "alice": [[1,0],[0.9,0.1]]}`)
	g, err := Open(path, 0.6)
	if err != nil {
		t.Fatalf("open: %v", err)
	}

	got := g.Labels()
	want := []LabelInfo{{Label: "alice", Vectors: 2}, {Label: "bob", Vectors: 1}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("labels %+v, want %+v", got, want)
	}
	if g.Size() != 3 {
		t.Errorf("size %d, want 3", g.Size())
	}
}
