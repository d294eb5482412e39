package gallery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
)

// parseEntries normalisiert die drei akzeptierten Galerieformen in eine
// flache Liste aus (Label, Vektor)-Paaren:
//
//	{"alice": [[...], [...]]}            Label auf Vektorliste
//	{"alice": [...]}                     Label auf Einzelvektor
//	[{"label": "alice", "embedding": [...]}, ...]
//
// Formunterschiede bleiben damit an dieser Grenze, der Kern sieht nur
// Entries.
func parseEntries(data []byte) ([]Entry, error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) == 0 {
		return nil, errors.New("galerie-datei ist leer")
	}
	if trimmed[0] == '[' {
		return parseEntryList(data)
	}
	return parseLabelMap(data)
}

func parseEntryList(data []byte) ([]Entry, error) {
	var raw []struct {
		Label     string    `json:"label"`
		Embedding []float32 `json:"embedding"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("galerie-liste nicht lesbar: %w", err)
	}

	entries := make([]Entry, 0, len(raw))
	for i, r := range raw {
		if r.Label == "" {
			return nil, fmt.Errorf("galerie-eintrag %d ohne label", i)
		}
		entries = append(entries, Entry{Label: r.Label, Embedding: r.Embedding})
	}
	return entries, nil
}

func parseLabelMap(data []byte) ([]Entry, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("galerie nicht lesbar: %w", err)
	}

	// Stabile Reihenfolge, damit wiederholtes Laden identische
	// Index-IDs vergibt.
	labels := make([]string, 0, len(raw))
	for label := range raw {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var entries []Entry
	for _, label := range labels {
		var vectors [][]float32
		if err := json.Unmarshal(raw[label], &vectors); err != nil {
			var single []float32
			if err2 := json.Unmarshal(raw[label], &single); err2 != nil {
				return nil, fmt.Errorf("label %q: weder vektor noch vektorliste", label)
			}
			vectors = [][]float32{single}
		}
		for _, v := range vectors {
			entries = append(entries, Entry{Label: label, Embedding: v})
		}
	}
	return entries, nil
}
