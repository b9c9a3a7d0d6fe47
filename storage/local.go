package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"docdl/models"
)

// Unterverzeichnisse unterhalb von DATA_DIR.
const (
	DirDiscovered = "discovered"
	DirRaw        = "raw"
	DirExtracted  = "extracted"
	DirEnriched   = "enriched"
	DirLogs       = "logs"
)

// Local schreibt die Nebenausgaben eines Laufs ins Dateisystem. Die Dateien
// dienen nur Audit und Debugging, maßgeblich ist der DocumentStore.
type Local struct {
	root string
}

// NewLocal legt die Verzeichnisstruktur unter root an.
func NewLocal(root string) (*Local, error) {
	for _, dir := range []string{DirDiscovered, DirRaw, DirExtracted, DirEnriched, DirLogs} {
		if err := os.MkdirAll(filepath.Join(root, dir), 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return &Local{root: root}, nil
}

// Stem gibt den Dateinamen ohne Endung zurück.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// WriteDiscovered schreibt die entdeckten Items eines Laufs als JSON Lines.
func (l *Local) WriteDiscovered(runID string, items []models.DiscoveredItem) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, it := range items {
		if err := enc.Encode(it); err != nil {
			return "", err
		}
	}
	path := filepath.Join(l.root, DirDiscovered, runID+".jsonl")
	return path, writeFileAtomic(path, &buf)
}

// WriteRaw speichert eine heruntergeladene Datei unter name.
func (l *Local) WriteRaw(name string, r io.Reader) (string, error) {
	path := filepath.Join(l.root, DirRaw, filepath.Base(name))
	return path, writeFileAtomic(path, r)
}

// WriteExtracted speichert den extrahierten Text als <stem>.txt.
func (l *Local) WriteExtracted(stem, text string) (string, error) {
	path := filepath.Join(l.root, DirExtracted, stem+".txt")
	return path, writeFileAtomic(path, strings.NewReader(text))
}

// WriteEnriched speichert die Antwort der Anreicherung als <stem>.json.
func (l *Local) WriteEnriched(stem string, raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", fmt.Errorf("indent enriched json: %w", err)
	}
	path := filepath.Join(l.root, DirEnriched, stem+".json")
	return path, writeFileAtomic(path, &buf)
}

// WriteRunLog speichert das Laufprotokoll als <run_id>.json.
func (l *Local) WriteRunLog(runID string, v interface{}) (string, error) {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal run log: %w", err)
	}
	path := filepath.Join(l.root, DirLogs, runID+".json")
	return path, writeFileAtomic(path, bytes.NewReader(raw))
}

// writeFileAtomic schreibt zuerst in eine temporäre Datei im Zielverzeichnis
// und benennt sie dann um, damit nie halbe Dateien liegen bleiben.
func writeFileAtomic(path string, r io.Reader) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
