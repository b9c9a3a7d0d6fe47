package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Source beschreibt eine Publikationsreihe, die bei jedem Lauf abgefragt wird.
type Source struct {
	SourceID  string            `yaml:"source_id"`
	Kind      string            `yaml:"kind"`
	Series    string            `yaml:"series"`
	SeriesURL string            `yaml:"series_url"`
	Enabled   *bool             `yaml:"enabled"`
	Limit     int               `yaml:"limit"`
	Language  string            `yaml:"language"`
	Meta      map[string]string `yaml:"meta"`
}

// IsEnabled liefert true, wenn enabled nicht explizit auf false gesetzt ist.
func (s Source) IsEnabled() bool {
	return s.Enabled == nil || *s.Enabled
}

// Option liest einen Wert aus Meta oder fällt auf def zurück.
func (s Source) Option(key, def string) string {
	if v, ok := s.Meta[key]; ok && v != "" {
		return v
	}
	return def
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// LoadSources liest die Quellen aus einer YAML-Datei. Deaktivierte Quellen
// werden herausgefiltert, Pflichtfelder geprüft.
func LoadSources(path string) ([]Source, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file %s: %w", path, err)
	}
	return ParseSources(raw)
}

// ParseSources dekodiert den Inhalt einer Quellen-Datei.
func ParseSources(raw []byte) ([]Source, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}

	seen := make(map[string]bool)
	var out []Source
	for i, s := range f.Sources {
		if s.SourceID == "" || s.Kind == "" || s.SeriesURL == "" {
			return nil, fmt.Errorf("source #%d: source_id, kind and series_url are required", i)
		}
		if seen[s.SourceID] {
			return nil, fmt.Errorf("source %s: duplicate source_id", s.SourceID)
		}
		seen[s.SourceID] = true
		if !s.IsEnabled() {
			continue
		}
		if s.Series == "" {
			s.Series = s.SourceID
		}
		if s.Language == "" {
			s.Language = "en"
		}
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no enabled sources configured")
	}
	return out, nil
}
