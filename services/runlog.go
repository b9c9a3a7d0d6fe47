package services

import (
	"sync"
	"sync/atomic"
	"time"
)

// Outcome ist das Ergebnis eines Items innerhalb eines Laufs.
type Outcome string

const (
	OutcomeProcessed        Outcome = "processed"
	OutcomeSkippedUnchanged Outcome = "skipped_unchanged"
	OutcomeSkippedPaywall   Outcome = "skipped_paywall"
	OutcomeFailed           Outcome = "failed"
)

// Counts sind die Zähler eines Laufs, wie sie in ingest_runs.meta landen.
type Counts struct {
	Discovered       int `json:"discovered"`
	Processed        int `json:"processed"`
	SkippedUnchanged int `json:"skipped_unchanged"`
	SkippedPaywall   int `json:"skipped_paywall"`
	Failed           int `json:"failed"`
}

// SuccessCount zählt vollständig verarbeitete und unveränderte Dokumente.
func (c Counts) SuccessCount() int {
	return c.Processed + c.SkippedUnchanged
}

// counters sind die atomaren Laufzähler, sicher für mehrere Worker.
type counters struct {
	discovered       atomic.Int64
	processed        atomic.Int64
	skippedUnchanged atomic.Int64
	skippedPaywall   atomic.Int64
	failed           atomic.Int64
}

func (c *counters) add(o Outcome) {
	switch o {
	case OutcomeProcessed:
		c.processed.Add(1)
	case OutcomeSkippedUnchanged:
		c.skippedUnchanged.Add(1)
	case OutcomeSkippedPaywall:
		c.skippedPaywall.Add(1)
	case OutcomeFailed:
		c.failed.Add(1)
	}
}

func (c *counters) snapshot() Counts {
	return Counts{
		Discovered:       int(c.discovered.Load()),
		Processed:        int(c.processed.Load()),
		SkippedUnchanged: int(c.skippedUnchanged.Load()),
		SkippedPaywall:   int(c.skippedPaywall.Load()),
		Failed:           int(c.failed.Load()),
	}
}

// ItemResult beschreibt den Ausgang eines Items im Laufprotokoll.
type ItemResult struct {
	SourceID     string  `json:"source_id"`
	Title        string  `json:"title"`
	DocURL       string  `json:"doc_url"`
	PDFURL       string  `json:"pdf_url,omitempty"`
	Outcome      Outcome `json:"outcome"`
	PDFPath      string  `json:"pdf_path,omitempty"`
	TextPath     string  `json:"text_path,omitempty"`
	EnrichedPath string  `json:"enriched_path,omitempty"`
	ContentHash  string  `json:"content_hash,omitempty"`
	Error        string  `json:"error,omitempty"`
}

// RunError ist ein Fehler im Laufprotokoll.
type RunError struct {
	Stage    string `json:"stage"`
	SourceID string `json:"source_id,omitempty"`
	DocURL   string `json:"doc_url,omitempty"`
	Error    string `json:"error"`
}

// RunReport ist das vollständige Protokoll eines Laufs.
type RunReport struct {
	RunID      string       `json:"run_id"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	DurationS  float64      `json:"duration_s"`
	Mode       string       `json:"mode"`
	Items      []ItemResult `json:"items"`
	Errors     []RunError   `json:"errors"`
	Counts     Counts       `json:"counts"`
	Canceled   bool         `json:"canceled,omitempty"`
}

// runLog sammelt Item-Ergebnisse und Fehler eines Laufs.
type runLog struct {
	mu     sync.Mutex
	items  []ItemResult
	errors []RunError
}

func (l *runLog) addItem(r ItemResult) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, r)
}

func (l *runLog) addError(e RunError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, e)
}

func (l *runLog) snapshot() ([]ItemResult, []RunError) {
	l.mu.Lock()
	defer l.mu.Unlock()
	items := append([]ItemResult{}, l.items...)
	errs := append([]RunError{}, l.errors...)
	return items, errs
}
