package models

import "time"

// DiscoveredItem ist ein Kandidat, den eine Discovery-Strategie auf einer
// Übersichtsseite gefunden hat. Wird nicht persistiert, nur protokolliert.
type DiscoveredItem struct {
	SourceID      string     `json:"source_id"`
	Title         string     `json:"title"`
	DocURL        string     `json:"doc_url"`
	PublishedDate *time.Time `json:"published_date,omitempty"`
}

// ResolvedDocument ist das Ergebnis der Auflösung einer Landingpage zum
// herunterladbaren Dokument.
type ResolvedDocument struct {
	SourceID  string `json:"source_id"`
	Title     string `json:"title"`
	DocURL    string `json:"doc_url"`
	PDFURL    string `json:"pdf_url"`
	Paywalled bool   `json:"paywalled"`
}
