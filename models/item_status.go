package models

// ItemStatus ist der Zustand eines IngestItems in der Pipeline.
type ItemStatus string

const (
	StatusDiscovered     ItemStatus = "discovered"
	StatusDownloaded     ItemStatus = "downloaded"
	StatusExtracted      ItemStatus = "extracted"
	StatusEnriched       ItemStatus = "enriched"
	StatusStored         ItemStatus = "stored"
	StatusSkippedPaywall ItemStatus = "skipped_paywall"
	StatusFailed         ItemStatus = "failed"
)

// Terminal meldet, ob innerhalb eines Laufs keine weitere Stufe mehr folgt.
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusStored, StatusSkippedPaywall, StatusFailed:
		return true
	}
	return false
}
