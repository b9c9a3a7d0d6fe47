package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/datatypes"

	"docdl/models"
)

// ErrNotFound wird zurückgegeben, wenn ein zu patchender Datensatz fehlt.
var ErrNotFound = errors.New("record not found")

// DocumentStore persistiert Läufe, Items und Regulations. Alle Schreibzugriffe
// sind Upserts auf den natürlichen Schlüsseln (run_id bzw. doc_url).
type DocumentStore interface {
	UpsertIngestRun(ctx context.Context, run *models.IngestRun) error
	UpdateIngestRun(ctx context.Context, runID string, patch RunPatch) error

	// UpsertIngestItem gibt den gespeicherten Datensatz inklusive ID zurück.
	UpsertIngestItem(ctx context.Context, item *models.IngestItem) (*models.IngestItem, error)
	SetIngestItemStatus(ctx context.Context, docURL string, status models.ItemStatus, patch StatusPatch) error

	// GetRegulationByDocURL liefert (nil, nil), wenn keine Regulation existiert.
	GetRegulationByDocURL(ctx context.Context, docURL string) (*models.Regulation, error)
	UpsertRegulation(ctx context.Context, reg *models.Regulation) error
}

// Reader bündelt die lesenden Zugriffe der API.
type Reader interface {
	GetRegulationByDocURL(ctx context.Context, docURL string) (*models.Regulation, error)
	GetIngestItem(ctx context.Context, docURL string) (*models.IngestItem, error)
	GetIngestRun(ctx context.Context, runID string) (*models.IngestRun, error)
}

// RunPatch enthält die Felder, die beim Abschluss eines Laufs gesetzt werden.
// Nil-Felder bleiben unverändert.
type RunPatch struct {
	FinishedAt   *time.Time
	SuccessCount *int
	FailCount    *int
	DurationS    *float64
	Meta         datatypes.JSON
}

// StatusPatch enthält optionale Felder für SetIngestItemStatus. Leere Werte
// bleiben unverändert, Error wird auf models.MaxErrorLen gekürzt.
type StatusPatch struct {
	Error         string
	PDFURL        string
	ContentHash   string
	RawTextLength *int
	StorageLink   string
}

// itemUpsertColumns werden bei einem erneuten Upsert eines Items überschrieben.
// Stufenfelder (pdf_url, content_hash, ...) bleiben erhalten, bis eine Stufe
// sie neu setzt.
var itemUpsertColumns = []string{
	"run_id", "source_id", "series", "title", "language", "artifact",
	"status", "error", "meta", "updated_at",
}

var runUpsertColumns = []string{
	"started_at", "finished_at", "sources_count", "success_count",
	"fail_count", "duration_s", "meta", "updated_at",
}

var regulationUpsertColumns = []string{
	"ingest_item_id", "source_id", "series", "title", "pdf_url", "language",
	"summary", "key_points", "key_numbers", "topics", "countries", "dates",
	"impact_level", "confidence", "raw_text_length", "content_hash", "updated_at",
}
