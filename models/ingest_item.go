package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// MaxErrorLen begrenzt die Länge gespeicherter Fehlertexte.
const MaxErrorLen = 4000

// IngestItem ist der dauerhafte Audit-Datensatz eines Dokuments über alle
// Läufe hinweg. Natürlicher Schlüssel ist DocURL.
type IngestItem struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RunID    string `json:"run_id" gorm:"index"`
	SourceID string `json:"source_id" gorm:"index"`
	Series   string `json:"series"`
	Title    string `json:"title"`
	DocURL   string `json:"doc_url" gorm:"uniqueIndex;not null"`
	Language string `json:"language"`
	Artifact string `json:"artifact"`

	Status ItemStatus     `json:"status" gorm:"index"`
	Error  string         `json:"error,omitempty" gorm:"type:text"`
	Meta   datatypes.JSON `json:"meta,omitempty" gorm:"type:jsonb"`

	// Felder, die mit dem Fortschritt des Items ergänzt werden
	PDFURL        string `json:"pdf_url,omitempty"`
	ContentHash   string `json:"content_hash,omitempty" gorm:"index"`
	RawTextLength int    `json:"raw_text_length,omitempty"`
	StorageLink   string `json:"storage_link,omitempty"`
}

// TableName gibt explizit den Tabellennamen an.
func (IngestItem) TableName() string {
	return "ingest_items"
}

// BeforeCreate vergibt eine ID, falls noch keine gesetzt ist.
func (i *IngestItem) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

// TruncateError kürzt Fehlertexte auf MaxErrorLen Zeichen.
func TruncateError(s string) string {
	r := []rune(s)
	if len(r) <= MaxErrorLen {
		return s
	}
	return string(r[:MaxErrorLen])
}
