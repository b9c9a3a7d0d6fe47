package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Regulation ist das angereicherte Endprodukt, genau eins pro IngestItem.
type Regulation struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	IngestItemID uuid.UUID `json:"ingest_item_id" gorm:"type:uuid;index"`
	DocURL       string    `json:"doc_url" gorm:"uniqueIndex;not null"`
	SourceID     string    `json:"source_id" gorm:"index"`
	Series       string    `json:"series"`
	Title        string    `json:"title"`
	PDFURL       string    `json:"pdf_url"`
	Language     string    `json:"language"`

	// Ergebnis der Anreicherung
	Summary     string         `json:"summary" gorm:"type:text"`
	KeyPoints   datatypes.JSON `json:"key_points" gorm:"type:jsonb"`
	KeyNumbers  datatypes.JSON `json:"key_numbers" gorm:"type:jsonb"`
	Topics      datatypes.JSON `json:"topics" gorm:"type:jsonb"`
	Countries   datatypes.JSON `json:"countries" gorm:"type:jsonb"`
	Dates       datatypes.JSON `json:"dates" gorm:"type:jsonb"`
	ImpactLevel string         `json:"impact_level" gorm:"index"`
	Confidence  *float64       `json:"confidence"`

	RawTextLength int    `json:"raw_text_length"`
	ContentHash   string `json:"content_hash"`
}

// TableName gibt explizit den Tabellennamen an.
func (Regulation) TableName() string {
	return "regulations"
}

func (r *Regulation) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
