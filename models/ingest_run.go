package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// IngestRun protokolliert eine Ausführung der Pipeline. Natürlicher Schlüssel
// ist RunID, abgeleitet aus der Startzeit.
type IngestRun struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primaryKey"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	RunID        string         `json:"run_id" gorm:"uniqueIndex;not null"`
	StartedAt    time.Time      `json:"started_at"`
	FinishedAt   *time.Time     `json:"finished_at,omitempty"`
	SourcesCount int            `json:"sources_count"`
	SuccessCount int            `json:"success_count"`
	FailCount    int            `json:"fail_count"`
	DurationS    float64        `json:"duration_s"`
	Meta         datatypes.JSON `json:"meta,omitempty" gorm:"type:jsonb"`
}

// TableName gibt explizit den Tabellennamen an.
func (IngestRun) TableName() string {
	return "ingest_runs"
}

func (r *IngestRun) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}
