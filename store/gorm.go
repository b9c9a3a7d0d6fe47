package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"docdl/models"
)

// GormStore implementiert DocumentStore auf einer relationalen Datenbank
// (PostgreSQL im Betrieb, SQLite in Tests).
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// Migrate legt die Tabellen an bzw. passt sie an.
func (s *GormStore) Migrate() error {
	return s.db.AutoMigrate(&models.IngestRun{}, &models.IngestItem{}, &models.Regulation{})
}

func (s *GormStore) UpsertIngestRun(ctx context.Context, run *models.IngestRun) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		DoUpdates: clause.AssignmentColumns(runUpsertColumns),
	}).Create(run).Error
	if err != nil {
		return fmt.Errorf("upsert ingest run %s: %w", run.RunID, err)
	}
	return nil
}

func (s *GormStore) UpdateIngestRun(ctx context.Context, runID string, patch RunPatch) error {
	updates := map[string]interface{}{}
	if patch.FinishedAt != nil {
		updates["finished_at"] = *patch.FinishedAt
	}
	if patch.SuccessCount != nil {
		updates["success_count"] = *patch.SuccessCount
	}
	if patch.FailCount != nil {
		updates["fail_count"] = *patch.FailCount
	}
	if patch.DurationS != nil {
		updates["duration_s"] = *patch.DurationS
	}
	if patch.Meta != nil {
		updates["meta"] = patch.Meta
	}
	if len(updates) == 0 {
		return nil
	}

	res := s.db.WithContext(ctx).Model(&models.IngestRun{}).Where("run_id = ?", runID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("update ingest run %s: %w", runID, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update ingest run %s: %w", runID, ErrNotFound)
	}
	return nil
}

func (s *GormStore) UpsertIngestItem(ctx context.Context, item *models.IngestItem) (*models.IngestItem, error) {
	db := s.db.WithContext(ctx)
	err := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_url"}},
		DoUpdates: clause.AssignmentColumns(itemUpsertColumns),
	}).Create(item).Error
	if err != nil {
		return nil, fmt.Errorf("upsert ingest item %s: %w", item.DocURL, err)
	}

	// Bei einem Konflikt behält die Zeile ihre alte ID, daher neu lesen.
	var stored models.IngestItem
	if err := db.Where("doc_url = ?", item.DocURL).First(&stored).Error; err != nil {
		return nil, fmt.Errorf("reload ingest item %s: %w", item.DocURL, err)
	}
	return &stored, nil
}

func (s *GormStore) SetIngestItemStatus(ctx context.Context, docURL string, status models.ItemStatus, patch StatusPatch) error {
	updates := map[string]interface{}{"status": status}
	if patch.Error != "" {
		updates["error"] = models.TruncateError(patch.Error)
	}
	if patch.PDFURL != "" {
		updates["pdf_url"] = patch.PDFURL
	}
	if patch.ContentHash != "" {
		updates["content_hash"] = patch.ContentHash
	}
	if patch.RawTextLength != nil {
		updates["raw_text_length"] = *patch.RawTextLength
	}
	if patch.StorageLink != "" {
		updates["storage_link"] = patch.StorageLink
	}

	res := s.db.WithContext(ctx).Model(&models.IngestItem{}).Where("doc_url = ?", docURL).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("set status %s for %s: %w", status, docURL, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("set status %s for %s: %w", status, docURL, ErrNotFound)
	}
	return nil
}

func (s *GormStore) GetRegulationByDocURL(ctx context.Context, docURL string) (*models.Regulation, error) {
	var reg models.Regulation
	err := s.db.WithContext(ctx).Where("doc_url = ?", docURL).First(&reg).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get regulation %s: %w", docURL, err)
	}
	return &reg, nil
}

func (s *GormStore) UpsertRegulation(ctx context.Context, reg *models.Regulation) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "doc_url"}},
		DoUpdates: clause.AssignmentColumns(regulationUpsertColumns),
	}).Create(reg).Error
	if err != nil {
		return fmt.Errorf("upsert regulation %s: %w", reg.DocURL, err)
	}
	return nil
}

// GetIngestItem liefert (nil, nil), wenn kein Item existiert.
func (s *GormStore) GetIngestItem(ctx context.Context, docURL string) (*models.IngestItem, error) {
	var item models.IngestItem
	err := s.db.WithContext(ctx).Where("doc_url = ?", docURL).First(&item).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingest item %s: %w", docURL, err)
	}
	return &item, nil
}

// GetIngestRun liefert (nil, nil), wenn kein Lauf existiert.
func (s *GormStore) GetIngestRun(ctx context.Context, runID string) (*models.IngestRun, error) {
	var run models.IngestRun
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get ingest run %s: %w", runID, err)
	}
	return &run, nil
}
