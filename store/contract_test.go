package store

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"

	"docdl/models"
)

type testStore interface {
	DocumentStore
	Reader
}

// runContractTests prüft das gemeinsame Verhalten aller DocumentStore-Implementierungen.
func runContractTests(t *testing.T, newStore func(t *testing.T) testStore) {
	ctx := context.Background()

	t.Run("item upsert is keyed by doc_url", func(t *testing.T) {
		s := newStore(t)
		first, err := s.UpsertIngestItem(ctx, &models.IngestItem{
			RunID: "run_1", SourceID: "imf", DocURL: "https://x/doc", Title: "A",
			Status: models.StatusDiscovered,
		})
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, first.ID)

		second, err := s.UpsertIngestItem(ctx, &models.IngestItem{
			RunID: "run_2", SourceID: "imf", DocURL: "https://x/doc", Title: "B",
			Status: models.StatusDiscovered,
		})
		require.NoError(t, err)
		assert.Equal(t, first.ID, second.ID)
		assert.Equal(t, "run_2", second.RunID)
		assert.Equal(t, "B", second.Title)
	})

	t.Run("status patch keeps stage fields across upserts", func(t *testing.T) {
		s := newStore(t)
		_, err := s.UpsertIngestItem(ctx, &models.IngestItem{DocURL: "https://x/doc", Status: models.StatusDiscovered})
		require.NoError(t, err)

		length := 1234
		require.NoError(t, s.SetIngestItemStatus(ctx, "https://x/doc", models.StatusExtracted, StatusPatch{
			PDFURL: "https://x/doc.pdf", ContentHash: "abc", RawTextLength: &length,
		}))
		require.NoError(t, s.SetIngestItemStatus(ctx, "https://x/doc", models.StatusFailed, StatusPatch{
			Error: strings.Repeat("e", models.MaxErrorLen+100),
		}))

		item, err := s.GetIngestItem(ctx, "https://x/doc")
		require.NoError(t, err)
		require.NotNil(t, item)
		assert.Equal(t, models.StatusFailed, item.Status)
		assert.Equal(t, "https://x/doc.pdf", item.PDFURL)
		assert.Equal(t, "abc", item.ContentHash)
		assert.Equal(t, 1234, item.RawTextLength)
		assert.Len(t, item.Error, models.MaxErrorLen)

		// Ein neuer Lauf setzt Status und Fehler zurück, nicht aber die Stufenfelder.
		_, err = s.UpsertIngestItem(ctx, &models.IngestItem{DocURL: "https://x/doc", Status: models.StatusDiscovered})
		require.NoError(t, err)
		item, err = s.GetIngestItem(ctx, "https://x/doc")
		require.NoError(t, err)
		assert.Equal(t, models.StatusDiscovered, item.Status)
		assert.Empty(t, item.Error)
		assert.Equal(t, "abc", item.ContentHash)
	})

	t.Run("status patch on unknown item", func(t *testing.T) {
		s := newStore(t)
		err := s.SetIngestItemStatus(ctx, "https://x/missing", models.StatusStored, StatusPatch{})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("regulation lookup and upsert", func(t *testing.T) {
		s := newStore(t)
		reg, err := s.GetRegulationByDocURL(ctx, "https://x/doc")
		require.NoError(t, err)
		assert.Nil(t, reg)

		conf := 0.8
		itemID := uuid.New()
		require.NoError(t, s.UpsertRegulation(ctx, &models.Regulation{
			IngestItemID: itemID, DocURL: "https://x/doc", Summary: "first",
			Topics: datatypes.JSON(`["gas"]`), Confidence: &conf, ContentHash: "h1",
		}))
		require.NoError(t, s.UpsertRegulation(ctx, &models.Regulation{
			IngestItemID: itemID, DocURL: "https://x/doc", Summary: "second",
			Topics: datatypes.JSON(`["oil"]`), ContentHash: "h2",
		}))

		reg, err = s.GetRegulationByDocURL(ctx, "https://x/doc")
		require.NoError(t, err)
		require.NotNil(t, reg)
		assert.Equal(t, "second", reg.Summary)
		assert.Equal(t, "h2", reg.ContentHash)
		assert.Equal(t, itemID, reg.IngestItemID)
		assert.JSONEq(t, `["oil"]`, string(reg.Topics))
	})

	t.Run("run upsert and finalization", func(t *testing.T) {
		s := newStore(t)
		started := time.Date(2025, 10, 20, 6, 0, 0, 0, time.UTC)
		require.NoError(t, s.UpsertIngestRun(ctx, &models.IngestRun{
			RunID: "run_1760940000", StartedAt: started, SourcesCount: 2,
			Meta: datatypes.JSON(`{"mode":"dedupe"}`),
		}))

		finished := started.Add(90 * time.Second)
		success, fail, duration := 3, 1, 90.0
		require.NoError(t, s.UpdateIngestRun(ctx, "run_1760940000", RunPatch{
			FinishedAt: &finished, SuccessCount: &success, FailCount: &fail, DurationS: &duration,
			Meta: datatypes.JSON(`{"processed":2,"skipped_unchanged":1}`),
		}))

		run, err := s.GetIngestRun(ctx, "run_1760940000")
		require.NoError(t, err)
		require.NotNil(t, run)
		assert.Equal(t, 2, run.SourcesCount)
		assert.Equal(t, 3, run.SuccessCount)
		assert.Equal(t, 1, run.FailCount)
		assert.InDelta(t, 90.0, run.DurationS, 0.001)
		require.NotNil(t, run.FinishedAt)
		assert.True(t, finished.Equal(*run.FinishedAt))
		assert.JSONEq(t, `{"processed":2,"skipped_unchanged":1}`, string(run.Meta))

		assert.ErrorIs(t, s.UpdateIngestRun(ctx, "run_missing", RunPatch{FailCount: &fail}), ErrNotFound)
	})
}
