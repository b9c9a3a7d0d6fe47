package main

import (
	"bytes"
	"compress/gzip"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"docdl/config"
	"docdl/models"
	"docdl/store"
)

func TestBadgerDumpRestoresIntoEmptyStore(t *testing.T) {
	ctx := context.Background()
	src := t.TempDir()

	bs, err := store.OpenBadgerStore(src, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, bs.UpsertRegulation(ctx, &models.Regulation{DocURL: "https://x/doc", ContentHash: "h1"}))
	require.NoError(t, bs.Close())

	dump, err := dumpBadger(src, zap.NewNop())
	require.NoError(t, err)

	gz, err := gzip.NewReader(bytes.NewReader(dump))
	require.NoError(t, err)
	dst := t.TempDir()
	require.NoError(t, restoreBadger(dst, gz, zap.NewNop()))

	restored, err := store.OpenBadgerStore(dst, zap.NewNop())
	require.NoError(t, err)
	defer restored.Close()
	reg, err := restored.GetRegulationByDocURL(ctx, "https://x/doc")
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "h1", reg.ContentHash)
}

func TestCheckBackendMatchesDumpKind(t *testing.T) {
	badger := &config.Config{StoreBackend: config.BackendBadger}
	pg := &config.Config{StoreBackend: config.BackendPostgres}

	assert.NoError(t, checkBackend(badger, "backups/backup-2025.badger.gz"))
	assert.Error(t, checkBackend(badger, "backups/backup-2025.sql.gz"))
	assert.NoError(t, checkBackend(pg, "backups/backup-2025.sql.gz"))
	assert.Error(t, checkBackend(pg, "backups/backup-2025.badger.gz"))
}
