package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSources(t *testing.T) {
	raw := []byte(`
sources:
  - source_id: imf_reo_meca
    kind: imf
    series_url: https://www.imf.org/en/publications/reo/meca
    meta:
      link_contains: /issues/
  - source_id: off
    kind: iea
    series_url: https://www.iea.org/analysis
    enabled: false
`)
	sources, err := ParseSources(raw)
	require.NoError(t, err)
	require.Len(t, sources, 1)

	s := sources[0]
	assert.Equal(t, "imf_reo_meca", s.Series)
	assert.Equal(t, "en", s.Language)
	assert.Equal(t, "/issues/", s.Option("link_contains", "x"))
	assert.Equal(t, "fallback", s.Option("missing", "fallback"))
}

func TestParseSourcesRejectsInvalid(t *testing.T) {
	_, err := ParseSources([]byte(`sources: [{source_id: a, kind: imf}]`))
	assert.Error(t, err)

	_, err = ParseSources([]byte(`
sources:
  - {source_id: a, kind: imf, series_url: "https://a"}
  - {source_id: a, kind: iea, series_url: "https://b"}
`))
	assert.ErrorContains(t, err, "duplicate")

	_, err = ParseSources([]byte(`sources: []`))
	assert.ErrorContains(t, err, "no enabled sources")
}

func TestValidate(t *testing.T) {
	cfg := Config{
		StoreBackend: BackendBadger,
		BadgerDir:    "data/store",
		UserAgent:    "docdl-test",
		Workers:      1,
	}
	require.NoError(t, cfg.Validate())

	pg := cfg
	pg.StoreBackend = BackendPostgres
	assert.Error(t, pg.Validate())

	s3 := cfg
	s3.S3Bucket = "bucket"
	assert.ErrorContains(t, s3.Validate(), "S3_BUCKET")

	bad := cfg
	bad.Workers = 0
	assert.Error(t, bad.Validate())
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendBadger)
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "data/store", cfg.BadgerDir)
	assert.Equal(t, 3, cfg.MaxRetries)
	assert.Equal(t, []int{429, 503}, cfg.BackoffStatuses)
	assert.Equal(t, "0 6 * * 1", cfg.CronSchedule)
	assert.True(t, cfg.DedupeEnabled)
	assert.True(t, cfg.NormalizeText)
	assert.False(t, cfg.S3Enabled())
}

func TestLoadWithoutAPIKeyFailsOnlyPipelineValidation(t *testing.T) {
	t.Setenv("STORE_BACKEND", BackendBadger)
	t.Setenv("OPENAI_API_KEY", "")
	require.NoError(t, os.Unsetenv("OPENAI_API_KEY"))

	cfg, err := Load()
	require.NoError(t, err)
	assert.ErrorContains(t, cfg.ValidatePipeline(), "OPENAI_API_KEY")

	cfg.OpenAIAPIKey = "sk-test"
	assert.NoError(t, cfg.ValidatePipeline())
}
