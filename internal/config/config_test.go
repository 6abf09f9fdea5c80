package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaultsAndDerivesDurations(t *testing.T) {
	t.Setenv("INGEST_PG_DSN", "postgres://localhost/ingest_test")
	t.Setenv("INGEST_NORDPOOL_USER", "")
	t.Setenv("INGEST_NORDPOOL_PASSWORD", "")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, []string{"SE1", "SE2", "SE3", "SE4"}, cfg.Areas)
	assert.Equal(t, 12*time.Hour, cfg.TradeBackfillChunk)
	assert.Equal(t, 4*time.Hour, cfg.RevisionStreamChunk)
	assert.Equal(t, 7*24*time.Hour, cfg.HotColdBoundary)
	assert.Equal(t, 48*time.Hour, cfg.ArchiveSafetyDelay)
	assert.Equal(t, time.Hour, cfg.TradeSyncInterval)
	assert.Equal(t, 2024, cfg.ColdStartDate.Year())
	assert.False(t, cfg.UpstreamEnabled())
}

func TestLoadFileOverridesDefaultsAndKeepsAbsentKeys(t *testing.T) {
	t.Setenv("INGEST_PG_DSN", "postgres://localhost/ingest_test")

	path := filepath.Join(t.TempDir(), "ingest.yaml")
	require.NoError(t, os.WriteFile(path, []byte("areas: [SE3]\ntrade_backfill_chunk_hours: 6\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"SE3"}, cfg.Areas)
	assert.Equal(t, 6*time.Hour, cfg.TradeBackfillChunk)
	// Keys not present in the file keep their defaults.
	assert.Equal(t, 10, cfg.ArchivalWorkers)
}

func TestLoadEnvSuppliesSecrets(t *testing.T) {
	t.Setenv("INGEST_PG_DSN", "postgres://localhost/ingest_test")
	t.Setenv("INGEST_NORDPOOL_USER", "trader")
	t.Setenv("INGEST_NORDPOOL_PASSWORD", "hunter2")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.True(t, cfg.UpstreamEnabled())
	assert.Equal(t, "trader", cfg.UpstreamUsername)
}

func TestValidateRejectsMissingDSN(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.derive())
	cfg.PostgresDSN = ""
	assert.Error(t, cfg.Validate())
}

func TestValidateRejectsOversizedRevisionChunk(t *testing.T) {
	cfg := Default()
	cfg.RevisionStreamChunkH = 6
	require.NoError(t, cfg.derive())
	cfg.PostgresDSN = "postgres://localhost/x"
	assert.Error(t, cfg.Validate())
}
