package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"BASE_DIR", "TIMEZONE", "MAX_DL_WORKERS", "MAX_PARSE_WORKERS", "MIN_FILE_SIZE"} {
		t.Setenv(k, "")
	}
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "/data", cfg.BaseDir)
	assert.Equal(t, "Asia/Taipei", cfg.Timezone)
	assert.Equal(t, 8, cfg.FetchWorkers)
	assert.Equal(t, 16, cfg.ParseWorkers)
	assert.EqualValues(t, 1024, cfg.MinFileSize)
	assert.Equal(t, 30*time.Second, cfg.FetchTimeout)
	assert.Equal(t, 3, cfg.FetchRetries)
	assert.NoError(t, cfg.Validate())
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "vd.yaml")
	require.NoError(t, os.WriteFile(path, []byte("base_dir: /from/file\nparse_workers: 4\noutput_format: parquet\n"), 0o644))

	t.Setenv("BASE_DIR", "/from/env")
	t.Setenv("MAX_DL_WORKERS", "2")
	t.Setenv("MIN_FILE_SIZE", "10")
	t.Setenv("FETCH_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.BaseDir)
	assert.Equal(t, 4, cfg.ParseWorkers)
	assert.Equal(t, 2, cfg.FetchWorkers)
	assert.EqualValues(t, 10, cfg.MinFileSize)
	assert.Equal(t, 5*time.Second, cfg.FetchTimeout)
	assert.Equal(t, FormatParquet, cfg.OutputFormat)
}

func TestLoadRejectsBadInteger(t *testing.T) {
	t.Setenv("MAX_DL_WORKERS", "eight")
	_, err := Load("")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.FetchWorkers = 0
	cfg.Timezone = "Mars/Olympus"
	cfg.OutputFormat = "xlsx"
	cfg.URLTemplate = "https://example.com/{date}.gz"

	err := cfg.Validate()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalid)
	for _, want := range []string{"fetch workers", "timezone", "output format", "url template"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestYesterdayUsesConfiguredZone(t *testing.T) {
	loc, err := Default().Location()
	require.NoError(t, err)

	// 2024-05-31 17:30 UTC is already 2024-06-01 in Taipei.
	clock := clockwork.NewFakeClockAt(time.Date(2024, 5, 31, 17, 30, 0, 0, time.UTC))
	assert.Equal(t, "20240531", Yesterday(clock, loc))
	assert.Equal(t, "20240530", Yesterday(clock, time.UTC))
}

func TestLedgerPath(t *testing.T) {
	cfg := Default()
	cfg.BaseDir = "/tmp/vd"
	assert.Equal(t, filepath.Join("/tmp/vd", "vdparquet_state.duckdb"), cfg.LedgerPath())
	cfg.StatePath = ":memory:"
	assert.Equal(t, ":memory:", cfg.LedgerPath())
	cfg.StatePath = StateDisabled
	assert.Empty(t, cfg.LedgerPath())
}
