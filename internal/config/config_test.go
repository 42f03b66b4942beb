package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.NumChunks)
	assert.Equal(t, "zstd", cfg.Compression)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, filepath.Join("work", "parquet"), cfg.Paths.ParquetDir)
	assert.Equal(t, filepath.Join("work", "output"), cfg.Paths.OutputDir)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
paths:
  raw_dir: /data/abp/raw
  work_dir: /data/abp/work
num_chunks: 8
compression: snappy
log_level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/data/abp/raw", cfg.Paths.RawDir)
	assert.Equal(t, 8, cfg.NumChunks)
	assert.Equal(t, "snappy", cfg.Compression)
	assert.Equal(t, slog.LevelDebug, cfg.SlogLevel())
	assert.Equal(t, filepath.Join("/data/abp/work", "parquet", "raw"), cfg.RawParquetDir())
	assert.Equal(t, filepath.Join("/data/abp/work", "parquet", "derived"), cfg.DerivedParquetDir())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ABP_RAW_DIR", "/env/raw")
	t.Setenv("ABP_NUM_CHUNKS", "16")
	t.Setenv("ABP_COMPRESSION", "gzip")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/env/raw", cfg.Paths.RawDir)
	assert.Equal(t, 16, cfg.NumChunks)
	assert.Equal(t, "gzip", cfg.Compression)
	assert.Empty(t, cfg.Warnings)
}

func TestEnvBadChunkCountWarns(t *testing.T) {
	t.Setenv("ABP_NUM_CHUNKS", "lots")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 1, cfg.NumChunks)
	require.Len(t, cfg.Warnings, 1)
	assert.Contains(t, cfg.Warnings[0], "ABP_NUM_CHUNKS")
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg, err := Load("")
		require.NoError(t, err)
		cfg.Paths.RawDir = "/data/raw"
		return cfg
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Paths.RawDir = ""
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.NumChunks = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Compression = "lz77"
	assert.Error(t, cfg.Validate())
}

func TestSlogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		cfg := &Config{LogLevel: in}
		assert.Equal(t, want, cfg.SlogLevel(), "level %q", in)
	}
}
