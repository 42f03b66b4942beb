// Package config handles pipeline configuration: a YAML file with ABP_*
// environment overrides, validated once and passed immutably to every stage.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Paths holds the directories the pipeline reads and writes.
// RawDir is input-only; everything else lives under WorkDir.
type Paths struct {
	RawDir     string `yaml:"raw_dir"`     // directory of extracted AddressBase CSV files
	WorkDir    string `yaml:"work_dir"`    // root for all pipeline outputs
	ParquetDir string `yaml:"parquet_dir"` // typed relations (default <work_dir>/parquet)
	OutputDir  string `yaml:"output_dir"`  // flatfile chunks (default <work_dir>/output)
}

// Config is the immutable pipeline configuration threaded through each stage.
type Config struct {
	Paths Paths `yaml:"paths"`

	// NumChunks is the number of contiguous UPRN ranges the flatfile stage
	// writes, one output file per range.
	NumChunks int `yaml:"num_chunks"`

	// Compression is the parquet codec passed to DuckDB COPY (default zstd).
	Compression string `yaml:"compression"`

	// SchemaPath points at an external record-type registry; empty means the
	// embedded registry for the current AddressBase relation.
	SchemaPath string `yaml:"schema_path"`

	LogLevel string `yaml:"log_level"`

	// Warnings collects non-fatal issues found while loading, logged by the
	// caller once the logger exists.
	Warnings []string `yaml:"-"`
}

// Load reads configuration from the YAML file at path (optional — empty path
// starts from defaults), then applies ABP_* environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		NumChunks:   1,
		Compression: "zstd",
		LogLevel:    "info",
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("ABP_RAW_DIR"); v != "" {
		c.Paths.RawDir = v
	}
	if v := os.Getenv("ABP_WORK_DIR"); v != "" {
		c.Paths.WorkDir = v
	}
	if v := os.Getenv("ABP_NUM_CHUNKS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.NumChunks = n
		} else {
			c.Warnings = append(c.Warnings, fmt.Sprintf("ignoring ABP_NUM_CHUNKS=%q: not an integer", v))
		}
	}
	if v := os.Getenv("ABP_COMPRESSION"); v != "" {
		c.Compression = v
	}
	if v := os.Getenv("ABP_SCHEMA_PATH"); v != "" {
		c.SchemaPath = v
	}
	if v := os.Getenv("ABP_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}

func (c *Config) applyDefaults() {
	if c.Paths.WorkDir == "" {
		c.Paths.WorkDir = "work"
	}
	if c.Paths.ParquetDir == "" {
		c.Paths.ParquetDir = filepath.Join(c.Paths.WorkDir, "parquet")
	}
	if c.Paths.OutputDir == "" {
		c.Paths.OutputDir = filepath.Join(c.Paths.WorkDir, "output")
	}
}

// validCompression is the set of parquet codecs DuckDB accepts here.
var validCompression = map[string]bool{
	"zstd": true, "snappy": true, "gzip": true, "uncompressed": true,
}

// Validate checks the configuration before any stage runs. Violations are
// configuration faults: fatal, nothing is written.
func (c *Config) Validate() error {
	if c.Paths.RawDir == "" {
		return fmt.Errorf("config: paths.raw_dir is required (or set ABP_RAW_DIR)")
	}
	if c.NumChunks < 1 {
		return fmt.Errorf("config: num_chunks must be >= 1, got %d", c.NumChunks)
	}
	if !validCompression[strings.ToLower(c.Compression)] {
		return fmt.Errorf("config: unsupported parquet compression %q", c.Compression)
	}
	return nil
}

// RawParquetDir is where the splitter writes the typed relations.
func (c *Config) RawParquetDir() string {
	return filepath.Join(c.Paths.ParquetDir, "raw")
}

// DerivedParquetDir is where derived relations (hierarchy) are persisted.
func (c *Config) DerivedParquetDir() string {
	return filepath.Join(c.Paths.ParquetDir, "derived")
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
