package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abp-pipeline/internal/config"
	"abp-pipeline/internal/duck"
	"abp-pipeline/internal/schema"
)

// csvRow renders one raw record with values placed by field name.
func csvRow(t *testing.T, reg *schema.Registry, name string, vals map[string]string) string {
	t.Helper()
	rt, ok := reg.ByName(name)
	require.True(t, ok)

	fields := make([]string, len(rt.Fields))
	for i, f := range rt.Fields {
		if v, ok := vals[f.Name]; ok {
			fields[i] = v
		} else if f.Name == "record_identifier" {
			fields[i] = rt.Code
		}
	}
	return strings.Join(fields, ",")
}

func TestPipelineEndToEnd(t *testing.T) {
	reg, err := schema.Load("")
	require.NoError(t, err)

	work := t.TempDir()
	rawDir := filepath.Join(work, "raw")
	require.NoError(t, os.MkdirAll(rawDir, 0o755))

	lines := []string{
		`10,"NAG Hub - GeoPlace","7666MA",1.0,"F",2026-08-01,,09:00:00,3.1`,
		csvRow(t, reg, "street_descriptor", map[string]string{
			"usrn": "1000", "street_description": "HIGH STREET",
			"town_name": "TESTVILLE", "language": "ENG",
		}),
	}
	for uprn := 1; uprn <= 6; uprn++ {
		vals := map[string]string{
			"uprn": fmt.Sprint(uprn), "logical_status": "1",
			"addressbase_postal": "D", "postcode_locator": "TE1 1ST",
		}
		if uprn == 5 || uprn == 6 {
			vals["parent_uprn"] = "4"
		}
		lines = append(lines, csvRow(t, reg, "blpu", vals))
		lines = append(lines, csvRow(t, reg, "lpi", map[string]string{
			"uprn": fmt.Sprint(uprn), "lpi_key": fmt.Sprintf("L%d", uprn),
			"language": "ENG", "logical_status": "1",
			"pao_start_number": fmt.Sprint(uprn), "usrn": "1000",
		}))
	}
	lines = append(lines, `99,,,2026-08-01,09:00:00`)
	require.NoError(t, os.WriteFile(filepath.Join(rawDir, "extract.csv"),
		[]byte(strings.Join(lines, "\n")+"\n"), 0o644))

	cfg := &config.Config{
		Paths:       config.Paths{RawDir: rawDir, WorkDir: work},
		NumChunks:   2,
		Compression: "zstd",
		LogLevel:    "error",
	}
	cfg.Paths.ParquetDir = filepath.Join(work, "parquet")
	cfg.Paths.OutputDir = filepath.Join(work, "output")

	p, err := New(cfg)
	require.NoError(t, err)
	defer p.Close()

	ctx := context.Background()
	require.NoError(t, p.Run(ctx, false))

	// Both chunks exist and jointly hold every UPRN exactly once, with one
	// primary variant each.
	db, err := duck.Open()
	require.NoError(t, err)
	defer db.Close()

	glob := filepath.Join(cfg.Paths.OutputDir, "abp_for_uk_address_matcher_chunk_*_of_002.parquet")
	require.NoError(t, duck.RegisterParquetView(ctx, db, "out", glob))

	var uprns, primaries int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT uprn), COUNT(*) FILTER (WHERE is_primary) FROM out").
		Scan(&uprns, &primaries))
	assert.Equal(t, 6, uprns)
	assert.Equal(t, 6, primaries)

	var parents int
	require.NoError(t, db.QueryRowContext(ctx,
		"SELECT COUNT(DISTINCT uprn) FROM out WHERE hierarchy_level = 'P'").Scan(&parents))
	assert.Equal(t, 1, parents)

	// A rerun is a no-op: everything already exists.
	p2, err := New(cfg)
	require.NoError(t, err)
	defer p2.Close()
	require.NoError(t, p2.Run(ctx, false))
}
