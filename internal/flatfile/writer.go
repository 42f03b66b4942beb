package flatfile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"abp-pipeline/internal/abp"
	"abp-pipeline/internal/config"
	"abp-pipeline/internal/duck"
	"abp-pipeline/internal/observability"
	"abp-pipeline/internal/schema"
	"abp-pipeline/internal/variant"
)

// chunkFilePattern names the output files. The index and total are both in
// the name so a directory listing shows at a glance whether the set is
// complete.
const chunkFilePattern = "abp_for_uk_address_matcher_chunk_%03d_of_%03d.parquet"

// Writer produces the chunked flatfile: one parquet file per contiguous UPRN
// range, each containing every address variant of the range's UPRNs.
type Writer struct {
	db       *sql.DB
	registry *schema.Registry
	cfg      *config.Config
	logger   *slog.Logger
	stats    *observability.Stats
}

// NewWriter creates a Writer over the given DuckDB handle.
func NewWriter(db *sql.DB, registry *schema.Registry, cfg *config.Config, logger *slog.Logger, stats *observability.Stats) *Writer {
	return &Writer{db: db, registry: registry, cfg: cfg, logger: logger, stats: stats}
}

// ChunkPath returns the output path of chunk i out of n (zero-based index).
func (w *Writer) ChunkPath(i, n int) string {
	return filepath.Join(w.cfg.Paths.OutputDir, fmt.Sprintf(chunkFilePattern, i, n))
}

// Run writes every missing chunk file. Existing chunks are kept unless force
// is set, so an interrupted run resumes where it stopped.
func (w *Writer) Run(ctx context.Context, force bool) error {
	if err := w.registerViews(ctx); err != nil {
		return err
	}
	if err := PrepareStreetViews(ctx, w.db); err != nil {
		return err
	}

	min, max, empty, err := w.uprnDomain(ctx)
	if err != nil {
		return err
	}

	n := w.cfg.NumChunks
	var ranges []Range
	if empty {
		// No BLPUs at all: the chunk set is still written, just empty.
		w.logger.Warn("blpu relation is empty, writing empty chunks")
		ranges = make([]Range, n)
		for i := range ranges {
			ranges[i] = Range{Lo: 1, Hi: 0}
		}
	} else {
		ranges, err = Ranges(min, max, n)
		if err != nil {
			return err
		}
	}

	loader := NewLoader(w.db)
	skipped := 0
	for i, r := range ranges {
		dest := w.ChunkPath(i, n)
		if !force {
			if _, err := os.Stat(dest); err == nil {
				w.logger.Info("chunk already exists, skipping", "chunk", i, "path", dest)
				w.stats.ChunksSkipped.Add(1)
				skipped++
				continue
			} else if !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("stat %s: %w", dest, err)
			}
		}
		if err := w.writeChunk(ctx, loader, i, r, dest); err != nil {
			return err
		}
	}

	if skipped > 0 {
		w.logger.Info("skipping integrity check, chunk set partially reused", "skipped", skipped)
		return nil
	}
	return w.checkIntegrity(ctx, n)
}

func (w *Writer) registerViews(ctx context.Context) error {
	for _, rt := range w.registry.RecordTypes {
		path := filepath.Join(w.cfg.RawParquetDir(), rt.Name+".parquet")
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("flatfile needs the %s relation (run split first): %w", rt.Name, err)
		}
		if err := duck.RegisterParquetView(ctx, w.db, rt.Name, path); err != nil {
			return err
		}
	}

	hierPath := filepath.Join(w.cfg.DerivedParquetDir(), "hierarchy.parquet")
	if _, err := os.Stat(hierPath); err != nil {
		return fmt.Errorf("flatfile needs the hierarchy relation (run hierarchy first): %w", err)
	}
	return duck.RegisterParquetView(ctx, w.db, "hierarchy", hierPath)
}

// uprnDomain returns the inclusive UPRN bounds of the BLPU relation.
func (w *Writer) uprnDomain(ctx context.Context) (min, max uint64, empty bool, err error) {
	var lo, hi sql.Null[uint64]
	row := w.db.QueryRowContext(ctx, "SELECT MIN(uprn), MAX(uprn) FROM blpu")
	if err := row.Scan(&lo, &hi); err != nil {
		return 0, 0, false, fmt.Errorf("query uprn domain: %w", err)
	}
	if !lo.Valid {
		return 0, 0, true, nil
	}
	return lo.V, hi.V, false, nil
}

func (w *Writer) writeChunk(ctx context.Context, loader *Loader, i int, r Range, dest string) error {
	start := time.Now()

	rel, err := loader.Load(ctx, r)
	if err != nil {
		return fmt.Errorf("chunk %d: %w", i, err)
	}
	rows := variant.Generate(rel)

	if err := w.stageRows(ctx, rows); err != nil {
		return fmt.Errorf("chunk %d: %w", i, err)
	}

	query := `SELECT * FROM flatfile_rows ORDER BY uprn, source, variant_label, address_concat`
	if err := duck.CopyToParquet(ctx, w.db, query, dest, w.cfg.Compression); err != nil {
		return fmt.Errorf("chunk %d: %w", i, err)
	}

	w.stats.ChunksWritten.Add(1)
	w.stats.OutputRows.Add(uint64(len(rows)))
	w.logger.Info("wrote chunk",
		"chunk", i,
		"uprn_lo", r.Lo, "uprn_hi", r.Hi,
		"rows", len(rows),
		"elapsed", time.Since(start),
		"path", dest,
	)
	return nil
}

// stageRows loads one chunk's output rows into the flatfile_rows table,
// replacing whatever the previous chunk staged.
func (w *Writer) stageRows(ctx context.Context, rows []abp.OutputRow) error {
	if _, err := w.db.ExecContext(ctx, `
		CREATE OR REPLACE TABLE flatfile_rows (
			uprn                UBIGINT NOT NULL,
			postcode            VARCHAR,
			address_concat      VARCHAR NOT NULL,
			classification_code VARCHAR,
			logical_status      INTEGER,
			blpu_state          INTEGER,
			postal_address_code VARCHAR,
			udprn               BIGINT,
			parent_uprn         UBIGINT,
			hierarchy_level     VARCHAR NOT NULL,
			source              VARCHAR NOT NULL,
			variant_label       VARCHAR NOT NULL,
			is_primary          BOOLEAN NOT NULL
		)`); err != nil {
		return fmt.Errorf("create flatfile_rows: %w", err)
	}

	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin chunk load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT INTO flatfile_rows VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, row := range rows {
		if _, err := stmt.ExecContext(ctx,
			row.UPRN,
			textOrNull(row.Postcode),
			row.AddressConcat,
			textOrNull(row.ClassificationCode),
			intOrNull(row.LogicalStatus),
			intOrNull(row.BLPUState),
			textOrNull(row.PostalAddressCode),
			row.UDPRN,
			row.ParentUPRN,
			string(row.HierarchyLevel),
			string(row.Source),
			row.VariantLabel,
			row.IsPrimary,
		); err != nil {
			return fmt.Errorf("insert output row uprn=%d: %w", row.UPRN, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunk load: %w", err)
	}
	return nil
}

// checkIntegrity verifies that every UPRN with an eligible LPI naming record
// made it into the output. Fewer output UPRNs than eligible ones means rows
// were lost, which is fatal; the variant uplift is informational.
func (w *Writer) checkIntegrity(ctx context.Context, n int) error {
	glob := filepath.Join(w.cfg.Paths.OutputDir,
		fmt.Sprintf("abp_for_uk_address_matcher_chunk_*_of_%03d.parquet", n))
	if err := duck.RegisterParquetView(ctx, w.db, "flatfile_out", glob); err != nil {
		return err
	}

	var eligible, output, variants uint64
	row := w.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(DISTINCT l.uprn) FROM lpi l
			 JOIN blpu b ON b.uprn = l.uprn
			 WHERE l.logical_status IN (1, 3, 6, 8)
			   AND (b.addressbase_postal IS NULL OR b.addressbase_postal <> 'N')),
			(SELECT COUNT(DISTINCT uprn) FROM flatfile_out),
			(SELECT COUNT(*) FROM flatfile_out)`)
	if err := row.Scan(&eligible, &output, &variants); err != nil {
		return fmt.Errorf("integrity check: %w", err)
	}

	if output < eligible {
		return fmt.Errorf("integrity check failed: %d eligible UPRNs but only %d in output", eligible, output)
	}

	uplift := 0.0
	if output > 0 {
		uplift = (float64(variants)/float64(output) - 1) * 100
	}
	w.logger.Info("integrity check passed",
		"eligible_uprns", eligible,
		"output_uprns", output,
		"output_rows", variants,
		"variant_uplift_pct", fmt.Sprintf("%.1f", uplift),
	)
	return nil
}

func textOrNull(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func intOrNull(v *int) any {
	if v == nil {
		return nil
	}
	return int32(*v)
}
