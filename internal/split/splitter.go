// Package split implements the record splitter: it demultiplexes the raw
// AddressBase CSV files (one record-type code per row, positional fields)
// into one typed parquet relation per record type in the schema registry.
package split

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"abp-pipeline/internal/config"
	"abp-pipeline/internal/duck"
	"abp-pipeline/internal/observability"
	"abp-pipeline/internal/schema"
)

// Splitter reads the multiplexed CSV stream and produces typed relations.
type Splitter struct {
	db       *sql.DB
	registry *schema.Registry
	cfg      *config.Config
	logger   *slog.Logger
	stats    *observability.Stats
}

// New creates a Splitter over the given DuckDB handle.
func New(db *sql.DB, registry *schema.Registry, cfg *config.Config, logger *slog.Logger, stats *observability.Stats) *Splitter {
	return &Splitter{db: db, registry: registry, cfg: cfg, logger: logger, stats: stats}
}

// OutputPath returns where the parquet relation for a record type lives.
func (s *Splitter) OutputPath(name string) string {
	return filepath.Join(s.cfg.RawParquetDir(), name+".parquet")
}

// Run splits every CSV file under the raw directory into typed relations.
// Existing relation files are skipped unless force is set; a single run
// regenerates only the missing ones. Malformed rows are counted and dropped,
// never fatal.
func (s *Splitter) Run(ctx context.Context, force bool) error {
	missing := s.missingOutputs(force)
	if len(missing) == 0 {
		s.logger.Info("split outputs already exist, skipping", "dir", s.cfg.RawParquetDir())
		return nil
	}

	files, err := discoverCSVFiles(s.cfg.Paths.RawDir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no CSV files found in %s", s.cfg.Paths.RawDir)
	}
	s.logger.Info("splitting raw CSV files", "files", len(files), "relations", len(missing))

	if err := s.createTables(ctx); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin load transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmts := make(map[string]*sql.Stmt, len(s.registry.RecordTypes))
	for i := range s.registry.RecordTypes {
		rt := &s.registry.RecordTypes[i]
		stmt, err := tx.PrepareContext(ctx, rt.InsertSQL())
		if err != nil {
			return fmt.Errorf("prepare insert for %s: %w", rt.Name, err)
		}
		defer stmt.Close()
		stmts[rt.Code] = stmt
	}

	for _, path := range files {
		start := time.Now()
		if err := s.loadFile(ctx, path, stmts); err != nil {
			return err
		}
		s.logger.Debug("loaded file", "file", filepath.Base(path), "elapsed", time.Since(start))
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit load transaction: %w", err)
	}

	for _, name := range missing {
		dest := s.OutputPath(name)
		query := fmt.Sprintf("SELECT * FROM %s", name)
		if err := duck.CopyToParquet(ctx, s.db, query, dest, s.cfg.Compression); err != nil {
			return err
		}
		s.logger.Info("wrote relation", "relation", name, "path", dest)
	}

	s.logger.Info("split complete",
		"rows_read", s.stats.RowsRead.Load(),
		"rows_dropped", s.stats.Dropped(),
	)
	return nil
}

// missingOutputs returns the relation names that still need to be written.
// With force set, every relation is regenerated.
func (s *Splitter) missingOutputs(force bool) []string {
	var missing []string
	for _, rt := range s.registry.RecordTypes {
		if force {
			missing = append(missing, rt.Name)
			continue
		}
		if _, err := os.Stat(s.OutputPath(rt.Name)); errors.Is(err, fs.ErrNotExist) {
			missing = append(missing, rt.Name)
		}
	}
	return missing
}

func (s *Splitter) createTables(ctx context.Context) error {
	for _, rt := range s.registry.RecordTypes {
		if _, err := s.db.ExecContext(ctx, rt.CreateTableSQL()); err != nil {
			return fmt.Errorf("create table %s: %w", rt.Name, err)
		}
	}
	return nil
}

func (s *Splitter) loadFile(ctx context.Context, path string, stmts map[string]*sql.Stmt) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // arity is validated per record type, not per file
	r.LazyQuotes = true

	return s.loadRows(ctx, r, path, stmts)
}

func (s *Splitter) loadRows(ctx context.Context, r *csv.Reader, path string, stmts map[string]*sql.Stmt) error {
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		var parseErr *csv.ParseError
		if errors.As(err, &parseErr) {
			// A torn line is a row-level fault; the reader has consumed it.
			s.stats.RowsBadValue.Add(1)
			continue
		}
		if err != nil {
			// Anything else is an I/O fault that would repeat forever.
			return fmt.Errorf("read %s: %w", path, err)
		}
		s.stats.RowsRead.Add(1)
		if len(rec) == 0 {
			continue
		}

		code := rec[0]
		if s.registry.Ignored(code) {
			s.stats.RowsIgnoredType.Add(1)
			continue
		}
		rt, ok := s.registry.ByCode(code)
		if !ok {
			s.stats.RowsUnknownType.Add(1)
			s.logger.Debug("unknown record identifier", "code", code, "file", filepath.Base(path))
			continue
		}
		if len(rec) != len(rt.Fields) {
			s.stats.RowsBadArity.Add(1)
			s.logger.Debug("field count mismatch",
				"relation", rt.Name, "want", len(rt.Fields), "got", len(rec))
			continue
		}

		args, err := convertRow(rt, rec)
		if err != nil {
			s.stats.RowsBadValue.Add(1)
			s.logger.Debug("unparseable row", "relation", rt.Name, "error", err)
			continue
		}
		if _, err := stmts[code].ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", rt.Name, err)
		}
	}
}

// convertRow parses the positional string fields into typed values so that
// downstream stages never re-parse text. Empty fields become NULL.
func convertRow(rt *schema.RecordType, rec []string) ([]any, error) {
	args := make([]any, len(rec))
	for i, raw := range rec {
		f := rt.Fields[i]
		if raw == "" {
			args[i] = nil
			continue
		}
		switch f.Type {
		case schema.TypeText:
			args[i] = raw
		case schema.TypeInteger:
			n, err := strconv.ParseInt(raw, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			args[i] = int32(n)
		case schema.TypeBigint:
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			args[i] = n
		case schema.TypeUPRN:
			n, err := strconv.ParseUint(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			args[i] = n
		case schema.TypeDouble:
			v, err := strconv.ParseFloat(raw, 64)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			args[i] = v
		case schema.TypeDate:
			t, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
			args[i] = t
		default:
			return nil, fmt.Errorf("%s: unhandled field type %q", f.Name, f.Type)
		}
	}
	return args, nil
}

// discoverCSVFiles finds the raw CSV files under dir, sorted for
// deterministic processing order.
func discoverCSVFiles(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), ".csv") {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan raw directory %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}
