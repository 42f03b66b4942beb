// Package duck wraps the DuckDB connection used as the pipeline's columnar
// engine: parquet-backed views for reading typed relations and atomic
// COPY-to-parquet for writing them.
package duck

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/duckdb/duckdb-go/v2"
)

// Open returns an in-memory DuckDB handle. All persistent state lives in
// parquet files, so the database itself is always ephemeral.
func Open() (*sql.DB, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	return db, nil
}

// quoteLiteral escapes a string for embedding as a SQL literal. DuckDB's COPY
// and read_parquet take file paths as literals, not bind parameters.
func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// RegisterParquetView creates (or replaces) a view over a parquet file.
func RegisterParquetView(ctx context.Context, db *sql.DB, viewName, parquetPath string) error {
	q := fmt.Sprintf("CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)",
		viewName, quoteLiteral(filepath.ToSlash(parquetPath)))
	if _, err := db.ExecContext(ctx, q); err != nil {
		return fmt.Errorf("register view %s: %w", viewName, err)
	}
	return nil
}

// CopyToParquet writes the result of query to dest as parquet, atomically:
// the data is copied to a temporary sibling path and renamed into place, so a
// killed run never leaves a truncated file that looks complete.
func CopyToParquet(ctx context.Context, db *sql.DB, query, dest, compression string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	tmp := dest + ".tmp"

	copySQL := fmt.Sprintf("COPY (%s) TO %s (FORMAT PARQUET, COMPRESSION %s)",
		query, quoteLiteral(filepath.ToSlash(tmp)), compression)
	if _, err := db.ExecContext(ctx, copySQL); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("copy to parquet %s: %w", dest, err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit parquet %s: %w", dest, err)
	}
	return nil
}
