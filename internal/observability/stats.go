// Package observability tracks pipeline run counters. Row-level data faults
// never abort a run; they are counted here and reported at the end so no
// dropped row is silently lost.
package observability

import (
	"log/slog"
	"sync/atomic"
)

// Stats holds the run counters shared by every stage. Counters are atomic so
// a future per-chunk parallel runner would not need changes here.
type Stats struct {
	RowsRead        atomic.Uint64 // raw CSV rows seen by the splitter
	RowsUnknownType atomic.Uint64 // record identifier not in the registry
	RowsIgnoredType atomic.Uint64 // recognised but unmaterialised identifiers
	RowsBadArity    atomic.Uint64 // field count does not match the schema
	RowsBadValue    atomic.Uint64 // numeric/date field failed to parse
	DanglingParents atomic.Uint64 // parent UPRN missing from BLPU
	CycleNodes      atomic.Uint64 // UPRNs on a parent cycle or self-reference
	OutputRows      atomic.Uint64 // variants written to chunk files
	ChunksWritten   atomic.Uint64
	ChunksSkipped   atomic.Uint64 // chunk outputs already present, not recomputed
}

// Report logs the end-of-run counter summary.
func (s *Stats) Report(logger *slog.Logger) {
	logger.Info("run summary",
		"rows_read", s.RowsRead.Load(),
		"rows_unknown_type", s.RowsUnknownType.Load(),
		"rows_ignored_type", s.RowsIgnoredType.Load(),
		"rows_bad_arity", s.RowsBadArity.Load(),
		"rows_bad_value", s.RowsBadValue.Load(),
		"dangling_parents", s.DanglingParents.Load(),
		"cycle_nodes", s.CycleNodes.Load(),
		"output_rows", s.OutputRows.Load(),
		"chunks_written", s.ChunksWritten.Load(),
		"chunks_skipped", s.ChunksSkipped.Load(),
	)
}

// Dropped is the total number of raw rows excluded for data-quality reasons.
func (s *Stats) Dropped() uint64 {
	return s.RowsUnknownType.Load() + s.RowsBadArity.Load() + s.RowsBadValue.Load()
}
