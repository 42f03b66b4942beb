// Package hierarchy classifies every UPRN by its local role in the
// parent/child graph: Parent, Child, or Singleton. The graph is an edge map
// (child UPRN to parent UPRN, at most one parent per child), never a general
// graph structure — deeper traversal is not exposed downstream.
package hierarchy

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"abp-pipeline/internal/abp"
	"abp-pipeline/internal/config"
	"abp-pipeline/internal/duck"
	"abp-pipeline/internal/observability"
)

// Result is the outcome of classifying the parent/child edge relation.
type Result struct {
	Levels   map[uint64]abp.HierarchyLevel
	Dangling uint64 // edges dropped because the parent is not in BLPU
	Cyclic   uint64 // UPRNs demoted to Singleton by a self-reference or cycle
}

// Classify assigns each UPRN exactly one of Parent/Child/Singleton.
//
// Rules, in order:
//  1. A self-referencing edge is a data fault: the edge is dropped and the
//     node counts as cyclic.
//  2. An edge whose parent is not present in BLPU is dangling: dropped, so
//     the child falls back to Singleton unless it has children of its own.
//  3. Nodes on a parent cycle are demoted to Singleton, and every edge
//     touching a cycle node is removed, so classification terminates and a
//     UPRN with a recorded child is never Singleton.
//  4. Remaining nodes: any child => Parent, else a parent edge => Child,
//     else Singleton.
//
// The result depends only on the edge relation, not on iteration order.
func Classify(uprns []uint64, parents map[uint64]uint64) Result {
	res := Result{Levels: make(map[uint64]abp.HierarchyLevel, len(uprns))}

	present := make(map[uint64]bool, len(uprns))
	for _, u := range uprns {
		present[u] = true
	}

	edges := make(map[uint64]uint64, len(parents))
	cyclic := make(map[uint64]bool)
	for child, parent := range parents {
		switch {
		case child == parent:
			cyclic[child] = true
		case !present[parent]:
			res.Dangling++
		default:
			edges[child] = parent
		}
	}

	// Walk parent chains and mark every node that sits on a cycle.
	const (
		unvisited = 0
		inStack   = 1
		done      = 2
	)
	state := make(map[uint64]uint8, len(edges))
	for start := range edges {
		if state[start] != unvisited {
			continue
		}
		var stack []uint64
		node := start
		for {
			state[node] = inStack
			stack = append(stack, node)
			parent, ok := edges[node]
			if !ok || state[parent] == done {
				break
			}
			if state[parent] == inStack {
				// Everything from parent to the top of the stack is the cycle.
				for i := len(stack) - 1; i >= 0; i-- {
					cyclic[stack[i]] = true
					if stack[i] == parent {
						break
					}
				}
				break
			}
			node = parent
		}
		for _, n := range stack {
			state[n] = done
		}
	}

	for child, parent := range edges {
		if cyclic[child] || cyclic[parent] {
			delete(edges, child)
		}
	}
	res.Cyclic = uint64(len(cyclic))

	childCount := make(map[uint64]int, len(edges))
	for _, parent := range edges {
		childCount[parent]++
	}

	for _, u := range uprns {
		if childCount[u] > 0 {
			res.Levels[u] = abp.LevelParent
		} else if _, hasParent := edges[u]; hasParent {
			res.Levels[u] = abp.LevelChild
		} else {
			res.Levels[u] = abp.LevelSingleton
		}
	}
	return res
}

// Resolver builds the hierarchy relation from the BLPU parquet and persists
// it so that chunked processing can look up roles without a global scan.
type Resolver struct {
	db     *sql.DB
	cfg    *config.Config
	logger *slog.Logger
	stats  *observability.Stats
}

// New creates a Resolver over the given DuckDB handle.
func New(db *sql.DB, cfg *config.Config, logger *slog.Logger, stats *observability.Stats) *Resolver {
	return &Resolver{db: db, cfg: cfg, logger: logger, stats: stats}
}

// OutputPath returns where the hierarchy parquet relation lives.
func (r *Resolver) OutputPath() string {
	return filepath.Join(r.cfg.DerivedParquetDir(), "hierarchy.parquet")
}

// Run classifies every UPRN and writes the hierarchy relation. Skipped when
// the output exists and force is not set.
func (r *Resolver) Run(ctx context.Context, force bool) error {
	dest := r.OutputPath()
	if !force {
		if _, err := os.Stat(dest); err == nil {
			r.logger.Info("hierarchy output already exists, skipping", "path", dest)
			return nil
		} else if !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("stat %s: %w", dest, err)
		}
	}

	blpuPath := filepath.Join(r.cfg.RawParquetDir(), "blpu.parquet")
	if _, err := os.Stat(blpuPath); err != nil {
		return fmt.Errorf("hierarchy needs the blpu relation (run split first): %w", err)
	}
	if err := duck.RegisterParquetView(ctx, r.db, "blpu", blpuPath); err != nil {
		return err
	}

	uprns, parents, err := r.loadEdges(ctx)
	if err != nil {
		return err
	}

	res := Classify(uprns, parents)
	r.stats.DanglingParents.Add(res.Dangling)
	r.stats.CycleNodes.Add(res.Cyclic)
	if res.Dangling > 0 {
		r.logger.Warn("dangling parent references treated as singleton", "count", res.Dangling)
	}
	if res.Cyclic > 0 {
		r.logger.Warn("parent cycles demoted to singleton", "count", res.Cyclic)
	}

	if err := r.persist(ctx, uprns, res, dest); err != nil {
		return err
	}
	r.logger.Info("hierarchy resolved", "uprns", len(uprns), "path", dest)
	return nil
}

func (r *Resolver) loadEdges(ctx context.Context) ([]uint64, map[uint64]uint64, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT uprn, parent_uprn FROM blpu")
	if err != nil {
		return nil, nil, fmt.Errorf("load blpu edges: %w", err)
	}
	defer rows.Close()

	var uprns []uint64
	parents := make(map[uint64]uint64)
	for rows.Next() {
		var uprn uint64
		var parent sql.Null[uint64]
		if err := rows.Scan(&uprn, &parent); err != nil {
			return nil, nil, fmt.Errorf("scan blpu edge: %w", err)
		}
		uprns = append(uprns, uprn)
		if parent.Valid {
			parents[uprn] = parent.V
		}
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read blpu edges: %w", err)
	}
	return uprns, parents, nil
}

func (r *Resolver) persist(ctx context.Context, uprns []uint64, res Result, dest string) error {
	if _, err := r.db.ExecContext(ctx,
		"CREATE OR REPLACE TABLE hierarchy (uprn UBIGINT, hierarchy_level VARCHAR)"); err != nil {
		return fmt.Errorf("create hierarchy table: %w", err)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin hierarchy load: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO hierarchy VALUES (?, ?)")
	if err != nil {
		return fmt.Errorf("prepare hierarchy insert: %w", err)
	}
	defer stmt.Close()

	for _, u := range uprns {
		if _, err := stmt.ExecContext(ctx, u, string(res.Levels[u])); err != nil {
			return fmt.Errorf("insert hierarchy row: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit hierarchy load: %w", err)
	}

	return duck.CopyToParquet(ctx, r.db,
		"SELECT * FROM hierarchy ORDER BY uprn", dest, r.cfg.Compression)
}
