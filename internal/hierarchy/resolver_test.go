package hierarchy

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"abp-pipeline/internal/abp"
	"abp-pipeline/internal/config"
	"abp-pipeline/internal/duck"
	"abp-pipeline/internal/observability"
)

func TestClassifySimpleFamily(t *testing.T) {
	res := Classify(
		[]uint64{1, 2, 3, 4},
		map[uint64]uint64{2: 1, 3: 1},
	)
	assert.Equal(t, abp.LevelParent, res.Levels[1])
	assert.Equal(t, abp.LevelChild, res.Levels[2])
	assert.Equal(t, abp.LevelChild, res.Levels[3])
	assert.Equal(t, abp.LevelSingleton, res.Levels[4])
	assert.Zero(t, res.Dangling)
	assert.Zero(t, res.Cyclic)
}

func TestClassifyMidLevelIsBothParentAndChild(t *testing.T) {
	// 1 <- 2 <- 3: the middle node has a child, so it is a Parent.
	res := Classify(
		[]uint64{1, 2, 3},
		map[uint64]uint64{2: 1, 3: 2},
	)
	assert.Equal(t, abp.LevelParent, res.Levels[1])
	assert.Equal(t, abp.LevelParent, res.Levels[2])
	assert.Equal(t, abp.LevelChild, res.Levels[3])
}

func TestClassifyDanglingParent(t *testing.T) {
	res := Classify(
		[]uint64{10},
		map[uint64]uint64{10: 999},
	)
	assert.Equal(t, abp.LevelSingleton, res.Levels[10])
	assert.Equal(t, uint64(1), res.Dangling)
}

func TestClassifyDanglingChildKeepsOwnChildren(t *testing.T) {
	// 10's parent is missing, but 11 is a real child of 10.
	res := Classify(
		[]uint64{10, 11},
		map[uint64]uint64{10: 999, 11: 10},
	)
	assert.Equal(t, abp.LevelParent, res.Levels[10])
	assert.Equal(t, abp.LevelChild, res.Levels[11])
	assert.Equal(t, uint64(1), res.Dangling)
}

func TestClassifySelfReference(t *testing.T) {
	res := Classify(
		[]uint64{5},
		map[uint64]uint64{5: 5},
	)
	assert.Equal(t, abp.LevelSingleton, res.Levels[5])
	assert.Equal(t, uint64(1), res.Cyclic)
}

func TestClassifyCycle(t *testing.T) {
	// 1 -> 2 -> 1 is a cycle; 3 hangs off it and loses its edge too.
	res := Classify(
		[]uint64{1, 2, 3},
		map[uint64]uint64{1: 2, 2: 1, 3: 1},
	)
	assert.Equal(t, abp.LevelSingleton, res.Levels[1])
	assert.Equal(t, abp.LevelSingleton, res.Levels[2])
	assert.Equal(t, abp.LevelSingleton, res.Levels[3])
	assert.Equal(t, uint64(2), res.Cyclic)
}

func TestClassifyEveryUPRNGetsALevel(t *testing.T) {
	uprns := []uint64{1, 2, 3, 4, 5, 6, 7}
	res := Classify(uprns, map[uint64]uint64{2: 1, 3: 2, 5: 4, 6: 6, 7: 100})
	for _, u := range uprns {
		assert.Contains(t, res.Levels, u)
	}
}

func TestResolverRunPersistsHierarchy(t *testing.T) {
	cfg := &config.Config{
		Paths:       config.Paths{RawDir: "unused", WorkDir: t.TempDir()},
		NumChunks:   1,
		Compression: "zstd",
	}
	cfg.Paths.ParquetDir = filepath.Join(cfg.Paths.WorkDir, "parquet")

	db, err := duck.Open()
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	// Build a minimal blpu relation: parent 1 with children 2 and 3.
	_, err = db.ExecContext(ctx, "CREATE TABLE blpu_src (uprn UBIGINT, parent_uprn UBIGINT)")
	require.NoError(t, err)
	for _, row := range [][2]any{{1, nil}, {2, 1}, {3, 1}, {4, nil}} {
		_, err = db.ExecContext(ctx, "INSERT INTO blpu_src VALUES (?, ?)", row[0], row[1])
		require.NoError(t, err)
	}
	blpuPath := filepath.Join(cfg.RawParquetDir(), "blpu.parquet")
	require.NoError(t, duck.CopyToParquet(ctx, db, "SELECT * FROM blpu_src", blpuPath, "zstd"))

	r := New(db, cfg, slog.New(slog.DiscardHandler), &observability.Stats{})
	require.NoError(t, r.Run(ctx, false))

	require.FileExists(t, r.OutputPath())
	require.NoError(t, duck.RegisterParquetView(ctx, db, "hier_out", r.OutputPath()))

	levels := map[uint64]string{}
	rows, err := db.QueryContext(ctx, "SELECT uprn, hierarchy_level FROM hier_out")
	require.NoError(t, err)
	defer rows.Close()
	for rows.Next() {
		var u uint64
		var lvl string
		require.NoError(t, rows.Scan(&u, &lvl))
		levels[u] = lvl
	}
	require.NoError(t, rows.Err())

	assert.Equal(t, map[uint64]string{1: "P", 2: "C", 3: "C", 4: "S"}, levels)

	// A second run without force leaves the output alone.
	before, err := os.Stat(r.OutputPath())
	require.NoError(t, err)
	require.NoError(t, r.Run(ctx, false))
	after, err := os.Stat(r.OutputPath())
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}
