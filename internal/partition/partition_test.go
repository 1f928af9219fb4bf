package partition

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/brensch/vdparquet/internal/config"
	"github.com/brensch/vdparquet/internal/table"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func combined() *table.Table {
	t := table.New("VDID", "L0_Speed", table.FileNameColumn)
	t.Rows = [][]string{
		{"A", "90", "VDLive_0000.csv"},
		{"B", "80", "VDLive_0000.csv"},
		{"", "1", "VDLive_0000.csv"},
		{"A", "91", "VDLive_0001.csv"},
		{"A", "", "VDLive_0002.csv"},
	}
	return t
}

func TestSplit(t *testing.T) {
	groups := Split(combined(), KeyColumn)
	require.Len(t, groups, 2)

	assert.Equal(t, "A", groups[0].Key)
	assert.Equal(t, 3, groups[0].Table.Len())
	assert.Equal(t, "B", groups[1].Key)
	assert.Equal(t, 1, groups[1].Table.Len())

	// Combined order is kept inside a group.
	a := groups[0].Table
	assert.Equal(t, "VDLive_0000.csv", a.Value(0, table.FileNameColumn))
	assert.Equal(t, "VDLive_0001.csv", a.Value(1, table.FileNameColumn))
	assert.Equal(t, "VDLive_0002.csv", a.Value(2, table.FileNameColumn))
	assert.Equal(t, combined().Columns, a.Columns)
}

func TestSplitWithoutKeyColumn(t *testing.T) {
	assert.Empty(t, Split(table.New("other"), KeyColumn))
}

func TestSafeName(t *testing.T) {
	assert.Equal(t, "VD-N1-S-100.010-M-LOOP", SafeName("VD-N1-S-100.010-M-LOOP"))
	assert.Equal(t, "a_b_c", SafeName("a/b\\c"))
	assert.Equal(t, "__", SafeName(".."))
}

func TestWriteCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "VDID")
	groups := Split(combined(), KeyColumn)

	results, err := Write(context.Background(), groups, dir, config.FormatCSV, discardLogger(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NoError(t, r.Err)
	}

	f, err := os.Open(filepath.Join(dir, "A.csv"))
	require.NoError(t, err)
	defer f.Close()
	a, err := table.ReadCSV(f)
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())
	assert.Equal(t, "91", a.Value(1, "L0_Speed"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteKeepsCollidingKeysApart(t *testing.T) {
	dir := t.TempDir()
	tbl := table.New("VDID", table.FileNameColumn)
	tbl.Rows = [][]string{
		{"VD/1", "VDLive_0000.csv"},
		{"VD_1", "VDLive_0000.csv"},
		{"VD_1", "VDLive_0001.csv"},
	}
	groups := Split(tbl, KeyColumn)
	require.Len(t, groups, 2)

	results, err := Write(context.Background(), groups, dir, config.FormatCSV, discardLogger(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.NotEqual(t, results[0].Path, results[1].Path)

	total := 0
	for _, r := range results {
		require.NoError(t, r.Err)
		f, err := os.Open(r.Path)
		require.NoError(t, err)
		part, err := table.ReadCSV(f)
		f.Close()
		require.NoError(t, err)
		assert.Equal(t, r.Rows, part.Len())
		assert.Equal(t, r.Key, part.Value(0, "VDID"))
		total += part.Len()
	}
	assert.Equal(t, 3, total)
	assert.FileExists(t, filepath.Join(dir, "VD_1.csv"))
	assert.FileExists(t, filepath.Join(dir, "VD_1~2.csv"))
}

func TestWriteReplacesStalePartitions(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GONE.csv"), []byte("VDID\nGONE\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "OLD.parquet"), []byte("x"), 0o644))

	_, err := Write(context.Background(), Split(combined(), KeyColumn), dir, config.FormatCSV, discardLogger(), nil, nil)
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(dir, "GONE.csv"))
	assert.NoFileExists(t, filepath.Join(dir, "OLD.parquet"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestWriteParquet(t *testing.T) {
	dir := t.TempDir()
	groups := Split(combined(), KeyColumn)

	results, err := Write(context.Background(), groups, dir, config.FormatParquet, discardLogger(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.NoError(t, results[0].Err)

	fr, err := local.NewLocalFileReader(filepath.Join(dir, "A.parquet"))
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, nil, 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	assert.EqualValues(t, 3, pr.GetNumRows())
}

func TestWriteRejectsUnknownFormat(t *testing.T) {
	_, err := Write(context.Background(), nil, t.TempDir(), "xlsx", discardLogger(), nil, nil)
	assert.Error(t, err)
}
