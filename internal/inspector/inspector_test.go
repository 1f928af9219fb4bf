package inspector

import (
	"bytes"
	"context"
	"database/sql"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestInspectDay(t *testing.T) {
	day := filepath.Join(t.TempDir(), "20240530")
	dir := filepath.Join(day, "VDID")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "A.csv"), []byte(
		"VDID,L0_Speed,file_name\nA,90,VDLive_0000.csv\nA,,VDLive_0001.csv\nA,91,VDLive_0001.csv\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "B.csv"), []byte(
		"VDID,L0_Speed,file_name\nB,70,VDLive_0000.csv\n"), 0o644))

	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer conn.Close()

	var out bytes.Buffer
	summaries, err := InspectDay(context.Background(), conn, day, &out, discardLogger())
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	assert.Equal(t, "A", summaries[0].VDID)
	assert.EqualValues(t, 3, summaries[0].Rows)
	assert.EqualValues(t, 2, summaries[0].Minutes)
	assert.Equal(t, 3, summaries[0].Columns)
	assert.EqualValues(t, 1, summaries[1].Rows)
	assert.Contains(t, out.String(), "2 partitions, 4 rows")
}

func TestInspectArchivedDay(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(base, "20240530.zip"), []byte("PK"), 0o644))

	conn, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	defer conn.Close()

	_, err = InspectDay(context.Background(), conn, filepath.Join(base, "20240530"), io.Discard, discardLogger())
	assert.ErrorContains(t, err, "archived")
}
