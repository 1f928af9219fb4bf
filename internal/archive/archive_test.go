package archive

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeDay(t *testing.T) string {
	t.Helper()
	day := filepath.Join(t.TempDir(), "20240530")
	files := map[string]string{
		"compressed/VDLive_0000.xml.gz": "gz",
		"decompressed/VDLive_0000.xml":  "<xml/>",
		"csv/VDLive_0000.csv":           "VDID\n",
		"VDID/A.csv":                    "VDID,file_name\nA,VDLive_0000.csv\n",
	}
	for name, body := range files {
		p := filepath.Join(day, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return day
}

func TestCleanupDefaults(t *testing.T) {
	day := makeDay(t)
	removed, err := Cleanup(day, Retention{})
	require.NoError(t, err)
	assert.Len(t, removed, 3)
	assert.NoDirExists(t, filepath.Join(day, CompressedDir))
	assert.NoDirExists(t, filepath.Join(day, DecompressedDir))
	assert.NoDirExists(t, filepath.Join(day, CSVDir))
	assert.DirExists(t, filepath.Join(day, PartitionDir))
}

func TestCleanupRetention(t *testing.T) {
	day := makeDay(t)
	removed, err := Cleanup(day, Retention{KeepGz: true, KeepCSV: true})
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(day, DecompressedDir)}, removed)
	assert.DirExists(t, filepath.Join(day, CompressedDir))
	assert.DirExists(t, filepath.Join(day, CSVDir))

	// Second pass has nothing left to remove.
	removed, err = Cleanup(day, Retention{KeepGz: true, KeepCSV: true})
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestZipDay(t *testing.T) {
	day := makeDay(t)
	_, err := Cleanup(day, Retention{})
	require.NoError(t, err)

	zipPath, err := ZipDay(day, true)
	require.NoError(t, err)
	assert.Equal(t, day+".zip", zipPath)
	assert.NoDirExists(t, day)
	assert.NoFileExists(t, zipPath+".part")

	zr, err := zip.OpenReader(zipPath)
	require.NoError(t, err)
	defer zr.Close()

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"20240530/", "20240530/VDID/", "20240530/VDID/A.csv"}, names)

	for _, f := range zr.File {
		if f.Name != "20240530/VDID/A.csv" {
			continue
		}
		assert.Equal(t, zip.Deflate, f.Method)
		rc, err := f.Open()
		require.NoError(t, err)
		body, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		assert.Equal(t, "VDID,file_name\nA,VDLive_0000.csv\n", string(body))
	}
}

func TestZipDayKeepsFolder(t *testing.T) {
	day := makeDay(t)
	_, err := ZipDay(day, false)
	require.NoError(t, err)
	assert.DirExists(t, day)
}

func TestZipDayMissing(t *testing.T) {
	_, err := ZipDay(filepath.Join(t.TempDir(), "nope"), true)
	assert.Error(t, err)
}
