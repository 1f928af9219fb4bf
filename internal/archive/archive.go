package archive

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"
)

// Intermediate folders inside a day directory.
const (
	CompressedDir   = "compressed"
	DecompressedDir = "decompressed"
	CSVDir          = "csv"
	PartitionDir    = "VDID"
)

// Retention selects which intermediate folders survive Cleanup.
type Retention struct {
	KeepGz  bool
	KeepXML bool
	KeepCSV bool
}

// Cleanup removes the intermediate folders of dayDir that Retention does not
// keep. Folders that do not exist are ignored. It returns the removed paths.
func Cleanup(dayDir string, r Retention) ([]string, error) {
	targets := []struct {
		name string
		keep bool
	}{
		{CompressedDir, r.KeepGz},
		{DecompressedDir, r.KeepXML},
		{CSVDir, r.KeepCSV},
	}
	var removed []string
	var errs []error
	for _, t := range targets {
		if t.keep {
			continue
		}
		p := filepath.Join(dayDir, t.name)
		if _, err := os.Stat(p); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := os.RemoveAll(p); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", p, err))
			continue
		}
		removed = append(removed, p)
	}
	return removed, errors.Join(errs...)
}

// ZipDay packs dayDir into <parent>/<day>.zip with entry names relative to the
// parent, so the archive unpacks into a <day>/ folder. When remove is set the
// folder is deleted after the archive is complete.
func ZipDay(dayDir string, remove bool) (string, error) {
	dayDir = filepath.Clean(dayDir)
	info, err := os.Stat(dayDir)
	if err != nil {
		return "", fmt.Errorf("stat day dir: %w", err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%s is not a directory", dayDir)
	}
	parent := filepath.Dir(dayDir)
	zipPath := dayDir + ".zip"
	tmp := zipPath + ".part"

	if err := writeZip(tmp, parent, dayDir); err != nil {
		os.Remove(tmp)
		return "", err
	}
	if err := os.Rename(tmp, zipPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("rename %s: %w", tmp, err)
	}
	if remove {
		if err := os.RemoveAll(dayDir); err != nil {
			return zipPath, fmt.Errorf("remove day dir after zipping: %w", err)
		}
	}
	return zipPath, nil
}

func writeZip(dst, parent, root string) (err error) {
	f, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	zw := zip.NewWriter(f)
	defer func() {
		if cerr := zw.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("finalize zip: %w", cerr))
		}
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", dst, cerr))
		}
	}()

	return filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		rel, err := filepath.Rel(parent, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr, err := zip.FileInfoHeader(info)
		if err != nil {
			return fmt.Errorf("zip header for %s: %w", path, err)
		}
		hdr.Name = filepath.ToSlash(rel)
		if d.IsDir() {
			hdr.Name += "/"
			hdr.Method = zip.Store
			_, err := zw.CreateHeader(hdr)
			return err
		}
		hdr.Method = zip.Deflate
		w, err := zw.CreateHeader(hdr)
		if err != nil {
			return fmt.Errorf("zip entry %s: %w", hdr.Name, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return err
		}
		defer src.Close()
		if _, err := io.Copy(w, src); err != nil {
			return fmt.Errorf("zip copy %s: %w", path, err)
		}
		return nil
	})
}
