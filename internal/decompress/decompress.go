package decompress

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/brensch/vdparquet/internal/observability"
)

const stageName = "decompress"

// Status is the outcome of one file.
type Status int

const (
	Decompressed Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Decompressed:
		return "decompressed"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result is the per-file outcome of Decompress.
type Result struct {
	Source string
	Dest   string
	Status Status
	Bytes  int64
	Err    error
}

// Decompress expands every *.xml.gz in srcDir into dstDir. Outputs that
// already exist are left alone. Per-file failures are recorded and skipped;
// the returned error is reserved for directory-level problems.
func Decompress(ctx context.Context, srcDir, dstDir string, logger *slog.Logger, metrics *observability.Metrics, notify func(Result)) ([]Result, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("create decompressed dir %s: %w", dstDir, err)
	}
	sources, err := filepath.Glob(filepath.Join(srcDir, "*.xml.gz"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", srcDir, err)
	}
	sort.Strings(sources)

	results := make([]Result, 0, len(sources))
	for _, src := range sources {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		name := strings.TrimSuffix(filepath.Base(src), ".gz")
		res := Result{Source: src, Dest: filepath.Join(dstDir, name)}
		l := logger.With(slog.String("file", filepath.Base(src)))

		if _, err := os.Stat(res.Dest); err == nil {
			res.Status = Skipped
			metrics.ObserveItem(stageName, observability.OutcomeSkipped)
		} else if n, err := gunzipFile(src, res.Dest); err != nil {
			res.Status = Failed
			res.Err = err
			l.Warn("Decompression failed, skipping file.", "error", err)
			metrics.ObserveItem(stageName, observability.OutcomeFailed)
		} else {
			res.Status = Decompressed
			res.Bytes = n
			l.Debug("Decompressed snapshot.", slog.Int64("bytes", n))
			metrics.ObserveItem(stageName, observability.OutcomeOK)
		}

		results = append(results, res)
		if notify != nil {
			notify(res)
		}
	}
	return results, nil
}

func gunzipFile(src, dst string) (int64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	zr, err := gzip.NewReader(in)
	if err != nil {
		return 0, fmt.Errorf("gzip header %s: %w", src, err)
	}
	defer zr.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	n, copyErr := io.Copy(out, zr)
	closeErr := out.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("inflate %s: %w", src, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}
