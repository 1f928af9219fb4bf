package transform

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/brensch/vdparquet/internal/observability"
	"github.com/brensch/vdparquet/internal/table"
)

const stageName = "transform"

// Status is the outcome of one document.
type Status int

const (
	Transformed Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Transformed:
		return "transformed"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// Result is the per-document outcome of TransformDir.
type Result struct {
	Source   string
	Dest     string
	Status   Status
	Rows     int
	Err      error
	Duration time.Duration
}

// Document parses one XML file and returns its flattened rows as a table.
func Document(path string) (*table.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	devices, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}
	t := table.New("VDID")
	for _, d := range devices {
		t.Append(Flatten(d))
	}
	return t, nil
}

// TransformDir converts every *.xml in srcDir into dstDir/<name>.csv using
// workers goroutines. A CSV that already exists is kept. A document that fails
// to parse produces no CSV and contributes zero rows.
func TransformDir(ctx context.Context, srcDir, dstDir string, workers int, logger *slog.Logger, metrics *observability.Metrics, notify func(Result)) ([]Result, error) {
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return nil, fmt.Errorf("create csv dir %s: %w", dstDir, err)
	}
	sources, err := filepath.Glob(filepath.Join(srcDir, "*.xml"))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", srcDir, err)
	}
	sort.Strings(sources)
	if len(sources) == 0 {
		return nil, nil
	}
	if workers < 1 {
		workers = 1
	}
	workers = min(workers, len(sources))

	type job struct {
		index int
		path  string
	}
	jobs := make(chan job, len(sources))
	results := make([]Result, len(sources))
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			l := logger.With(slog.Int("worker", workerID))
			for j := range jobs {
				res := transformOne(ctx, j.path, dstDir)
				results[j.index] = res
				switch res.Status {
				case Transformed:
					l.Debug("Transformed snapshot.", "file", filepath.Base(j.path), slog.Int("rows", res.Rows), slog.Duration("duration", res.Duration))
					metrics.ObserveItem(stageName, observability.OutcomeOK)
				case Skipped:
					metrics.ObserveItem(stageName, observability.OutcomeSkipped)
				case Failed:
					l.Warn("Snapshot transform failed, contributing zero rows.", "file", filepath.Base(j.path), "error", res.Err)
					metrics.ObserveItem(stageName, observability.OutcomeFailed)
				}
				if notify != nil {
					notify(res)
				}
			}
		}(w)
	}

	for i, p := range sources {
		jobs <- job{index: i, path: p}
	}
	close(jobs)
	wg.Wait()

	return results, nil
}

func transformOne(ctx context.Context, src, dstDir string) Result {
	start := time.Now()
	name := strings.TrimSuffix(filepath.Base(src), ".xml") + ".csv"
	res := Result{Source: src, Dest: filepath.Join(dstDir, name)}

	if _, err := os.Stat(res.Dest); err == nil {
		res.Status = Skipped
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Status = Failed
		res.Err = err
		return res
	}

	t, err := Document(src)
	if err == nil {
		err = writeTable(t, res.Dest)
	}
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = Failed
		res.Err = err
		return res
	}
	res.Status = Transformed
	res.Rows = t.Len()
	return res
}

func writeTable(t *table.Table, dst string) error {
	tmp := dst + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}
	writeErr := t.WriteCSV(f)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	if err := os.Rename(tmp, dst); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}
