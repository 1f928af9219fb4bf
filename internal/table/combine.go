package table

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/brensch/vdparquet/internal/observability"
)

// FileNameColumn carries the per-snapshot CSV a combined row came from.
const FileNameColumn = "file_name"

const stageName = "combine"

// Result is the per-file outcome of Combine.
type Result struct {
	Path string
	Rows int
	Err  error
}

// Combine reads every *.csv in dir (sorted by name) into one table. Columns
// are the union of all inputs in first-appearance order, with file_name kept
// last. A file that cannot be read is recorded and skipped.
func Combine(ctx context.Context, dir string, logger *slog.Logger, metrics *observability.Metrics, notify func(Result)) (*Table, []Result, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, nil, fmt.Errorf("list %s: %w", dir, err)
	}
	sort.Strings(paths)

	parts := make([]*Table, 0, len(paths))
	names := make([]string, 0, len(paths))
	results := make([]Result, 0, len(paths))
	for _, p := range paths {
		if ctx.Err() != nil {
			return nil, results, ctx.Err()
		}
		res := Result{Path: p}
		t, err := readFile(p)
		if err != nil {
			res.Err = err
			logger.Warn("Skipping unreadable snapshot table.", "file", filepath.Base(p), "error", err)
			metrics.ObserveItem(stageName, observability.OutcomeFailed)
		} else {
			res.Rows = t.Len()
			parts = append(parts, t)
			names = append(names, filepath.Base(p))
			metrics.ObserveItem(stageName, observability.OutcomeOK)
		}
		results = append(results, res)
		if notify != nil {
			notify(res)
		}
	}

	return Union(parts, names), results, nil
}

// Union concatenates tables, tagging each row with the matching name in the
// file_name column.
func Union(parts []*Table, names []string) *Table {
	out := New()
	for _, p := range parts {
		for _, c := range p.Columns {
			if c != FileNameColumn {
				out.AddColumn(c)
			}
		}
	}
	fileCol := out.AddColumn(FileNameColumn)
	width := len(out.Columns)

	total := 0
	for _, p := range parts {
		total += p.Len()
	}
	out.Rows = make([][]string, 0, total)

	for i, p := range parts {
		mapping := make([]int, len(p.Columns))
		for j, c := range p.Columns {
			mapping[j] = out.ColumnIndex(c)
		}
		for _, src := range p.Rows {
			row := make([]string, width)
			for j, v := range src {
				row[mapping[j]] = v
			}
			row[fileCol] = names[i]
			out.Rows = append(out.Rows, row)
		}
	}
	return out
}

func readFile(path string) (*Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	t, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	return t, nil
}
