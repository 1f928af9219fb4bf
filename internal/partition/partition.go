package partition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/brensch/vdparquet/internal/config"
	"github.com/brensch/vdparquet/internal/observability"
	"github.com/brensch/vdparquet/internal/table"
)

// KeyColumn is the device identifier partitions are keyed on.
const KeyColumn = "VDID"

const stageName = "partition"

// Group is the rows of one device. Table shares the combined schema.
type Group struct {
	Key   string
	Table *table.Table
}

// Result is the per-device outcome of Write.
type Result struct {
	Key  string
	Path string
	Rows int
	Err  error
}

// Split groups t's rows by the key column. Rows keep their combined order
// inside a group, rows with an empty key are dropped and groups are sorted by
// key. Row slices are shared with t, not copied.
func Split(t *table.Table, key string) []Group {
	col := t.ColumnIndex(key)
	if col < 0 {
		return nil
	}
	byKey := make(map[string]*table.Table)
	for _, row := range t.Rows {
		var k string
		if col < len(row) {
			k = row[col]
		}
		if k == table.Missing {
			continue
		}
		g, ok := byKey[k]
		if !ok {
			g = table.New(t.Columns...)
			byKey[k] = g
		}
		g.Rows = append(g.Rows, row)
	}

	groups := make([]Group, 0, len(byKey))
	for k, g := range byKey {
		groups = append(groups, Group{Key: k, Table: g})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Key < groups[j].Key })
	return groups
}

// SafeName makes a device ID usable as a file name.
func SafeName(key string) string {
	name := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|', 0:
			return '_'
		}
		return r
	}, key)
	if name == "." || name == ".." {
		name = strings.Repeat("_", len(name))
	}
	return name
}

// Write persists each group as dir/<SafeName(key)>.<format>, replacing any
// partitions a previous run left in dir. Keys that sanitize to the same name
// get a "~N" suffix in key order. Every group is written independently;
// failures are recorded per device.
func Write(ctx context.Context, groups []Group, dir, format string, logger *slog.Logger, metrics *observability.Metrics, notify func(Result)) ([]Result, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create partition dir %s: %w", dir, err)
	}
	var write func(*table.Table, string) error
	switch format {
	case config.FormatCSV:
		write = writeCSV
	case config.FormatParquet:
		write = writeParquet
	default:
		return nil, fmt.Errorf("unknown partition format %q", format)
	}

	if err := clearPartitions(dir); err != nil {
		return nil, err
	}

	results := make([]Result, 0, len(groups))
	used := make(map[string]bool, len(groups))
	written := 0
	for _, g := range groups {
		if ctx.Err() != nil {
			return results, ctx.Err()
		}
		name := uniqueName(SafeName(g.Key), used)
		if name != SafeName(g.Key) {
			logger.Warn("Device name collides after sanitizing, using suffix.", "vdid", g.Key, "file", name+"."+format)
		}
		res := Result{Key: g.Key, Path: filepath.Join(dir, name+"."+format), Rows: g.Table.Len()}
		if err := write(g.Table, res.Path); err != nil {
			res.Err = err
			logger.Warn("Failed to write device partition.", "vdid", g.Key, "error", err)
			metrics.ObserveItem(stageName, observability.OutcomeFailed)
		} else {
			written++
			metrics.ObserveItem(stageName, observability.OutcomeOK)
		}
		results = append(results, res)
		if notify != nil {
			notify(res)
		}
	}
	metrics.ObservePartitions(written)
	return results, nil
}

func uniqueName(name string, used map[string]bool) string {
	candidate := name
	for n := 2; used[candidate]; n++ {
		candidate = fmt.Sprintf("%s~%d", name, n)
	}
	used[candidate] = true
	return candidate
}

// clearPartitions removes partition files of either format from dir.
func clearPartitions(dir string) error {
	var errs []error
	for _, pattern := range []string{"*." + config.FormatCSV, "*." + config.FormatParquet} {
		stale, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return fmt.Errorf("list %s: %w", dir, err)
		}
		for _, p := range stale {
			if err := os.Remove(p); err != nil {
				errs = append(errs, fmt.Errorf("remove stale partition %s: %w", p, err))
			}
		}
	}
	return errors.Join(errs...)
}

func writeCSV(t *table.Table, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	writeErr := t.WriteCSV(f)
	closeErr := f.Close()
	if err := errors.Join(writeErr, closeErr); err != nil {
		os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}
