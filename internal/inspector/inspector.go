package inspector

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/brensch/vdparquet/internal/archive"
	"github.com/brensch/vdparquet/internal/table"
)

// PartitionSummary describes one device partition.
type PartitionSummary struct {
	VDID    string
	Path    string
	Rows    int64
	Minutes int64 // distinct snapshots the device appears in
	Columns int
	Err     error
}

// InspectDay summarizes every partition under <dayDir>/VDID with DuckDB and
// prints a table to w.
func InspectDay(ctx context.Context, conn *sql.DB, dayDir string, w io.Writer, logger *slog.Logger) ([]PartitionSummary, error) {
	dir := filepath.Join(dayDir, archive.PartitionDir)
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		if _, zerr := os.Stat(filepath.Clean(dayDir) + ".zip"); zerr == nil {
			return nil, fmt.Errorf("partitions for %s are archived in %s.zip; unzip it or rerun with --no-zip", filepath.Base(dayDir), filepath.Clean(dayDir))
		}
		return nil, fmt.Errorf("no partition folder at %s", dir)
	}

	var files []string
	for _, pattern := range []string{"*.csv", "*.parquet"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("glob %s: %w", pattern, err)
		}
		files = append(files, matches...)
	}
	sort.Strings(files)
	logger.Info("Found partitions to inspect.", slog.Int("count", len(files)), slog.String("dir", dir))

	summaries := make([]PartitionSummary, 0, len(files))
	var errs []error
	for _, path := range files {
		s := summarize(ctx, conn, path)
		if s.Err != nil {
			logger.Warn("Failed to inspect partition.", "file", filepath.Base(path), "error", s.Err)
			errs = append(errs, s.Err)
		}
		summaries = append(summaries, s)
	}

	printSummary(w, dayDir, summaries)
	return summaries, errors.Join(errs...)
}

func readerFor(path string) string {
	quoted := "'" + strings.ReplaceAll(filepath.ToSlash(path), "'", "''") + "'"
	if strings.HasSuffix(path, ".parquet") {
		return fmt.Sprintf("read_parquet(%s)", quoted)
	}
	return fmt.Sprintf("read_csv(%s, header=true, all_varchar=true)", quoted)
}

func summarize(ctx context.Context, conn *sql.DB, path string) PartitionSummary {
	base := filepath.Base(path)
	s := PartitionSummary{VDID: strings.TrimSuffix(base, filepath.Ext(base)), Path: path}
	src := readerFor(path)

	columns, err := describeColumns(ctx, conn, src)
	if err != nil {
		s.Err = fmt.Errorf("describe %s: %w", base, err)
		return s
	}
	s.Columns = len(columns)

	minutes := "NULL::BIGINT"
	for _, c := range columns {
		if c == table.FileNameColumn {
			minutes = "COUNT(DISTINCT file_name)"
		}
	}
	query := fmt.Sprintf("SELECT COUNT(*), %s FROM %s;", minutes, src)
	var rows, distinct sql.NullInt64
	if err := conn.QueryRowContext(ctx, query).Scan(&rows, &distinct); err != nil {
		s.Err = fmt.Errorf("stats for %s: %w", base, err)
		return s
	}
	s.Rows, s.Minutes = rows.Int64, distinct.Int64
	return s
}

func describeColumns(ctx context.Context, conn *sql.DB, src string) ([]string, error) {
	rows, err := conn.QueryContext(ctx, fmt.Sprintf("DESCRIBE SELECT * FROM %s;", src))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var names []string
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		if name, ok := vals[0].(string); ok {
			names = append(names, name)
		}
	}
	return names, rows.Err()
}

func printSummary(w io.Writer, dayDir string, summaries []PartitionSummary) {
	fmt.Fprintf(w, "\n--- Partition Summary: %s ---\n", filepath.Base(dayDir))
	fmt.Fprintf(w, "%-36s | %8s | %8s | %7s | %s\n", "VDID", "Rows", "Minutes", "Columns", "Status")
	fmt.Fprintln(w, strings.Repeat("-", 80))
	var totalRows int64
	for _, s := range summaries {
		status := "ok"
		if s.Err != nil {
			status = "error: " + s.Err.Error()
		}
		fmt.Fprintf(w, "%-36s | %8d | %8d | %7d | %s\n", s.VDID, s.Rows, s.Minutes, s.Columns, status)
		totalRows += s.Rows
	}
	fmt.Fprintln(w, strings.Repeat("-", 80))
	fmt.Fprintf(w, "%d partitions, %d rows\n", len(summaries), totalRows)
}
