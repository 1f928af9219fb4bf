package saver

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/vdparquet/internal/db"
)

// SaveLedger copies the run ledger to <outDir>/vd_event_log.parquet so it can
// be analysed outside the pipeline.
func SaveLedger(ctx context.Context, conn *sql.DB, outDir string, logger *slog.Logger) (string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir %s: %w", outDir, err)
	}
	outputFilePath := filepath.Join(outDir, db.TableName+".parquet")
	escaped := strings.ReplaceAll(filepath.ToSlash(outputFilePath), "'", "''")
	copySQL := fmt.Sprintf(`COPY "%s" TO '%s' (FORMAT PARQUET);`, db.TableName, escaped)

	l := logger.With(slog.String("table", db.TableName), slog.String("output_path", outputFilePath))
	l.Debug("Executing COPY TO command.")
	start := time.Now()
	if _, err := conn.ExecContext(ctx, copySQL); err != nil {
		return "", fmt.Errorf("copy %s to parquet: %w", db.TableName, err)
	}
	l.Info("Saved ledger to Parquet.", slog.Duration("duration", time.Since(start).Round(time.Millisecond)))
	return outputFilePath, nil
}
