package partition

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/brensch/vdparquet/internal/table"
)

// parquetColumnName strips characters parquet-go rejects in schema names.
func parquetColumnName(c string) string {
	return strings.NewReplacer(" ", "_", ".", "_", ";", "_", ",", "_", "=", "_").Replace(c)
}

// writeParquet stores every column as optional UTF8; the missing marker is
// written as null.
func writeParquet(t *table.Table, path string) (err error) {
	meta := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		meta[i] = fmt.Sprintf("name=%s, type=BYTE_ARRAY, convertedtype=UTF8, repetitiontype=OPTIONAL", parquetColumnName(c))
	}

	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if closeErr := fw.Close(); closeErr != nil {
			err = errors.Join(err, fmt.Errorf("close %s: %w", path, closeErr))
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	pw, err := writer.NewCSVWriter(meta, fw, 4)
	if err != nil {
		return fmt.Errorf("create parquet writer for %s: %w", path, err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	rec := make([]*string, len(t.Columns))
	for _, row := range t.Rows {
		for i := range rec {
			rec[i] = nil
			if i < len(row) && row[i] != table.Missing {
				v := row[i]
				rec[i] = &v
			}
		}
		if err := pw.WriteString(rec); err != nil {
			return fmt.Errorf("write parquet row to %s: %w", path, err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize parquet %s: %w", path, err)
	}
	return nil
}
