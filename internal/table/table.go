package table

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
)

// Missing is the marker written for a column a row does not have.
const Missing = ""

// Table is a column-ordered set of string rows. Rows may be shorter than
// Columns; absent trailing cells read as Missing.
type Table struct {
	Columns []string
	Rows    [][]string
	index   map[string]int
}

// New returns a table with the given leading columns.
func New(columns ...string) *Table {
	t := &Table{index: make(map[string]int)}
	for _, c := range columns {
		t.AddColumn(c)
	}
	return t
}

// AddColumn appends name if it is not already a column and returns its index.
func (t *Table) AddColumn(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	t.index[name] = len(t.Columns)
	t.Columns = append(t.Columns, name)
	return len(t.Columns) - 1
}

// ColumnIndex returns the position of name, or -1.
func (t *Table) ColumnIndex(name string) int {
	if i, ok := t.index[name]; ok {
		return i
	}
	return -1
}

// Append adds rec as a new row, growing the column set with any unseen keys.
func (t *Table) Append(rec *Record) {
	row := make([]string, len(t.Columns))
	for _, k := range rec.Keys() {
		i := t.AddColumn(k)
		v, _ := rec.Get(k)
		for len(row) <= i {
			row = append(row, Missing)
		}
		row[i] = v
	}
	t.Rows = append(t.Rows, row)
}

// Value returns the cell at row r for column name.
func (t *Table) Value(r int, name string) string {
	i := t.ColumnIndex(name)
	if i < 0 || r < 0 || r >= len(t.Rows) || i >= len(t.Rows[r]) {
		return Missing
	}
	return t.Rows[r][i]
}

// Len is the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// WriteCSV writes the header and every row padded to the full width.
func (t *Table) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(t.Columns); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	buf := make([]string, len(t.Columns))
	for _, row := range t.Rows {
		n := copy(buf, row)
		for i := n; i < len(buf); i++ {
			buf[i] = Missing
		}
		if err := cw.Write(buf); err != nil {
			return fmt.Errorf("write row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadCSV parses a table written by WriteCSV. Ragged rows are accepted.
func ReadCSV(r io.Reader) (*Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = false

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("read header: empty file")
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	t := New()
	for _, c := range header {
		if t.ColumnIndex(c) >= 0 {
			return nil, fmt.Errorf("duplicate column %q", c)
		}
		t.AddColumn(c)
	}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", t.Len()+1, err)
		}
		if len(rec) > len(t.Columns) {
			return nil, fmt.Errorf("row %d has %d fields, header has %d", t.Len()+1, len(rec), len(t.Columns))
		}
		t.Rows = append(t.Rows, rec)
	}
	return t, nil
}
