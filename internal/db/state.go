package db

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/marcboeker/go-duckdb"
)

// Event names.
const (
	EventDayStart       = "day_start"
	EventDayEnd         = "day_end"
	EventFetchEnd       = "fetch_end"
	EventSkipFetch      = "skip_fetch"
	EventDecompressEnd  = "decompress_end"
	EventSkipDecompress = "skip_decompress"
	EventTransformEnd   = "transform_end"
	EventSkipTransform  = "skip_transform"
	EventCombineEnd     = "combine_end"
	EventPartitionEnd   = "partition_end"
	EventArchiveEnd     = "archive_end"
	EventError          = "error"
)

// File types.
const (
	FileTypeGz   = "gz"
	FileTypeXML  = "xml"
	FileTypeCSV  = "csv"
	FileTypeVDID = "vdid"
	FileTypeDay  = "day"
	FileTypeZip  = "zip"
)

// TableName is the ledger table.
const TableName = "vd_event_log"

const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS vd_event_log (
    day             VARCHAR NOT NULL,      -- YYYYMMDD the event belongs to
    filename        VARCHAR NOT NULL,      -- snapshot, table or partition name
    filetype        VARCHAR NOT NULL,      -- 'gz', 'xml', 'csv', 'vdid', 'day', 'zip'
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    message         VARCHAR,
    bytes           BIGINT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_vd_event_log_day ON vd_event_log (day, filetype);
CREATE INDEX IF NOT EXISTS idx_vd_event_log_event_time ON vd_event_log (event, event_timestamp);
`

// InitializeSchema creates the ledger table and indices.
func InitializeSchema(db *sql.DB) error {
	_, err := db.Exec(schemaTableSQL)
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return fmt.Errorf("failed to execute table/index setup: %w", err)
	}
	return nil
}

// Event is one ledger row.
type Event struct {
	Day       string
	Filename  string
	FileType  string
	Event     string
	Timestamp time.Time
	Message   string
	Bytes     int64
	Duration  time.Duration
}

// Ledger records per-item pipeline outcomes in DuckDB. A nil *Ledger
// accepts and drops every write.
type Ledger struct {
	db  *sql.DB
	mu  sync.Mutex
	now func() time.Time
}

// NewLedger wraps an initialized database.
func NewLedger(db *sql.DB) *Ledger {
	return &Ledger{db: db, now: time.Now}
}

// DB exposes the underlying connection pool.
func (l *Ledger) DB() *sql.DB {
	if l == nil {
		return nil
	}
	return l.db
}

func (l *Ledger) stamp(e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	return e
}

func nullable(e Event) (message any, bytes any, durationMs any) {
	if e.Message != "" {
		message = e.Message
	}
	if e.Bytes != 0 {
		bytes = e.Bytes
	}
	if e.Duration != 0 {
		durationMs = e.Duration.Milliseconds()
	}
	return
}

// LogEvent inserts a single event.
func (l *Ledger) LogEvent(ctx context.Context, e Event) error {
	if l == nil {
		return nil
	}
	e = l.stamp(e)
	msg, bytes, dur := nullable(e)

	l.mu.Lock()
	defer l.mu.Unlock()
	_, err := l.db.ExecContext(ctx, `
        INSERT INTO vd_event_log (day, filename, filetype, event, event_timestamp, message, bytes, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?);`,
		e.Day, e.Filename, e.FileType, e.Event, e.Timestamp, msg, bytes, dur)
	if err != nil {
		return fmt.Errorf("failed to log event '%s' for '%s': %w", e.Event, e.Filename, err)
	}
	return nil
}

// AppendEvents bulk-inserts events through the DuckDB appender.
func (l *Ledger) AppendEvents(ctx context.Context, events []Event) error {
	if l == nil || len(events) == 0 {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquire ledger connection: %w", err)
	}
	defer conn.Close()

	return conn.Raw(func(raw any) error {
		dc, ok := raw.(driver.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", raw)
		}
		appender, err := duckdb.NewAppenderFromConn(dc, "", TableName)
		if err != nil {
			return fmt.Errorf("create ledger appender: %w", err)
		}
		var appendErr error
		for _, e := range events {
			e = l.stamp(e)
			msg, bytes, dur := nullable(e)
			if err := appender.AppendRow(e.Day, e.Filename, e.FileType, e.Event, e.Timestamp, msg, bytes, dur); err != nil {
				appendErr = fmt.Errorf("append ledger row for '%s': %w", e.Filename, err)
				break
			}
		}
		if err := appender.Close(); err != nil {
			appendErr = errors.Join(appendErr, fmt.Errorf("flush ledger appender: %w", err))
		}
		return appendErr
	})
}

// Filter narrows History queries. Empty fields match everything.
type Filter struct {
	Day      string
	FileType string
	Event    string
	Limit    int
}

// History returns matching events, newest first.
func (l *Ledger) History(ctx context.Context, f Filter) ([]Event, error) {
	q := sq.Select("day", "filename", "filetype", "event", "event_timestamp", "message", "bytes", "duration_ms").
		From(TableName).
		OrderBy("event_timestamp DESC", "filename")
	eq := sq.Eq{}
	if f.Day != "" {
		eq["day"] = f.Day
	}
	if f.FileType != "" {
		eq["filetype"] = f.FileType
	}
	if f.Event != "" {
		eq["event"] = f.Event
	}
	if len(eq) > 0 {
		q = q.Where(eq)
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	query, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build history query: %w", err)
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query event history: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			e     Event
			msg   sql.NullString
			bytes sql.NullInt64
			durMs sql.NullInt64
		)
		if err := rows.Scan(&e.Day, &e.Filename, &e.FileType, &e.Event, &e.Timestamp, &msg, &bytes, &durMs); err != nil {
			return nil, fmt.Errorf("scan event row: %w", err)
		}
		e.Message = msg.String
		e.Bytes = bytes.Int64
		e.Duration = time.Duration(durMs.Int64) * time.Millisecond
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate event rows: %w", err)
	}
	return events, nil
}

// DaySummary counts events of one day by event name.
func (l *Ledger) DaySummary(ctx context.Context, day string) (map[string]int, error) {
	query, args, err := sq.Select("event", "count(*)").
		From(TableName).
		Where(sq.Eq{"day": day}).
		GroupBy("event").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build summary query: %w", err)
	}
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query day summary for %s: %w", day, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var event string
		var n int
		if err := rows.Scan(&event, &n); err != nil {
			return nil, fmt.Errorf("scan summary row: %w", err)
		}
		counts[event] = n
	}
	return counts, rows.Err()
}

// DisplayHistory prints matching events as a table.
func (l *Ledger) DisplayHistory(ctx context.Context, w io.Writer, f Filter) error {
	events, err := l.History(ctx, f)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "--- Event Log History (Limit %d) ---\n", f.Limit)
	fmt.Fprintf(w, "%-8s | %-24s | %-4s | %-16s | %-25s | %-10s | %s\n", "Day", "File", "Type", "Event", "Timestamp (UTC)", "DurationMS", "Message")
	fmt.Fprintln(w, strings.Repeat("-", 130))
	for _, e := range events {
		fmt.Fprintf(w, "%-8s | %-24s | %-4s | %-16s | %-25s | %-10d | %s\n",
			e.Day, truncate(e.Filename, 24), e.FileType, e.Event,
			e.Timestamp.UTC().Format(time.RFC3339), e.Duration.Milliseconds(), e.Message)
	}
	if len(events) == 0 {
		fmt.Fprintln(w, "No events found matching criteria.")
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n+3:]
}
