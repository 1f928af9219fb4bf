package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/brensch/vdparquet/internal/app"
	"github.com/brensch/vdparquet/internal/archive"
	"github.com/brensch/vdparquet/internal/config"
	"github.com/brensch/vdparquet/internal/db"
	"github.com/brensch/vdparquet/internal/decompress"
	"github.com/brensch/vdparquet/internal/fetch"
	"github.com/brensch/vdparquet/internal/observability"
	"github.com/brensch/vdparquet/internal/partition"
	"github.com/brensch/vdparquet/internal/table"
	"github.com/brensch/vdparquet/internal/transform"
)

// Stage names used in logs, reports, metrics and progress.
const (
	StageFetch      = "fetch"
	StageDecompress = "decompress"
	StageTransform  = "transform"
	StageCombine    = "combine"
	StagePartition  = "partition"
)

// RunOptions controls post-processing of each day.
type RunOptions struct {
	Retention archive.Retention
	NoZip     bool
	Format    string // partition format; empty uses the configured one
}

// Deps are the collaborators a Pipeline uses. Only Fetcher may be built from
// the config when nil; the rest fall back to no-ops.
type Deps struct {
	Logger   *slog.Logger
	Fetcher  *fetch.Scheduler
	Ledger   *db.Ledger
	Metrics  *observability.Metrics
	Progress app.Reporter
}

// Pipeline runs the daily ETL for one configuration.
type Pipeline struct {
	cfg      config.Config
	logger   *slog.Logger
	fetcher  *fetch.Scheduler
	ledger   *db.Ledger
	metrics  *observability.Metrics
	progress app.Reporter
}

// New builds a Pipeline.
func New(cfg config.Config, deps Deps) *Pipeline {
	p := &Pipeline{
		cfg:      cfg,
		logger:   deps.Logger,
		fetcher:  deps.Fetcher,
		ledger:   deps.Ledger,
		metrics:  deps.Metrics,
		progress: deps.Progress,
	}
	if p.logger == nil {
		p.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if p.progress == nil {
		p.progress = app.NopReporter{}
	}
	if p.fetcher == nil {
		p.fetcher = fetch.NewScheduler(fetch.OptionsFromConfig(cfg), p.logger, p.metrics)
	}
	return p
}

type dayLayout struct {
	root, compressed, decompressed, csv, partitions string
}

func layoutFor(dayDir string) dayLayout {
	return dayLayout{
		root:         dayDir,
		compressed:   filepath.Join(dayDir, archive.CompressedDir),
		decompressed: filepath.Join(dayDir, archive.DecompressedDir),
		csv:          filepath.Join(dayDir, archive.CSVDir),
		partitions:   filepath.Join(dayDir, archive.PartitionDir),
	}
}

// RunRange processes days consecutive days from start backwards, one at a
// time. A failed day is logged and does not stop the ones after it.
func (p *Pipeline) RunRange(ctx context.Context, start string, days int, opts RunOptions) ([]*Report, error) {
	first, err := time.Parse(config.DayLayout, start)
	if err != nil {
		return nil, fmt.Errorf("invalid start date %q (want YYYYMMDD): %w", start, err)
	}
	if days < 1 {
		return nil, fmt.Errorf("days must be at least 1, got %d", days)
	}

	var reports []*Report
	var errs []error
	for i := 0; i < days; i++ {
		if err := ctx.Err(); err != nil {
			p.logger.Warn("Run cancelled before all days were processed.", "remaining", days-i)
			errs = append(errs, err)
			break
		}
		day := first.AddDate(0, 0, -i).Format(config.DayLayout)
		p.logger.Info("Processing day.", slog.String("day", day), slog.Int("n", i+1), slog.Int("of", days))

		rep, err := p.RunDay(ctx, day, opts)
		if rep != nil {
			reports = append(reports, rep)
		}
		if err != nil {
			p.logger.Error("Day failed.", slog.String("day", day), "error", err)
			p.metrics.ObserveDay(observability.OutcomeFailed)
			errs = append(errs, fmt.Errorf("day %s: %w", day, err))
			continue
		}
		p.metrics.ObserveDay(observability.OutcomeOK)
		p.logger.Info("Finished day.", slog.String("day", day), slog.Int("failed_items", rep.FailedItems()))
	}
	return reports, errors.Join(errs...)
}

// RunDay runs every phase for one day and then cleans up and archives it.
// Per-item failures end up in the report; the error is reserved for problems
// that stop the day as a whole.
func (p *Pipeline) RunDay(ctx context.Context, day string, opts RunOptions) (*Report, error) {
	l := p.logger.With(slog.String("day", day))
	format := opts.Format
	if format == "" {
		format = p.cfg.OutputFormat
	}
	dirs := layoutFor(p.cfg.DayDir(day))
	for _, d := range []string{dirs.compressed, dirs.decompressed, dirs.csv, dirs.partitions} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", d, err)
		}
	}

	rep := newReport(day)
	p.logEvent(ctx, l, db.Event{Day: day, Filename: day, FileType: db.FileTypeDay, Event: db.EventDayStart})

	// --- Phase 1: fetch ---
	l.Info("Phase 1: Fetching snapshots...")
	descs := fetch.Enumerate(day, dirs.compressed, p.cfg.URLTemplate)
	st := p.beginStage(rep, day, StageFetch, len(descs))
	fetched := p.fetcher.Fetch(ctx, descs, func(r fetch.Result) {
		p.progress.ItemDone(day, StageFetch, r.Name, r.Err)
	})
	events := make([]db.Event, 0, len(fetched))
	for _, r := range fetched {
		ev := db.Event{Day: day, Filename: r.Name, FileType: db.FileTypeGz, Bytes: r.Bytes, Duration: r.Duration}
		switch r.Status {
		case fetch.Fetched:
			st.add(r.Name, observability.OutcomeOK, nil)
			ev.Event = db.EventFetchEnd
		case fetch.Skipped:
			st.add(r.Name, observability.OutcomeSkipped, nil)
			ev.Event = db.EventSkipFetch
		default:
			st.add(r.Name, observability.OutcomeFailed, r.Err)
			ev.Event, ev.Message = db.EventError, errString(r.Err)
		}
		events = append(events, ev)
	}
	p.endStage(ctx, l, day, st, events)
	if err := ctx.Err(); err != nil {
		return rep, err
	}

	// --- Phase 2: decompress ---
	l.Info("Phase 2: Decompressing snapshots...")
	st = p.beginStage(rep, day, StageDecompress, countFiles(dirs.compressed, "*.xml.gz"))
	inflated, err := decompress.Decompress(ctx, dirs.compressed, dirs.decompressed, l, p.metrics, func(r decompress.Result) {
		p.progress.ItemDone(day, StageDecompress, filepath.Base(r.Source), r.Err)
	})
	events = events[:0]
	for _, r := range inflated {
		name := filepath.Base(r.Dest)
		ev := db.Event{Day: day, Filename: name, FileType: db.FileTypeXML, Bytes: r.Bytes}
		switch r.Status {
		case decompress.Decompressed:
			st.add(name, observability.OutcomeOK, nil)
			ev.Event = db.EventDecompressEnd
		case decompress.Skipped:
			st.add(name, observability.OutcomeSkipped, nil)
			ev.Event = db.EventSkipDecompress
		default:
			st.add(name, observability.OutcomeFailed, r.Err)
			ev.Event, ev.Message = db.EventError, errString(r.Err)
		}
		events = append(events, ev)
	}
	p.endStage(ctx, l, day, st, events)
	if err != nil {
		return rep, fmt.Errorf("decompress: %w", err)
	}

	// --- Phase 3: transform ---
	l.Info("Phase 3: Transforming snapshots to tables...", slog.Int("workers", p.cfg.ParseWorkers))
	st = p.beginStage(rep, day, StageTransform, countFiles(dirs.decompressed, "*.xml"))
	transformed, err := transform.TransformDir(ctx, dirs.decompressed, dirs.csv, p.cfg.ParseWorkers, l, p.metrics, func(r transform.Result) {
		p.progress.ItemDone(day, StageTransform, filepath.Base(r.Source), r.Err)
	})
	events = events[:0]
	for _, r := range transformed {
		name := filepath.Base(r.Dest)
		ev := db.Event{Day: day, Filename: name, FileType: db.FileTypeCSV, Duration: r.Duration}
		switch r.Status {
		case transform.Transformed:
			st.add(name, observability.OutcomeOK, nil)
			ev.Event, ev.Message = db.EventTransformEnd, fmt.Sprintf("rows=%d", r.Rows)
		case transform.Skipped:
			st.add(name, observability.OutcomeSkipped, nil)
			ev.Event = db.EventSkipTransform
		default:
			st.add(filepath.Base(r.Source), observability.OutcomeFailed, r.Err)
			ev.Filename, ev.FileType = filepath.Base(r.Source), db.FileTypeXML
			ev.Event, ev.Message = db.EventError, errString(r.Err)
		}
		events = append(events, ev)
	}
	p.endStage(ctx, l, day, st, events)
	if err != nil {
		return rep, fmt.Errorf("transform: %w", err)
	}

	// --- Phase 4: combine ---
	l.Info("Phase 4: Combining snapshot tables...")
	st = p.beginStage(rep, day, StageCombine, countFiles(dirs.csv, "*.csv"))
	combined, read, err := table.Combine(ctx, dirs.csv, l, p.metrics, func(r table.Result) {
		p.progress.ItemDone(day, StageCombine, filepath.Base(r.Path), r.Err)
	})
	events = events[:0]
	for _, r := range read {
		name := filepath.Base(r.Path)
		if r.Err != nil {
			st.add(name, observability.OutcomeFailed, r.Err)
			events = append(events, db.Event{Day: day, Filename: name, FileType: db.FileTypeCSV, Event: db.EventError, Message: errString(r.Err)})
			continue
		}
		st.add(name, observability.OutcomeOK, nil)
	}
	if err == nil {
		rep.Rows, rep.Columns = combined.Len(), len(combined.Columns)
		events = append(events, db.Event{Day: day, Filename: day, FileType: db.FileTypeDay, Event: db.EventCombineEnd,
			Message: fmt.Sprintf("rows=%d columns=%d", rep.Rows, rep.Columns)})
	}
	p.endStage(ctx, l, day, st, events)
	if err != nil {
		return rep, fmt.Errorf("combine: %w", err)
	}
	l.Info("Combined table built.", slog.Int("rows", rep.Rows), slog.Int("columns", rep.Columns))

	// --- Phase 5: partition ---
	groups := partition.Split(combined, partition.KeyColumn)
	rep.Devices = len(groups)
	l.Info("Phase 5: Writing device partitions...", slog.Int("devices", len(groups)), slog.String("format", format))
	st = p.beginStage(rep, day, StagePartition, len(groups))
	written, err := partition.Write(ctx, groups, dirs.partitions, format, l, p.metrics, func(r partition.Result) {
		p.progress.ItemDone(day, StagePartition, r.Key, r.Err)
	})
	events = events[:0]
	for _, r := range written {
		name := filepath.Base(r.Path)
		ev := db.Event{Day: day, Filename: name, FileType: db.FileTypeVDID}
		if r.Err != nil {
			st.add(r.Key, observability.OutcomeFailed, r.Err)
			ev.Event, ev.Message = db.EventError, errString(r.Err)
		} else {
			st.add(r.Key, observability.OutcomeOK, nil)
			ev.Event, ev.Message = db.EventPartitionEnd, fmt.Sprintf("rows=%d", r.Rows)
		}
		events = append(events, ev)
	}
	p.endStage(ctx, l, day, st, events)

	// The combined table is the largest allocation of the day; drop it before
	// the next day starts.
	combined, groups = nil, nil
	runtime.GC()
	if err != nil {
		return rep, fmt.Errorf("partition: %w", err)
	}

	rep.FinishedAt = time.Now().UTC()
	if _, err := rep.WriteFile(dirs.root); err != nil {
		l.Warn("Could not write day report.", "error", err)
	}

	// --- Phase 6: cleanup and archive ---
	if err := p.postProcess(ctx, l, day, dirs.root, opts); err != nil {
		return rep, err
	}
	p.logEvent(ctx, l, db.Event{Day: day, Filename: day, FileType: db.FileTypeDay, Event: db.EventDayEnd,
		Message:  fmt.Sprintf("rows=%d devices=%d failed_items=%d", rep.Rows, rep.Devices, rep.FailedItems()),
		Duration: rep.FinishedAt.Sub(rep.StartedAt)})
	return rep, nil
}

func (p *Pipeline) postProcess(ctx context.Context, l *slog.Logger, day, dayDir string, opts RunOptions) error {
	l.Info("Phase 6: Cleaning up intermediates...",
		slog.Bool("keep_gz", opts.Retention.KeepGz),
		slog.Bool("keep_xml", opts.Retention.KeepXML),
		slog.Bool("keep_csv", opts.Retention.KeepCSV))
	removed, err := archive.Cleanup(dayDir, opts.Retention)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	l.Debug("Removed intermediate folders.", "paths", removed)

	if opts.NoZip {
		l.Info("Skipping archive (--no-zip).")
		return nil
	}
	zipPath, err := archive.ZipDay(dayDir, true)
	if err != nil {
		return fmt.Errorf("archive: %w", err)
	}
	l.Info("Day archived.", slog.String("zip", zipPath))
	p.logEvent(ctx, l, db.Event{Day: day, Filename: filepath.Base(zipPath), FileType: db.FileTypeZip, Event: db.EventArchiveEnd})
	return nil
}

func (p *Pipeline) beginStage(rep *Report, day, stage string, total int) *StageReport {
	p.progress.StageStarted(day, stage, total)
	return rep.begin(stage)
}

func (p *Pipeline) endStage(ctx context.Context, l *slog.Logger, day string, st *StageReport, events []db.Event) {
	elapsed := time.Since(st.started)
	st.DurationMs = elapsed.Milliseconds()
	p.progress.StageFinished(day, st.Stage)
	p.metrics.ObserveStage(st.Stage, elapsed)

	if err := p.ledger.AppendEvents(ctx, events); err != nil {
		l.Warn("Failed to record stage events in ledger.", "stage", st.Stage, "error", err)
	}
	attrs := []any{
		slog.String("stage", st.Stage),
		slog.Int("ok", st.OK),
		slog.Int("skipped", st.Skipped),
		slog.Int("failed", st.Failed),
		slog.Duration("duration", elapsed.Round(time.Millisecond)),
	}
	if st.Failed > 0 {
		l.Warn("Stage completed with failures.", attrs...)
		return
	}
	l.Info("Stage completed.", attrs...)
}

func (p *Pipeline) logEvent(ctx context.Context, l *slog.Logger, e db.Event) {
	if err := p.ledger.LogEvent(ctx, e); err != nil {
		l.Warn("Failed to record event in ledger.", "event", e.Event, "error", err)
	}
}

func countFiles(dir, pattern string) int {
	matches, _ := filepath.Glob(filepath.Join(dir, pattern))
	return len(matches)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
