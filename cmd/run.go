package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/brensch/vdparquet/internal/app"
	"github.com/brensch/vdparquet/internal/archive"
	"github.com/brensch/vdparquet/internal/config"
	"github.com/brensch/vdparquet/internal/observability"
	"github.com/brensch/vdparquet/internal/orchestrator"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/cobra"
)

// Progress modes for --progress.
const (
	progressLog  = "log"
	progressTUI  = "tui"
	progressNone = "none"
)

var (
	runDate         string
	runDays         int
	runKeepGz       bool
	runKeepXML      bool
	runKeepCSV      bool
	runNoZip        bool
	runFormat       string
	runProgress     string
	runFetchWorkers int
	runParseWorkers int
	runMetricsFile  string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the daily pipeline for one or more days",
	Long: `For each day, starting at --date and walking backwards --days times:
1. Downloads the 1440 minute snapshots (skipping ones already on disk).
2. Decompresses them to XML.
3. Flattens every device into one CSV row per snapshot.
4. Combines the day's snapshots into one table.
5. Writes one file per VDID into VDID/.
6. Removes intermediates (unless kept) and zips the day folder (unless --no-zip).
A day that fails is logged and the next one still runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := appConfig
		flags := cmd.Flags()
		if flags.Changed("fetch-workers") {
			cfg.FetchWorkers = runFetchWorkers
		}
		if flags.Changed("parse-workers") {
			cfg.ParseWorkers = runParseWorkers
		}
		if flags.Changed("format") {
			cfg.OutputFormat = runFormat
		}
		if flags.Changed("metrics-file") {
			cfg.MetricsFile = runMetricsFile
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		switch runProgress {
		case progressLog, progressTUI, progressNone:
		default:
			return fmt.Errorf("invalid --progress %q (use log, tui or none)", runProgress)
		}

		start := runDate
		if start == "" {
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			start = config.Yesterday(clockwork.NewRealClock(), loc)
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		logger := getLogger()
		if runProgress == progressTUI && logFile == nil {
			// The TUI owns the terminal.
			path := filepath.Join(cfg.BaseDir, "vdparquet.log")
			if err := os.MkdirAll(cfg.BaseDir, 0o755); err != nil {
				return fmt.Errorf("create base dir: %w", err)
			}
			l, f, err := newLogger(path, logFormat, logLevel)
			if err != nil {
				return err
			}
			logger, logFile = l, f
		}

		metrics := observability.NewMetrics()
		deps := orchestrator.Deps{
			Logger:  logger,
			Ledger:  getLedger(),
			Metrics: metrics,
		}

		var prog *tea.Program
		progDone := make(chan error, 1)
		switch runProgress {
		case progressLog:
			deps.Progress = app.NewLogReporter(logger)
		case progressTUI:
			prog = tea.NewProgram(app.NewModel(fmt.Sprintf("vdparquet %s (%d day(s))", start, runDays)))
			deps.Progress = app.NewTUIReporter(prog)
			go func() {
				_, err := prog.Run()
				// Quitting the TUI stops the run.
				cancel()
				progDone <- err
			}()
		default:
			deps.Progress = app.NopReporter{}
		}

		opts := orchestrator.RunOptions{
			Retention: archive.Retention{KeepGz: runKeepGz, KeepXML: runKeepXML, KeepCSV: runKeepCSV},
			NoZip:     runNoZip,
			Format:    cfg.OutputFormat,
		}
		logger.Info("Starting run.", slog.String("date", start), slog.Int("days", runDays), slog.String("format", opts.Format))
		reports, runErr := orchestrator.New(cfg, deps).RunRange(ctx, start, runDays, opts)

		if prog != nil {
			prog.Send(app.RunFinishedMsg{Err: runErr})
			if err := <-progDone; err != nil {
				logger.Warn("Progress display exited with error.", "error", err)
			}
		}

		if cfg.MetricsFile != "" {
			if err := metrics.WriteTextfile(cfg.MetricsFile); err != nil {
				logger.Error("Failed to write metrics file.", "path", cfg.MetricsFile, "error", err)
			}
		}

		printReports(cmd, reports)
		if runErr != nil {
			if errors.Is(runErr, context.Canceled) {
				return fmt.Errorf("run cancelled: %w", runErr)
			}
			return fmt.Errorf("run finished with failed days: %w", runErr)
		}
		logger.Info("Run completed successfully.")
		return nil
	},
}

func printReports(cmd *cobra.Command, reports []*orchestrator.Report) {
	if len(reports) == 0 {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%-10s | %8s | %8s | %7s | %s\n", "Day", "Rows", "Devices", "Columns", "Failed items")
	for _, r := range reports {
		fmt.Fprintf(w, "%-10s | %8d | %8d | %7d | %d\n", r.Day, r.Rows, r.Devices, r.Columns, r.FailedItems())
	}
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&runDate, "date", "", "First day to process as YYYYMMDD (default: yesterday in the configured timezone)")
	f.IntVar(&runDays, "days", 1, "Number of days to process, walking backwards from --date")
	f.BoolVar(&runKeepGz, "keep-gz", false, "Keep downloaded .xml.gz files")
	f.BoolVar(&runKeepXML, "keep-xml", false, "Keep decompressed XML files")
	f.BoolVar(&runKeepCSV, "keep-csv", false, "Keep per-snapshot CSV files")
	f.BoolVar(&runNoZip, "no-zip", false, "Leave the day folder in place instead of zipping it")
	f.StringVar(&runFormat, "format", config.DefaultOutputFormat, "Partition format (csv or parquet)")
	f.StringVar(&runProgress, "progress", progressLog, "Progress display (log, tui or none)")
	f.IntVar(&runFetchWorkers, "fetch-workers", config.DefaultFetchWorkers, "Concurrent downloads")
	f.IntVar(&runParseWorkers, "parse-workers", config.DefaultParseWorkers, "Concurrent XML transforms")
	f.StringVar(&runMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file when the run ends")
}
