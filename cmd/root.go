package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/brensch/vdparquet/internal/config"
	"github.com/brensch/vdparquet/internal/db"

	_ "github.com/marcboeker/go-duckdb" // DuckDB driver
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	baseDir   string
	statePath string
	logFormat string
	logLevel  string
	logOutput string

	// Populated in PersistentPreRunE.
	rootLogger *slog.Logger
	logFile    *os.File
	dbConn     *sql.DB
	appConfig  config.Config
)

var rootCmd = &cobra.Command{
	Use:   "vdparquet",
	Short: "Fetch Taiwan freeway VD snapshots and turn each day into per-device tables.",
	Long: `vdparquet downloads the minute-by-minute VDLive snapshots published for the
Taiwan freeway network, flattens every detector reading into rows, and writes
one table per vehicle detector (VDID) for each day.

The primary command is 'run'. A DuckDB ledger records every file handled so
that 'state' can show what happened and 'save' can export it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger, f, err := newLogger(logOutput, logFormat, logLevel)
		if err != nil {
			return err
		}
		rootLogger, logFile = logger, f
		slog.SetDefault(rootLogger)
		rootLogger.Debug("Logger initialized", "level", logLevel, "format", logFormat, "output", logOutput)

		appConfig, err = config.Load(cfgFile)
		if err != nil {
			return err
		}
		flags := cmd.Flags()
		if flags.Changed("base-dir") {
			appConfig.BaseDir = baseDir
		}
		if flags.Changed("state-db") {
			appConfig.StatePath = statePath
		}
		rootLogger.Debug("Configuration loaded", slog.Any("config", appConfig))

		path := appConfig.LedgerPath()
		if path == "" {
			rootLogger.Info("Run ledger disabled.")
			return nil
		}
		if path != ":memory:" {
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return fmt.Errorf("failed to create database directory %s: %w", filepath.Dir(path), err)
			}
		}

		rootLogger.Info("Opening run ledger", "path", path)
		dbConn, err = sql.Open("duckdb", path)
		if err != nil {
			return fmt.Errorf("failed to open duckdb database (%s): %w", path, err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err = dbConn.PingContext(pingCtx); err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to ping duckdb database (%s): %w", path, err)
		}
		if err := db.InitializeSchema(dbConn); err != nil {
			dbConn.Close()
			dbConn = nil
			return fmt.Errorf("failed to initialize database schema: %w", err)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		closeResources()
		return nil
	},
}

// Execute runs the root command. It is called once by main.main.
func Execute() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(saveCmd)

	if err := rootCmd.Execute(); err != nil {
		// PostRun is skipped when RunE fails.
		closeResources()
		if rootLogger != nil {
			rootLogger.Error("Command execution failed", "error", err)
		} else {
			fmt.Fprintf(os.Stderr, "Command execution failed: %v\n", err)
		}
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "YAML config file (env vars override it, flags override both)")
	pf.StringVar(&baseDir, "base-dir", config.DefaultBaseDir, "Root folder holding one sub-folder per day")
	pf.StringVar(&statePath, "state-db", "", "DuckDB ledger path (:memory: for in-memory, none to disable; default <base-dir>/vdparquet_state.duckdb)")
	pf.StringVar(&logFormat, "log-format", "text", "Log output format (text or json)")
	pf.StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	pf.StringVar(&logOutput, "log-output", "stderr", "Log output destination (stderr, stdout, or file path)")

	rootCmd.Version = "0.1.0"
}

// newLogger builds the slog handler for the given destination. The returned
// file is nil unless output names a file.
func newLogger(output, format, levelName string) (*slog.Logger, *os.File, error) {
	var level slog.Level
	switch strings.ToLower(levelName) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var w io.Writer = os.Stderr
	var f *os.File
	switch strings.ToLower(output) {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		var err error
		f, err = os.OpenFile(output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file %s: %w", output, err)
		}
		w = f
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler), f, nil
}

func closeResources() {
	if dbConn != nil {
		if err := dbConn.Close(); err != nil {
			getLogger().Error("Failed to close DuckDB connection cleanly", "error", err)
		}
		dbConn = nil
	}
	if logFile != nil {
		logFile.Close()
		logFile = nil
	}
}

func getLogger() *slog.Logger {
	if rootLogger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return rootLogger
}

// getLedger returns nil when the ledger is disabled; a nil *db.Ledger drops writes.
func getLedger() *db.Ledger {
	if dbConn == nil {
		return nil
	}
	return db.NewLedger(dbConn)
}

func requireLedger() (*db.Ledger, error) {
	l := getLedger()
	if l == nil {
		return nil, fmt.Errorf("run ledger is disabled (state db %q)", appConfig.StatePath)
	}
	return l, nil
}
