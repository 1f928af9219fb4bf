package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"gopkg.in/yaml.v3"
)

// Default snapshot archive. {date} is YYYYMMDD, {hhmm} the zero-padded minute.
const DefaultURLTemplate = "https://tisvcloud.freeway.gov.tw/history/motc20/VD/{date}/VDLive_{hhmm}.xml.gz"

const (
	DefaultBaseDir      = "/data"
	DefaultTimezone     = "Asia/Taipei"
	DefaultFetchWorkers = 8
	DefaultParseWorkers = 16
	DefaultMinFileSize  = 1024
	DefaultFetchTimeout = 30 * time.Second
	DefaultFetchRetries = 3
	DefaultOutputFormat = FormatCSV

	// StateDisabled turns the run ledger off entirely.
	StateDisabled = "none"
	stateFileName = "vdparquet_state.duckdb"
)

// Partition output formats.
const (
	FormatCSV     = "csv"
	FormatParquet = "parquet"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config holds application settings. Components receive it (or fields of it)
// explicitly; nothing below cmd/ reads the environment.
type Config struct {
	BaseDir      string        `yaml:"base_dir"`
	Timezone     string        `yaml:"timezone"`
	FetchWorkers int           `yaml:"fetch_workers"`
	ParseWorkers int           `yaml:"parse_workers"`
	MinFileSize  int64         `yaml:"min_file_size"`
	URLTemplate  string        `yaml:"url_template"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	FetchRetries int           `yaml:"fetch_retries"`
	StatePath    string        `yaml:"state_db"`
	OutputFormat string        `yaml:"output_format"`
	MetricsFile  string        `yaml:"metrics_file"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		BaseDir:      DefaultBaseDir,
		Timezone:     DefaultTimezone,
		FetchWorkers: DefaultFetchWorkers,
		ParseWorkers: DefaultParseWorkers,
		MinFileSize:  DefaultMinFileSize,
		URLTemplate:  DefaultURLTemplate,
		FetchTimeout: DefaultFetchTimeout,
		FetchRetries: DefaultFetchRetries,
		OutputFormat: DefaultOutputFormat,
	}
}

// Load resolves defaults, then the optional YAML file at path, then the
// environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalid, key, v))
				return
			}
			*dst = n
		}
	}

	str("BASE_DIR", &cfg.BaseDir)
	str("TIMEZONE", &cfg.Timezone)
	integer("MAX_DL_WORKERS", &cfg.FetchWorkers)
	integer("MAX_PARSE_WORKERS", &cfg.ParseWorkers)
	integer("FETCH_RETRIES", &cfg.FetchRetries)
	str("VD_URL_TEMPLATE", &cfg.URLTemplate)
	str("STATE_DB", &cfg.StatePath)
	str("OUTPUT_FORMAT", &cfg.OutputFormat)
	str("METRICS_FILE", &cfg.MetricsFile)

	if v, ok := os.LookupEnv("MIN_FILE_SIZE"); ok && v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: MIN_FILE_SIZE=%q is not an integer", ErrInvalid, v))
		} else {
			cfg.MinFileSize = n
		}
	}
	if v, ok := os.LookupEnv("FETCH_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: FETCH_TIMEOUT=%q: %v", ErrInvalid, v, err))
		} else {
			cfg.FetchTimeout = d
		}
	}
	return errors.Join(errs...)
}

// Validate checks the settings the pipeline depends on.
func (c Config) Validate() error {
	var errs []error
	if c.BaseDir == "" {
		errs = append(errs, fmt.Errorf("%w: base dir is empty", ErrInvalid))
	}
	if c.FetchWorkers < 1 {
		errs = append(errs, fmt.Errorf("%w: fetch workers must be positive, got %d", ErrInvalid, c.FetchWorkers))
	}
	if c.ParseWorkers < 1 {
		errs = append(errs, fmt.Errorf("%w: parse workers must be positive, got %d", ErrInvalid, c.ParseWorkers))
	}
	if c.MinFileSize < 0 {
		errs = append(errs, fmt.Errorf("%w: min file size must not be negative", ErrInvalid))
	}
	if c.FetchRetries < 0 {
		errs = append(errs, fmt.Errorf("%w: fetch retries must not be negative", ErrInvalid))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("%w: fetch timeout must be positive", ErrInvalid))
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("%w: timezone %q: %v", ErrInvalid, c.Timezone, err))
	}
	switch c.OutputFormat {
	case FormatCSV, FormatParquet:
	default:
		errs = append(errs, fmt.Errorf("%w: unknown output format %q", ErrInvalid, c.OutputFormat))
	}
	if !strings.Contains(c.URLTemplate, "{date}") || !strings.Contains(c.URLTemplate, "{hhmm}") {
		errs = append(errs, fmt.Errorf("%w: url template must contain {date} and {hhmm}", ErrInvalid))
	}
	return errors.Join(errs...)
}

// Location returns the configured timezone.
func (c Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// DayDir is the working folder of one day.
func (c Config) DayDir(day string) string {
	return filepath.Join(c.BaseDir, day)
}

// LedgerPath resolves where the DuckDB run ledger lives. An empty result
// means the ledger is disabled.
func (c Config) LedgerPath() string {
	switch c.StatePath {
	case StateDisabled:
		return ""
	case "":
		return filepath.Join(c.BaseDir, stateFileName)
	default:
		return c.StatePath
	}
}

// Yesterday returns the previous calendar day in loc as YYYYMMDD.
func Yesterday(clock clockwork.Clock, loc *time.Location) string {
	return clock.Now().In(loc).AddDate(0, 0, -1).Format(DayLayout)
}

// DayLayout is the folder and URL form of a day.
const DayLayout = "20060102"
