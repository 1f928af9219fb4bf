package fetch

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/brensch/vdparquet/internal/config"
)

const userAgent = "vdparquet/0.1 (+https://github.com/brensch/vdparquet)"

// Options tunes the transfer pool.
type Options struct {
	Workers      int
	MinFileSize  int64
	Timeout      time.Duration // per attempt, body included
	Retries      int           // transport-level retries after the first attempt
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// OptionsFromConfig maps the application settings onto transfer options.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		Workers:      cfg.FetchWorkers,
		MinFileSize:  cfg.MinFileSize,
		Timeout:      cfg.FetchTimeout,
		Retries:      cfg.FetchRetries,
		RetryWaitMin: 500 * time.Millisecond,
		RetryWaitMax: 5 * time.Second,
	}
}

// newClient builds a retrying client whose connection pool matches the
// worker count, so every worker can hold one keep-alive connection.
func newClient(opts Options, logger *slog.Logger) *retryablehttp.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.MaxIdleConns = opts.Workers
	transport.MaxIdleConnsPerHost = opts.Workers
	transport.MaxConnsPerHost = opts.Workers

	client := retryablehttp.NewClient()
	client.HTTPClient = &http.Client{Timeout: opts.Timeout, Transport: transport}
	client.RetryMax = opts.Retries
	client.RetryWaitMin = opts.RetryWaitMin
	client.RetryWaitMax = opts.RetryWaitMax
	client.Logger = logger // *slog.Logger satisfies retryablehttp.LeveledLogger
	// Hand the last response back so download can wrap ErrStatus.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	return client
}
