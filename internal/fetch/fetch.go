package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/errgroup"

	"github.com/brensch/vdparquet/internal/observability"
)

// MinutesPerDay is the number of snapshots the archive publishes per day.
const MinutesPerDay = 24 * 60

const stageName = "fetch"

var (
	// ErrUndersized marks a transfer that completed but was too small to be a
	// real snapshot (the archive serves tiny error bodies for missing minutes).
	ErrUndersized = errors.New("file below minimum size")
	// ErrStatus marks a final non-200 response.
	ErrStatus = errors.New("unexpected http status")
)

// Status is the outcome of one transfer.
type Status int

const (
	Fetched Status = iota
	Skipped
	Failed
)

func (s Status) String() string {
	switch s {
	case Fetched:
		return "fetched"
	case Skipped:
		return "skipped"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Descriptor names one remote snapshot and where it is stored.
type Descriptor struct {
	URL    string
	Dest   string
	Name   string // VDLive_HHMM.xml.gz
	Minute string // HHMM
}

// Result is the per-resource outcome of Fetch.
type Result struct {
	Descriptor
	Status   Status
	Bytes    int64
	Err      error
	Duration time.Duration
}

// Enumerate returns the 1440 snapshot descriptors of day, minute 0000 first.
func Enumerate(day, dir, template string) []Descriptor {
	descs := make([]Descriptor, 0, MinutesPerDay)
	for m := 0; m < MinutesPerDay; m++ {
		hhmm := fmt.Sprintf("%02d%02d", m/60, m%60)
		name := "VDLive_" + hhmm + ".xml.gz"
		descs = append(descs, Descriptor{
			URL:    strings.NewReplacer("{date}", day, "{hhmm}", hhmm).Replace(template),
			Dest:   filepath.Join(dir, name),
			Name:   name,
			Minute: hhmm,
		})
	}
	return descs
}

// Scheduler downloads descriptors through a bounded pool of workers.
type Scheduler struct {
	client  *retryablehttp.Client
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewScheduler builds a Scheduler. metrics may be nil.
func NewScheduler(opts Options, logger *slog.Logger, metrics *observability.Metrics) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		client:  newClient(opts, logger),
		opts:    opts,
		logger:  logger,
		metrics: metrics,
	}
}

// Fetch transfers every descriptor and returns one Result per descriptor, in
// the same order. notify, if set, is called from worker goroutines as each
// item completes.
func (s *Scheduler) Fetch(ctx context.Context, descs []Descriptor, notify func(Result)) []Result {
	results := make([]Result, len(descs))

	var g errgroup.Group
	g.SetLimit(s.opts.Workers)
	for i, d := range descs {
		i, d := i, d
		g.Go(func() error {
			res := s.fetchOne(ctx, d)
			results[i] = res
			s.record(res)
			if notify != nil {
				notify(res)
			}
			return nil
		})
	}
	_ = g.Wait() // workers never return errors; failures live in results

	return results
}

func (s *Scheduler) record(res Result) {
	l := s.logger.With(slog.String("file", res.Name))
	switch res.Status {
	case Fetched:
		l.Debug("Fetched snapshot.", slog.Int64("bytes", res.Bytes), slog.Duration("duration", res.Duration))
		s.metrics.ObserveItem(stageName, observability.OutcomeOK)
	case Skipped:
		l.Debug("Snapshot already present, skipping.")
		s.metrics.ObserveItem(stageName, observability.OutcomeSkipped)
	case Failed:
		l.Warn("Snapshot fetch failed.", "url", res.URL, "error", res.Err)
		s.metrics.ObserveItem(stageName, observability.OutcomeFailed)
	}
}

func (s *Scheduler) fetchOne(ctx context.Context, d Descriptor) Result {
	start := time.Now()
	res := Result{Descriptor: d}

	if _, err := os.Stat(d.Dest); err == nil {
		res.Status = Skipped
		return res
	}
	if err := ctx.Err(); err != nil {
		res.Status = Failed
		res.Err = err
		return res
	}

	n, err := s.download(ctx, d)
	res.Bytes = n
	res.Duration = time.Since(start)
	if err != nil {
		res.Status = Failed
		res.Err = err
		return res
	}
	res.Status = Fetched
	return res
}

// download streams the body into <dest>.part and renames it into place once
// the copy and size check succeed. The destination never exists partially.
func (s *Scheduler) download(ctx context.Context, d Descriptor) (int64, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, d.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create request for %s: %w", d.URL, err)
	}
	req.Header.Set("User-Agent", userAgent)

	// After the last retry both resp and err may be set; the status wins.
	resp, err := s.client.Do(req)
	if resp == nil {
		return 0, fmt.Errorf("get %s: %w", d.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return 0, fmt.Errorf("%w '%s' fetching %s: %s", ErrStatus, resp.Status, d.URL, strings.TrimSpace(string(snippet)))
	}

	tmp := d.Dest + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", tmp, err)
	}
	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("write %s: %w", d.Dest, err)
	}
	if n < s.opts.MinFileSize {
		os.Remove(tmp)
		return n, fmt.Errorf("%w: %s is %d bytes, minimum %d", ErrUndersized, d.Name, n, s.opts.MinFileSize)
	}
	if err := os.Rename(tmp, d.Dest); err != nil {
		os.Remove(tmp)
		return n, fmt.Errorf("rename %s: %w", tmp, err)
	}
	return n, nil
}

// Summary counts results per status.
type Summary struct {
	Fetched int
	Skipped int
	Failed  int
}

// Summarize tallies results.
func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case Fetched:
			s.Fetched++
		case Skipped:
			s.Skipped++
		case Failed:
			s.Failed++
		}
	}
	return s
}
