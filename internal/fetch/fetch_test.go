package fetch

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/vdparquet/internal/observability"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testOptions() Options {
	return Options{
		Workers:      8,
		MinFileSize:  1024,
		Timeout:      5 * time.Second,
		Retries:      2,
		RetryWaitMin: time.Millisecond,
		RetryWaitMax: 5 * time.Millisecond,
	}
}

func TestEnumerate(t *testing.T) {
	descs := Enumerate("20240530", "/data/20240530/compressed", "https://host/VD/{date}/VDLive_{hhmm}.xml.gz")
	require.Len(t, descs, MinutesPerDay)

	urls := make(map[string]bool)
	dests := make(map[string]bool)
	for _, d := range descs {
		urls[d.URL] = true
		dests[d.Dest] = true
	}
	assert.Len(t, urls, MinutesPerDay, "urls must be unique")
	assert.Len(t, dests, MinutesPerDay, "destinations must be unique")

	assert.Equal(t, "https://host/VD/20240530/VDLive_0000.xml.gz", descs[0].URL)
	assert.Equal(t, "/data/20240530/compressed/VDLive_0000.xml.gz", descs[0].Dest)
	assert.Equal(t, "0000", descs[0].Minute)
	assert.Equal(t, "VDLive_0001.xml.gz", descs[1].Name)
	assert.Equal(t, "https://host/VD/20240530/VDLive_2359.xml.gz", descs[MinutesPerDay-1].URL)
}

func TestFetchOutcomes(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 2048)
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		switch {
		case strings.HasSuffix(r.URL.Path, "_0003.xml.gz"):
			http.NotFound(w, r)
		case strings.HasSuffix(r.URL.Path, "_0001.xml.gz"):
			w.Write([]byte("tiny"))
		default:
			w.Write(payload)
		}
	}))
	defer srv.Close()

	dir := t.TempDir()
	descs := Enumerate("20240530", dir, srv.URL+"/{date}/VDLive_{hhmm}.xml.gz")[:5]

	metrics := observability.NewMetricsForTesting()
	s := NewScheduler(testOptions(), discardLogger(), metrics)

	var notified atomic.Int64
	results := s.Fetch(context.Background(), descs, func(Result) { notified.Add(1) })
	require.Len(t, results, 5)
	assert.EqualValues(t, 5, notified.Load())

	assert.Equal(t, Fetched, results[0].Status)
	assert.EqualValues(t, 2048, results[0].Bytes)

	assert.Equal(t, Failed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, ErrUndersized)
	assert.NoFileExists(t, descs[1].Dest)

	assert.Equal(t, Failed, results[3].Status)
	assert.ErrorIs(t, results[3].Err, ErrStatus)
	assert.NoFileExists(t, descs[3].Dest)

	assert.Equal(t, Summary{Fetched: 3, Failed: 2}, Summarize(results))
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.Items.WithLabelValues("fetch", observability.OutcomeOK)))

	for _, d := range descs {
		assert.NoFileExists(t, d.Dest+".part")
		if info, err := os.Stat(d.Dest); err == nil {
			assert.GreaterOrEqual(t, info.Size(), int64(1024))
		}
	}
}

func TestFetchIsIdempotent(t *testing.T) {
	payload := bytes.Repeat([]byte("v"), 1500)
	var requests atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	dir := t.TempDir()
	descs := Enumerate("20240530", dir, srv.URL+"/{date}/VDLive_{hhmm}.xml.gz")
	s := NewScheduler(testOptions(), discardLogger(), nil)

	first := Summarize(s.Fetch(context.Background(), descs, nil))
	assert.Equal(t, MinutesPerDay, first.Fetched)
	assert.EqualValues(t, MinutesPerDay, requests.Load())

	second := Summarize(s.Fetch(context.Background(), descs, nil))
	assert.Equal(t, MinutesPerDay, second.Skipped)
	assert.EqualValues(t, MinutesPerDay, requests.Load(), "a complete directory must cause no requests")
}

func TestFetchRetriesTransientErrors(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(bytes.Repeat([]byte("r"), 1024))
	}))
	defer srv.Close()

	dir := t.TempDir()
	descs := Enumerate("20240530", dir, srv.URL+"/{date}/VDLive_{hhmm}.xml.gz")[:1]
	results := NewScheduler(testOptions(), discardLogger(), nil).Fetch(context.Background(), descs, nil)

	assert.Equal(t, Fetched, results[0].Status)
	assert.EqualValues(t, 2, attempts.Load())
	assert.FileExists(t, descs[0].Dest)
}

func TestFetchGivesUpAfterRetries(t *testing.T) {
	var attempts atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	descs := Enumerate("20240530", dir, srv.URL+"/{date}/VDLive_{hhmm}.xml.gz")[:1]
	results := NewScheduler(testOptions(), discardLogger(), nil).Fetch(context.Background(), descs, nil)

	assert.Equal(t, Failed, results[0].Status)
	assert.ErrorIs(t, results[0].Err, ErrStatus)
	assert.ErrorContains(t, results[0].Err, "500")
	assert.EqualValues(t, 3, attempts.Load(), "one attempt plus two retries")
	assert.NoFileExists(t, descs[0].Dest)
}

func TestFetchRemovesPartialBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		w.Write(bytes.Repeat([]byte("p"), 100))
	}))
	defer srv.Close()

	dir := t.TempDir()
	descs := Enumerate("20240530", dir, srv.URL+"/{date}/VDLive_{hhmm}.xml.gz")[:1]
	results := NewScheduler(testOptions(), discardLogger(), nil).Fetch(context.Background(), descs, nil)

	assert.Equal(t, Failed, results[0].Status)
	assert.NoFileExists(t, descs[0].Dest)
	assert.NoFileExists(t, descs[0].Dest+".part")
}

func TestFetchCancelledContext(t *testing.T) {
	dir := t.TempDir()
	descs := Enumerate("20240530", dir, "http://127.0.0.1:1/{date}/VDLive_{hhmm}.xml.gz")[:3]
	require.NoError(t, os.WriteFile(filepath.Join(dir, descs[0].Name), bytes.Repeat([]byte("e"), 2048), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := NewScheduler(testOptions(), discardLogger(), nil).Fetch(ctx, descs, nil)

	assert.Equal(t, Skipped, results[0].Status)
	assert.Equal(t, Failed, results[1].Status)
	assert.ErrorIs(t, results[1].Err, context.Canceled)
}
