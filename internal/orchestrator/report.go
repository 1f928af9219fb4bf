package orchestrator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/brensch/vdparquet/internal/observability"
)

// ReportFileName is written into each day folder.
const ReportFileName = "report.json"

// Failure is one item that did not make it through a stage.
type Failure struct {
	Item   string `json:"item"`
	Reason string `json:"reason"`
}

// StageReport tallies one stage of one day.
type StageReport struct {
	Stage      string    `json:"stage"`
	OK         int       `json:"ok"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Failures   []Failure `json:"failures,omitempty"`
	DurationMs int64     `json:"duration_ms"`

	started time.Time
}

func (s *StageReport) add(item, outcome string, err error) {
	switch outcome {
	case observability.OutcomeOK:
		s.OK++
	case observability.OutcomeSkipped:
		s.Skipped++
	default:
		s.Failed++
		reason := "unknown"
		if err != nil {
			reason = err.Error()
		}
		s.Failures = append(s.Failures, Failure{Item: item, Reason: reason})
	}
}

// Report is the machine-readable outcome of one day.
type Report struct {
	Day        string         `json:"day"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Rows       int            `json:"rows"`
	Columns    int            `json:"columns"`
	Devices    int            `json:"devices"`
	Stages     []*StageReport `json:"stages"`
}

func newReport(day string) *Report {
	return &Report{Day: day, StartedAt: time.Now().UTC()}
}

func (r *Report) begin(stage string) *StageReport {
	s := &StageReport{Stage: stage, started: time.Now()}
	r.Stages = append(r.Stages, s)
	return s
}

// Stage returns the named stage, or nil.
func (r *Report) Stage(name string) *StageReport {
	for _, s := range r.Stages {
		if s.Stage == name {
			return s
		}
	}
	return nil
}

// FailedItems is the total of failed items across stages.
func (r *Report) FailedItems() int {
	n := 0
	for _, s := range r.Stages {
		n += s.Failed
	}
	return n
}

// WriteFile stores the report as indented JSON in dir.
func (r *Report) WriteFile(dir string) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(dir, ReportFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	return path, nil
}
