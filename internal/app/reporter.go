package app

import (
	"log/slog"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

// Reporter receives pipeline progress. Implementations must be safe for
// concurrent ItemDone calls.
type Reporter interface {
	StageStarted(day, stage string, total int)
	ItemDone(day, stage, item string, err error)
	StageFinished(day, stage string)
}

// NopReporter discards progress.
type NopReporter struct{}

func (NopReporter) StageStarted(string, string, int)       {}
func (NopReporter) ItemDone(string, string, string, error) {}
func (NopReporter) StageFinished(string, string)           {}

// LogReporter logs a line every time a stage crosses another tenth of its
// items, and a summary when it finishes.
type LogReporter struct {
	logger *slog.Logger

	mu     sync.Mutex
	total  int
	done   int
	failed int
	nextAt int
}

// NewLogReporter returns a reporter writing to logger.
func NewLogReporter(logger *slog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) StageStarted(day, stage string, total int) {
	r.mu.Lock()
	r.total, r.done, r.failed = total, 0, 0
	r.nextAt = max(total/10, 1)
	r.mu.Unlock()
	r.logger.Debug("Stage started.", "day", day, "stage", stage, "items", total)
}

func (r *LogReporter) ItemDone(day, stage, _ string, err error) {
	r.mu.Lock()
	r.done++
	if err != nil {
		r.failed++
	}
	report := r.done >= r.nextAt && r.done < r.total
	if report {
		r.nextAt += max(r.total/10, 1)
	}
	done, total, failed := r.done, r.total, r.failed
	r.mu.Unlock()

	if report {
		r.logger.Info("Progress", "day", day, "stage", stage, "done", done, "total", total, "failed", failed)
	}
}

func (r *LogReporter) StageFinished(day, stage string) {
	r.mu.Lock()
	done, failed := r.done, r.failed
	r.mu.Unlock()
	r.logger.Info("Stage finished.", "day", day, "stage", stage, "items", done, "failed", failed)
}

// Sender is the part of *tea.Program the TUI reporter needs.
type Sender interface {
	Send(msg tea.Msg)
}

// TUIReporter forwards progress to a running bubbletea program.
type TUIReporter struct {
	p Sender
}

// NewTUIReporter wraps p.
func NewTUIReporter(p Sender) *TUIReporter {
	return &TUIReporter{p: p}
}

func (r *TUIReporter) StageStarted(day, stage string, total int) {
	r.p.Send(StageStartedMsg{Day: day, Stage: stage, Total: total})
}

func (r *TUIReporter) ItemDone(day, stage, item string, err error) {
	r.p.Send(ItemDoneMsg{Day: day, Stage: stage, Item: item, Err: err})
}

func (r *TUIReporter) StageFinished(day, stage string) {
	r.p.Send(StageFinishedMsg{Day: day, Stage: stage})
}
