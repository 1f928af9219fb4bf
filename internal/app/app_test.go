package app

import (
	"bytes"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"unicode/utf8"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestModelTracksStage(t *testing.T) {
	m := NewModel("vdparquet")
	m.Update(StageStartedMsg{Day: "20240530", Stage: "fetch", Total: 4})
	m.Update(ItemDoneMsg{Day: "20240530", Stage: "fetch", Item: "VDLive_0000.xml.gz"})
	m.Update(ItemDoneMsg{Day: "20240530", Stage: "fetch", Item: "VDLive_0001.xml.gz", Err: errors.New("404")})
	m.Update(ItemDoneMsg{Day: "20240529", Stage: "fetch", Item: "stale"})

	assert.Equal(t, Running, m.State)
	assert.InDelta(t, 0.5, m.Percent(), 1e-9)

	view := m.View()
	assert.Contains(t, view, "20240530")
	assert.Contains(t, view, "fetch")
	assert.Contains(t, view, "2/4")
	assert.Contains(t, view, "VDLive_0001.xml.gz: 404")

	m.Update(StageFinishedMsg{Day: "20240530", Stage: "fetch"})
	assert.InDelta(t, 1.0, m.Percent(), 1e-9)
}

func TestModelKeepsRecentFailures(t *testing.T) {
	m := NewModel("vdparquet")
	m.Update(StageStartedMsg{Day: "d", Stage: "transform", Total: 10})
	for i := 0; i < 8; i++ {
		m.Update(ItemDoneMsg{Day: "d", Stage: "transform", Item: string(rune('a' + i)), Err: errors.New("bad")})
	}
	assert.Len(t, m.failures, maxFailures)
	assert.Contains(t, m.failures[maxFailures-1], "transform/h")
}

func TestViewTruncatesFailuresByRune(t *testing.T) {
	m := NewModel("vdparquet")
	m.Update(tea.WindowSizeMsg{Width: 20, Height: 10})
	m.Update(StageStartedMsg{Day: "d", Stage: "fetch", Total: 1})
	m.Update(ItemDoneMsg{Day: "d", Stage: "fetch", Item: "x", Err: errors.New("國道一號車輛偵測器逾時")})

	view := m.View()
	assert.True(t, utf8.ValidString(view))
	assert.Contains(t, view, "...")

	assert.Equal(t, "國道...", truncateRunes("國道一號車輛", 5))
	assert.Equal(t, "short", truncateRunes("short", 5))
}

func TestModelQuits(t *testing.T) {
	m := NewModel("vdparquet")
	_, cmd := m.Update(RunFinishedMsg{})
	require.NotNil(t, cmd)
	assert.Equal(t, Finished, m.State)
	assert.Contains(t, m.View(), "All days processed.")

	m = NewModel("vdparquet")
	_, cmd = m.Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	require.NotNil(t, cmd)
	assert.Equal(t, Exiting, m.State)
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []tea.Msg
}

func (s *recordingSender) Send(msg tea.Msg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = append(s.msgs, msg)
}

func TestTUIReporterForwards(t *testing.T) {
	s := &recordingSender{}
	r := NewTUIReporter(s)
	r.StageStarted("d", "fetch", 2)
	r.ItemDone("d", "fetch", "x", nil)
	r.StageFinished("d", "fetch")

	require.Len(t, s.msgs, 3)
	assert.Equal(t, StageStartedMsg{Day: "d", Stage: "fetch", Total: 2}, s.msgs[0])
	assert.Equal(t, ItemDoneMsg{Day: "d", Stage: "fetch", Item: "x"}, s.msgs[1])
	assert.Equal(t, StageFinishedMsg{Day: "d", Stage: "fetch"}, s.msgs[2])
}

func TestLogReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewLogReporter(slog.New(slog.NewTextHandler(&buf, nil)))
	r.StageStarted("20240530", "fetch", 20)
	for i := 0; i < 20; i++ {
		var err error
		if i%5 == 0 {
			err = errors.New("boom")
		}
		r.ItemDone("20240530", "fetch", "x", err)
	}
	r.StageFinished("20240530", "fetch")

	out := buf.String()
	assert.Contains(t, out, "msg=Progress")
	assert.Contains(t, out, `msg="Stage finished."`)
	assert.Contains(t, out, "failed=4")
}
