package app

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const maxFailures = 5

var (
	titleStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	stageStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	okStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("244"))
	progressStyle = lipgloss.NewStyle().Padding(0, 1)
)

// Model renders pipeline progress: one bar for the current stage plus a
// short list of recent failures.
type Model struct {
	State AppState
	Err   error

	title    string
	spinner  spinner.Model
	bar      progress.Model
	day      string
	stage    string
	total    int
	done     int
	failed   int
	failures []string
	width    int
}

// NewModel returns a model showing title.
func NewModel(title string) *Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))
	return &Model{
		State:   Waiting,
		title:   title,
		spinner: s,
		bar:     progress.New(progress.WithDefaultGradient()),
	}
}

func (m *Model) Init() tea.Cmd {
	return m.spinner.Tick
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.State = Exiting
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.bar.Width = max(10, msg.Width-20)
	case StageStartedMsg:
		m.State = Running
		m.day, m.stage, m.total = msg.Day, msg.Stage, msg.Total
		m.done, m.failed = 0, 0
	case ItemDoneMsg:
		if msg.Stage != m.stage || msg.Day != m.day {
			return m, nil
		}
		m.done++
		if msg.Err != nil {
			m.failed++
			m.failures = append(m.failures, fmt.Sprintf("%s %s/%s: %v", msg.Day, msg.Stage, msg.Item, msg.Err))
			if len(m.failures) > maxFailures {
				m.failures = m.failures[len(m.failures)-maxFailures:]
			}
		}
	case StageFinishedMsg:
		if msg.Stage == m.stage && msg.Day == m.day {
			m.done = max(m.done, m.total)
		}
	case RunFinishedMsg:
		m.State = Finished
		m.Err = msg.Err
		return m, tea.Quit
	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}
	return m, nil
}

// Percent is the completed share of the current stage.
func (m *Model) Percent() float64 {
	if m.total <= 0 {
		return 0
	}
	return min(float64(m.done)/float64(m.total), 1)
}

func (m *Model) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n\n")

	switch m.State {
	case Waiting:
		b.WriteString(m.spinner.View() + " Starting...\n")
	case Running:
		fmt.Fprintf(&b, "%s Day %s  %s\n", m.spinner.View(), m.day, stageStyle.Render(m.stage))
		b.WriteString(progressStyle.Render(m.bar.ViewAs(m.Percent())))
		fmt.Fprintf(&b, " %d/%d  %s  %s\n", m.done, m.total,
			okStyle.Render(fmt.Sprintf("ok %d", m.done-m.failed)),
			errorStyle.Render(fmt.Sprintf("failed %d", m.failed)))
	case Finished:
		if m.Err != nil {
			b.WriteString(errorStyle.Render("Finished with errors: "+m.Err.Error()) + "\n")
		} else {
			b.WriteString(okStyle.Render("All days processed.") + "\n")
		}
	case Exiting:
		b.WriteString(infoStyle.Render("Stopping after the current step...") + "\n")
	}

	if len(m.failures) > 0 {
		b.WriteString("\n" + errorStyle.Render("Recent failures:") + "\n")
		for _, f := range m.failures {
			if m.width > 10 {
				f = truncateRunes(f, m.width-4)
			}
			b.WriteString("  " + f + "\n")
		}
	}
	if m.State == Running || m.State == Waiting {
		b.WriteString("\n" + infoStyle.Render("'q' or Ctrl+C to stop."))
	}
	return b.String()
}

// truncateRunes shortens s to at most n runes, marking the cut with "...".
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
