package tasks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"leafprep/internal/earthengine"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#8BC34A"))
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7a89"))
)

type pollMsg struct {
	done bool
	err  error
}

type tickMsg time.Time

// WatchModel is a bubbletea model showing tracked tasks until all are terminal.
type WatchModel struct {
	ctx      context.Context
	tracker  *Tracker
	interval time.Duration

	spinner spinner.Model
	table   table.Model

	done     bool
	quitting bool
	err      error
	lastPoll time.Time
}

// NewWatchModel creates the watch view for tracker.
func NewWatchModel(ctx context.Context, tracker *Tracker) WatchModel {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = titleStyle

	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "Description", Width: 48},
			{Title: "State", Width: 12},
			{Title: "Asset", Width: 60},
		}),
		table.WithHeight(12),
	)

	m := WatchModel{
		ctx:      ctx,
		tracker:  tracker,
		interval: tracker.interval,
		spinner:  sp,
		table:    t,
	}
	m.syncRows()
	return m
}

// Init starts the spinner and the first poll.
func (m WatchModel) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.poll())
}

func (m WatchModel) poll() tea.Cmd {
	return func() tea.Msg {
		done, err := m.tracker.Refresh(m.ctx)
		return pollMsg{done: done, err: err}
	}
}

func (m WatchModel) scheduleTick() tea.Cmd {
	return tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Update handles messages.
func (m WatchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		}

	case pollMsg:
		m.lastPoll = time.Now()
		m.syncRows()
		if msg.err != nil {
			m.err = msg.err
			return m, tea.Quit
		}
		if msg.done {
			m.done = true
			return m, tea.Quit
		}
		return m, m.scheduleTick()

	case tickMsg:
		return m, m.poll()

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m *WatchModel) syncRows() {
	tasks := m.tracker.Tasks()
	rows := make([]table.Row, 0, len(tasks))
	for _, t := range tasks {
		rows = append(rows, table.Row{t.Description, t.State, t.AssetID})
	}
	m.table.SetRows(rows)
}

// View renders the model.
func (m WatchModel) View() string {
	var b strings.Builder

	tasks := m.tracker.Tasks()
	pending := 0
	var failed []Task
	for _, t := range tasks {
		if !t.Terminal() {
			pending++
		}
		if t.Failed() {
			failed = append(failed, t)
		}
	}

	if m.done {
		b.WriteString(titleStyle.Render("All tasks finished"))
	} else {
		b.WriteString(fmt.Sprintf("%s %s", m.spinner.View(),
			titleStyle.Render(fmt.Sprintf("%d of %d task(s) running", pending, len(tasks)))))
	}
	b.WriteString("\n\n")
	b.WriteString(m.table.View())
	b.WriteString("\n")

	for _, t := range failed {
		b.WriteString(failStyle.Render(fmt.Sprintf("✗ %s %s %s", t.Description, t.State, t.Error)))
		b.WriteString("\n")
	}
	if m.done && len(failed) == 0 {
		b.WriteString(successStyle.Render("✓ no failures"))
		b.WriteString("\n")
	}
	if m.err != nil {
		b.WriteString(failStyle.Render("poll error: " + m.err.Error()))
		b.WriteString("\n")
	}
	if !m.lastPoll.IsZero() {
		b.WriteString(mutedStyle.Render(fmt.Sprintf("last poll %s · q to quit", m.lastPoll.Format("15:04:05"))))
	}
	b.WriteString("\n")
	return b.String()
}

// Err returns the polling error or the task failure once the model has quit.
func (m WatchModel) Err() error {
	if m.err != nil {
		return m.err
	}
	if m.done {
		return m.tracker.Err()
	}
	return nil
}

// Watch runs the TUI until every task is terminal or the user quits.
func Watch(ctx context.Context, tracker *Tracker, opts ...tea.ProgramOption) error {
	final, err := tea.NewProgram(NewWatchModel(ctx, tracker), opts...).Run()
	if err != nil {
		return err
	}
	if m, ok := final.(WatchModel); ok {
		return m.Err()
	}
	return nil
}

// StateStyle colours a state for plain (non-TUI) status output.
func StateStyle(state string) string {
	switch state {
	case earthengine.StateSucceeded:
		return successStyle.Render(state)
	case earthengine.StateFailed, earthengine.StateCancelled:
		return failStyle.Render(state)
	default:
		return mutedStyle.Render(state)
	}
}
