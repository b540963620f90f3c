package download

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
)

var (
	nameStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BC34A")).Width(12)
	sizeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#6c7a89"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#e53935"))
)

// ProgressMsg reports bytes received for one dataset.
type ProgressMsg struct {
	Name  string
	Done  int64
	Total int64
}

type finishedMsg struct {
	results []Result
	err     error
}

// ProgressModel renders one progress bar per dataset.
type ProgressModel struct {
	names  []string
	bar    progress.Model
	counts map[string]ProgressMsg

	results  []Result
	err      error
	done     bool
	quitting bool
}

// NewProgressModel creates the view for datasets.
func NewProgressModel(datasets []Dataset) ProgressModel {
	names := make([]string, len(datasets))
	for i, ds := range datasets {
		names[i] = ds.Name
	}
	bar := progress.New(progress.WithDefaultGradient())
	bar.Width = 40
	return ProgressModel{names: names, bar: bar, counts: make(map[string]ProgressMsg)}
}

// Init implements tea.Model.
func (m ProgressModel) Init() tea.Cmd { return nil }

// Update implements tea.Model.
func (m ProgressModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case ProgressMsg:
		m.counts[msg.Name] = msg
	case finishedMsg:
		m.done = true
		m.results = msg.results
		m.err = msg.err
		return m, tea.Quit
	case tea.KeyMsg:
		if msg.String() == "ctrl+c" || msg.String() == "q" {
			m.quitting = true
			return m, tea.Quit
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m ProgressModel) View() string {
	var b strings.Builder
	for _, name := range m.names {
		c, ok := m.counts[name]
		frac := 0.0
		size := "waiting"
		if ok {
			if c.Total > 0 {
				frac = float64(c.Done) / float64(c.Total)
				size = fmt.Sprintf("%s / %s", humanize.Bytes(uint64(c.Done)), humanize.Bytes(uint64(c.Total)))
			} else {
				size = humanize.Bytes(uint64(c.Done))
			}
		}
		fmt.Fprintf(&b, "%s %s %s\n", nameStyle.Render(name), m.bar.ViewAs(frac), sizeStyle.Render(size))
	}
	if m.err != nil {
		b.WriteString(errorStyle.Render("Error: "+m.err.Error()) + "\n")
	}
	return b.String()
}

// Run fetches datasets while showing progress bars.
func Run(ctx context.Context, opts Options, datasets []Dataset, programOpts ...tea.ProgramOption) ([]Result, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewProgressModel(datasets), programOpts...)
	opts.Progress = func(name string, done, total int64) {
		p.Send(ProgressMsg{Name: name, Done: done, Total: total})
	}
	d := New(opts)

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		res, err := d.FetchAll(ctx, datasets)
		p.Send(finishedMsg{results: res, err: err})
	}()

	final, err := p.Run()
	cancel()
	<-finished
	if err != nil {
		return nil, fmt.Errorf("progress display failed: %w", err)
	}
	m := final.(ProgressModel)
	if m.quitting && !m.done {
		return nil, errors.New("download interrupted")
	}
	return m.results, m.err
}
