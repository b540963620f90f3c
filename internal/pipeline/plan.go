package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"

	"leafprep/internal/config"
)

// Step states reported by Plan.
const (
	StatusExists  = "exists"
	StatusRunning = "running"
	StatusPending = "pending"
	StatusBlocked = "blocked"
)

// StepStatus is the planned outcome of one step.
type StepStatus struct {
	Name    string
	Op      string
	AssetID string
	Status  string
	// Missing lists inputs that neither exist nor are produced by an
	// earlier step.
	Missing []string
}

// Plan reports, without starting anything, what Run would do for each step:
// exists (skipped), running (a tracked task is producing it), pending (would
// be built) or blocked (an input is missing and nothing produces it).
func (r *Runner) Plan(ctx context.Context) ([]StepStatus, error) {
	produced := make(map[string]bool)
	out := make([]StepStatus, 0, len(r.cfg.Pipeline))
	for _, step := range r.cfg.Pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		st := StepStatus{Name: step.Name, Op: step.Op, AssetID: r.cfg.AssetID(step.Name)}
		switch {
		case r.manager.Exists(ctx, st.AssetID):
			st.Status = StatusExists
		case r.inFlight(st.AssetID):
			st.Status = StatusRunning
		default:
			for _, in := range r.inputs(step) {
				if produced[in] || r.inFlight(in) || r.manager.Exists(ctx, in) {
					continue
				}
				st.Missing = append(st.Missing, in)
			}
			if step.Op == config.OpIngest {
				if _, ok := r.cfg.Source(step.Source); !ok {
					st.Missing = append(st.Missing, "source "+step.Source)
				}
			}
			st.Status = StatusPending
			if len(st.Missing) > 0 {
				st.Status = StatusBlocked
			}
		}
		if st.Status != StatusBlocked {
			produced[st.AssetID] = true
		}
		out = append(out, st)
	}
	return out, nil
}

func (r *Runner) inFlight(id string) bool {
	task, ok := r.tracker.ForAsset(id)
	return ok && !task.Terminal()
}

// PlanMarkdown renders a plan as a markdown table.
func PlanMarkdown(plan []StepStatus) string {
	var b strings.Builder
	b.WriteString("# Pipeline plan\n\n")
	b.WriteString("| # | Step | Op | Status | Missing inputs |\n")
	b.WriteString("|---|------|----|--------|----------------|\n")
	counts := make(map[string]int)
	for i, st := range plan {
		counts[st.Status]++
		missing := "-"
		if len(st.Missing) > 0 {
			missing = strings.Join(st.Missing, ", ")
		}
		fmt.Fprintf(&b, "| %d | `%s` | %s | **%s** | %s |\n", i+1, st.Name, st.Op, st.Status, missing)
	}
	fmt.Fprintf(&b, "\n%d exist, %d running, %d pending, %d blocked.\n",
		counts[StatusExists], counts[StatusRunning], counts[StatusPending], counts[StatusBlocked])
	return b.String()
}

// RenderMarkdown renders markdown for the terminal.
func RenderMarkdown(md string, width int) (string, error) {
	if width <= 0 {
		width = 100
	}
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := renderer.Render(md)
	if err != nil {
		return "", fmt.Errorf("failed to render markdown: %w", err)
	}
	return out, nil
}
