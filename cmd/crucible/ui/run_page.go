package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"crucible/internal/cluster"
	"crucible/internal/verify"
)

// ClusterRunner executes clusters and returns an aggregate summary.
// verify.Executor satisfies this.
type ClusterRunner interface {
	ExecuteClusters(ctx context.Context, clusters []cluster.ClusterDefinition, opts verify.ExecOptions) *verify.ClusterExecutionSummary
}

// RunOutcome is what the dashboard hands back to the command layer once the
// user quits. Aborted means the run was interrupted before every scheduled
// cluster finished.
type RunOutcome struct {
	Success       bool
	Aborted       bool
	Clusters      []*verify.ClusterExecutionResult
	ClaimsPassed  int
	ClaimsFailed  int
	ClaimsSkipped int
	ClaimsErrored int
}

// Dashboard messages.
type (
	clusterStartedMsg  struct{ ID string }
	clusterFinishedMsg struct{ Result *verify.ClusterExecutionResult }
	progressLineMsg    string
	runFinishedMsg     struct{ Success bool }
)

type clusterState int

const (
	statePending clusterState = iota
	stateRunning
	statePassed
	stateFailed
)

type clusterRow struct {
	def    cluster.ClusterDefinition
	state  clusterState
	result *verify.ClusterExecutionResult
}

// runModel is the live dashboard for a verification run.
type runModel struct {
	rows     []clusterRow
	finished int

	viewport viewport.Model
	progress progress.Model
	spinner  spinner.Model
	styles   Styles

	lines   []string
	done    bool
	success bool
	cancel  context.CancelFunc

	width  int
	height int
}

const maxLogLines = 200

func newRunModel(clusters []cluster.ClusterDefinition, cancel context.CancelFunc) runModel {
	styles := DefaultStyles()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styles.Spinner

	vp := viewport.New(80, 10)
	vp.SetContent("")

	rows := make([]clusterRow, len(clusters))
	for i, cl := range clusters {
		rows[i] = clusterRow{def: cl}
	}

	return runModel{
		rows:     rows,
		viewport: vp,
		progress: progress.New(progress.WithDefaultGradient()),
		spinner:  sp,
		styles:   styles,
		cancel:   cancel,
		width:    80,
		height:   24,
	}
}

// Init starts the spinner.
func (m runModel) Init() tea.Cmd {
	return m.spinner.Tick
}

// Update handles messages.
func (m runModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "esc", "ctrl+c":
			m.cancel()
			return m, tea.Quit
		case "k", "up":
			m.viewport.LineUp(1)
		case "j", "down":
			m.viewport.LineDown(1)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = msg.Width - 4
		m.viewport.Height = logHeight(msg.Height, len(m.rows))
		m.progress.Width = msg.Width - 8

	case spinner.TickMsg:
		if !m.done {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}

	case clusterStartedMsg:
		for i := range m.rows {
			if m.rows[i].def.ID == msg.ID {
				m.rows[i].state = stateRunning
			}
		}

	case clusterFinishedMsg:
		if msg.Result != nil {
			for i := range m.rows {
				if m.rows[i].def.ID == msg.Result.ClusterID {
					m.rows[i].result = msg.Result
					if msg.Result.Success {
						m.rows[i].state = statePassed
					} else {
						m.rows[i].state = stateFailed
					}
				}
			}
			m.finished++
		}

	case progressLineMsg:
		m.lines = append(m.lines, string(msg))
		if len(m.lines) > maxLogLines {
			m.lines = m.lines[len(m.lines)-maxLogLines:]
		}
		m.viewport.SetContent(strings.Join(m.lines, "\n"))
		m.viewport.GotoBottom()

	case runFinishedMsg:
		m.done = true
		m.success = msg.Success
	}

	return m, nil
}

// View renders the dashboard.
func (m runModel) View() string {
	var sb strings.Builder

	title := m.styles.Header.Render(" crucible run ")
	status := m.styles.Info.Render(m.spinner.View() + " running")
	if m.done {
		if m.success {
			status = m.styles.Pass.Render("PASS")
		} else {
			status = m.styles.Fail.Render("FAIL")
		}
	}
	sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Center, title, "  ", status) + "\n\n")

	frac := 0.0
	if len(m.rows) > 0 {
		frac = float64(m.finished) / float64(len(m.rows))
	}
	sb.WriteString(m.progress.ViewAs(frac) + "\n\n")

	for _, row := range m.rows {
		icon, style := "○", m.styles.Muted
		switch row.state {
		case stateRunning:
			icon, style = "▶", m.styles.Info
		case statePassed:
			icon, style = "✓", m.styles.Pass
		case stateFailed:
			icon, style = "✗", m.styles.Fail
		}
		line := fmt.Sprintf(" %s %s", icon, row.def.ID)
		if row.result != nil {
			line += fmt.Sprintf("  (%d/%d tests passed, %dms)",
				row.result.TotalPassed, row.result.TotalTests, row.result.DurationMs)
		}
		sb.WriteString(style.Render(line) + "\n")
	}
	sb.WriteString("\n")

	sb.WriteString(m.styles.RenderDivider(m.width-4) + "\n")
	sb.WriteString(m.viewport.View() + "\n")

	hint := "Controls: [j/k] Scroll  [q] Quit"
	if m.done {
		hint = "Run complete. [q] Quit"
	}
	sb.WriteString(m.styles.Muted.Render(hint))

	return sb.String()
}

// outcome folds the final model state into a RunOutcome.
func (m runModel) outcome() *RunOutcome {
	out := &RunOutcome{
		Success: m.done && m.success,
		Aborted: !m.done,
	}
	for _, row := range m.rows {
		if row.result == nil {
			continue
		}
		out.Clusters = append(out.Clusters, row.result)
		for _, cr := range row.result.ClaimResults {
			switch cr.Status {
			case verify.ClaimPassed:
				out.ClaimsPassed++
			case verify.ClaimFailed:
				out.ClaimsFailed++
			case verify.ClaimSkipped:
				out.ClaimsSkipped++
			case verify.ClaimErrored:
				out.ClaimsErrored++
			}
		}
	}
	return out
}

// logHeight reserves space above the log pane for the header, progress bar,
// cluster list, and footer.
func logHeight(total, clusters int) int {
	h := total - clusters - 10
	if h < 3 {
		h = 3
	}
	return h
}

// RunDashboard drives a verification run under a live terminal dashboard.
// Clusters execute sequentially in a background worker; per-claim progress
// streams into the log pane. Quitting mid-run cancels the worker context.
func RunDashboard(ctx context.Context, clusters []cluster.ClusterDefinition, runner ClusterRunner, opts verify.ExecOptions) (*RunOutcome, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newRunModel(clusters, cancel), tea.WithAltScreen())

	go runWorker(ctx, p, clusters, runner, opts)

	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("dashboard failed: %w", err)
	}
	m, ok := final.(runModel)
	if !ok {
		return nil, fmt.Errorf("unexpected final model %T", final)
	}
	return m.outcome(), nil
}

// runWorker executes clusters one at a time so the dashboard can show
// per-cluster starts and finishes. Sends into a finished program are no-ops,
// so a late worker cannot wedge shutdown.
func runWorker(ctx context.Context, p *tea.Program, clusters []cluster.ClusterDefinition, runner ClusterRunner, opts verify.ExecOptions) {
	opts.Progress = func(format string, args ...interface{}) {
		p.Send(progressLineMsg(fmt.Sprintf(format, args...)))
	}

	allSuccess := true
	for i := range clusters {
		if ctx.Err() != nil {
			return
		}
		cl := clusters[i]
		p.Send(clusterStartedMsg{ID: cl.ID})

		summary := runner.ExecuteClusters(ctx, []cluster.ClusterDefinition{cl}, opts)
		var res *verify.ClusterExecutionResult
		if len(summary.Clusters) > 0 {
			res = summary.Clusters[0]
		}
		p.Send(clusterFinishedMsg{Result: res})

		if !summary.Success {
			allSuccess = false
			if !opts.ContinueOnFailure {
				break
			}
		}
	}
	if ctx.Err() != nil {
		return
	}
	p.Send(runFinishedMsg{Success: allSuccess})
}
