// Package tui renders a live dashboard for batch deployments. It consumes
// deploy coordinator events over a channel and shows one status line per
// target while the pool works through them.
package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/johndauphine/wsl-backup/internal/deploy"
)

// EventMsg wraps a coordinator event for the bubbletea update loop
type EventMsg deploy.Event

// DoneMsg signals that the batch finished and carries the aggregate result
type DoneMsg struct {
	Result *deploy.Result
	Err    error
}

type targetRow struct {
	name   string
	status deploy.JobStatus
	errMsg string
}

// Model is the deployment dashboard model
type Model struct {
	pkgPath string
	spinner spinner.Model
	rows    []targetRow
	index   map[string]int
	events  <-chan deploy.Event
	done    <-chan DoneMsg
	result  *deploy.Result
	err     error
	quit    bool
}

// NewModel builds a dashboard for the given targets. Events and done are
// fed by the caller running the coordinator in a separate goroutine.
func NewModel(pkgPath string, targets []string, events <-chan deploy.Event, done <-chan DoneMsg) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = styleRunning

	rows := make([]targetRow, len(targets))
	index := make(map[string]int, len(targets))
	for i, t := range targets {
		rows[i] = targetRow{name: t, status: deploy.StatusPending}
		index[t] = i
	}

	return Model{
		pkgPath: pkgPath,
		spinner: sp,
		rows:    rows,
		index:   index,
		events:  events,
		done:    done,
	}
}

// Result returns the aggregate result once the batch has finished
func (m Model) Result() (*deploy.Result, error) {
	return m.result, m.err
}

func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev, ok := <-m.events:
			if !ok {
				return <-m.done
			}
			return EventMsg(ev)
		case d := <-m.done:
			return d
		}
	}
}

// Init starts the spinner and begins consuming events
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.spinner.Tick, m.waitForEvent())
}

// Update handles events, key presses, and spinner ticks
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			m.quit = true
			return m, tea.Quit
		}
		return m, nil

	case EventMsg:
		if i, ok := m.index[msg.Target]; ok {
			m.rows[i].status = msg.Status
			if msg.Err != nil {
				m.rows[i].errMsg = msg.Err.Error()
			}
		}
		return m, m.waitForEvent()

	case DoneMsg:
		m.result = msg.Result
		m.err = msg.Err
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// View renders the dashboard
func (m Model) View() string {
	var b strings.Builder

	b.WriteString(styleTitle.Render(fmt.Sprintf("Deploying %s", m.pkgPath)))
	b.WriteString("\n")

	succeeded, failed := 0, 0
	for _, row := range m.rows {
		var status string
		switch row.status {
		case deploy.StatusPending:
			status = stylePending.Render("  waiting")
		case deploy.StatusRunning:
			status = m.spinner.View() + styleRunning.Render(" deploying")
		case deploy.StatusSucceeded:
			succeeded++
			status = styleSuccess.Render("✓ done")
		case deploy.StatusFailed:
			failed++
			status = styleError.Render("✗ failed")
			if row.errMsg != "" {
				status += stylePending.Render("  " + row.errMsg)
			}
		}
		b.WriteString(fmt.Sprintf("  %s  %s\n", styleTarget.Render(padRight(row.name, 24)), status))
	}

	b.WriteString(styleSummary.Render(fmt.Sprintf(
		"%d/%d complete (%d failed) · press q to abort",
		succeeded+failed, len(m.rows), failed)))

	return styleContainer.Render(b.String()) + "\n"
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

// Run drives the dashboard until the batch completes and returns the
// aggregate result from the final DoneMsg.
func Run(pkgPath string, targets []string, events <-chan deploy.Event, done <-chan DoneMsg) (*deploy.Result, error) {
	model := NewModel(pkgPath, targets, events, done)
	p := tea.NewProgram(model)
	final, err := p.Run()
	if err != nil {
		return nil, fmt.Errorf("running dashboard: %w", err)
	}
	m, ok := final.(Model)
	if !ok {
		return nil, fmt.Errorf("unexpected final model type %T", final)
	}
	if m.quit {
		return m.result, fmt.Errorf("deployment aborted")
	}
	return m.Result()
}
