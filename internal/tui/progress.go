// Package tui shows experiment progress while the engine dispatches runs.
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
	"github.com/san-kum/cadsim/internal/viz"
)

var (
	cyan  = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim   = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
)

type simMsg struct {
	index int
	model string
}

type dispatchMsg struct {
	simulation int
}

type doneMsg struct {
	err error
}

type tickMsg time.Time

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// Total is the number of runs exp dispatches: runs times subsets, summed
// over simulations.
func Total(exp *experiment.Experiment) int {
	total := 0
	for _, s := range exp.Simulations {
		subsets := 1
		if s.Model != nil {
			subsets = max(len(dynamo.GenerateSweep(s.Model.Params)), 1)
		}
		total += s.Runs * subsets
	}
	return total
}

type model struct {
	total     int
	done      int
	perSim    []int
	current   string
	frame     int
	start     time.Time
	elapsed   time.Duration
	finished  bool
	canceling bool
	err       error
	cancel    context.CancelFunc
}

func newModel(exp *experiment.Experiment, cancel context.CancelFunc) model {
	return model{
		total:  Total(exp),
		perSim: make([]int, len(exp.Simulations)),
		start:  time.Now(),
		cancel: cancel,
	}
}

func (m model) Init() tea.Cmd { return tick() }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			if m.cancel != nil && !m.canceling {
				m.cancel()
			}
			m.canceling = true
		}
		return m, nil
	case simMsg:
		m.current = msg.model
		return m, nil
	case dispatchMsg:
		m.done++
		if msg.simulation >= 0 && msg.simulation < len(m.perSim) {
			m.perSim[msg.simulation]++
		}
		return m, nil
	case tickMsg:
		m.frame++
		m.elapsed = time.Since(m.start)
		if m.finished {
			return m, nil
		}
		return m, tick()
	case doneMsg:
		m.finished = true
		m.err = msg.err
		m.elapsed = time.Since(m.start)
		return m, tea.Quit
	}
	return m, nil
}

func (m model) fraction() float64 {
	if m.total == 0 {
		return 1
	}
	return float64(m.done) / float64(m.total)
}

func (m model) View() string {
	var b strings.Builder

	status := viz.Spinner(m.frame) + " dispatching"
	switch {
	case m.finished && m.err != nil:
		status = viz.StatusFailed.Render("✗ failed")
	case m.finished:
		status = viz.StatusOK.Render("✓ done")
	case m.canceling:
		status = dim.Render("canceling")
	}

	b.WriteString(viz.Title.Render("cadsim") + "  " + status + "\n\n")
	fmt.Fprintf(&b, "%s %s %s\n",
		viz.ProgressBar(m.fraction(), 40),
		white.Render(fmt.Sprintf("%d/%d", m.done, m.total)),
		dim.Render("runs"))

	if m.current != "" {
		fmt.Fprintf(&b, "%s %s\n", viz.MetricLabel.Render("model"), cyan.Render(m.current))
	}
	for i, n := range m.perSim {
		fmt.Fprintf(&b, "%s %s\n",
			viz.MetricLabel.Render(fmt.Sprintf("simulation %d", i)),
			viz.MetricValue.Render(humanize.Comma(int64(n))))
	}
	fmt.Fprintf(&b, "%s %s\n", viz.MetricLabel.Render("elapsed"), m.elapsed.Round(time.Millisecond))

	if !m.finished {
		b.WriteString("\n" + dim.Render("q cancel") + "\n")
	}
	return b.String()
}

// Attach installs experiment hooks on exp that forward progress to send.
// Hooks already set on exp keep firing. The returned func restores them.
func Attach(exp *experiment.Experiment, send func(tea.Msg)) (restore func()) {
	prev := exp.Hooks
	hooks := prev

	hooks.BeforeSimulation = func(s *experiment.Simulation) {
		if prev.BeforeSimulation != nil {
			prev.BeforeSimulation(s)
		}
		name := ""
		if s.Model != nil {
			name = s.Model.Name
		}
		send(simMsg{index: s.Index, model: name})
	}
	// after_subset closes every swept run and after_run every unswept one,
	// so together they count each dispatched descriptor once.
	hooks.AfterSubset = func(c experiment.Context) {
		if prev.AfterSubset != nil {
			prev.AfterSubset(c)
		}
		send(dispatchMsg{simulation: c.SimulationIndex})
	}
	hooks.AfterRun = func(c experiment.Context) {
		if prev.AfterRun != nil {
			prev.AfterRun(c)
		}
		send(dispatchMsg{simulation: c.SimulationIndex})
	}

	exp.Hooks = hooks
	return func() { exp.Hooks = prev }
}

// Watch calls fn while rendering the progress of exp on out. Pressing q
// cancels the context handed to fn. Watch returns the error of fn.
func Watch(ctx context.Context, exp *experiment.Experiment, out io.Writer, fn func(context.Context) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(newModel(exp, cancel), tea.WithOutput(out))
	restore := Attach(exp, p.Send)
	defer restore()

	errc := make(chan error, 1)
	go func() {
		err := fn(ctx)
		errc <- err
		p.Send(doneMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		cancel()
		<-errc
		return err
	}
	return <-errc
}
