package viz

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"

	"github.com/san-kum/cadsim/internal/storage"
)

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func models(rec storage.ExperimentRecord) string {
	names := make([]string, len(rec.Simulations))
	for i, s := range rec.Simulations {
		names[i] = s.Model
	}
	return strings.Join(names, ",")
}

func status(rec storage.ExperimentRecord) string {
	if rec.Failed > 0 {
		return StatusFailed.Render(fmt.Sprintf("%d failed", rec.Failed))
	}
	return StatusOK.Render("ok")
}

// RecordTable renders one row per stored experiment.
func RecordTable(recs []storage.ExperimentRecord) string {
	if len(recs) == 0 {
		return Subtle.Render("no experiments stored")
	}

	row := func(cols ...string) string {
		widths := []int{10, 16, 24, 16, 8, 12}
		cells := make([]string, len(cols))
		for i, c := range cols {
			cells[i] = lipgloss.NewStyle().Width(widths[i]).Render(c)
		}
		return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
	}

	lines := []string{HeaderStyle.Render(row("ID", "WHEN", "MODELS", "BACKEND", "RUNS", "STATUS"))}
	for _, rec := range recs {
		lines = append(lines, row(
			shortID(rec.ID),
			humanize.Time(rec.Timestamp),
			models(rec),
			rec.Backend,
			humanize.Comma(int64(rec.Runs)),
			status(rec),
		))
	}
	return strings.Join(lines, "\n")
}

// RecordSummary renders the details of one stored experiment.
func RecordSummary(rec storage.ExperimentRecord) string {
	metric := func(label, value string) string {
		return MetricLabel.Render(fmt.Sprintf("%-12s", label)) + MetricValue.Render(value)
	}

	lines := []string{
		Title.Render("experiment " + rec.ID),
		metric("stored", rec.Timestamp.Local().Format(time.DateTime)),
		metric("backend", rec.Backend),
		metric("runs", humanize.Comma(int64(rec.Runs))),
		metric("failed", humanize.Comma(int64(rec.Failed))),
		metric("snapshots", humanize.Comma(int64(rec.Snapshots))),
		metric("duration", (time.Duration(rec.Duration * float64(time.Second))).Round(time.Millisecond).String()),
	}
	for i, s := range rec.Simulations {
		lines = append(lines, metric(fmt.Sprintf("sim %d", i),
			fmt.Sprintf("%s, %d timesteps x %d runs", s.Model, s.Timesteps, s.Runs)))
	}
	for i, e := range rec.Exceptions {
		if e != "" {
			lines = append(lines, StatusFailed.Render(fmt.Sprintf("run %d: %s", i, e)))
		}
	}
	return Panel.Render(strings.Join(lines, "\n"))
}
