package viz

import (
	"fmt"
	"slices"
	"strings"

	"github.com/guptarohit/asciigraph"

	"github.com/san-kum/cadsim/internal/dynamo"
)

// RunKey identifies one run within a stored experiment.
type RunKey struct {
	Simulation int
	Subset     int
	Run        int
}

func (k RunKey) String() string {
	return fmt.Sprintf("sim %d subset %d run %d", k.Simulation, k.Subset, k.Run)
}

// Series extracts variable over time for every run in results, keeping the
// last substep of each timestep. Non-numeric values are skipped.
func Series(results []dynamo.Snapshot, variable string) (map[RunKey][]float64, []RunKey) {
	series := make(map[RunKey][]float64)
	lastStep := make(map[RunKey]int)
	var keys []RunKey

	for _, s := range results {
		k := RunKey{Simulation: s.Simulation, Subset: s.Subset, Run: s.Run}
		v, ok := dynamo.ToFloat(s.State[variable])
		if !ok {
			continue
		}
		values, seen := series[k]
		if !seen {
			keys = append(keys, k)
		}
		if seen && lastStep[k] == s.Timestep && len(values) > 0 {
			values[len(values)-1] = v
		} else {
			values = append(values, v)
		}
		series[k] = values
		lastStep[k] = s.Timestep
	}

	slices.SortFunc(keys, func(a, b RunKey) int {
		if a.Simulation != b.Simulation {
			return a.Simulation - b.Simulation
		}
		if a.Subset != b.Subset {
			return a.Subset - b.Subset
		}
		return a.Run - b.Run
	})
	return series, keys
}

// Variables lists the numeric state variables present in results.
func Variables(results []dynamo.Snapshot) []string {
	seen := make(map[string]bool)
	var names []string
	for _, s := range results {
		for k, v := range s.State {
			if _, ok := dynamo.ToFloat(v); ok && !seen[k] {
				seen[k] = true
				names = append(names, k)
			}
		}
	}
	slices.Sort(names)
	return names
}

// PlotOptions controls Plot. Runs caps the number of plotted runs.
type PlotOptions struct {
	Width  int
	Height int
	Runs   int
}

var seriesColors = []asciigraph.AnsiColor{
	asciigraph.Cyan, asciigraph.Yellow, asciigraph.Green,
	asciigraph.Magenta, asciigraph.Red, asciigraph.Blue,
}

// Plot draws variable for up to opts.Runs runs on one chart.
func Plot(results []dynamo.Snapshot, variable string, opts PlotOptions) (string, error) {
	series, keys := Series(results, variable)
	if len(keys) == 0 {
		return "", fmt.Errorf("no numeric values for %q", variable)
	}
	if opts.Runs > 0 && len(keys) > opts.Runs {
		keys = keys[:opts.Runs]
	}

	data := make([][]float64, len(keys))
	colors := make([]asciigraph.AnsiColor, len(keys))
	for i, k := range keys {
		data[i] = series[k]
		colors[i] = seriesColors[i%len(seriesColors)]
	}

	plotOpts := []asciigraph.Option{
		asciigraph.Height(max(opts.Height, 5)),
		asciigraph.Caption(fmt.Sprintf("%s over time (%d runs)", variable, len(keys))),
		asciigraph.SeriesColors(colors...),
	}
	if opts.Width > 0 {
		plotOpts = append(plotOpts, asciigraph.Width(opts.Width))
	}
	return asciigraph.PlotMany(data, plotOpts...), nil
}

// Legend maps series colors to runs, one line per plotted run.
func Legend(results []dynamo.Snapshot, variable string, runs int) string {
	_, keys := Series(results, variable)
	if runs > 0 && len(keys) > runs {
		keys = keys[:runs]
	}
	var b strings.Builder
	for i, k := range keys {
		name := seriesColorNames[i%len(seriesColorNames)]
		fmt.Fprintf(&b, "%s %s\n", MetricLabel.Render(name), k)
	}
	return b.String()
}

var seriesColorNames = []string{"cyan", "yellow", "green", "magenta", "red", "blue"}
