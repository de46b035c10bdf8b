package analysis

import (
	"cmp"
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/san-kum/cadsim/internal/dynamo"
)

// Group identifies one parameter subset of one simulation.
type Group struct {
	Simulation int
	Subset     int
}

func (g Group) String() string {
	return fmt.Sprintf("simulation %d subset %d", g.Simulation, g.Subset)
}

// Stats summarizes one variable at one timestep across N runs.
type Stats struct {
	Timestep int
	N        int
	Mean     float64
	Std      float64
	Min      float64
	Max      float64
}

type point struct {
	group    Group
	run      int
	timestep int
}

type sample struct {
	substep int
	value   float64
}

// Aggregate reduces variable across the runs of every group. Snapshots
// where variable is missing or not numeric are ignored. The stats of each
// group are ordered by timestep.
func Aggregate(results []dynamo.Snapshot, variable string) map[Group][]Stats {
	last := make(map[point]sample)
	for _, s := range results {
		v, ok := dynamo.ToFloat(s.State[variable])
		if !ok {
			continue
		}
		p := point{
			group:    Group{Simulation: s.Simulation, Subset: s.Subset},
			run:      s.Run,
			timestep: s.Timestep,
		}
		if prev, seen := last[p]; seen && prev.substep > s.Substep {
			continue
		}
		last[p] = sample{substep: s.Substep, value: v}
	}

	type cell struct {
		group    Group
		timestep int
	}
	values := make(map[cell][]float64)
	for p, s := range last {
		c := cell{group: p.group, timestep: p.timestep}
		values[c] = append(values[c], s.value)
	}

	out := make(map[Group][]Stats)
	for c, vs := range values {
		out[c.group] = append(out[c.group], summarize(c.timestep, vs))
	}
	for g := range out {
		slices.SortFunc(out[g], func(a, b Stats) int { return cmp.Compare(a.Timestep, b.Timestep) })
	}
	return out
}

func summarize(timestep int, vs []float64) Stats {
	st := Stats{Timestep: timestep, N: len(vs), Min: math.Inf(1), Max: math.Inf(-1)}
	sum := 0.0
	for _, v := range vs {
		sum += v
		st.Min = min(st.Min, v)
		st.Max = max(st.Max, v)
	}
	st.Mean = sum / float64(len(vs))
	if len(vs) > 1 {
		ss := 0.0
		for _, v := range vs {
			ss += (v - st.Mean) * (v - st.Mean)
		}
		st.Std = math.Sqrt(ss / float64(len(vs)-1))
	}
	return st
}

// Groups returns the groups of stats ordered by simulation, then subset.
func Groups(stats map[Group][]Stats) []Group {
	return slices.SortedFunc(maps.Keys(stats), func(a, b Group) int {
		if c := cmp.Compare(a.Simulation, b.Simulation); c != 0 {
			return c
		}
		return cmp.Compare(a.Subset, b.Subset)
	})
}

// Final returns the stats of the last timestep, or the zero Stats.
func Final(stats []Stats) Stats {
	if len(stats) == 0 {
		return Stats{}
	}
	return stats[len(stats)-1]
}

// Means extracts the mean of every timestep.
func Means(stats []Stats) []float64 {
	out := make([]float64, len(stats))
	for i, s := range stats {
		out[i] = s.Mean
	}
	return out
}
