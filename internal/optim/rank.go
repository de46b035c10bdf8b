// Package optim ranks the parameter subsets of a swept experiment by the
// final value of a state variable.
package optim

import (
	"cmp"
	"slices"

	"github.com/san-kum/cadsim/internal/analysis"
	"github.com/san-kum/cadsim/internal/dynamo"
)

type Objective int

const (
	Minimize Objective = iota
	Maximize
)

// Candidate is one subset with its score: the mean final value of the
// variable across monte carlo runs.
type Candidate struct {
	Group  analysis.Group
	Params dynamo.Params
	Score  float64
	Std    float64
	Runs   int
}

// SubsetParams returns the parameters subset i of space was run with.
func SubsetParams(space dynamo.ParamSpace, i int) dynamo.Params {
	sweep := dynamo.GenerateSweep(space)
	if len(sweep) == 0 {
		return space.Fixed()
	}
	if i < 0 || i >= len(sweep) {
		return nil
	}
	return sweep[i]
}

// Rank scores every subset found in results, best first. spaces holds the
// parameter space of each simulation; a missing entry leaves Params nil.
func Rank(results []dynamo.Snapshot, variable string, obj Objective, spaces []dynamo.ParamSpace) []Candidate {
	stats := analysis.Aggregate(results, variable)

	var out []Candidate
	for _, g := range analysis.Groups(stats) {
		final := analysis.Final(stats[g])
		c := Candidate{Group: g, Score: final.Mean, Std: final.Std, Runs: final.N}
		if g.Simulation >= 0 && g.Simulation < len(spaces) {
			c.Params = SubsetParams(spaces[g.Simulation], g.Subset)
		}
		out = append(out, c)
	}

	slices.SortStableFunc(out, func(a, b Candidate) int {
		if obj == Maximize {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.Score, b.Score)
	})
	return out
}
