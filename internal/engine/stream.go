package engine

import (
	"iter"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

// simConfig is what the stream needs of one simulation, captured before the
// experiment starts.
type simConfig struct {
	sim          *experiment.Simulation
	model        string
	initialState dynamo.State
	blocks       []dynamo.Block
	params       dynamo.ParamSpace
	timesteps    int
	runs         int
}

// runs walks simulations, runs and parameter subsets, firing the lifecycle
// hooks around each yield. The sequence is single use.
func (e *Engine) runs(exp *experiment.Experiment, configs []simConfig) iter.Seq[dynamo.RunDescriptor] {
	return func(yield func(dynamo.RunDescriptor) bool) {
		for simIndex, c := range configs {
			c.sim.Index = simIndex
			sweep := dynamo.GenerateSweep(c.params)

			exp.FireBeforeSimulation(c.sim)
			for runIndex := range c.runs {
				ctx := experiment.Context{
					SimulationIndex: simIndex,
					RunIndex:        runIndex,
					Timesteps:       c.timesteps,
					InitialState:    c.initialState,
					Params:          c.params,
				}

				if len(sweep) == 0 {
					ctx.SubsetIndex = new(int)
					exp.FireBeforeRun(c.sim, ctx)
					if !yield(e.descriptor(c, simIndex, runIndex, 0, c.params.Fixed())) {
						return
					}
					exp.FireAfterRun(c.sim, ctx)
					continue
				}

				// A sweep opens with a subset-less before-run and closes with
				// a second before-run carrying the last subset. No after-run
				// fires on this path.
				exp.FireBeforeRun(c.sim, ctx)
				for subsetIndex, subset := range sweep {
					ctx.SubsetIndex = &subsetIndex
					exp.FireBeforeSubset(c.sim, ctx)
					if !yield(e.descriptor(c, simIndex, runIndex, subsetIndex, subset)) {
						return
					}
					exp.FireAfterSubset(c.sim, ctx)
				}
				exp.FireBeforeRun(c.sim, ctx)
			}
			exp.FireAfterSimulation(c.sim)
		}
	}
}

func (e *Engine) descriptor(c simConfig, simIndex, runIndex, subsetIndex int, params dynamo.Params) dynamo.RunDescriptor {
	state := c.initialState
	if e.cfg.Deepcopy {
		state = state.Clone()
		params = params.Clone()
	}
	return dynamo.RunDescriptor{
		SimulationIndex: simIndex,
		Timesteps:       c.timesteps,
		RunIndex:        runIndex,
		SubsetIndex:     subsetIndex,
		Model:           c.model,
		InitialState:    state,
		Blocks:          c.blocks,
		Params:          params,
		Deepcopy:        e.cfg.Deepcopy,
		DropSubsteps:    e.cfg.DropSubsteps,
	}
}

// pullSource adapts a run sequence to the pull-driven dynamo.Source.
type pullSource struct {
	next func() (dynamo.RunDescriptor, bool)
	stop func()
}

func newPullSource(seq iter.Seq[dynamo.RunDescriptor]) *pullSource {
	next, stop := iter.Pull(seq)
	return &pullSource{next: next, stop: stop}
}

func (s *pullSource) Next() (dynamo.RunDescriptor, bool) { return s.next() }

func (s *pullSource) Stop() { s.stop() }
