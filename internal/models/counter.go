// Package models holds the models compiled into cadsim. Each registers itself
// with experiment.DefaultRegistry so bundles can name it.
package models

import (
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

func init() {
	experiment.Register("counter", NewCounter)
	experiment.Register("predator_prey", NewPredatorPrey)
	experiment.Register("pendulum", NewPendulum)
	experiment.Register("random_walk", NewRandomWalk)
}

// NewCounter adds "step" (default 1) to x every timestep.
func NewCounter() *experiment.Model {
	return &experiment.Model{
		InitialState: dynamo.State{"x": 0},
		Params:       dynamo.ParamSpace{"step": {1}},
		Blocks: []dynamo.Block{{
			Label: "increment",
			Variables: map[string]dynamo.UpdateFunc{
				"x": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
					step, ok := p["step"]
					if !ok {
						step = 1
					}
					v, err := dynamo.AddValues(prev["x"], step)
					return "x", v, err
				},
			},
		}},
	}
}
