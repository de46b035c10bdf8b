package models

import (
	"math/rand"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

// NewRandomWalk moves x by a gaussian step. The generator is seeded from the
// seed param, the run number and the timestep, so every run is reproducible
// on any worker.
func NewRandomWalk() *experiment.Model {
	return &experiment.Model{
		InitialState: dynamo.State{"x": 0.0},
		Params:       dynamo.ParamSpace{"sigma": {1.0}, "seed": {42}},
		Blocks: []dynamo.Block{{
			Label: "step",
			Variables: map[string]dynamo.UpdateFunc{
				"x": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State, in dynamo.Signals) (string, any, error) {
					first := h[0][0]
					seed := int64(p.Int("seed"))*1_000_003 + int64(first.Run)*7919 + int64(len(h))
					rng := rand.New(rand.NewSource(seed))
					return "x", s.Float("x") + rng.NormFloat64()*p.Float("sigma"), nil
				},
			},
		}},
	}
}
