package models

import (
	"math"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

// NewPredatorPrey is a discrete Lotka-Volterra system. Growth and predation
// are computed as policies, then both populations update from the summed
// signals.
func NewPredatorPrey() *experiment.Model {
	return &experiment.Model{
		InitialState: dynamo.State{"prey": 100.0, "predators": 10.0},
		Params: dynamo.ParamSpace{
			"prey_birth_rate":     {0.1},
			"predation_rate":      {0.002},
			"predator_birth_rate": {0.001},
			"predator_death_rate": {0.05},
			"dt":                  {1.0},
		},
		Blocks: []dynamo.Block{{
			Label: "population dynamics",
			Policies: map[string]dynamo.PolicyFunc{
				"growth": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State) (dynamo.Signals, error) {
					prey, pred := s.Float("prey"), s.Float("predators")
					return dynamo.Signals{
						"prey_delta":     p.Float("prey_birth_rate") * prey,
						"predator_delta": p.Float("predator_birth_rate") * prey * pred,
					}, nil
				},
				"decline": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State) (dynamo.Signals, error) {
					prey, pred := s.Float("prey"), s.Float("predators")
					return dynamo.Signals{
						"prey_delta":     -p.Float("predation_rate") * prey * pred,
						"predator_delta": -p.Float("predator_death_rate") * pred,
					}, nil
				},
			},
			Variables: map[string]dynamo.UpdateFunc{
				"prey":      population("prey", "prey_delta"),
				"predators": population("predators", "predator_delta"),
			},
		}},
	}
}

func population(key, signal string) dynamo.UpdateFunc {
	return func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State, in dynamo.Signals) (string, any, error) {
		delta, _ := dynamo.ToFloat(in[signal])
		dt := p.Float("dt")
		if dt == 0 {
			dt = 1
		}
		return key, math.Max(0, s.Float(key)+delta*dt), nil
	}
}
