package models

import (
	"math"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

// NewPendulum is a damped pendulum integrated with semi-implicit Euler: the
// first block updates omega, the second advances theta with the new omega.
func NewPendulum() *experiment.Model {
	return &experiment.Model{
		InitialState: dynamo.State{"theta": 0.5, "omega": 0.0},
		Params: dynamo.ParamSpace{
			"mass":    {1.0},
			"length":  {1.0},
			"damping": {0.1},
			"gravity": {9.81},
			"dt":      {0.01},
		},
		Blocks: []dynamo.Block{
			{
				Label: "angular acceleration",
				Policies: map[string]dynamo.PolicyFunc{
					"torque": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State) (dynamo.Signals, error) {
						m, l := p.Float("mass"), p.Float("length")
						theta, omega := s.Float("theta"), s.Float("omega")
						alpha := (-p.Float("damping")*omega - m*p.Float("gravity")*l*math.Sin(theta)) / (m * l * l)
						return dynamo.Signals{"alpha": alpha}, nil
					},
				},
				Variables: map[string]dynamo.UpdateFunc{
					"omega": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State, in dynamo.Signals) (string, any, error) {
						alpha, _ := dynamo.ToFloat(in["alpha"])
						return "omega", s.Float("omega") + alpha*p.Float("dt"), nil
					},
				},
			},
			{
				Label: "angle",
				Variables: map[string]dynamo.UpdateFunc{
					"theta": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, s dynamo.State, in dynamo.Signals) (string, any, error) {
						return "theta", s.Float("theta") + s.Float("omega")*p.Float("dt"), nil
					},
				},
			},
		},
	}
}
