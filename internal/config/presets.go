package config

import (
	"maps"
	"slices"
)

// Presets are ready-made simulations of the built-in models, keyed by model
// and preset name.
var Presets = map[string]map[string]SimulationSpec{
	"counter": {
		"small": {Model: "counter", Timesteps: 10, Runs: 1},
		"sweep": {
			Model: "counter", Timesteps: 10, Runs: 2,
			Params: map[string]any{"step": []any{1, 2, 5}},
		},
	},
	"predator_prey": {
		"small": {Model: "predator_prey", Timesteps: 100, Runs: 1},
		"sweep": {
			Model: "predator_prey", Timesteps: 200, Runs: 1,
			Params: map[string]any{"prey_birth_rate": []any{0.05, 0.1, 0.2}},
		},
		"crowded": {
			Model: "predator_prey", Timesteps: 200, Runs: 1,
			InitialState: map[string]any{"prey": 500.0, "predators": 50.0},
		},
	},
	"pendulum": {
		"small": {
			Model: "pendulum", Timesteps: 2000, Runs: 1,
			InitialState: map[string]any{"theta": 0.2, "omega": 0.0},
		},
		"large": {
			Model: "pendulum", Timesteps: 2000, Runs: 1,
			InitialState: map[string]any{"theta": 2.5, "omega": 0.0},
		},
		"damping": {
			Model: "pendulum", Timesteps: 3000, Runs: 1,
			Params: map[string]any{"damping": []any{0.0, 0.1, 0.5, 1.0}},
		},
	},
	"random_walk": {
		"ensemble": {Model: "random_walk", Timesteps: 500, Runs: 20},
		"sigma": {
			Model: "random_walk", Timesteps: 500, Runs: 5,
			Params: map[string]any{"sigma": []any{0.5, 1.0, 2.0}},
		},
	},
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, name string) *SimulationSpec {
	byModel, ok := Presets[model]
	if !ok {
		return nil
	}
	spec, ok := byModel[name]
	if !ok {
		return nil
	}
	spec.InitialState = maps.Clone(spec.InitialState)
	spec.Params = maps.Clone(spec.Params)
	return &spec
}

// ListPresets returns the preset names of model, sorted.
func ListPresets(model string) []string {
	byModel, ok := Presets[model]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(byModel))
	for name := range byModel {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
