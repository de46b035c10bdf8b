package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

const (
	DefaultTimesteps = 100
	DefaultRuns      = 1
)

// ExperimentFile is an experiment described on disk: engine options plus
// simulations of registered models.
type ExperimentFile struct {
	Engine      *Engine          `yaml:"engine"`
	Simulations []SimulationSpec `yaml:"simulations"`
}

// SimulationSpec overrides the defaults of a registered model. A params
// entry is either a single value or a list of sweep candidates.
type SimulationSpec struct {
	Model        string         `yaml:"model"`
	Timesteps    int            `yaml:"timesteps"`
	Runs         int            `yaml:"runs"`
	InitialState map[string]any `yaml:"initial_state,omitempty"`
	Params       map[string]any `yaml:"params,omitempty"`
}

// ParamSpace converts the params overrides into sweep candidates.
func (s SimulationSpec) ParamSpace() dynamo.ParamSpace {
	ps := make(dynamo.ParamSpace, len(s.Params))
	for k, v := range s.Params {
		if list, ok := v.([]any); ok {
			ps[k] = list
			continue
		}
		ps[k] = []any{v}
	}
	return ps
}

// Build resolves every simulation against reg.
func (f *ExperimentFile) Build(reg *experiment.Registry) (*experiment.Experiment, error) {
	if len(f.Simulations) == 0 {
		return nil, errors.New("experiment defines no simulations")
	}

	exp := experiment.New()
	for i, spec := range f.Simulations {
		sim, err := spec.build(reg)
		if err != nil {
			return nil, fmt.Errorf("simulation %d: %w", i, err)
		}
		exp.Add(sim)
	}
	return exp, nil
}

func (s SimulationSpec) build(reg *experiment.Registry) (*experiment.Simulation, error) {
	model, err := reg.GetModel(s.Model)
	if err != nil {
		return nil, err
	}

	if model.InitialState == nil {
		model.InitialState = dynamo.State{}
	}
	for k, v := range s.InitialState {
		model.InitialState[k] = v
	}
	if model.Params == nil {
		model.Params = dynamo.ParamSpace{}
	}
	for k, v := range s.ParamSpace() {
		model.Params[k] = v
	}

	timesteps, runs := s.Timesteps, s.Runs
	if timesteps == 0 {
		timesteps = DefaultTimesteps
	}
	if runs == 0 {
		runs = DefaultRuns
	}
	if timesteps < 0 || runs < 0 {
		return nil, fmt.Errorf("timesteps and runs must be positive, got %d and %d", timesteps, runs)
	}
	return experiment.NewSimulation(model, timesteps, runs), nil
}

// DecodeExperiment reads a YAML experiment document. Unknown keys are an
// error.
func DecodeExperiment(r io.Reader) (*ExperimentFile, error) {
	f := &ExperimentFile{Engine: DefaultEngine()}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}
	if f.Engine == nil {
		f.Engine = DefaultEngine()
	}
	if err := f.Engine.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// LoadExperiment reads an experiment file. Files ending in .hcl are parsed as
// HCL, anything else as YAML.
func LoadExperiment(path string) (*ExperimentFile, error) {
	if strings.EqualFold(filepath.Ext(path), ".hcl") {
		return LoadExperimentHCL(path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeExperiment(bytes.NewReader(data))
}

func SaveExperiment(path string, f *ExperimentFile) error {
	data, err := yaml.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
