// Package automation runs scripted sequences of experiments.
package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
)

// Scenario is a named list of experiments run one after another.
type Scenario struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
	// ContinueOnError keeps running later steps after a failed one.
	ContinueOnError bool `yaml:"continue_on_error"`

	dir string
}

// Step names its experiment either by file (relative to the scenario) or by
// model/preset. The remaining fields override the resolved experiment.
type Step struct {
	Name      string         `yaml:"name"`
	Config    string         `yaml:"config,omitempty"`
	Model     string         `yaml:"model,omitempty"`
	Preset    string         `yaml:"preset,omitempty"`
	Backend   string         `yaml:"backend,omitempty"`
	Processes int            `yaml:"processes,omitempty"`
	Runs      int            `yaml:"runs,omitempty"`
	Timesteps int            `yaml:"timesteps,omitempty"`
	Params    map[string]any `yaml:"params,omitempty"`
}

// DecodeScenario reads a YAML scenario. Unknown keys are an error.
func DecodeScenario(r io.Reader) (*Scenario, error) {
	var s Scenario
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}
	if len(s.Steps) == 0 {
		return nil, &dynamo.ConfigError{Option: "steps", Reason: "scenario defines no steps"}
	}
	for i, st := range s.Steps {
		if (st.Config == "") == (st.Model == "") {
			return nil, &dynamo.ConfigError{
				Option: fmt.Sprintf("steps[%d]", i),
				Reason: "exactly one of config and model is required",
			}
		}
	}
	return &s, nil
}

// LoadScenario reads a scenario file. Step configs resolve relative to it.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	s, err := DecodeScenario(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	s.dir = filepath.Dir(path)
	return s, nil
}

// Experiment resolves step i into an experiment file with its overrides
// applied and its engine validated.
func (s *Scenario) Experiment(i int) (*config.ExperimentFile, error) {
	st := s.Steps[i]

	var f *config.ExperimentFile
	if st.Config != "" {
		path := st.Config
		if !filepath.IsAbs(path) && s.dir != "" {
			path = filepath.Join(s.dir, path)
		}
		loaded, err := config.LoadExperiment(path)
		if err != nil {
			return nil, err
		}
		f = loaded
	} else {
		spec := &config.SimulationSpec{Model: st.Model}
		if st.Preset != "" {
			spec = config.GetPreset(st.Model, st.Preset)
			if spec == nil {
				return nil, fmt.Errorf("unknown preset: %s/%s", st.Model, st.Preset)
			}
		}
		f = &config.ExperimentFile{Engine: config.DefaultEngine(), Simulations: []config.SimulationSpec{*spec}}
	}

	if st.Backend != "" {
		f.Engine.Backend = config.Backend(st.Backend)
	}
	if st.Processes > 0 {
		f.Engine.Processes = st.Processes
	}
	for j := range f.Simulations {
		sim := &f.Simulations[j]
		if st.Runs > 0 {
			sim.Runs = st.Runs
		}
		if st.Timesteps > 0 {
			sim.Timesteps = st.Timesteps
		}
		if len(st.Params) > 0 && sim.Params == nil {
			sim.Params = make(map[string]any, len(st.Params))
		}
		for k, v := range st.Params {
			sim.Params[k] = v
		}
	}
	if err := f.Engine.Validate(); err != nil {
		return nil, err
	}
	return f, nil
}

// StepName is the display name of step i.
func (s *Scenario) StepName(i int) string {
	st := s.Steps[i]
	switch {
	case st.Name != "":
		return st.Name
	case st.Config != "":
		return strings.TrimSuffix(filepath.Base(st.Config), filepath.Ext(st.Config))
	case st.Preset != "":
		return st.Model + "/" + st.Preset
	default:
		return st.Model
	}
}

// StepResult is what one step produced. ID is set by the run callback.
type StepResult struct {
	Step string
	ID   string
	Err  error
}

// Run resolves every step and hands it to run in order. It stops at the
// first failure unless ContinueOnError is set, and at cancellation.
func (s *Scenario) Run(ctx context.Context, run func(context.Context, *config.ExperimentFile) (string, error)) ([]StepResult, error) {
	results := make([]StepResult, 0, len(s.Steps))
	var errs []error

	for i := range s.Steps {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		res := StepResult{Step: s.StepName(i)}
		f, err := s.Experiment(i)
		if err == nil {
			res.ID, err = run(ctx, f)
		}
		if err != nil {
			res.Err = fmt.Errorf("step %d (%s): %w", i+1, res.Step, err)
			errs = append(errs, res.Err)
		}
		results = append(results, res)

		if err != nil && !s.ContinueOnError {
			break
		}
	}
	return results, errors.Join(errs...)
}
