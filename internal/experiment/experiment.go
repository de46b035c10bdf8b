// Package experiment describes what to simulate: models, simulations, the
// experiment grouping them, and the lifecycle hooks fired while runs are
// generated.
package experiment

import (
	"github.com/google/uuid"

	"github.com/san-kum/cadsim/internal/dynamo"
)

// Model is the declarative dynamical system. Blocks are shared by reference
// across runs; InitialState and Params are copied per run.
type Model struct {
	Name         string
	InitialState dynamo.State
	Blocks       []dynamo.Block
	Params       dynamo.ParamSpace
}

// Simulation runs a model for a number of timesteps, repeated Runs times.
type Simulation struct {
	Model     *Model
	Timesteps int
	Runs      int
	Hooks     Hooks

	// Index is the position of the simulation within its experiment. It is
	// assigned when the experiment is dispatched.
	Index int
}

func NewSimulation(model *Model, timesteps, runs int) *Simulation {
	return &Simulation{Model: model, Timesteps: timesteps, Runs: runs}
}

// Experiment groups simulations dispatched together. Results and Exceptions
// are filled in after a run when exception processing is enabled.
type Experiment struct {
	ID          string
	Simulations []*Simulation
	Hooks       Hooks

	Results    []dynamo.Snapshot
	Exceptions []error
}

func New(sims ...*Simulation) *Experiment {
	return &Experiment{
		ID:          uuid.NewString(),
		Simulations: sims,
	}
}

func (e *Experiment) Add(sims ...*Simulation) {
	e.Simulations = append(e.Simulations, sims...)
}

// Context is the read-only view of a run handed to run and subset hooks.
// SubsetIndex is nil for the before-run hook that opens a sweep.
type Context struct {
	SimulationIndex int
	RunIndex        int
	SubsetIndex     *int
	Timesteps       int
	InitialState    dynamo.State
	Params          dynamo.ParamSpace
}

// Hooks are instrumentation callbacks. Nil hooks are skipped.
type Hooks struct {
	BeforeExperiment func(*Experiment)
	AfterExperiment  func(*Experiment)
	BeforeSimulation func(*Simulation)
	AfterSimulation  func(*Simulation)
	BeforeRun        func(Context)
	AfterRun         func(Context)
	BeforeSubset     func(Context)
	AfterSubset      func(Context)
}

func (e *Experiment) FireBeforeExperiment() {
	if e.Hooks.BeforeExperiment != nil {
		e.Hooks.BeforeExperiment(e)
	}
}

func (e *Experiment) FireAfterExperiment() {
	if e.Hooks.AfterExperiment != nil {
		e.Hooks.AfterExperiment(e)
	}
}

// The simulation and run scoped hooks fire the experiment hook first, then
// the hook of the simulation being generated.

func (e *Experiment) FireBeforeSimulation(s *Simulation) {
	if e.Hooks.BeforeSimulation != nil {
		e.Hooks.BeforeSimulation(s)
	}
	if s.Hooks.BeforeSimulation != nil {
		s.Hooks.BeforeSimulation(s)
	}
}

func (e *Experiment) FireAfterSimulation(s *Simulation) {
	if e.Hooks.AfterSimulation != nil {
		e.Hooks.AfterSimulation(s)
	}
	if s.Hooks.AfterSimulation != nil {
		s.Hooks.AfterSimulation(s)
	}
}

func (e *Experiment) FireBeforeRun(s *Simulation, c Context) {
	fire(e.Hooks.BeforeRun, s.Hooks.BeforeRun, c)
}

func (e *Experiment) FireAfterRun(s *Simulation, c Context) {
	fire(e.Hooks.AfterRun, s.Hooks.AfterRun, c)
}

func (e *Experiment) FireBeforeSubset(s *Simulation, c Context) {
	fire(e.Hooks.BeforeSubset, s.Hooks.BeforeSubset, c)
}

func (e *Experiment) FireAfterSubset(s *Simulation, c Context) {
	fire(e.Hooks.AfterSubset, s.Hooks.AfterSubset, c)
}

func fire(experimentHook, simulationHook func(Context), c Context) {
	if experimentHook != nil {
		experimentHook(c)
	}
	if simulationHook != nil {
		simulationHook(c)
	}
}
