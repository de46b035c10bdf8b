// Package engine is the entry point for running experiments. An Engine
// validates its configuration once, turns an experiment into a stream of run
// descriptors, hands the stream to the configured executor and splits the
// outcomes into results and exceptions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/san-kum/cadsim/internal/backends"
	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
	"github.com/san-kum/cadsim/internal/logger"
)

type Engine struct {
	cfg      config.Engine
	executor backends.Executor
	preGen   []dynamo.RunDescriptor
	registry *experiment.Registry
	log      *slog.Logger
}

// Output is what one Run produced. Raw always holds one outcome per
// dispatched run. Results and Exceptions are filled only when exception
// processing is enabled.
type Output struct {
	Raw        []dynamo.Outcome
	Results    []dynamo.Snapshot
	Exceptions []error
}

// Failed counts the runs that ended in an error.
func (o *Output) Failed() int {
	n := 0
	for _, r := range o.Raw {
		if r.Err != nil {
			n++
		}
	}
	return n
}

// New builds an engine. Configuration errors wrap dynamo.ErrConfiguration.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cfg:      *config.DefaultEngine(),
		registry: experiment.DefaultRegistry,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = slog.Default()
	}
	if err := e.cfg.Validate(); err != nil {
		return nil, err
	}

	exec, err := backends.New(backends.Env{Config: &e.cfg, Runner: e, Logger: e.log})
	if err != nil {
		return nil, err
	}
	e.executor = exec
	return e, nil
}

// Config returns a copy of the validated configuration.
func (e *Engine) Config() config.Engine { return e.cfg }

func (e *Engine) Backend() config.Backend { return e.executor.Name() }

// Run dispatches every run of exp. The experiment hooks bracket the whole
// dispatch; after-experiment fires only when exceptions are processed.
func (e *Engine) Run(ctx context.Context, exp *experiment.Experiment) (*Output, error) {
	if exp == nil {
		return nil, dynamo.ErrNoExperiment
	}
	configs, err := simulationConfigs(exp)
	if err != nil {
		return nil, err
	}
	ctx = logger.WithLogger(ctx, e.log)

	exp.FireBeforeExperiment()

	var src dynamo.Source
	if e.preGen != nil {
		src = dynamo.NewSliceSource(e.preGen)
	} else {
		ps := newPullSource(e.runs(exp, configs))
		defer ps.Stop()
		src = ps
	}

	start := time.Now()
	e.log.Info("dispatching experiment",
		"experiment", exp.ID,
		"backend", e.executor.Name(),
		"processes", e.cfg.Processes,
		"simulations", len(configs),
		"pre_generated", e.preGen != nil)

	outcomes, err := e.executor.ExecuteRuns(ctx, src)
	if err != nil {
		e.log.Error("dispatch aborted", "experiment", exp.ID, "error", err)
		return nil, err
	}

	out := &Output{Raw: outcomes}
	e.log.Info("dispatch finished",
		"experiment", exp.ID,
		"runs", len(outcomes),
		"failed", out.Failed(),
		"duration", time.Since(start))

	if e.cfg.ProcessExceptions {
		out.Results, out.Exceptions = dynamo.ExtractExceptions(outcomes)
		exp.Results, exp.Exceptions = out.Results, out.Exceptions
		exp.FireAfterExperiment()
	}
	return out, nil
}

func simulationConfigs(exp *experiment.Experiment) ([]simConfig, error) {
	configs := make([]simConfig, 0, len(exp.Simulations))
	for i, s := range exp.Simulations {
		if s == nil || s.Model == nil {
			return nil, &dynamo.ConfigError{Option: fmt.Sprintf("simulations[%d]", i), Reason: "no model"}
		}
		if s.Timesteps < 0 || s.Runs < 0 {
			return nil, &dynamo.ConfigError{
				Option: fmt.Sprintf("simulations[%d]", i),
				Reason: fmt.Sprintf("timesteps and runs must not be negative, got %d and %d", s.Timesteps, s.Runs),
			}
		}
		configs = append(configs, simConfig{
			sim:          s,
			model:        s.Model.Name,
			initialState: s.Model.InitialState,
			blocks:       s.Model.Blocks,
			params:       s.Model.Params,
			timesteps:    s.Timesteps,
			runs:         s.Runs,
		})
	}
	return configs, nil
}

// RunBundle executes an encoded run bundle with params and returns the
// encoded raw outcomes. The bundle is run by a fresh engine on the backend
// named in params, resolving blocks through the registry of e.
func (e *Engine) RunBundle(ctx context.Context, payload []byte, params bundle.RemoteParams) ([]byte, error) {
	return RunBundle(ctx, payload, params,
		WithRegistry(e.registry),
		WithLogger(e.log),
		WithProcesses(e.cfg.Processes))
}

// RunBundle is the remote agent: it decodes payload, runs it verbatim and
// encodes the outcomes. Only local backends may execute a bundle.
func RunBundle(ctx context.Context, payload []byte, params bundle.RemoteParams, opts ...Option) ([]byte, error) {
	if params.Backend == config.Golem || params.Backend == config.RayRemote {
		return nil, &dynamo.ConfigError{Option: "backend", Reason: "bundles must run on a local backend"}
	}

	probe := &Engine{registry: experiment.DefaultRegistry}
	for _, opt := range opts {
		opt(probe)
	}
	runs, err := bundle.DecodeRuns(payload, probe.registry)
	if err != nil {
		return nil, err
	}

	agent, err := New(append(slices.Clone(opts),
		WithBackend(params.Backend),
		WithRaiseExceptions(params.RaiseExceptions),
		WithProcessExceptions(false),
		WithDeepcopy(params.Deepcopy),
		WithDropSubsteps(params.DropSubsteps),
		WithPreGenRuns(runs),
	)...)
	if err != nil {
		return nil, err
	}

	out, err := agent.Run(ctx, experiment.New())
	if err != nil {
		return nil, err
	}
	return bundle.EncodeOutcomes(out.Raw)
}
