package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
	"github.com/san-kum/cadsim/internal/logger"
)

func incrementBlocks() []dynamo.Block {
	return []dynamo.Block{{
		Variables: map[string]dynamo.UpdateFunc{
			"x": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
				if p.Int("fail_run") == 1 && h[0][0].Run == 2 {
					return "", nil, errors.New("run two fails")
				}
				return "x", prev.Int("x") + 1, nil
			},
		},
	}}
}

func incrementModel(params dynamo.ParamSpace) *experiment.Model {
	return &experiment.Model{
		Name:         "increment",
		InitialState: dynamo.State{"x": 0},
		Blocks:       incrementBlocks(),
		Params:       params,
	}
}

func testRegistry() *experiment.Registry {
	r := experiment.NewRegistry()
	r.Register("increment", func() *experiment.Model { return incrementModel(nil) })
	return r
}

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	e, err := New(append([]Option{WithLogger(logger.Discard()), WithRegistry(testRegistry())}, opts...)...)
	require.NoError(t, err)
	return e
}

func xs(result [][]dynamo.Snapshot) []int {
	var out []int
	for _, substeps := range result {
		for _, s := range substeps {
			out = append(out, s.State.Int("x"))
		}
	}
	return out
}

func TestRunIncrementAcrossBackends(t *testing.T) {
	for _, b := range []config.Backend{config.SingleProcess, config.Multiprocessing, config.Pathos, config.Ray} {
		t.Run(string(b), func(t *testing.T) {
			e := newEngine(t, WithBackend(b), WithProcesses(2))
			exp := experiment.New(experiment.NewSimulation(incrementModel(nil), 2, 3))

			out, err := e.Run(context.Background(), exp)
			require.NoError(t, err)
			require.Len(t, out.Raw, 3)
			for i, o := range out.Raw {
				require.NoError(t, o.Err)
				if diff := cmp.Diff([]int{0, 1, 2}, xs(o.Result)); diff != "" {
					t.Errorf("run %d (-want +got):\n%s", i, diff)
				}
				require.Equal(t, i+1, o.Result[0][0].Run)
			}

			require.Len(t, out.Results, 9)
			require.Equal(t, []error{nil, nil, nil}, out.Exceptions)
			require.Equal(t, out.Results, exp.Results)
		})
	}
}

func TestRunCapturesExceptions(t *testing.T) {
	e := newEngine(t, WithBackend(config.SingleProcess), WithRaiseExceptions(false))
	exp := experiment.New(experiment.NewSimulation(incrementModel(dynamo.ParamSpace{"fail_run": {1}}), 2, 3))

	out, err := e.Run(context.Background(), exp)
	require.NoError(t, err)
	require.Len(t, out.Exceptions, 3)
	require.NoError(t, out.Exceptions[0])
	require.ErrorIs(t, out.Exceptions[1], dynamo.ErrRunFailure)
	require.NoError(t, out.Exceptions[2])
	require.Len(t, out.Results, 6)
	require.Equal(t, 1, out.Failed())
}

func TestRunRaisesExceptions(t *testing.T) {
	e := newEngine(t, WithBackend(config.Multiprocessing))
	exp := experiment.New(experiment.NewSimulation(incrementModel(dynamo.ParamSpace{"fail_run": {1}}), 2, 3))

	var after bool
	exp.Hooks.AfterExperiment = func(*experiment.Experiment) { after = true }

	_, err := e.Run(context.Background(), exp)
	require.ErrorIs(t, err, dynamo.ErrRunFailure)
	require.False(t, after)
}

func TestRunWithoutProcessingReturnsRaw(t *testing.T) {
	e := newEngine(t, WithBackend(config.SingleProcess), WithProcessExceptions(false))
	exp := experiment.New(experiment.NewSimulation(incrementModel(nil), 1, 2))

	var after bool
	exp.Hooks.AfterExperiment = func(*experiment.Experiment) { after = true }

	out, err := e.Run(context.Background(), exp)
	require.NoError(t, err)
	require.Len(t, out.Raw, 2)
	require.Nil(t, out.Results)
	require.Nil(t, out.Exceptions)
	require.Nil(t, exp.Results)
	require.False(t, after)
}

func TestRunRequiresExperiment(t *testing.T) {
	e := newEngine(t)
	_, err := e.Run(context.Background(), nil)
	require.ErrorIs(t, err, dynamo.ErrNoExperiment)
}

func TestNewRejectsConfiguration(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{"unknown backend", []Option{WithBackend("dask")}},
		{"golem without conf", []Option{WithBackend(config.Golem)}},
		{"golem without key", []Option{WithBackend(config.Golem), WithGolem(&config.GolemConfig{Nodes: 1})}},
		{"ray_remote without endpoints", []Option{WithBackend(config.RayRemote)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts...)
			require.ErrorIs(t, err, dynamo.ErrConfiguration)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	e := newEngine(t)
	cfg := e.Config()
	require.Equal(t, config.Pathos, e.Backend())
	require.Equal(t, config.DefaultProcesses(), cfg.Processes)
	require.True(t, cfg.Deepcopy)
	require.False(t, cfg.DropSubsteps)
}

func TestDropSubsteps(t *testing.T) {
	model := incrementModel(nil)
	model.Blocks = append(model.Blocks, incrementBlocks()...)

	e := newEngine(t, WithBackend(config.SingleProcess), WithDropSubsteps(true))
	out, err := e.Run(context.Background(), experiment.New(experiment.NewSimulation(model, 3, 1)))
	require.NoError(t, err)
	require.Equal(t, []int{0, 2, 4, 6}, xs(out.Raw[0].Result))
}

func TestPreGenRunsBypassGeneration(t *testing.T) {
	runs := []dynamo.RunDescriptor{
		{Timesteps: 1, RunIndex: 4, Model: "increment", InitialState: dynamo.State{"x": 10}, Blocks: incrementBlocks()},
	}
	e := newEngine(t, WithBackend(config.SingleProcess), WithPreGenRuns(runs))

	exp := experiment.New(experiment.NewSimulation(incrementModel(nil), 5, 5))
	var before, simHook int
	exp.Hooks.BeforeExperiment = func(*experiment.Experiment) { before++ }
	exp.Hooks.BeforeSimulation = func(*experiment.Simulation) { simHook++ }

	out, err := e.Run(context.Background(), exp)
	require.NoError(t, err)
	require.Len(t, out.Raw, 1)
	require.Equal(t, []int{10, 11}, xs(out.Raw[0].Result))
	require.Equal(t, 5, out.Raw[0].Result[0][0].Run)
	require.Equal(t, 1, before)
	require.Zero(t, simHook)
}

func TestRunBundle(t *testing.T) {
	runs := []dynamo.RunDescriptor{
		{Timesteps: 2, RunIndex: 0, Model: "increment", InitialState: dynamo.State{"x": 0}},
		{Timesteps: 2, RunIndex: 1, Model: "increment", InitialState: dynamo.State{"x": 5}, Params: dynamo.Params{"fail_run": 1}},
	}
	payload, err := bundle.EncodeRuns(runs)
	require.NoError(t, err)

	e := newEngine(t)
	data, err := e.RunBundle(context.Background(), payload, bundle.RemoteParams{Backend: config.SingleProcess})
	require.NoError(t, err)

	out, err := bundle.DecodeOutcomes(data)
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, []int{0, 1, 2}, xs(out[0].Result))
	require.ErrorIs(t, out[1].Err, dynamo.ErrRunFailure)

	_, err = e.RunBundle(context.Background(), payload, bundle.RemoteParams{Backend: config.SingleProcess, RaiseExceptions: true})
	require.ErrorIs(t, err, dynamo.ErrRunFailure)

	_, err = e.RunBundle(context.Background(), payload, bundle.RemoteParams{Backend: config.Golem})
	require.ErrorIs(t, err, dynamo.ErrConfiguration)
}

func TestGolemThroughEngine(t *testing.T) {
	e := newEngine(t,
		WithBackend(config.Golem),
		WithRaiseExceptions(false),
		WithGolem(&config.GolemConfig{
			Nodes:    2,
			Bundles:  2,
			YagnaKey: "key",
			LogFile:  t.TempDir() + "/golem.log",
			WorkDir:  t.TempDir(),
		}))
	exp := experiment.New(experiment.NewSimulation(incrementModel(dynamo.ParamSpace{"fail_run": {1}}), 2, 5))

	out, err := e.Run(context.Background(), exp)
	require.NoError(t, err)
	require.Len(t, out.Raw, 5)
	for i, o := range out.Raw {
		if i == 1 {
			require.Error(t, o.Err)
			continue
		}
		require.Equal(t, []int{0, 1, 2}, xs(o.Result))
		require.Equal(t, i+1, o.Result[0][0].Run)
	}
}

func TestDescriptorsAreIndependent(t *testing.T) {
	model := incrementModel(dynamo.ParamSpace{"rate": {0.1, 0.2}})
	model.InitialState = dynamo.State{"x": 0, "history": []any{1, 2}}
	exp := experiment.New(experiment.NewSimulation(model, 1, 2))
	configs, err := simulationConfigs(exp)
	require.NoError(t, err)

	e := newEngine(t)
	var runs []dynamo.RunDescriptor
	for d := range e.runs(exp, configs) {
		runs = append(runs, d)
	}
	require.Len(t, runs, 4)

	runs[0].InitialState["x"] = 99
	runs[0].InitialState["history"].([]any)[0] = 99
	runs[0].Params["rate"] = 5.0

	require.Equal(t, 0, runs[1].InitialState["x"])
	require.Equal(t, 1, runs[2].InitialState["history"].([]any)[0])
	require.Equal(t, 0.1, runs[2].Params["rate"])
	require.Equal(t, 0, model.InitialState["x"])
}

func TestShallowDescriptorsWithoutDeepcopy(t *testing.T) {
	model := incrementModel(nil)
	exp := experiment.New(experiment.NewSimulation(model, 1, 2))
	configs, err := simulationConfigs(exp)
	require.NoError(t, err)

	e := newEngine(t, WithDeepcopy(false))
	var runs []dynamo.RunDescriptor
	for d := range e.runs(exp, configs) {
		runs = append(runs, d)
	}
	runs[0].InitialState["x"] = 7
	require.Equal(t, 7, runs[1].InitialState["x"])
	require.False(t, runs[1].Deepcopy)
}

func TestStreamStopsWhenConsumerStops(t *testing.T) {
	exp := experiment.New(experiment.NewSimulation(incrementModel(nil), 1, 10))
	var afterRuns int
	exp.Hooks.AfterRun = func(experiment.Context) { afterRuns++ }
	configs, err := simulationConfigs(exp)
	require.NoError(t, err)

	e := newEngine(t)
	src := newPullSource(e.runs(exp, configs))
	_, ok := src.Next()
	require.True(t, ok)
	src.Stop()

	_, ok = src.Next()
	require.False(t, ok)
	require.Zero(t, afterRuns)
}
