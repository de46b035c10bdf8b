package bundle

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/require"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

func registry() *experiment.Registry {
	r := experiment.NewRegistry()
	r.Register("counter", func() *experiment.Model {
		return &experiment.Model{
			InitialState: dynamo.State{"x": 0},
			Blocks: []dynamo.Block{{
				Label: "increment",
				Variables: map[string]dynamo.UpdateFunc{
					"x": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
						return "x", prev.Int("x") + 1, nil
					},
				},
			}},
		}
	})
	return r
}

func TestRunsRoundTrip(t *testing.T) {
	runs := []dynamo.RunDescriptor{
		{
			SimulationIndex: 0, Timesteps: 3, RunIndex: 1, SubsetIndex: 2,
			Model:        "counter",
			InitialState: dynamo.State{"x": 4, "rate": 0.5, "tags": []any{"a", 2}},
			Params:       dynamo.Params{"step": 1, "nested": map[string]any{"k": 1.5}},
			Deepcopy:     true,
		},
		{SimulationIndex: 1, Timesteps: 1, Model: "counter", DropSubsteps: true},
	}

	data, err := EncodeRuns(runs)
	require.NoError(t, err)

	got, err := DecodeRuns(data, registry())
	require.NoError(t, err)
	require.Len(t, got, 2)

	if diff := cmp.Diff(runs, got,
		cmpopts.IgnoreFields(dynamo.RunDescriptor{}, "Blocks"),
		cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("descriptor mismatch (-want +got):\n%s", diff)
	}
	require.Len(t, got[0].Blocks, 1)
	require.Equal(t, "increment", got[0].Blocks[0].Label)
}

func TestEncodeRunsRequiresModel(t *testing.T) {
	_, err := EncodeRuns([]dynamo.RunDescriptor{{Timesteps: 1}})
	require.Error(t, err)
}

func TestDecodeRunsUnknownModel(t *testing.T) {
	data, err := EncodeRuns([]dynamo.RunDescriptor{{Model: "missing"}})
	require.NoError(t, err)

	_, err = DecodeRuns(data, registry())
	require.ErrorContains(t, err, "unknown model")
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := DecodeRuns([]byte("not a bundle"), registry())
	require.Error(t, err)
}

func TestOutcomesRoundTrip(t *testing.T) {
	result := [][]dynamo.Snapshot{
		{{Run: 1, State: dynamo.State{"x": 0, "v": 1.25}}},
		{{Run: 1, Substep: 1, Timestep: 1, State: dynamo.State{"x": 1, "v": 2.0}}},
	}
	outcomes := []dynamo.Outcome{
		{Result: result},
		{Err: &dynamo.RunError{SimulationIndex: 1, RunIndex: 2, SubsetIndex: 3, Timestep: 4, Substep: 1, Err: errors.New("diverged")}},
		{Err: errors.New("plain failure")},
	}

	data, err := EncodeOutcomes(outcomes)
	require.NoError(t, err)
	got, err := DecodeOutcomes(data)
	require.NoError(t, err)
	require.Len(t, got, 3)

	if diff := cmp.Diff(result, got[0].Result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}
	require.NoError(t, got[0].Err)

	var runErr *dynamo.RunError
	require.ErrorAs(t, got[1].Err, &runErr)
	require.ErrorIs(t, got[1].Err, dynamo.ErrRunFailure)
	require.Equal(t, 2, runErr.RunIndex)
	require.Equal(t, 4, runErr.Timestep)
	require.Equal(t, "diverged", runErr.Err.Error())
	require.Nil(t, got[1].Result)

	require.EqualError(t, got[2].Err, "plain failure")
}

func TestRemoteParams(t *testing.T) {
	cfg := config.DefaultEngine()
	cfg.RaiseExceptions = false
	cfg.DropSubsteps = true

	p := ParamsFor(cfg, config.SingleProcess)
	data, err := p.MarshalBlock()
	require.NoError(t, err)
	require.JSONEq(t, `{
		"backend": "single_process",
		"process_exceptions": true,
		"raise_exceptions": false,
		"deepcopy": true,
		"drop_substeps": true
	}`, string(data))

	back, err := UnmarshalParams(data)
	require.NoError(t, err)
	require.Equal(t, p, back)

	_, err = UnmarshalParams([]byte(`{"backend": "dask"}`))
	require.ErrorIs(t, err, dynamo.ErrConfiguration)
}
