package sim

import (
	"context"
	"errors"
	"testing"

	"github.com/san-kum/cadsim/internal/dynamo"
)

func increment(key string) dynamo.UpdateFunc {
	return func(p dynamo.Params, substep int, history [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
		return key, prev.Int(key) + 1, nil
	}
}

func counterRun(timesteps int) dynamo.RunDescriptor {
	return dynamo.RunDescriptor{
		Timesteps:    timesteps,
		InitialState: dynamo.State{"x": 0},
		Blocks: []dynamo.Block{
			{Variables: map[string]dynamo.UpdateFunc{"x": increment("x")}},
		},
		Params:   dynamo.Params{},
		Deepcopy: true,
	}
}

func TestRunCounter(t *testing.T) {
	res, err := Run(context.Background(), counterRun(2))
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if len(res) != 3 {
		t.Fatalf("expected 3 timestep entries, got %d", len(res))
	}
	for ts, substeps := range res {
		if len(substeps) != 1 {
			t.Fatalf("timestep %d: expected 1 substep, got %d", ts, len(substeps))
		}
		s := substeps[0]
		if s.State.Int("x") != ts {
			t.Errorf("timestep %d: expected x=%d, got %v", ts, ts, s.State["x"])
		}
		if s.Timestep != ts {
			t.Errorf("expected timestep tag %d, got %d", ts, s.Timestep)
		}
		if s.Run != 1 {
			t.Errorf("expected one-based run tag, got %d", s.Run)
		}
	}
	if res[0][0].Substep != 0 || res[1][0].Substep != 1 {
		t.Error("unexpected substep tags")
	}
}

func TestRunSubstepsAndDrop(t *testing.T) {
	d := counterRun(3)
	d.Blocks = append(d.Blocks, dynamo.Block{
		Variables: map[string]dynamo.UpdateFunc{"x": increment("x")},
	})

	res, err := Run(context.Background(), d)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if len(res[1]) != 2 {
		t.Fatalf("expected 2 substeps, got %d", len(res[1]))
	}
	if got := res[3][1].State.Int("x"); got != 6 {
		t.Errorf("expected x=6 at the end, got %d", got)
	}

	d.DropSubsteps = true
	res, err = Run(context.Background(), d)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	for ts := 1; ts < len(res); ts++ {
		if len(res[ts]) != 1 {
			t.Fatalf("timestep %d: expected substeps dropped, got %d", ts, len(res[ts]))
		}
		if res[ts][0].Substep != 2 {
			t.Errorf("expected last substep kept, got %d", res[ts][0].Substep)
		}
	}
	if got := res[3][0].State.Int("x"); got != 6 {
		t.Errorf("expected x=6 with dropped substeps, got %d", got)
	}
}

func TestRunPolicySignalsAreSummed(t *testing.T) {
	constant := func(v float64) dynamo.PolicyFunc {
		return func(p dynamo.Params, substep int, history [][]dynamo.Snapshot, prev dynamo.State) (dynamo.Signals, error) {
			return dynamo.Signals{"delta": v}, nil
		}
	}

	d := dynamo.RunDescriptor{
		Timesteps:    1,
		InitialState: dynamo.State{"x": 1.0},
		Params:       dynamo.Params{"scale": 2.0},
		Blocks: []dynamo.Block{{
			Policies: map[string]dynamo.PolicyFunc{"a": constant(0.5), "b": constant(1.5)},
			Variables: map[string]dynamo.UpdateFunc{
				"x": func(p dynamo.Params, substep int, history [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
					delta, _ := dynamo.ToFloat(in["delta"])
					return "x", prev.Float("x") + p.Float("scale")*delta, nil
				},
			},
		}},
	}

	res, err := Run(context.Background(), d)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if got := res[1][0].State.Float("x"); got != 5.0 {
		t.Errorf("expected x=5, got %v", got)
	}
}

func TestRunVariablesSeeSamePreviousState(t *testing.T) {
	d := dynamo.RunDescriptor{
		Timesteps:    1,
		InitialState: dynamo.State{"a": 1, "b": 10},
		Blocks: []dynamo.Block{{
			Variables: map[string]dynamo.UpdateFunc{
				"a": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
					return "a", prev.Int("b"), nil
				},
				"b": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
					return "b", prev.Int("a"), nil
				},
			},
		}},
	}

	res, err := Run(context.Background(), d)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	s := res[1][0].State
	if s.Int("a") != 10 || s.Int("b") != 1 {
		t.Errorf("expected swapped values, got %v", s)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		fn   dynamo.UpdateFunc
		is   error
	}{
		{
			"key mismatch",
			func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
				return "y", 1, nil
			},
			dynamo.ErrStateKeyMismatch,
		},
		{
			"returned error",
			func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
				return "", nil, errors.New("diverged")
			},
			dynamo.ErrRunFailure,
		},
		{
			"panic",
			func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
				panic("nil map")
			},
			dynamo.ErrRunFailure,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := counterRun(2)
			d.SimulationIndex, d.RunIndex, d.SubsetIndex = 1, 2, 3
			d.Blocks = []dynamo.Block{{Variables: map[string]dynamo.UpdateFunc{"x": tt.fn}}}

			_, err := Run(context.Background(), d)
			if !errors.Is(err, tt.is) {
				t.Fatalf("expected %v, got %v", tt.is, err)
			}

			var runErr *dynamo.RunError
			if !errors.As(err, &runErr) {
				t.Fatalf("expected RunError, got %T", err)
			}
			if runErr.SimulationIndex != 1 || runErr.RunIndex != 2 || runErr.SubsetIndex != 3 {
				t.Errorf("unexpected indices: %+v", runErr)
			}
			if runErr.Timestep != 1 || runErr.Substep != 1 {
				t.Errorf("unexpected position: timestep %d substep %d", runErr.Timestep, runErr.Substep)
			}
		})
	}
}

func TestWrap(t *testing.T) {
	bad := counterRun(1)
	bad.Blocks = []dynamo.Block{{Variables: map[string]dynamo.UpdateFunc{
		"x": func(p dynamo.Params, substep int, h [][]dynamo.Snapshot, prev dynamo.State, in dynamo.Signals) (string, any, error) {
			return "", nil, errors.New("boom")
		},
	}}}

	out, err := Wrap(context.Background(), bad, false)
	if err != nil {
		t.Fatalf("expected captured failure, got %v", err)
	}
	if out.Err == nil || out.Result != nil {
		t.Errorf("expected error outcome with nil result, got %+v", out)
	}

	if _, err := Wrap(context.Background(), bad, true); err == nil {
		t.Error("expected raised failure")
	}

	ok, err := Wrap(context.Background(), counterRun(1), true)
	if err != nil || ok.Err != nil || len(ok.Result) != 2 {
		t.Errorf("unexpected successful outcome: %+v, %v", ok, err)
	}
}

func TestRunCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Wrap(ctx, counterRun(5), false); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancellation to propagate, got %v", err)
	}
}

func TestRunDoesNotMutateDescriptorState(t *testing.T) {
	d := counterRun(3)
	if _, err := Run(context.Background(), d); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if d.InitialState.Int("x") != 0 {
		t.Errorf("descriptor state mutated: %v", d.InitialState)
	}
}
