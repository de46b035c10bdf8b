// Package sim executes a single run descriptor: the timestep loop over the
// model's state update blocks.
package sim

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/logger"
)

// Run executes d and returns one slice of snapshots per timestep. Element 0
// holds the initial state; every later element holds the substeps of that
// timestep (only the last one when d.DropSubsteps is set).
func Run(ctx context.Context, d dynamo.RunDescriptor) ([][]dynamo.Snapshot, error) {
	r := runner{d: d}
	if err := r.validate(); err != nil {
		return nil, err
	}

	result := make([][]dynamo.Snapshot, 0, d.Timesteps+1)
	initial := d.InitialState.Copy()
	if initial == nil {
		initial = dynamo.State{}
	}
	result = append(result, []dynamo.Snapshot{r.snapshot(0, 0, initial)})

	prev := initial
	for ts := 1; ts <= d.Timesteps; ts++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		substeps := make([]dynamo.Snapshot, 0, len(d.Blocks))
		substate := prev
		for i, b := range d.Blocks {
			next, err := r.applyBlock(b, i, result, substate)
			if err != nil {
				return nil, r.fail(ts, i+1, err)
			}
			substeps = append(substeps, r.snapshot(ts, i+1, next))
			substate = next
		}
		if len(substeps) == 0 {
			substeps = append(substeps, r.snapshot(ts, 0, r.copyState(prev)))
		}

		prev = substeps[len(substeps)-1].State
		if d.DropSubsteps {
			substeps = substeps[len(substeps)-1:]
		}
		result = append(result, substeps)
	}

	return result, nil
}

// Wrap runs d and converts a failure into an outcome. When raise is set the
// failure is returned as an error instead. Context cancellation is always
// returned as an error.
func Wrap(ctx context.Context, d dynamo.RunDescriptor, raise bool) (dynamo.Outcome, error) {
	res, err := Run(ctx, d)
	if err == nil {
		return dynamo.Outcome{Result: res}, nil
	}
	if raise || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return dynamo.Outcome{}, err
	}

	logger.FromContext(ctx).Warn("run failed",
		"simulation", d.SimulationIndex,
		"run", d.RunIndex,
		"subset", d.SubsetIndex,
		"error", err)
	return dynamo.Outcome{Err: err}, nil
}

type runner struct {
	d dynamo.RunDescriptor
}

func (r *runner) validate() error {
	if r.d.Timesteps < 0 {
		return r.fail(0, 0, fmt.Errorf("timesteps must not be negative, got %d", r.d.Timesteps))
	}
	return nil
}

func (r *runner) snapshot(timestep, substep int, s dynamo.State) dynamo.Snapshot {
	return dynamo.Snapshot{
		Simulation: r.d.SimulationIndex,
		Subset:     r.d.SubsetIndex,
		Run:        r.d.RunIndex + 1,
		Substep:    substep,
		Timestep:   timestep,
		State:      s,
	}
}

func (r *runner) fail(timestep, substep int, err error) error {
	return &dynamo.RunError{
		SimulationIndex: r.d.SimulationIndex,
		RunIndex:        r.d.RunIndex,
		SubsetIndex:     r.d.SubsetIndex,
		Timestep:        timestep,
		Substep:         substep,
		Params:          r.d.Params,
		Err:             err,
	}
}

func (r *runner) copyState(s dynamo.State) dynamo.State {
	if r.d.Deepcopy {
		return s.Clone()
	}
	return s.Copy()
}

func (r *runner) params() dynamo.Params {
	if r.d.Deepcopy {
		return r.d.Params.Clone()
	}
	return r.d.Params
}

func (r *runner) applyBlock(b dynamo.Block, substep int, history [][]dynamo.Snapshot, substate dynamo.State) (dynamo.State, error) {
	p := r.params()

	signals, err := r.reduceSignals(b, p, substep, history, substate)
	if err != nil {
		return nil, err
	}

	next := substate.Copy()
	for _, name := range sortedKeys(b.Variables) {
		fn := b.Variables[name]
		var (
			key   string
			value any
		)
		err := protect(func() error {
			var err error
			key, value, err = fn(p, substep, history, r.copyState(substate), signals)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("update %q: %w", name, err)
		}
		if key != name {
			return nil, fmt.Errorf("%w: variable %q returned key %q", dynamo.ErrStateKeyMismatch, name, key)
		}
		next[key] = value
	}
	return next, nil
}

func (r *runner) reduceSignals(b dynamo.Block, p dynamo.Params, substep int, history [][]dynamo.Snapshot, substate dynamo.State) (dynamo.Signals, error) {
	names := sortedKeys(b.Policies)
	if len(names) == 0 {
		return dynamo.Signals{}, nil
	}

	reduced := dynamo.Signals{}
	for _, name := range names {
		fn := b.Policies[name]
		var out dynamo.Signals
		err := protect(func() error {
			var err error
			out, err = fn(p, substep, history, r.copyState(substate))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		if len(names) == 1 {
			return out, nil
		}
		for k, v := range out {
			cur, ok := reduced[k]
			if !ok {
				reduced[k] = v
				continue
			}
			sum, err := dynamo.AddValues(cur, v)
			if err != nil {
				return nil, fmt.Errorf("policy %q signal %q: %w", name, k, err)
			}
			reduced[k] = sum
		}
	}
	return reduced, nil
}

// protect converts a panic in user code into an error.
func protect(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return fn()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
