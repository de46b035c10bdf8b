// Package bundle is the serialization boundary between the engine and remote
// workers. A bundle is a gzip-compressed msgpack document holding run
// descriptors; the worker answers with an outcome bundle in the same framing.
// State update blocks never travel: a descriptor names its model and the
// receiving side resolves the blocks through its model registry.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

// Version is written into every bundle and checked on decode.
const Version = 1

var ErrVersion = errors.New("bundle: unsupported version")

// RemoteParams is the JSON parameter block sent alongside a bundle. It
// selects the backend the worker runs the bundle with.
type RemoteParams struct {
	Backend           config.Backend `json:"backend"`
	ProcessExceptions bool           `json:"process_exceptions"`
	RaiseExceptions   bool           `json:"raise_exceptions"`
	Deepcopy          bool           `json:"deepcopy"`
	DropSubsteps      bool           `json:"drop_substeps"`
}

// ParamsFor builds the parameter block for a dispatch made with cfg. The
// worker runs with backend, not with the dispatching backend.
func ParamsFor(cfg *config.Engine, backend config.Backend) RemoteParams {
	return RemoteParams{
		Backend:           backend,
		ProcessExceptions: cfg.ProcessExceptions,
		RaiseExceptions:   cfg.RaiseExceptions,
		Deepcopy:          cfg.Deepcopy,
		DropSubsteps:      cfg.DropSubsteps,
	}
}

func (p RemoteParams) MarshalBlock() ([]byte, error) {
	return json.Marshal(p)
}

func UnmarshalParams(data []byte) (RemoteParams, error) {
	var p RemoteParams
	if err := json.Unmarshal(data, &p); err != nil {
		return RemoteParams{}, fmt.Errorf("decode params block: %w", err)
	}
	b, err := config.ParseBackend(string(p.Backend))
	if err != nil {
		return RemoteParams{}, err
	}
	p.Backend = b
	return p, nil
}

// Runner executes an encoded run bundle and returns the encoded outcomes.
// The engine implements it; executors and the worker server depend only on
// this interface.
type Runner interface {
	RunBundle(ctx context.Context, payload []byte, params RemoteParams) ([]byte, error)
}

type descriptor struct {
	SimulationIndex int            `json:"simulation_index"`
	Timesteps       int            `json:"timesteps"`
	RunIndex        int            `json:"run_index"`
	SubsetIndex     int            `json:"subset_index"`
	Model           string         `json:"model"`
	InitialState    map[string]any `json:"initial_state"`
	Params          map[string]any `json:"params"`
	Deepcopy        bool           `json:"deepcopy"`
	DropSubsteps    bool           `json:"drop_substeps"`
}

type runBundle struct {
	Version int          `json:"version"`
	Runs    []descriptor `json:"runs"`
}

type wireError struct {
	Run             bool   `json:"run"`
	SimulationIndex int    `json:"simulation_index"`
	RunIndex        int    `json:"run_index"`
	SubsetIndex     int    `json:"subset_index"`
	Timestep        int    `json:"timestep"`
	Substep         int    `json:"substep"`
	Message         string `json:"message"`
}

type wireOutcome struct {
	Result [][]dynamo.Snapshot `json:"result"`
	Err    *wireError          `json:"error,omitempty"`
}

type outcomeBundle struct {
	Version  int           `json:"version"`
	Outcomes []wireOutcome `json:"outcomes"`
}

// EncodeRuns serializes runs. Every descriptor must name its model.
func EncodeRuns(runs []dynamo.RunDescriptor) ([]byte, error) {
	b := runBundle{Version: Version, Runs: make([]descriptor, len(runs))}
	for i, d := range runs {
		if d.Model == "" {
			return nil, fmt.Errorf("run %d: descriptor names no model", i)
		}
		b.Runs[i] = descriptor{
			SimulationIndex: d.SimulationIndex,
			Timesteps:       d.Timesteps,
			RunIndex:        d.RunIndex,
			SubsetIndex:     d.SubsetIndex,
			Model:           d.Model,
			InitialState:    d.InitialState,
			Params:          d.Params,
			Deepcopy:        d.Deepcopy,
			DropSubsteps:    d.DropSubsteps,
		}
	}
	return encode(b)
}

// DecodeRuns deserializes a run bundle, resolving blocks through reg.
func DecodeRuns(data []byte, reg *experiment.Registry) ([]dynamo.RunDescriptor, error) {
	var b runBundle
	if err := decode(data, &b); err != nil {
		return nil, err
	}
	if b.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, b.Version)
	}

	blocks := make(map[string][]dynamo.Block)
	runs := make([]dynamo.RunDescriptor, len(b.Runs))
	for i, d := range b.Runs {
		bl, ok := blocks[d.Model]
		if !ok {
			var err error
			if bl, err = reg.Blocks(d.Model); err != nil {
				return nil, fmt.Errorf("run %d: %w", i, err)
			}
			blocks[d.Model] = bl
		}
		runs[i] = dynamo.RunDescriptor{
			SimulationIndex: d.SimulationIndex,
			Timesteps:       d.Timesteps,
			RunIndex:        d.RunIndex,
			SubsetIndex:     d.SubsetIndex,
			Model:           d.Model,
			InitialState:    dynamo.State(dynamo.NormalizeMap(d.InitialState)),
			Blocks:          bl,
			Params:          dynamo.Params(dynamo.NormalizeMap(d.Params)),
			Deepcopy:        d.Deepcopy,
			DropSubsteps:    d.DropSubsteps,
		}
	}
	return runs, nil
}

// EncodeOutcomes serializes outcomes. Errors travel as messages; a RunError
// keeps its position fields.
func EncodeOutcomes(outcomes []dynamo.Outcome) ([]byte, error) {
	b := outcomeBundle{Version: Version, Outcomes: make([]wireOutcome, len(outcomes))}
	for i, o := range outcomes {
		b.Outcomes[i].Result = o.Result
		if o.Err == nil {
			continue
		}
		we := &wireError{Message: o.Err.Error()}
		var runErr *dynamo.RunError
		if errors.As(o.Err, &runErr) {
			we.Run = true
			we.SimulationIndex = runErr.SimulationIndex
			we.RunIndex = runErr.RunIndex
			we.SubsetIndex = runErr.SubsetIndex
			we.Timestep = runErr.Timestep
			we.Substep = runErr.Substep
			we.Message = runErr.Err.Error()
		}
		b.Outcomes[i].Err = we
	}
	return encode(b)
}

func DecodeOutcomes(data []byte) ([]dynamo.Outcome, error) {
	var b outcomeBundle
	if err := decode(data, &b); err != nil {
		return nil, err
	}
	if b.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, b.Version)
	}

	outcomes := make([]dynamo.Outcome, len(b.Outcomes))
	for i, o := range b.Outcomes {
		for _, substeps := range o.Result {
			for j := range substeps {
				substeps[j].State = dynamo.State(dynamo.NormalizeMap(substeps[j].State))
			}
		}
		outcomes[i].Result = o.Result
		if o.Err == nil {
			continue
		}
		if !o.Err.Run {
			outcomes[i].Err = errors.New(o.Err.Message)
			continue
		}
		outcomes[i].Err = &dynamo.RunError{
			SimulationIndex: o.Err.SimulationIndex,
			RunIndex:        o.Err.RunIndex,
			SubsetIndex:     o.Err.SubsetIndex,
			Timestep:        o.Err.Timestep,
			Substep:         o.Err.Substep,
			Err:             errors.New(o.Err.Message),
		}
	}
	return outcomes, nil
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw, err := gzip.NewWriterLevel(&buf, gzip.BestSpeed)
	if err != nil {
		return nil, err
	}
	enc := msgpack.NewEncoder(zw)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("encode bundle: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("decode bundle: %w", err)
	}
	defer zr.Close()

	dec := msgpack.NewDecoder(zr)
	dec.SetCustomStructTag("json")
	dec.UseLooseInterfaceDecoding(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode bundle: %w", err)
	}
	return nil
}
