package dynamo

import (
	"encoding/json"
	"maps"
	"math"
	"slices"
)

// Cloner is implemented by state or parameter values that need more than a
// value copy to be isolated between runs.
type Cloner interface {
	CloneValue() any
}

// CloneValue returns an independent copy of v. Containers built from maps and
// slices are copied recursively; values implementing Cloner supply their own
// copy; anything else is copied by value.
func CloneValue(v any) any {
	switch x := v.(type) {
	case Cloner:
		return x.CloneValue()
	case State:
		return x.Clone()
	case Params:
		return x.Clone()
	case map[string]any:
		c := make(map[string]any, len(x))
		for k, val := range x {
			c[k] = CloneValue(val)
		}
		return c
	case []any:
		c := make([]any, len(x))
		for i, val := range x {
			c[i] = CloneValue(val)
		}
		return c
	case []float64:
		return slices.Clone(x)
	case []int:
		return slices.Clone(x)
	case []string:
		return slices.Clone(x)
	case []bool:
		return slices.Clone(x)
	default:
		return v
	}
}

// State holds the named state variables of a run.
type State map[string]any

// Clone returns a deep copy of s.
func (s State) Clone() State {
	if s == nil {
		return nil
	}
	c := make(State, len(s))
	for k, v := range s {
		c[k] = CloneValue(v)
	}
	return c
}

// Copy returns a shallow copy of s.
func (s State) Copy() State {
	return maps.Clone(s)
}

func (s State) Float(key string) float64 {
	f, _ := ToFloat(s[key])
	return f
}

func (s State) Int(key string) int {
	f, _ := ToFloat(s[key])
	return int(f)
}

// Params holds one single-valued parameter set.
type Params map[string]any

// Clone returns a deep copy of p.
func (p Params) Clone() Params {
	if p == nil {
		return nil
	}
	c := make(Params, len(p))
	for k, v := range p {
		c[k] = CloneValue(v)
	}
	return c
}

func (p Params) Float(key string) float64 {
	f, _ := ToFloat(p[key])
	return f
}

func (p Params) Int(key string) int {
	f, _ := ToFloat(p[key])
	return int(f)
}

// ParamSpace maps each parameter to its candidate values.
type ParamSpace map[string][]any

// Clone returns a deep copy of ps.
func (ps ParamSpace) Clone() ParamSpace {
	if ps == nil {
		return nil
	}
	c := make(ParamSpace, len(ps))
	for k, vals := range ps {
		cv := make([]any, len(vals))
		for i, v := range vals {
			cv[i] = CloneValue(v)
		}
		c[k] = cv
	}
	return c
}

// Fixed returns the parameters of a space in which no key has more than one
// candidate. Keys without candidates are omitted.
func (ps ParamSpace) Fixed() Params {
	p := make(Params, len(ps))
	for k, vals := range ps {
		if len(vals) > 0 {
			p[k] = vals[0]
		}
	}
	return p
}

// Signals are the reduced outputs of the policies of a block.
type Signals map[string]any

// PolicyFunc computes signals from the previous substate.
type PolicyFunc func(p Params, substep int, history [][]Snapshot, prev State) (Signals, error)

// UpdateFunc computes the next value of one state variable.
type UpdateFunc func(p Params, substep int, history [][]Snapshot, prev State, in Signals) (string, any, error)

// Block is one partial state update: its policies run first, then every
// variable update sees the same previous substate.
type Block struct {
	Label     string
	Policies  map[string]PolicyFunc
	Variables map[string]UpdateFunc
}

// Snapshot is one recorded state, tagged with where in the experiment it was
// produced. Run is one-based.
type Snapshot struct {
	Simulation int   `json:"simulation"`
	Subset     int   `json:"subset"`
	Run        int   `json:"run"`
	Substep    int   `json:"substep"`
	Timestep   int   `json:"timestep"`
	State      State `json:"state"`
}

// RunDescriptor is the unit of dispatch: one (simulation, run, subset) leaf
// with its own state and params.
type RunDescriptor struct {
	SimulationIndex int
	Timesteps       int
	RunIndex        int
	SubsetIndex     int
	Model           string
	InitialState    State
	Blocks          []Block
	Params          Params
	Deepcopy        bool
	DropSubsteps    bool
}

// Outcome is the result of one dispatched run. Exactly one of Result and Err
// is meaningful: Result is nil when Err is set.
type Outcome struct {
	Result [][]Snapshot
	Err    error
}

// Source yields run descriptors in dispatch order. Next reports false once the
// sequence is exhausted. Implementations are not safe for concurrent use.
type Source interface {
	Next() (RunDescriptor, bool)
}

// SliceSource replays a fixed list of descriptors.
type SliceSource struct {
	runs []RunDescriptor
	pos  int
}

func NewSliceSource(runs []RunDescriptor) *SliceSource {
	return &SliceSource{runs: runs}
}

func (s *SliceSource) Next() (RunDescriptor, bool) {
	if s.pos >= len(s.runs) {
		return RunDescriptor{}, false
	}
	d := s.runs[s.pos]
	s.pos++
	return d, true
}

// Drain pulls every remaining descriptor from src.
func Drain(src Source) []RunDescriptor {
	var runs []RunDescriptor
	for {
		d, ok := src.Next()
		if !ok {
			return runs
		}
		runs = append(runs, d)
	}
}

// ToFloat converts any Go numeric value to float64.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	default:
		return math.NaN(), false
	}
}

// AddValues sums two numeric values. Integer operands stay integers.
func AddValues(a, b any) (any, error) {
	if ai, ok := a.(int); ok {
		if bi, ok := b.(int); ok {
			return ai + bi, nil
		}
	}
	af, aok := ToFloat(a)
	bf, bok := ToFloat(b)
	if !aok || !bok {
		return nil, ErrSignalType
	}
	return af + bf, nil
}

// Normalize rewrites the integer and float32 values produced by decoders as
// int and float64, recursing through maps and slices. Maps and slices are
// rewritten in place.
func Normalize(v any) any {
	switch x := v.(type) {
	case int64:
		return int(x)
	case uint64:
		return int(x)
	case int8:
		return int(x)
	case int16:
		return int(x)
	case int32:
		return int(x)
	case uint8:
		return int(x)
	case uint16:
		return int(x)
	case uint32:
		return int(x)
	case uint:
		return int(x)
	case float32:
		return float64(x)
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return int(i)
		}
		f, _ := x.Float64()
		return f
	case map[string]any:
		return NormalizeMap(x)
	case []any:
		for i := range x {
			x[i] = Normalize(x[i])
		}
		return x
	default:
		return v
	}
}

// NormalizeMap applies Normalize to every value of m.
func NormalizeMap(m map[string]any) map[string]any {
	for k, v := range m {
		m[k] = Normalize(v)
	}
	return m
}
