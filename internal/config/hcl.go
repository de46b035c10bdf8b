package config

import (
	"fmt"
	"math/big"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
)

// hclFile mirrors ExperimentFile in HCL syntax:
//
//	engine {
//	  backend   = "multiprocessing"
//	  processes = 4
//	}
//
//	simulation "predator_prey" {
//	  timesteps     = 100
//	  runs          = 3
//	  initial_state = { prey = 50 }
//	  params        = { prey_birth_rate = [0.1, 0.2] }
//	}
type hclFile struct {
	Engine      *hclBlock       `hcl:"engine,block"`
	Simulations []hclSimulation `hcl:"simulation,block"`
}

type hclBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type hclEngine struct {
	Processes         int        `hcl:"processes,optional"`
	Backend           string     `hcl:"backend,optional"`
	RaiseExceptions   bool       `hcl:"raise_exceptions,optional"`
	ProcessExceptions bool       `hcl:"process_exceptions,optional"`
	Deepcopy          bool       `hcl:"deepcopy,optional"`
	DropSubsteps      bool       `hcl:"drop_substeps,optional"`
	LogLevel          string     `hcl:"log_level,optional"`
	Golem             *hclGolem  `hcl:"golem_conf,block"`
	Remote            *hclRemote `hcl:"remote_conf,block"`
}

type hclGolem struct {
	Nodes         int      `hcl:"NODES,optional"`
	RemoteBackend string   `hcl:"REMOTE_BACKEND,optional"`
	Memory        float64  `hcl:"MEMORY,optional"`
	Storage       float64  `hcl:"STORAGE,optional"`
	Bundles       int      `hcl:"BUNDLES,optional"`
	Budget        float64  `hcl:"BUDGET,optional"`
	SubnetTag     string   `hcl:"SUBNET_TAG,optional"`
	PaymentDriver string   `hcl:"PAYMENT_DRIVER,optional"`
	Network       string   `hcl:"NETWORK,optional"`
	Timeout       float64  `hcl:"TIMEOUT,optional"`
	LogFile       string   `hcl:"LOG_FILE,optional"`
	DebugActivity bool     `hcl:"DEBUG_ACTIVITY,optional"`
	DebugMarket   bool     `hcl:"DEBUG_MARKET,optional"`
	DebugPayment  bool     `hcl:"DEBUG_PAYMENT,optional"`
	YagnaKey      string   `hcl:"YAGNA_KEY,optional"`
	Endpoints     []string `hcl:"ENDPOINTS,optional"`
	WorkDir       string   `hcl:"WORK_DIR,optional"`
}

type hclRemote struct {
	Endpoints []string `hcl:"ENDPOINTS"`
	BatchSize int      `hcl:"BATCH_SIZE,optional"`
	Timeout   float64  `hcl:"TIMEOUT,optional"`
	Token     string   `hcl:"TOKEN,optional"`
}

type hclSimulation struct {
	Model        string    `hcl:"model,label"`
	Timesteps    int       `hcl:"timesteps,optional"`
	Runs         int       `hcl:"runs,optional"`
	InitialState cty.Value `hcl:"initial_state,optional"`
	Params       cty.Value `hcl:"params,optional"`
}

// LoadExperimentHCL parses an HCL experiment file.
func LoadExperimentHCL(path string) (*ExperimentFile, error) {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, diags
	}

	var raw hclFile
	if diags := gohcl.DecodeBody(file.Body, nil, &raw); diags.HasErrors() {
		return nil, diags
	}

	// Absent optional attributes keep the values they were initialized with,
	// so the engine block is decoded over the defaults.
	def := DefaultEngine()
	eng := hclEngine{
		Processes:         def.Processes,
		Backend:           string(def.Backend),
		RaiseExceptions:   def.RaiseExceptions,
		ProcessExceptions: def.ProcessExceptions,
		Deepcopy:          def.Deepcopy,
		DropSubsteps:      def.DropSubsteps,
		LogLevel:          def.LogLevel,
	}
	if raw.Engine != nil {
		if diags := gohcl.DecodeBody(raw.Engine.Body, nil, &eng); diags.HasErrors() {
			return nil, diags
		}
	}

	f := &ExperimentFile{Engine: eng.engine()}
	if err := f.Engine.Validate(); err != nil {
		return nil, err
	}

	for _, s := range raw.Simulations {
		state, err := ctyMap(s.InitialState)
		if err != nil {
			return nil, fmt.Errorf("simulation %q initial_state: %w", s.Model, err)
		}
		params, err := ctyMap(s.Params)
		if err != nil {
			return nil, fmt.Errorf("simulation %q params: %w", s.Model, err)
		}
		f.Simulations = append(f.Simulations, SimulationSpec{
			Model:        s.Model,
			Timesteps:    s.Timesteps,
			Runs:         s.Runs,
			InitialState: state,
			Params:       params,
		})
	}
	return f, nil
}

func (h hclEngine) engine() *Engine {
	e := &Engine{
		Processes:         h.Processes,
		Backend:           Backend(h.Backend),
		RaiseExceptions:   h.RaiseExceptions,
		ProcessExceptions: h.ProcessExceptions,
		Deepcopy:          h.Deepcopy,
		DropSubsteps:      h.DropSubsteps,
		LogLevel:          h.LogLevel,
	}
	if g := h.Golem; g != nil {
		e.Golem = &GolemConfig{
			Nodes:         g.Nodes,
			RemoteBackend: Backend(g.RemoteBackend),
			Memory:        g.Memory,
			Storage:       g.Storage,
			Bundles:       g.Bundles,
			Budget:        g.Budget,
			SubnetTag:     g.SubnetTag,
			PaymentDriver: g.PaymentDriver,
			Network:       g.Network,
			Timeout:       g.Timeout,
			LogFile:       g.LogFile,
			DebugActivity: g.DebugActivity,
			DebugMarket:   g.DebugMarket,
			DebugPayment:  g.DebugPayment,
			YagnaKey:      g.YagnaKey,
			Endpoints:     g.Endpoints,
			WorkDir:       g.WorkDir,
		}
	}
	if r := h.Remote; r != nil {
		e.Remote = &RemoteConfig{
			Endpoints: r.Endpoints,
			BatchSize: r.BatchSize,
			Timeout:   r.Timeout,
			Token:     r.Token,
		}
	}
	return e
}

func ctyMap(v cty.Value) (map[string]any, error) {
	if v == cty.NilVal || v.IsNull() {
		return nil, nil
	}
	out, err := ctyToGo(v)
	if err != nil {
		return nil, err
	}
	m, ok := out.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("expected an object, got %s", v.Type().FriendlyName())
	}
	return m, nil
}

// ctyToGo converts a cty value into the plain Go values used by states and
// params. Whole numbers become int.
func ctyToGo(v cty.Value) (any, error) {
	if v.IsNull() {
		return nil, nil
	}
	if !v.IsKnown() {
		return nil, fmt.Errorf("value is not known")
	}

	t := v.Type()
	switch {
	case t == cty.String:
		return v.AsString(), nil
	case t == cty.Bool:
		return v.True(), nil
	case t == cty.Number:
		bf := v.AsBigFloat()
		if bf.IsInt() {
			if i, acc := bf.Int64(); acc == big.Exact {
				return int(i), nil
			}
		}
		f, _ := bf.Float64()
		return f, nil
	case t.IsObjectType() || t.IsMapType():
		m := make(map[string]any)
		for it := v.ElementIterator(); it.Next(); {
			k, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k.AsString(), err)
			}
			m[k.AsString()] = gv
		}
		return m, nil
	case t.IsTupleType() || t.IsListType() || t.IsSetType():
		var list []any
		for it := v.ElementIterator(); it.Next(); {
			_, ev := it.Element()
			gv, err := ctyToGo(ev)
			if err != nil {
				return nil, err
			}
			list = append(list, gv)
		}
		return list, nil
	default:
		return nil, fmt.Errorf("unsupported type %s", t.FriendlyName())
	}
}
