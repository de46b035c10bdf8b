// Package config holds engine configuration and experiment files.
//
// Engine options are validated once, when the engine is built. Unknown keys
// in YAML files are rejected, as are unknown backends and missing nested
// blocks required by the selected backend.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/san-kum/cadsim/internal/dynamo"
)

// Backend names an executor implementation.
type Backend string

const (
	SingleProcess   Backend = "single_process"
	Multiprocessing Backend = "multiprocessing"
	Pathos          Backend = "pathos"
	Ray             Backend = "ray"
	RayRemote       Backend = "ray_remote"
	Golem           Backend = "golem"

	DefaultBackend = Pathos
)

var backends = []Backend{SingleProcess, Multiprocessing, Pathos, Ray, RayRemote, Golem}

// Backends lists every known backend.
func Backends() []Backend {
	return append([]Backend(nil), backends...)
}

// ParseBackend accepts backend names in any case ("PATHOS", "pathos").
// "default" selects DefaultBackend.
func ParseBackend(s string) (Backend, error) {
	name := Backend(strings.ToLower(strings.TrimSpace(s)))
	if name == "" || name == "default" {
		return DefaultBackend, nil
	}
	for _, b := range backends {
		if b == name {
			return b, nil
		}
	}
	return "", &dynamo.ConfigError{
		Option: "backend",
		Reason: fmt.Sprintf("must be one of %v, not %q", backends, s),
	}
}

const (
	DefaultGolemNodes     = 3
	DefaultGolemMemory    = 0.5
	DefaultGolemStorage   = 2.0
	DefaultGolemBudget    = 10.0
	DefaultGolemSubnet    = "community.4"
	DefaultGolemDriver    = "zksync"
	DefaultGolemNetwork   = "rinkeby"
	DefaultGolemTimeout   = 2.0
	DefaultGolemLogFile   = "cadsim_golem.log"
	DefaultRemoteBatch    = 16
	DefaultRemoteTimeout  = 60.0
	DefaultLogLevel       = "info"
	minGolemTimeoutMinute = 1.0 / 600
)

// Engine is the validated, immutable engine configuration.
type Engine struct {
	Processes         int           `yaml:"processes"`
	Backend           Backend       `yaml:"backend"`
	RaiseExceptions   bool          `yaml:"raise_exceptions"`
	ProcessExceptions bool          `yaml:"process_exceptions"`
	Deepcopy          bool          `yaml:"deepcopy"`
	DropSubsteps      bool          `yaml:"drop_substeps"`
	LogLevel          string        `yaml:"log_level,omitempty"`
	Golem             *GolemConfig  `yaml:"golem_conf,omitempty"`
	Remote            *RemoteConfig `yaml:"remote_conf,omitempty"`
}

// GolemConfig configures the marketplace backend. Keys follow the upper-case
// convention of the golem_conf block.
type GolemConfig struct {
	Nodes         int      `yaml:"NODES"`
	RemoteBackend Backend  `yaml:"REMOTE_BACKEND"`
	Memory        float64  `yaml:"MEMORY"`
	Storage       float64  `yaml:"STORAGE"`
	Bundles       int      `yaml:"BUNDLES"`
	Budget        float64  `yaml:"BUDGET"`
	SubnetTag     string   `yaml:"SUBNET_TAG"`
	PaymentDriver string   `yaml:"PAYMENT_DRIVER"`
	Network       string   `yaml:"NETWORK"`
	Timeout       float64  `yaml:"TIMEOUT"`
	LogFile       string   `yaml:"LOG_FILE"`
	DebugActivity bool     `yaml:"DEBUG_ACTIVITY"`
	DebugMarket   bool     `yaml:"DEBUG_MARKET"`
	DebugPayment  bool     `yaml:"DEBUG_PAYMENT"`
	YagnaKey      string   `yaml:"YAGNA_KEY"`
	Endpoints     []string `yaml:"ENDPOINTS,omitempty"`
	WorkDir       string   `yaml:"WORK_DIR,omitempty"`
}

// TaskTimeout is the time a provider may spend on one bundle before the
// bundle is handed to another provider. Timeout is in minutes.
func (g *GolemConfig) TaskTimeout() time.Duration {
	return time.Duration(g.Timeout * float64(time.Minute))
}

// RemoteConfig configures the remote cluster backend.
type RemoteConfig struct {
	Endpoints []string `yaml:"ENDPOINTS"`
	BatchSize int      `yaml:"BATCH_SIZE"`
	Timeout   float64  `yaml:"TIMEOUT"`
	Token     string   `yaml:"TOKEN,omitempty"`
}

// CallTimeout bounds one remote batch call. Timeout is in seconds.
func (r *RemoteConfig) CallTimeout() time.Duration {
	return time.Duration(r.Timeout * float64(time.Second))
}

// DefaultProcesses is the available parallelism minus one, at least one.
func DefaultProcesses() int {
	if n := runtime.NumCPU() - 1; n > 1 {
		return n
	}
	return 1
}

func DefaultEngine() *Engine {
	return &Engine{
		Processes:         DefaultProcesses(),
		Backend:           DefaultBackend,
		RaiseExceptions:   true,
		ProcessExceptions: true,
		Deepcopy:          true,
		DropSubsteps:      false,
		LogLevel:          DefaultLogLevel,
	}
}

// Validate normalizes c in place and reports the first invalid option.
func (c *Engine) Validate() error {
	if c.Processes <= 0 {
		c.Processes = DefaultProcesses()
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}

	b, err := ParseBackend(string(c.Backend))
	if err != nil {
		return err
	}
	c.Backend = b

	switch c.Backend {
	case Golem:
		if c.Golem == nil {
			return &dynamo.ConfigError{Option: "golem_conf", Reason: "required when the golem backend is selected"}
		}
		if err := c.Golem.validate(); err != nil {
			return err
		}
	case RayRemote:
		if c.Remote == nil || len(c.Remote.Endpoints) == 0 {
			return &dynamo.ConfigError{Option: "remote_conf.ENDPOINTS", Reason: "required when the ray_remote backend is selected"}
		}
		c.Remote.applyDefaults()
	}
	return nil
}

func (g *GolemConfig) validate() error {
	if g.YagnaKey == "" {
		return &dynamo.ConfigError{Option: "golem_conf.YAGNA_KEY", Reason: "missing from golem_conf"}
	}
	if g.Nodes <= 0 {
		g.Nodes = DefaultGolemNodes
	}
	if g.Bundles <= 0 {
		g.Bundles = g.Nodes
	}
	if g.RemoteBackend == "" {
		g.RemoteBackend = SingleProcess
	}
	rb, err := ParseBackend(string(g.RemoteBackend))
	if err != nil {
		return &dynamo.ConfigError{Option: "golem_conf.REMOTE_BACKEND", Reason: err.Error()}
	}
	if rb == Golem || rb == RayRemote {
		return &dynamo.ConfigError{Option: "golem_conf.REMOTE_BACKEND", Reason: "must be a local backend"}
	}
	g.RemoteBackend = rb
	if g.Memory <= 0 {
		g.Memory = DefaultGolemMemory
	}
	if g.Storage <= 0 {
		g.Storage = DefaultGolemStorage
	}
	if g.Budget <= 0 {
		g.Budget = DefaultGolemBudget
	}
	if g.SubnetTag == "" {
		g.SubnetTag = DefaultGolemSubnet
	}
	if g.PaymentDriver == "" {
		g.PaymentDriver = DefaultGolemDriver
	}
	if g.Network == "" {
		g.Network = DefaultGolemNetwork
	}
	if g.Timeout <= 0 {
		g.Timeout = DefaultGolemTimeout
	}
	if g.Timeout < minGolemTimeoutMinute {
		g.Timeout = minGolemTimeoutMinute
	}
	if g.LogFile == "" {
		g.LogFile = DefaultGolemLogFile
	}
	return nil
}

func (r *RemoteConfig) applyDefaults() {
	if r.BatchSize <= 0 {
		r.BatchSize = DefaultRemoteBatch
	}
	if r.Timeout <= 0 {
		r.Timeout = DefaultRemoteTimeout
	}
}

// DecodeEngine reads a YAML engine document. Unknown keys are an error.
func DecodeEngine(r io.Reader) (*Engine, error) {
	cfg := DefaultEngine()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %v", dynamo.ErrConfiguration, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadEngine(path string) (*Engine, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return DecodeEngine(bytes.NewReader(data))
}

func SaveEngine(path string, cfg *Engine) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
