package engine

import (
	"log/slog"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

// Option configures an Engine at construction.
type Option func(*Engine)

// WithConfig replaces the whole configuration. Later options still apply on
// top of it.
func WithConfig(cfg *config.Engine) Option {
	return func(e *Engine) {
		if cfg != nil {
			e.cfg = *cfg
		}
	}
}

func WithBackend(b config.Backend) Option {
	return func(e *Engine) { e.cfg.Backend = b }
}

func WithProcesses(n int) Option {
	return func(e *Engine) { e.cfg.Processes = n }
}

func WithRaiseExceptions(on bool) Option {
	return func(e *Engine) { e.cfg.RaiseExceptions = on }
}

func WithProcessExceptions(on bool) Option {
	return func(e *Engine) { e.cfg.ProcessExceptions = on }
}

func WithDeepcopy(on bool) Option {
	return func(e *Engine) { e.cfg.Deepcopy = on }
}

func WithDropSubsteps(on bool) Option {
	return func(e *Engine) { e.cfg.DropSubsteps = on }
}

func WithGolem(g *config.GolemConfig) Option {
	return func(e *Engine) { e.cfg.Golem = g }
}

func WithRemote(r *config.RemoteConfig) Option {
	return func(e *Engine) { e.cfg.Remote = r }
}

// WithPreGenRuns dispatches runs verbatim instead of generating them from
// the experiment. Simulation, run and subset hooks do not fire.
func WithPreGenRuns(runs []dynamo.RunDescriptor) Option {
	return func(e *Engine) { e.preGen = runs }
}

// WithRegistry sets the registry bundles are resolved against.
func WithRegistry(r *experiment.Registry) Option {
	return func(e *Engine) { e.registry = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}
