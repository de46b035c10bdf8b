// Package backends implements the executors that consume a stream of run
// descriptors and produce one outcome per descriptor, in pull order.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
)

// Executor runs every descriptor of src. Outcome i belongs to the i-th
// descriptor pulled, whatever order the runs complete in. When raise
// exceptions is set the first run failure aborts the dispatch and is
// returned as the error.
type Executor interface {
	Name() config.Backend
	ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error)
}

// Env is what an executor is built from: the validated engine configuration
// and, for executors that ship bundles, a Runner able to execute them
// locally.
type Env struct {
	Config *config.Engine
	Runner bundle.Runner
	Logger *slog.Logger
}

func (e Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

type constructor func(Env) (Executor, error)

var registry = map[config.Backend]constructor{
	config.SingleProcess:   newSingleProcess,
	config.Multiprocessing: newMultiprocessing,
	config.Pathos:          newPathos,
	config.Ray:             newRay,
	config.RayRemote:       newRayRemote,
	config.Golem:           newGolem,
}

// New resolves env.Config.Backend to an executor.
func New(env Env) (Executor, error) {
	if env.Config == nil {
		return nil, &dynamo.ConfigError{Option: "backend", Reason: "no engine configuration"}
	}
	ctor, ok := registry[env.Config.Backend]
	if !ok {
		return nil, &dynamo.ConfigError{
			Option: "backend",
			Reason: fmt.Sprintf("no executor registered for %q", env.Config.Backend),
		}
	}
	return ctor(env)
}

// Registered reports whether b has an executor.
func Registered(b config.Backend) bool {
	_, ok := registry[b]
	return ok
}
