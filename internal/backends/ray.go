package backends

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/remote"
	"github.com/san-kum/cadsim/internal/sim"
)

// ray splits the materialized stream into one batch per process. Each batch
// returns its own outcome list, so the gathered result carries an extra
// level that is flattened away.
type ray struct {
	raise     bool
	processes int
	log       *slog.Logger
}

func newRay(env Env) (Executor, error) {
	return &ray{
		raise:     env.Config.RaiseExceptions,
		processes: workers(env.Config),
		log:       env.logger(),
	}, nil
}

func (*ray) Name() config.Backend { return config.Ray }

func (e *ray) ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error) {
	runs := dynamo.Drain(src)
	batches := split(runs, (len(runs)+e.processes-1)/e.processes)
	gathered := make([][]dynamo.Outcome, len(batches))

	g, gctx := errgroup.WithContext(ctx)
	for i, batch := range batches {
		g.Go(func() error {
			out := make([]dynamo.Outcome, len(batch))
			for j, d := range batch {
				o, err := sim.Wrap(gctx, d, e.raise)
				if err != nil {
					return err
				}
				out[j] = o
			}
			gathered[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	e.log.Debug("batches gathered", "batches", len(batches), "runs", len(runs))
	return dynamo.Flatten(gathered), nil
}

type runnerCloser interface {
	bundle.Runner
	Close() error
}

func dialRemote(addr, token string) (runnerCloser, error) {
	return remote.Dial(addr, token)
}

// rayRemote ships batches of BATCH_SIZE descriptors to remote workers over
// gRPC, round-robin across the configured endpoints.
type rayRemote struct {
	cfg     *config.Engine
	conf    *config.RemoteConfig
	log     *slog.Logger
	dial    func(addr, token string) (runnerCloser, error)
	backend config.Backend
}

func newRayRemote(env Env) (Executor, error) {
	conf := env.Config.Remote
	if conf == nil || len(conf.Endpoints) == 0 {
		return nil, &dynamo.ConfigError{Option: "remote_conf.ENDPOINTS", Reason: "required when the ray_remote backend is selected"}
	}
	return &rayRemote{
		cfg:     env.Config,
		conf:    conf,
		log:     env.logger(),
		dial:    dialRemote,
		backend: config.Multiprocessing,
	}, nil
}

func (*rayRemote) Name() config.Backend { return config.RayRemote }

func (e *rayRemote) ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error) {
	runs := dynamo.Drain(src)
	size := e.conf.BatchSize
	if size < 1 {
		size = config.DefaultRemoteBatch
	}
	batches := split(runs, size)

	clients := make([]runnerCloser, 0, len(e.conf.Endpoints))
	defer func() {
		for _, c := range clients {
			c.Close()
		}
	}()
	for _, addr := range e.conf.Endpoints {
		c, err := e.dial(addr, e.conf.Token)
		if err != nil {
			return nil, &dynamo.TransportError{Provider: addr, Task: "dial", Err: err}
		}
		clients = append(clients, c)
	}

	params := bundle.ParamsFor(e.cfg, e.backend)
	params.ProcessExceptions = false

	start := time.Now()
	gathered := make([][]dynamo.Outcome, len(batches))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(clients))
	for i, batch := range batches {
		client := clients[i%len(clients)]
		g.Go(func() error {
			out, err := e.call(gctx, client, batch, params)
			if err != nil {
				return fmt.Errorf("batch %d: %w", i, err)
			}
			gathered[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	e.log.Info("remote batches done",
		"batches", len(batches),
		"endpoints", len(clients),
		"duration", time.Since(start))
	return dynamo.Flatten(gathered), nil
}

func (e *rayRemote) call(ctx context.Context, r bundle.Runner, batch []dynamo.RunDescriptor, params bundle.RemoteParams) ([]dynamo.Outcome, error) {
	payload, err := bundle.EncodeRuns(batch)
	if err != nil {
		return nil, err
	}

	if timeout := e.conf.CallTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	data, err := r.RunBundle(ctx, payload, params)
	if err != nil {
		return nil, err
	}

	out, err := bundle.DecodeOutcomes(data)
	if err != nil {
		return nil, err
	}
	if len(out) != len(batch) {
		return nil, fmt.Errorf("worker returned %d outcomes for %d runs", len(out), len(batch))
	}
	return out, nil
}

// split cuts runs into contiguous batches of at most size descriptors.
func split(runs []dynamo.RunDescriptor, size int) [][]dynamo.RunDescriptor {
	if size < 1 {
		size = 1
	}
	var batches [][]dynamo.RunDescriptor
	for start := 0; start < len(runs); start += size {
		end := min(start+size, len(runs))
		batches = append(batches, runs[start:end])
	}
	return batches
}
