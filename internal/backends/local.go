package backends

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/sim"
)

type singleProcess struct {
	raise bool
	log   *slog.Logger
}

func newSingleProcess(env Env) (Executor, error) {
	return &singleProcess{raise: env.Config.RaiseExceptions, log: env.logger()}, nil
}

func (*singleProcess) Name() config.Backend { return config.SingleProcess }

func (e *singleProcess) ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error) {
	var outcomes []dynamo.Outcome
	for {
		d, ok := src.Next()
		if !ok {
			return outcomes, nil
		}
		o, err := sim.Wrap(ctx, d, e.raise)
		if err != nil {
			return nil, err
		}
		outcomes = append(outcomes, o)
	}
}

// multiprocessing pulls descriptors one at a time and hands each to a pool
// of at most Processes workers. Pulling blocks while the pool is full.
type multiprocessing struct {
	raise     bool
	processes int
	log       *slog.Logger
}

func newMultiprocessing(env Env) (Executor, error) {
	return &multiprocessing{
		raise:     env.Config.RaiseExceptions,
		processes: workers(env.Config),
		log:       env.logger(),
	}, nil
}

func (*multiprocessing) Name() config.Backend { return config.Multiprocessing }

func (e *multiprocessing) ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.processes)

	// Slots are appended by this goroutine only; each worker writes through
	// its own pointer.
	var slots []*dynamo.Outcome
	for gctx.Err() == nil {
		d, ok := src.Next()
		if !ok {
			break
		}
		slot := new(dynamo.Outcome)
		slots = append(slots, slot)
		g.Go(func() error {
			o, err := sim.Wrap(gctx, d, e.raise)
			if err != nil {
				return err
			}
			*slot = o
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	outcomes := make([]dynamo.Outcome, len(slots))
	for i, s := range slots {
		outcomes[i] = *s
	}
	e.log.Debug("pool drained", "runs", len(outcomes), "processes", e.processes)
	return outcomes, nil
}

// pathos materializes the whole stream first, then maps it over contiguous
// chunks, one per process.
type pathos struct {
	raise     bool
	processes int
	log       *slog.Logger
}

func newPathos(env Env) (Executor, error) {
	return &pathos{
		raise:     env.Config.RaiseExceptions,
		processes: workers(env.Config),
		log:       env.logger(),
	}, nil
}

func (*pathos) Name() config.Backend { return config.Pathos }

func (e *pathos) ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error) {
	runs := dynamo.Drain(src)
	outcomes := make([]dynamo.Outcome, len(runs))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once     sync.Once
		firstErr error
	)
	dynamo.ParallelFor(len(runs), e.processes, 1, func(start, end int) {
		for i := start; i < end; i++ {
			o, err := sim.Wrap(ctx, runs[i], e.raise)
			if err != nil {
				once.Do(func() {
					firstErr = err
					cancel()
				})
				return
			}
			outcomes[i] = o
		}
	})
	if firstErr != nil {
		return nil, firstErr
	}
	return outcomes, nil
}

func workers(cfg *config.Engine) int {
	if cfg.Processes < 1 {
		return 1
	}
	return cfg.Processes
}
