package backends

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/san-kum/cadsim/internal/bundle"
	"github.com/san-kum/cadsim/internal/config"
	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/logger"
)

// Log components of the golem backend, selected by the DEBUG_* flags.
const (
	componentActivity = "activity"
	componentMarket   = "market"
	componentPayment  = "payment"
)

// provider is one marketplace node able to execute bundles.
type provider struct {
	name   string
	runner bundle.Runner
}

// golem distributes the materialized stream round-robin into BUNDLES
// bundle files and lets up to NODES providers pull them from a shared task
// queue. A task that exceeds TIMEOUT on a provider is handed back to the
// queue and that provider is shut down, so a bundle may execute more than
// once.
type golem struct {
	cfg    *config.Engine
	conf   *config.GolemConfig
	runner bundle.Runner
	log    *slog.Logger

	// providers builds the provider set for one dispatch and returns a
	// function releasing it.
	providers func() ([]provider, func(), error)
}

func newGolem(env Env) (Executor, error) {
	conf := env.Config.Golem
	if conf == nil {
		return nil, &dynamo.ConfigError{Option: "golem_conf", Reason: "required when the golem backend is selected"}
	}
	if conf.YagnaKey == "" {
		return nil, &dynamo.ConfigError{Option: "golem_conf.YAGNA_KEY", Reason: "missing from golem_conf"}
	}
	if len(conf.Endpoints) == 0 && env.Runner == nil {
		return nil, &dynamo.ConfigError{Option: "golem_conf.ENDPOINTS", Reason: "no endpoints and no local runner"}
	}
	g := &golem{cfg: env.Config, conf: conf, runner: env.Runner, log: env.logger()}
	g.providers = g.marketProviders
	return g, nil
}

func (*golem) Name() config.Backend { return config.Golem }

func (g *golem) marketProviders() ([]provider, func(), error) {
	if len(g.conf.Endpoints) == 0 {
		nodes := max(g.conf.Nodes, 1)
		ps := make([]provider, nodes)
		for i := range ps {
			ps[i] = provider{name: fmt.Sprintf("local-%d", i), runner: g.runner}
		}
		return ps, func() {}, nil
	}

	var (
		ps      []provider
		clients []runnerCloser
	)
	release := func() {
		for _, c := range clients {
			c.Close()
		}
	}
	for _, addr := range g.conf.Endpoints {
		c, err := dialRemote(addr, g.conf.YagnaKey)
		if err != nil {
			release()
			return nil, nil, &dynamo.TransportError{Provider: addr, Task: "dial", Err: err}
		}
		clients = append(clients, c)
		ps = append(ps, provider{name: addr, runner: c})
	}
	if n := g.conf.Nodes; n > 0 && n < len(ps) {
		ps = ps[:n]
	}
	return ps, release, nil
}

func (g *golem) ExecuteRuns(ctx context.Context, src dynamo.Source) ([]dynamo.Outcome, error) {
	runs := dynamo.Drain(src)
	if len(runs) == 0 {
		return []dynamo.Outcome{}, nil
	}

	log, closeLog, err := g.marketLog()
	if err != nil {
		return nil, err
	}
	defer closeLog()

	dir, cleanup, err := g.workDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	groups := roundRobin(len(runs), g.conf.Bundles)
	files := make([]string, len(groups))
	for b, idx := range groups {
		batch := make([]dynamo.RunDescriptor, len(idx))
		for j, i := range idx {
			batch[j] = runs[i]
		}
		payload, err := bundle.EncodeRuns(batch)
		if err != nil {
			return nil, err
		}
		if limit := uint64(g.conf.Storage * humanize.GiByte); limit > 0 && uint64(len(payload)) > limit {
			return nil, fmt.Errorf("bundle %d is %s, over the %s provider storage",
				b, humanize.IBytes(uint64(len(payload))), humanize.IBytes(limit))
		}
		files[b] = filepath.Join(dir, fmt.Sprintf("bundle_%d.bin", b))
		if err := os.WriteFile(files[b], payload, 0644); err != nil {
			return nil, err
		}
		log.Debug("bundle written", logger.ComponentKey, componentMarket, "bundle", b, "runs", len(idx), "size", humanize.Bytes(uint64(len(payload))))
	}

	providers, release, err := g.providers()
	if err != nil {
		return nil, err
	}
	defer release()

	params := bundle.ParamsFor(g.cfg, g.conf.RemoteBackend)
	params.ProcessExceptions = false

	mlog := log.With(logger.ComponentKey, componentMarket)
	mlog.Info("dispatching to market",
		"bundles", len(files),
		"providers", len(providers),
		"budget", g.conf.Budget,
		"subnet", g.conf.SubnetTag,
		"driver", g.conf.PaymentDriver,
		"network", g.conf.Network)

	start := time.Now()
	m := newMarket(ctx, files, len(providers))
	computed := make([]int, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			computed[i] = g.work(m, p, params, log)
		}()
	}
	wg.Wait()

	plog := log.With(logger.ComponentKey, componentPayment)
	for i, p := range providers {
		plog.Debug("provider settled", "provider", p.name, "tasks", computed[i], "driver", g.conf.PaymentDriver, "network", g.conf.Network)
	}

	results, err := m.result(ctx)
	if err != nil {
		mlog.Error("market dispatch failed", "error", err)
		return nil, err
	}
	mlog.Info("tasks computed", "tasks", len(files), "duration", time.Since(start))

	outcomes := make([]dynamo.Outcome, len(runs))
	for b, idx := range groups {
		if len(results[b]) != len(idx) {
			return nil, fmt.Errorf("bundle %d returned %d outcomes for %d runs", b, len(results[b]), len(idx))
		}
		for j, i := range idx {
			outcomes[i] = results[b][j]
		}
	}
	return outcomes, nil
}

// work pulls tasks until the market is settled or this provider is retired.
// It reports how many tasks the provider computed.
func (g *golem) work(m *market, p provider, params bundle.RemoteParams, log *slog.Logger) int {
	activity := log.With(logger.ComponentKey, componentActivity, "provider", p.name)
	computed := 0
	for {
		task, ok := m.next()
		if !ok {
			return computed
		}

		started := time.Now()
		out, err := g.runTask(m.ctx, p, m.files[task], params)
		switch {
		case m.ctx.Err() != nil:
			return computed
		case err == nil:
			activity.Debug("task computed", "task", task, "time", time.Since(started))
			m.complete(task, out)
			computed++
		case timedOut(err):
			activity.Warn("task timed out, shutting provider down", "task", task, "time", time.Since(started))
			m.retire(task)
			return computed
		default:
			m.fail(&dynamo.TransportError{Provider: p.name, Task: filepath.Base(m.files[task]), Err: err})
			return computed
		}
	}
}

func (g *golem) runTask(ctx context.Context, p provider, file string, params bundle.RemoteParams) ([]dynamo.Outcome, error) {
	payload, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}

	if timeout := g.conf.TaskTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	data, err := p.runner.RunBundle(ctx, payload, params)
	if err != nil {
		return nil, err
	}

	if err := os.WriteFile(file+".out", data, 0644); err != nil {
		return nil, err
	}
	return bundle.DecodeOutcomes(data)
}

func timedOut(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || status.Code(err) == codes.DeadlineExceeded
}

// marketLog opens LOG_FILE. Each debug flag lowers the level of its own
// component to debug.
func (g *golem) marketLog() (*slog.Logger, func(), error) {
	if g.conf.LogFile == "" {
		return g.log, func() {}, nil
	}
	f, err := os.OpenFile(g.conf.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("open golem log: %w", err)
	}

	levels := map[string]slog.Level{}
	for component, on := range map[string]bool{
		componentActivity: g.conf.DebugActivity,
		componentMarket:   g.conf.DebugMarket,
		componentPayment:  g.conf.DebugPayment,
	} {
		if on {
			levels[component] = slog.LevelDebug
		}
	}
	return logger.NewComponents("info", levels, f).With("backend", string(config.Golem)), func() { f.Close() }, nil
}

// workDir returns the directory bundles are written to and a function that
// removes everything this dispatch wrote.
func (g *golem) workDir() (string, func(), error) {
	if g.conf.WorkDir == "" {
		dir, err := os.MkdirTemp("", "cadsim-golem-"+uuid.NewString()[:8]+"-")
		if err != nil {
			return "", nil, err
		}
		return dir, func() { os.RemoveAll(dir) }, nil
	}

	dir := filepath.Join(g.conf.WorkDir, uuid.NewString())
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, err
	}
	return dir, func() { os.RemoveAll(dir) }, nil
}

// roundRobin assigns run i to bundle i mod n. Bundle b holds runs b, b+n,
// b+2n, ... in order. Empty bundles are not created.
func roundRobin(runs, n int) [][]int {
	n = min(max(n, 1), runs)
	groups := make([][]int, n)
	for i := range runs {
		groups[i%n] = append(groups[i%n], i)
	}
	return groups
}

// market is the shared task queue of one golem dispatch.
type market struct {
	ctx    context.Context
	cancel context.CancelFunc
	files  []string
	queue  chan int

	mu        sync.Mutex
	results   [][]dynamo.Outcome
	remaining int
	alive     int
	err       error
}

func newMarket(ctx context.Context, files []string, providers int) *market {
	ctx, cancel := context.WithCancel(ctx)
	m := &market{
		ctx:       ctx,
		cancel:    cancel,
		files:     files,
		queue:     make(chan int, len(files)),
		results:   make([][]dynamo.Outcome, len(files)),
		remaining: len(files),
		alive:     providers,
	}
	for i := range files {
		m.queue <- i
	}
	if providers == 0 {
		m.fail(dynamo.ErrNoProviders)
	}
	return m
}

func (m *market) next() (int, bool) {
	select {
	case <-m.ctx.Done():
		return 0, false
	case task := <-m.queue:
		return task, true
	}
}

func (m *market) complete(task int, out []dynamo.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.results[task] != nil {
		return
	}
	m.results[task] = out
	m.remaining--
	if m.remaining == 0 {
		m.cancel()
	}
}

// retire re-queues task and removes the calling provider from the market.
func (m *market) retire(task int) {
	m.queue <- task

	m.mu.Lock()
	defer m.mu.Unlock()
	m.alive--
	if m.alive == 0 && m.remaining > 0 && m.err == nil {
		m.err = dynamo.ErrNoProviders
		m.cancel()
	}
}

func (m *market) fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err == nil && m.remaining > 0 {
		m.err = err
	}
	m.cancel()
}

func (m *market) result(parent context.Context) ([][]dynamo.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancel()
	if m.err != nil {
		return nil, m.err
	}
	if m.remaining > 0 {
		if err := parent.Err(); err != nil {
			return nil, err
		}
		return nil, dynamo.ErrNoProviders
	}
	return m.results, nil
}
