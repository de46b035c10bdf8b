// Package storage persists experiment outcomes: a record describing the
// dispatch plus the flattened snapshot results.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/san-kum/cadsim/internal/dynamo"
	"github.com/san-kum/cadsim/internal/experiment"
)

var ErrNotFound = errors.New("storage: experiment not found")

type SimulationMeta struct {
	Model     string            `json:"model"`
	Timesteps int               `json:"timesteps"`
	Runs      int               `json:"runs"`
	Params    dynamo.ParamSpace `json:"params,omitempty"`
}

// ExperimentRecord describes one stored dispatch. Exceptions is aligned with
// the dispatched runs; successful runs have an empty entry.
type ExperimentRecord struct {
	ID          string           `json:"id"`
	Timestamp   time.Time        `json:"timestamp"`
	Backend     string           `json:"backend"`
	Simulations []SimulationMeta `json:"simulations"`
	Runs        int              `json:"runs"`
	Failed      int              `json:"failed"`
	Snapshots   int              `json:"snapshots"`
	Duration    float64          `json:"duration"`
	Exceptions  []string         `json:"exceptions,omitempty"`
}

// NewRecord describes exp after a dispatch on backend that produced outcomes.
func NewRecord(exp *experiment.Experiment, backend string, outcomes []dynamo.Outcome, took time.Duration) *ExperimentRecord {
	rec := &ExperimentRecord{
		ID:         exp.ID,
		Timestamp:  time.Now().UTC(),
		Backend:    backend,
		Runs:       len(outcomes),
		Duration:   took.Seconds(),
		Exceptions: make([]string, len(outcomes)),
	}
	for _, s := range exp.Simulations {
		meta := SimulationMeta{Timesteps: s.Timesteps, Runs: s.Runs}
		if s.Model != nil {
			meta.Model = s.Model.Name
			meta.Params = s.Model.Params
		}
		rec.Simulations = append(rec.Simulations, meta)
	}
	for i, o := range outcomes {
		if o.Err != nil {
			rec.Failed++
			rec.Exceptions[i] = o.Err.Error()
		}
	}
	if rec.Failed == 0 {
		rec.Exceptions = nil
	}
	return rec
}

type Store interface {
	Init(ctx context.Context) error
	Save(ctx context.Context, rec *ExperimentRecord, results []dynamo.Snapshot) error
	List(ctx context.Context) ([]ExperimentRecord, error)
	Load(ctx context.Context, id string) (*ExperimentRecord, error)
	LoadResults(ctx context.Context, id string) ([]dynamo.Snapshot, error)
	Close() error
}

// Open returns an initialized store. kind is "file" (path is a directory)
// or "sqlite" (path is a database file).
func Open(ctx context.Context, kind, path string) (Store, error) {
	var s Store
	switch kind {
	case "", "file":
		s = NewFileStore(path)
	case "sqlite":
		s = NewSQLiteStore(path)
	default:
		return nil, fmt.Errorf("unsupported store backend: %s", kind)
	}
	if err := s.Init(ctx); err != nil {
		return nil, err
	}
	return s, nil
}
