package experiment

import (
	"reflect"
	"testing"

	"github.com/san-kum/cadsim/internal/dynamo"
)

func TestHookOrderExperimentThenSimulation(t *testing.T) {
	var calls []string
	record := func(name string) func(Context) {
		return func(Context) { calls = append(calls, name) }
	}

	sim := NewSimulation(&Model{}, 1, 1)
	sim.Hooks.BeforeRun = record("sim")
	exp := New(sim)
	exp.Hooks.BeforeRun = record("exp")

	exp.FireBeforeRun(sim, Context{})
	exp.FireAfterRun(sim, Context{})

	if !reflect.DeepEqual(calls, []string{"exp", "sim"}) {
		t.Errorf("unexpected hook order %v", calls)
	}
}

func TestNilHooksAreSkipped(t *testing.T) {
	sim := NewSimulation(&Model{}, 1, 1)
	exp := New(sim)

	exp.FireBeforeExperiment()
	exp.FireBeforeSimulation(sim)
	exp.FireBeforeSubset(sim, Context{})
	exp.FireAfterSubset(sim, Context{})
	exp.FireAfterSimulation(sim)
	exp.FireAfterExperiment()
}

func TestNewAssignsID(t *testing.T) {
	a, b := New(), New()
	if a.ID == "" || a.ID == b.ID {
		t.Errorf("expected unique ids, got %q and %q", a.ID, b.ID)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register("zeta", func() *Model { return &Model{} })
	r.Register("alpha", func() *Model {
		return &Model{Blocks: []dynamo.Block{{Label: "only"}}}
	})

	if got := r.ListModels(); !reflect.DeepEqual(got, []string{"alpha", "zeta"}) {
		t.Errorf("unexpected model list %v", got)
	}

	m, err := r.GetModel("alpha")
	if err != nil {
		t.Fatalf("get model: %v", err)
	}
	if m.Name != "alpha" {
		t.Errorf("expected name to be set, got %q", m.Name)
	}

	blocks, err := r.Blocks("alpha")
	if err != nil || len(blocks) != 1 {
		t.Errorf("unexpected blocks %v, %v", blocks, err)
	}

	if _, err := r.GetModel("missing"); err == nil {
		t.Error("expected error for unknown model")
	}
}
