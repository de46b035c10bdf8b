package dynamo

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestGenerateSweepSingleValued(t *testing.T) {
	tests := []struct {
		name string
		ps   ParamSpace
	}{
		{"nil", nil},
		{"empty", ParamSpace{}},
		{"single values", ParamSpace{"a": {1}, "b": {"x"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if sweep := GenerateSweep(tt.ps); len(sweep) != 0 {
				t.Errorf("expected empty sweep, got %v", sweep)
			}
		})
	}
}

func TestGenerateSweepIndexAligned(t *testing.T) {
	ps := ParamSpace{
		"alpha": {0.1, 0.2, 0.3},
		"beta":  {1, 2, 3},
	}

	got := GenerateSweep(ps)
	want := []Params{
		{"alpha": 0.1, "beta": 1},
		{"alpha": 0.2, "beta": 2},
		{"alpha": 0.3, "beta": 3},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sweep mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateSweepPadsShorterLists(t *testing.T) {
	ps := ParamSpace{
		"alpha": {0.1, 0.2, 0.3},
		"beta":  {7},
		"gamma": {"a", "b"},
	}

	got := GenerateSweep(ps)
	want := []Params{
		{"alpha": 0.1, "beta": 7, "gamma": "a"},
		{"alpha": 0.2, "beta": 7, "gamma": "b"},
		{"alpha": 0.3, "beta": 7, "gamma": "b"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("sweep mismatch (-want +got):\n%s", diff)
	}
}

func TestGenerateSweepIsNotCartesian(t *testing.T) {
	ps := ParamSpace{"a": {1, 2}, "b": {3, 4}}
	if n := len(GenerateSweep(ps)); n != 2 {
		t.Errorf("expected 2 subsets, got %d", n)
	}
}

func TestParamSpaceFixed(t *testing.T) {
	ps := ParamSpace{"a": {1}, "b": {}, "c": {"z"}}
	want := Params{"a": 1, "c": "z"}
	if diff := cmp.Diff(want, ps.Fixed()); diff != "" {
		t.Errorf("fixed mismatch (-want +got):\n%s", diff)
	}
}
