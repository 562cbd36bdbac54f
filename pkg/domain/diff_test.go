package domain

import (
	"encoding/json"
	"reflect"
	"strings"
	"testing"
)

func TestDiff(t *testing.T) {
	tests := []struct {
		name      string
		old       *SharedState
		new       SharedState
		wantDiff  *StateDiff
		wantEmpty bool
	}{
		{
			name: "Initial Load (Old is Nil)",
			old:  nil,
			new: SharedState{
				AnalysisParameters: Fields{"a": 1},
				QueryState:         Fields{},
				Version:            1,
			},
			wantDiff: &StateDiff{
				ToVersion:          1,
				AnalysisParameters: Fields{"a": 1},
			},
		},
		{
			name: "No Changes",
			old: &SharedState{
				AnalysisParameters: Fields{"a": 1},
				Version:            2,
			},
			new: SharedState{
				AnalysisParameters: Fields{"a": 1},
				Version:            3,
			},
			wantDiff:  &StateDiff{FromVersion: 2, ToVersion: 3},
			wantEmpty: true,
		},
		{
			name: "Added, Modified and Deleted Keys",
			old: &SharedState{
				AnalysisParameters: Fields{"keep": 1, "change": "x", "drop": true},
				QueryState:         Fields{"q": "select"},
				Version:            4,
			},
			new: SharedState{
				AnalysisParameters: Fields{"keep": 1, "change": "y", "add": 3.5},
				QueryState:         Fields{"q": "select"},
				VisualizationState: Fields{"camera": map[string]any{"zoom": 2}},
				Version:            5,
			},
			wantDiff: &StateDiff{
				FromVersion:        4,
				ToVersion:          5,
				AnalysisParameters: Fields{"change": "y", "add": 3.5, "drop": nil},
				VisualizationState: Fields{"camera": map[string]any{"zoom": 2}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Diff(tt.old, tt.new)
			if !reflect.DeepEqual(got, tt.wantDiff) {
				t.Errorf("Diff() = %+v, want %+v", got, tt.wantDiff)
			}
			if got.IsEmpty() != tt.wantEmpty {
				t.Errorf("IsEmpty() = %v, want %v", got.IsEmpty(), tt.wantEmpty)
			}
		})
	}
}

func TestStateDiff_JSONOmitsUnchangedSubtrees(t *testing.T) {
	diff := Diff(
		&SharedState{QueryState: Fields{"q": 1}, Version: 1},
		SharedState{QueryState: Fields{"q": 2}, Version: 2},
	)

	data, err := json.Marshal(diff)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	s := string(data)
	if strings.Contains(s, "analysisParameters") || strings.Contains(s, "visualizationState") {
		t.Errorf("expected unchanged subtrees to be omitted, got %s", s)
	}
	if !strings.Contains(s, `"queryState":{"q":2}`) {
		t.Errorf("expected query delta, got %s", s)
	}
}
