package merge_test

import (
	"testing"

	"github.com/aretw0/concord/pkg/domain"
	"github.com/aretw0/concord/pkg/merge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func energyState() domain.SharedState {
	s := domain.NewSharedState()
	s.AnalysisParameters = domain.Fields{
		"energyRange": map[string]any{"min": 1, "max": 10},
		"channel":     "dimuon",
	}
	return s
}

func TestApply_NestedFieldMerge(t *testing.T) {
	state := energyState()

	next, err := merge.ApplyAll(state, []domain.StateUpdate{
		{Type: domain.ParameterChange, UserID: "u1", Data: domain.Fields{"energyRange": map[string]any{"min": 5}}},
		{Type: domain.ParameterChange, UserID: "u2", Data: domain.Fields{"energyRange": map[string]any{"max": 50}}},
	})
	require.NoError(t, err)

	assert.Equal(t, map[string]any{"min": 5, "max": 50}, next.AnalysisParameters["energyRange"])
	assert.Equal(t, "dimuon", next.AnalysisParameters["channel"], "keys absent from data are untouched")
	assert.Equal(t, map[string]any{"min": 1, "max": 10}, state.AnalysisParameters["energyRange"], "input must not be mutated")
}

func TestApply_ShallowOverwrite(t *testing.T) {
	state := energyState()

	next, err := merge.Apply(state, domain.StateUpdate{
		Type: domain.ParameterChange,
		Data: domain.Fields{"channel": "dielectron", "binning": 40},
	})
	require.NoError(t, err)

	assert.Equal(t, "dielectron", next.AnalysisParameters["channel"])
	assert.Equal(t, 40, next.AnalysisParameters["binning"])
	assert.Equal(t, map[string]any{"min": 1, "max": 10}, next.AnalysisParameters["energyRange"])
}

func TestApply_ScalarReplacesObject(t *testing.T) {
	state := energyState()

	next, err := merge.Apply(state, domain.StateUpdate{
		Type: domain.ParameterChange,
		Data: domain.Fields{"energyRange": "auto"},
	})
	require.NoError(t, err)
	assert.Equal(t, "auto", next.AnalysisParameters["energyRange"])
}

func TestMergeFields_Recursive(t *testing.T) {
	base := domain.Fields{
		"camera": map[string]any{
			"position": map[string]any{"x": 1, "y": 2},
			"fov":      60,
		},
	}
	patch := domain.Fields{
		"camera": map[string]any{"position": map[string]any{"y": 5}},
	}

	got := merge.MergeFields(base, patch)
	assert.Equal(t, domain.Fields{
		"camera": map[string]any{
			"position": map[string]any{"x": 1, "y": 5},
			"fov":      60,
		},
	}, got)
	assert.Equal(t, map[string]any{"x": 1, "y": 2}, base["camera"].(map[string]any)["position"])
}

func TestApply_RoutesBySubtree(t *testing.T) {
	state := domain.NewSharedState()

	next, err := merge.ApplyAll(state, []domain.StateUpdate{
		{Type: domain.QueryUpdate, Data: domain.Fields{"filter": "pt > 20"}},
		{Type: domain.VisualizationUpdate, Data: domain.Fields{"camera": map[string]any{"fov": 60}}},
	})
	require.NoError(t, err)

	assert.Empty(t, next.AnalysisParameters)
	assert.Equal(t, "pt > 20", next.QueryState["filter"])
	assert.Equal(t, map[string]any{"fov": 60}, next.VisualizationState["camera"])
	assert.Equal(t, state.Version, next.Version, "Apply never touches the version")
}

func TestApply_RejectsPresenceAndUnknown(t *testing.T) {
	state := domain.NewSharedState()

	_, err := merge.Apply(state, domain.StateUpdate{Type: domain.CursorMove})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)

	_, err = merge.Apply(state, domain.StateUpdate{Type: "unknown"})
	assert.ErrorIs(t, err, domain.ErrInvalidUpdate)
}

func TestApplyAll_AbortsWholeBatch(t *testing.T) {
	state := energyState()

	got, err := merge.ApplyAll(state, []domain.StateUpdate{
		{Type: domain.ParameterChange, Data: domain.Fields{"channel": "changed"}},
		{Type: "bogus"},
	})
	require.Error(t, err)
	assert.Equal(t, "dimuon", got.AnalysisParameters["channel"], "failed batch returns the original state")
}
