package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSharedState_CloneIsDeep(t *testing.T) {
	orig := SharedState{
		AnalysisParameters: Fields{
			"energyRange": map[string]any{"min": 1, "max": 10},
			"detectors":   []any{"ecal", "hcal"},
		},
		Version: 3,
	}

	cp := orig.Clone()
	cp.AnalysisParameters["energyRange"].(map[string]any)["min"] = 99
	cp.AnalysisParameters["detectors"].([]any)[0] = "muon"

	assert.Equal(t, 1, orig.AnalysisParameters["energyRange"].(map[string]any)["min"])
	assert.Equal(t, "ecal", orig.AnalysisParameters["detectors"].([]any)[0])
	assert.Equal(t, int64(3), cp.Version)
}

func TestNewSession_ForcesInitialVersion(t *testing.T) {
	now := time.Unix(1700000000, 0)
	initial := SharedState{AnalysisParameters: Fields{"a": 1}, Version: 42}

	s := NewSession("s1", initial, now)

	assert.Equal(t, InitialVersion, s.SharedState.Version)
	assert.Equal(t, StatusCreated, s.Status)
	assert.NotNil(t, s.SharedState.QueryState, "nil subtrees should be normalized")
	assert.Equal(t, now, s.LastUpdate)

	initial.AnalysisParameters["a"] = 2
	assert.Equal(t, 1, s.SharedState.AnalysisParameters["a"], "session must not alias caller state")
}

func TestCollaborationSession_ActiveParticipants(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewSession("s1", NewSharedState(), base)
	s.Participants["bob"] = &Participant{UserID: "bob", IsActive: true, JoinedAt: base.Add(time.Second)}
	s.Participants["alice"] = &Participant{UserID: "alice", IsActive: true, JoinedAt: base.Add(time.Second)}
	s.Participants["carol"] = &Participant{UserID: "carol", IsActive: false, JoinedAt: base}

	active := s.ActiveParticipants()
	require.Len(t, active, 2)
	assert.Equal(t, "alice", active[0].UserID)
	assert.Equal(t, "bob", active[1].UserID)
}

func TestCollaborationSession_Expired(t *testing.T) {
	base := time.Unix(1700000000, 0)
	s := NewSession("s1", NewSharedState(), base)

	assert.False(t, s.Expired(base.Add(time.Hour), 2*time.Hour))
	assert.True(t, s.Expired(base.Add(3*time.Hour), 2*time.Hour))
	assert.False(t, s.Expired(base.Add(1000*time.Hour), 0), "zero TTL never expires")
}

func TestCollaborationSession_SnapshotIsolation(t *testing.T) {
	s := NewSession("s1", NewSharedState(), time.Now())
	s.Participants["u1"] = &Participant{UserID: "u1", Selection: &Selection{IDs: []string{"track-1"}}}

	snap := s.Snapshot()
	snap.Participants["u1"].Selection.IDs[0] = "track-2"
	snap.SharedState.QueryState["x"] = 1

	assert.Equal(t, "track-1", s.Participants["u1"].Selection.IDs[0])
	assert.NotContains(t, s.SharedState.QueryState, "x")
}
