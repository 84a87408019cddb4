package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildSnapshotPredicates(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		stage         Stage
		hasDeployment bool
		hasToken      bool
		isComplete    bool
	}{
		{StageSubmitted, false, false, false},
		{StageIdeating, false, false, false},
		{StageArchitecting, false, false, false},
		{StageBuilding, false, false, false},
		{StageDeploying, true, false, false},
		{StageTokenizing, true, true, false},
		{StageCompleted, true, true, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.stage), func(t *testing.T) {
			snap := BuildSnapshot(tt.stage, start)

			assert.Equal(t, tt.stage, snap.Stage)
			assert.Equal(t, start, snap.StartedAt)
			assert.Equal(t, tt.hasDeployment, snap.HasDeployment)
			assert.Equal(t, tt.hasToken, snap.HasToken)
			assert.Equal(t, tt.isComplete, snap.IsComplete)

			assert.Equal(t, tt.hasDeployment, snap.Deployment != nil)
			assert.Equal(t, tt.hasToken, snap.Token != nil)
		})
	}
}

func TestBuildSnapshotSubstages(t *testing.T) {
	snap := BuildSnapshot(StageBuilding, time.Now())
	require.Len(t, snap.Substages, len(Stages()))

	for i, sub := range snap.Substages {
		switch {
		case i < StageBuilding.Index():
			assert.Equal(t, SubstageDone, sub.State, "substage %s", sub.Stage)
		case i == StageBuilding.Index():
			assert.Equal(t, SubstageActive, sub.State, "substage %s", sub.Stage)
		default:
			assert.Equal(t, SubstagePending, sub.State, "substage %s", sub.Stage)
		}
	}
}

func TestBuildSnapshotTerminalMarksAllDone(t *testing.T) {
	snap := BuildSnapshot(StageCompleted, time.Now())
	for _, sub := range snap.Substages {
		assert.Equal(t, SubstageDone, sub.State, "substage %s", sub.Stage)
	}
}

// Referential purity: equal inputs produce structurally equal
// snapshots, and a returned snapshot is never aliased to internal
// state.
func TestBuildSnapshotPure(t *testing.T) {
	start := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	a := BuildSnapshot(StageTokenizing, start)
	b := BuildSnapshot(StageTokenizing, start)
	assert.Equal(t, a, b)

	a.Substages[0].State = SubstagePending
	a.Deployment.URL = "https://tampered.example"

	c := BuildSnapshot(StageTokenizing, start)
	assert.Equal(t, b, c, "mutating one snapshot must not leak into later builds")
}

func TestBuildSnapshotUnknownStage(t *testing.T) {
	snap := BuildSnapshot(Stage("WAT"), time.Now())
	assert.Equal(t, StageSubmitted, snap.Stage, "unknown stages degrade to the initial stage")
	assert.False(t, snap.IsComplete)
}
