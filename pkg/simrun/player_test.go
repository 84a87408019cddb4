package simrun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

func fixedClock() func() time.Time {
	return func() time.Time {
		return time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	}
}

func TestPlayerEmitsOnePerTick(t *testing.T) {
	script := []ScriptEntry{
		{Stage: pipeline.StageSubmitted, Agent: "pipeline", Level: pipeline.LevelInfo, Message: "one"},
		{Stage: pipeline.StageIdeating, Agent: "ideation", Level: pipeline.LevelInfo, Message: "two"},
		{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelSuccess, Message: "three"},
	}
	buf := pipeline.NewLogBuffer(10)
	p := NewPlayer(script, buf, fixedClock())

	for i, want := range []string{"one", "two", "three"} {
		entry, ok := p.Tick()
		require.True(t, ok)
		assert.Equal(t, want, entry.Message)
		assert.Equal(t, int64(i+1), entry.ID)
		assert.Equal(t, 3-i-1, p.Remaining())
	}

	assert.True(t, p.Exhausted())
	_, ok := p.Tick()
	assert.False(t, ok)
	assert.Equal(t, 3, buf.Len(), "exhausted ticks append nothing")
}

func TestPlayerEmptyScriptIsExhausted(t *testing.T) {
	p := NewPlayer(nil, pipeline.NewLogBuffer(10), fixedClock())
	assert.True(t, p.Exhausted())

	_, ok := p.Tick()
	assert.False(t, ok)
}

func TestPlayerReset(t *testing.T) {
	script := []ScriptEntry{
		{Stage: pipeline.StageSubmitted, Agent: "pipeline", Level: pipeline.LevelInfo, Message: "one"},
	}
	buf := pipeline.NewLogBuffer(10)
	p := NewPlayer(script, buf, fixedClock())

	_, ok := p.Tick()
	require.True(t, ok)
	require.True(t, p.Exhausted())

	p.Reset()
	assert.False(t, p.Exhausted())

	entry, ok := p.Tick()
	require.True(t, ok)
	assert.Equal(t, "one", entry.Message)
	assert.Equal(t, int64(2), entry.ID, "buffer keeps assigning fresh IDs across player resets")
}

func TestPlayerPacingIgnoresStageTags(t *testing.T) {
	// Entries tagged with a late stage still play on early ticks:
	// pacing is tick-driven, the stage tag is informational.
	script := []ScriptEntry{
		{Stage: pipeline.StageTokenizing, Agent: "surge", Level: pipeline.LevelInfo, Message: "late-tagged"},
		{Stage: pipeline.StageSubmitted, Agent: "pipeline", Level: pipeline.LevelInfo, Message: "early-tagged"},
	}
	p := NewPlayer(script, pipeline.NewLogBuffer(10), fixedClock())

	first, ok := p.Tick()
	require.True(t, ok)
	assert.Equal(t, "late-tagged", first.Message)

	second, ok := p.Tick()
	require.True(t, ok)
	assert.Equal(t, "early-tagged", second.Message)
}
