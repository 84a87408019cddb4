package pipeline

import (
	"fmt"
	"time"
)

// TransitionEntry maps an elapsed-time threshold to the stage that
// becomes current once the threshold is reached.
type TransitionEntry struct {
	// Threshold is the minimum elapsed run time for Stage to apply.
	Threshold time.Duration

	// Stage becomes current at or after Threshold.
	Stage Stage
}

// TransitionTable is a time-ordered mapping from elapsed run time to
// the current pipeline stage.
//
// A valid table is sorted ascending by threshold, starts at zero,
// contains no duplicate stages, and lists stages in canonical order
// so that stage resolution is monotonic in elapsed time.
type TransitionTable []TransitionEntry

// Validate checks the structural invariants of the table.
func (t TransitionTable) Validate() error {
	if len(t) == 0 {
		return fmt.Errorf("transition table is empty")
	}
	if t[0].Threshold != 0 {
		return fmt.Errorf("transition table must start at threshold 0, got %s", t[0].Threshold)
	}
	for i, e := range t {
		if !e.Stage.Valid() {
			return fmt.Errorf("transition table entry %d: unknown stage %q", i, e.Stage)
		}
		if i == 0 {
			continue
		}
		prev := t[i-1]
		if e.Threshold <= prev.Threshold {
			return fmt.Errorf("transition table entry %d: threshold %s not after %s", i, e.Threshold, prev.Threshold)
		}
		if e.Stage.Index() <= prev.Stage.Index() {
			return fmt.Errorf("transition table entry %d: stage %s does not follow %s", i, e.Stage, prev.Stage)
		}
	}
	return nil
}

// StageAt resolves the stage for a given elapsed run time: the last
// entry whose threshold is at or below elapsed. Elapsed times before
// the first threshold resolve to the first entry's stage.
func (t TransitionTable) StageAt(elapsed time.Duration) Stage {
	if len(t) == 0 {
		return StageSubmitted
	}
	current := t[0].Stage
	for _, e := range t {
		if e.Threshold > elapsed {
			break
		}
		current = e.Stage
	}
	return current
}

// Terminal returns the stage of the last table entry.
func (t TransitionTable) Terminal() Stage {
	if len(t) == 0 {
		return StageCompleted
	}
	return t[len(t)-1].Stage
}

// DefaultTransitions returns the transition table used by the demo
// simulation. Thresholds are tuned so a full run completes within a
// 60s wall-clock ceiling.
func DefaultTransitions() TransitionTable {
	return TransitionTable{
		{Threshold: 0, Stage: StageSubmitted},
		{Threshold: 6 * time.Second, Stage: StageIdeating},
		{Threshold: 13 * time.Second, Stage: StageArchitecting},
		{Threshold: 20 * time.Second, Stage: StageBuilding},
		{Threshold: 34 * time.Second, Stage: StageDeploying},
		{Threshold: 45 * time.Second, Stage: StageTokenizing},
		{Threshold: 55 * time.Second, Stage: StageCompleted},
	}
}
