// Package pipeline defines the shared event model for monitoring an
// autonomous MVP build pipeline.
//
// Both producers, the deterministic simulation in pkg/simrun and the
// live SSE client in pkg/streamwatch, populate the same types (Stage,
// LogEntry, LogBuffer, ConnState, Snapshot) so that consumers never
// need to know which producer is active.
package pipeline

import "fmt"

// Stage is a named phase of the monitored pipeline's lifecycle.
//
// Stages form a fixed, ordered progression. Within a single run the
// stage index is non-decreasing: once a later stage is reached, an
// earlier one is never resolved again.
type Stage string

const (
	StageSubmitted    Stage = "SUBMITTED"
	StageIdeating     Stage = "IDEATING"
	StageArchitecting Stage = "ARCHITECTING"
	StageBuilding     Stage = "BUILDING"
	StageDeploying    Stage = "DEPLOYING"
	StageTokenizing   Stage = "TOKENIZING"
	StageCompleted    Stage = "COMPLETED"
)

// stageOrder is the canonical progression, initial stage first.
var stageOrder = []Stage{
	StageSubmitted,
	StageIdeating,
	StageArchitecting,
	StageBuilding,
	StageDeploying,
	StageTokenizing,
	StageCompleted,
}

// Stages returns the ordered list of pipeline stages. The returned
// slice is a copy; callers may mutate it freely.
func Stages() []Stage {
	out := make([]Stage, len(stageOrder))
	copy(out, stageOrder)
	return out
}

// Index returns the position of s in the canonical stage order, or -1
// if s is not a known stage.
func (s Stage) Index() int {
	for i, st := range stageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known stages.
func (s Stage) Valid() bool {
	return s.Index() >= 0
}

// IsTerminal reports whether s is the terminal stage.
func (s Stage) IsTerminal() bool {
	return s == StageCompleted
}

// AtOrAfter reports whether s is at or beyond other in the canonical
// order. Unknown stages are never at or after anything.
func (s Stage) AtOrAfter(other Stage) bool {
	i, j := s.Index(), other.Index()
	if i < 0 || j < 0 {
		return false
	}
	return i >= j
}

// ParseStage validates a wire-level stage name.
func ParseStage(raw string) (Stage, error) {
	s := Stage(raw)
	if !s.Valid() {
		return "", fmt.Errorf("unknown pipeline stage: %q", raw)
	}
	return s, nil
}
