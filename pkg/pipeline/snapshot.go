package pipeline

import "time"

// SubstageState is the progress state of one pipeline substage as
// rendered in a snapshot.
type SubstageState string

const (
	SubstagePending SubstageState = "pending"
	SubstageActive  SubstageState = "active"
	SubstageDone    SubstageState = "done"
)

// SubstageStatus pairs a stage with its progress state relative to
// the snapshot's current stage.
type SubstageStatus struct {
	Stage Stage         `json:"stage"`
	State SubstageState `json:"state"`
}

// DeploymentInfo describes the deployed product once the pipeline has
// reached the deploy stage.
type DeploymentInfo struct {
	URL      string `json:"url"`
	Provider string `json:"provider"`
}

// TokenInfo describes the product token once the pipeline has reached
// the tokenization stage.
type TokenInfo struct {
	Symbol          string `json:"symbol"`
	ContractAddress string `json:"contract_address"`
	Network         string `json:"network"`
}

// Snapshot is the fully derived, immutable view of a pipeline run.
//
// A snapshot is a pure function of (stage, run start); it is never
// stored as mutable state and is recomputed by producers on every
// stage resolution. Two calls with equal arguments yield structurally
// equal snapshots.
type Snapshot struct {
	Stage     Stage            `json:"stage"`
	StartedAt time.Time        `json:"started_at"`
	Substages []SubstageStatus `json:"substages"`

	HasDeployment bool `json:"has_deployment"`
	HasToken      bool `json:"has_token"`
	IsComplete    bool `json:"is_complete"`

	Deployment *DeploymentInfo `json:"deployment,omitempty"`
	Token      *TokenInfo      `json:"token,omitempty"`
}

// Static reference data assembled into snapshots. The monitoring model
// carries display values only; real deployment and token records live
// with the backend.
var (
	refDeployment = DeploymentInfo{
		URL:      "https://mvp.eido.app",
		Provider: "here.now",
	}
	refToken = TokenInfo{
		Symbol:          "EIDO",
		ContractAddress: "0x0000000000000000000000000000000000000000",
		Network:         "surge-testnet",
	}
)

// BuildSnapshot derives the full pipeline view for a stage.
//
// The function reads no state beyond its arguments and the package's
// static reference data, which is what lets the scheduler recompute a
// fresh snapshot every tick without coordination.
func BuildSnapshot(stage Stage, startedAt time.Time) Snapshot {
	idx := stage.Index()
	if idx < 0 {
		idx = 0
		stage = StageSubmitted
	}

	subs := make([]SubstageStatus, len(stageOrder))
	for i, st := range stageOrder {
		state := SubstagePending
		switch {
		case i < idx, stage.IsTerminal():
			state = SubstageDone
		case i == idx:
			state = SubstageActive
		}
		subs[i] = SubstageStatus{Stage: st, State: state}
	}

	snap := Snapshot{
		Stage:         stage,
		StartedAt:     startedAt,
		Substages:     subs,
		HasDeployment: stage.AtOrAfter(StageDeploying),
		HasToken:      stage.AtOrAfter(StageTokenizing),
		IsComplete:    stage.IsTerminal(),
	}
	if snap.HasDeployment {
		d := refDeployment
		snap.Deployment = &d
	}
	if snap.HasToken {
		t := refToken
		snap.Token = &t
	}
	return snap
}
