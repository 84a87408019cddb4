// Package simrun implements the deterministic, tick-driven simulation
// producer for the pipeline monitoring model.
//
// A Scheduler advances a tick clock at a fixed period, resolves the
// current stage from a pipeline.TransitionTable, and drives a Player
// that emits one scripted log entry per tick into a shared
// pipeline.LogBuffer. Given the same script and table, two runs
// produce identical entry sequences and identical stage-transition
// ticks; nothing in this package consults a source of randomness.
package simrun

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// ScriptEntry is one scripted log line.
//
// The stage tag records which phase the line narrates. It is
// informational only: emission is paced by the tick clock, never gated
// on the current stage matching the tag.
type ScriptEntry struct {
	Stage   pipeline.Stage `yaml:"stage" json:"stage"`
	Agent   string         `yaml:"agent" json:"agent"`
	Level   pipeline.Level `yaml:"level" json:"level"`
	Message string         `yaml:"message" json:"message"`
}

// scriptFile is the on-disk YAML layout for custom scripts.
type scriptFile struct {
	Entries []ScriptEntry `yaml:"entries"`
}

// LoadScript reads a custom simulation script from a YAML file.
//
// Each entry must carry a known stage and a non-empty message; the
// level field is parsed leniently (unknown levels become info).
func LoadScript(path string) ([]ScriptEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("script file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to read script file: %w", err)
	}

	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse script file: %w", err)
	}
	if len(f.Entries) == 0 {
		return nil, fmt.Errorf("script file %s contains no entries", path)
	}

	for i := range f.Entries {
		e := &f.Entries[i]
		if !e.Stage.Valid() {
			return nil, fmt.Errorf("script entry %d: unknown stage %q", i, e.Stage)
		}
		if e.Message == "" {
			return nil, fmt.Errorf("script entry %d: empty message", i)
		}
		e.Level = pipeline.ParseLevel(string(e.Level))
		if e.Agent == "" {
			e.Agent = "pipeline"
		}
	}
	return f.Entries, nil
}

// DefaultScript returns the built-in 25-entry demo script. The
// returned slice is a copy.
func DefaultScript() []ScriptEntry {
	out := make([]ScriptEntry, len(defaultScript))
	copy(out, defaultScript)
	return out
}

var defaultScript = []ScriptEntry{
	{Stage: pipeline.StageSubmitted, Agent: "pipeline", Level: pipeline.LevelInfo, Message: "Idea received, queuing autonomous build pipeline"},
	{Stage: pipeline.StageSubmitted, Agent: "pipeline", Level: pipeline.LevelSuccess, Message: "Pipeline slot acquired, correlation trace attached"},
	{Stage: pipeline.StageIdeating, Agent: "ideation", Level: pipeline.LevelInfo, Message: "Expanding idea summary into product brief"},
	{Stage: pipeline.StageIdeating, Agent: "ideation", Level: pipeline.LevelInfo, Message: "Scoring feature candidates against MVP constraints"},
	{Stage: pipeline.StageIdeating, Agent: "ideation", Level: pipeline.LevelWarning, Message: "Two feature candidates exceed cost budget, deferring"},
	{Stage: pipeline.StageIdeating, Agent: "ideation", Level: pipeline.LevelSuccess, Message: "Product brief finalized: 4 core features selected"},
	{Stage: pipeline.StageArchitecting, Agent: "architect", Level: pipeline.LevelInfo, Message: "Selecting stack: API service + worker + managed database"},
	{Stage: pipeline.StageArchitecting, Agent: "architect", Level: pipeline.LevelInfo, Message: "Drafting data model and service boundaries"},
	{Stage: pipeline.StageArchitecting, Agent: "architect", Level: pipeline.LevelInfo, Message: "Generating interface contracts for builder handoff"},
	{Stage: pipeline.StageArchitecting, Agent: "architect", Level: pipeline.LevelSuccess, Message: "Architecture plan approved, 12 build steps scheduled"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelInfo, Message: "Build step 1/12: scaffolding project workspace"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelInfo, Message: "Build step 3/12: implementing data model"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelInfo, Message: "Build step 5/12: wiring API endpoints"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelWarning, Message: "Build step 6/12: dependency resolution retried once"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelInfo, Message: "Build step 8/12: integrating auth provider"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelInfo, Message: "Build step 10/12: running generated test suite"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelSuccess, Message: "Build step 12/12 complete, all checks green"},
	{Stage: pipeline.StageBuilding, Agent: "builder", Level: pipeline.LevelSuccess, Message: "Artifact packaged and pushed to release channel"},
	{Stage: pipeline.StageDeploying, Agent: "deployer", Level: pipeline.LevelInfo, Message: "Provisioning production environment on here.now"},
	{Stage: pipeline.StageDeploying, Agent: "deployer", Level: pipeline.LevelInfo, Message: "Rolling out release, waiting for health checks"},
	{Stage: pipeline.StageDeploying, Agent: "deployer", Level: pipeline.LevelSuccess, Message: "Deployment live at https://mvp.eido.app"},
	{Stage: pipeline.StageDeploying, Agent: "deployer", Level: pipeline.LevelInfo, Message: "DNS propagated, TLS certificate issued"},
	{Stage: pipeline.StageTokenizing, Agent: "surge", Level: pipeline.LevelInfo, Message: "Creating product token on Surge testnet"},
	{Stage: pipeline.StageTokenizing, Agent: "surge", Level: pipeline.LevelInfo, Message: "Smart contract submitted for verification"},
	{Stage: pipeline.StageTokenizing, Agent: "surge", Level: pipeline.LevelSuccess, Message: "Token EIDO minted, contract verified on ledger"},
}
