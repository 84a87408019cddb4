// Package output provides JSONL output for monitored pipeline runs.
//
// Output is structured as typed record envelopes containing log
// entries, stage changes, connection transitions, and a final summary.
// Each line is a self-contained JSON object that can be parsed
// independently.
package output

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: pipewatch.<type>.v<version>
const (
	// TypeLog identifies pipeline log entry records.
	TypeLog = "pipewatch.log.v1"

	// TypeStage identifies stage transition records.
	TypeStage = "pipewatch.stage.v1"

	// TypeConn identifies connection state transition records.
	TypeConn = "pipewatch.conn.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "pipewatch.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "pipewatch.log.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// Subject is the id of the monitored pipeline run.
	Subject string `json:"subject"`

	// Producer identifies the event source ("sim" or "stream").
	Producer string `json:"producer"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// Producer identifiers for Record.
const (
	// ProducerSim marks records from the deterministic simulation.
	ProducerSim = "sim"

	// ProducerStream marks records from the live SSE stream.
	ProducerStream = "stream"
)

// StageRecord is the data payload for stage transitions.
type StageRecord struct {
	// Stage is the stage the pipeline entered.
	Stage pipeline.Stage `json:"stage"`

	// Terminal reports whether this stage ends the run.
	Terminal bool `json:"terminal"`
}

// ConnRecord is the data payload for connection transitions.
//
// Only the stream producer emits these; the simulation has no
// transport to report on.
type ConnRecord struct {
	// State is the new connection state.
	State pipeline.ConnState `json:"state"`

	// Attempts is the cumulative reconnect attempt count.
	Attempts int `json:"attempts"`
}

// SummaryRecord is the data payload for final summaries.
//
// A summary record is emitted once when monitoring stops, with
// aggregate statistics for the watched run.
type SummaryRecord struct {
	// Stage is the stage the run ended in.
	Stage pipeline.Stage `json:"stage"`

	// Entries is the total number of log entries observed.
	Entries int64 `json:"entries"`

	// Duration is the total monitoring duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Deployment is present once the run reached DEPLOYING.
	Deployment *pipeline.DeploymentInfo `json:"deployment,omitempty"`

	// Token is present once the run reached TOKENIZING.
	Token *pipeline.TokenInfo `json:"token,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
