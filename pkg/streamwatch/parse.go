package streamwatch

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// Named SSE event types emitted by the backend. Anything else is
// handled as a generic event.
const (
	eventConnect = "connect"
	eventLog     = "log"
)

// logEnvelope is the wire shape of a "log" event payload.
type logEnvelope struct {
	Timestamp string  `json:"timestamp"`
	Data      logData `json:"data"`
}

type logData struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Logger  string `json:"logger"`
}

// genericPayload is the best-effort shape for unnamed events.
type genericPayload struct {
	Message string `json:"message"`
	Data    struct {
		Message string `json:"message"`
	} `json:"data"`
}

// loggerSuffixes are stripped from the final segment of a dotted
// logger name when deriving the short agent label.
var loggerSuffixes = []string{"_service", "_agent", "_runtime", "_controller"}

// agentLabel maps a dotted hierarchical logger name to a short human
// label: the final segment with known suffixes stripped.
func agentLabel(logger string) string {
	if logger == "" {
		return "backend"
	}
	seg := logger
	if idx := strings.LastIndexByte(logger, '.'); idx >= 0 {
		seg = logger[idx+1:]
	}
	for _, suffix := range loggerSuffixes {
		if trimmed := strings.TrimSuffix(seg, suffix); trimmed != "" && trimmed != seg {
			seg = trimmed
			break
		}
	}
	if seg == "" {
		return "backend"
	}
	return seg
}

// parseLogEvent normalizes a "log" event payload into a LogEntry
// (without an ID; the buffer assigns one on append). The raw stage
// name is returned alongside for the caller's stage tracking.
func parseLogEvent(data string, now func() time.Time) (pipeline.LogEntry, string, error) {
	var env logEnvelope
	if err := json.Unmarshal([]byte(data), &env); err != nil {
		return pipeline.LogEntry{}, "", fmt.Errorf("invalid log event payload: %w", err)
	}
	if env.Data.Message == "" {
		return pipeline.LogEntry{}, "", fmt.Errorf("log event payload has no message")
	}

	ts := now()
	if env.Timestamp != "" {
		if parsed, err := time.Parse(time.RFC3339, env.Timestamp); err == nil {
			ts = parsed
		}
	}

	msg := env.Data.Message
	if env.Data.Stage != "" {
		msg = fmt.Sprintf("[%s] %s", strings.ToUpper(env.Data.Stage), msg)
	}

	return pipeline.LogEntry{
		Timestamp: ts,
		Agent:     agentLabel(env.Data.Logger),
		Message:   msg,
		Level:     pipeline.ParseLevel(env.Data.Level),
	}, env.Data.Stage, nil
}

// parseGenericEvent extracts a message from an untyped event. Payloads
// that are not JSON are taken verbatim.
func parseGenericEvent(data string, now func() time.Time) (pipeline.LogEntry, bool) {
	msg := strings.TrimSpace(data)
	if msg == "" {
		return pipeline.LogEntry{}, false
	}

	var p genericPayload
	if err := json.Unmarshal([]byte(data), &p); err == nil {
		switch {
		case p.Message != "":
			msg = p.Message
		case p.Data.Message != "":
			msg = p.Data.Message
		default:
			return pipeline.LogEntry{}, false
		}
	}

	return pipeline.LogEntry{
		Timestamp: now(),
		Agent:     "backend",
		Message:   msg,
		Level:     pipeline.LevelInfo,
	}, true
}

// connectEntry is the synthetic entry announcing a live connection.
func connectEntry(subject string, now func() time.Time) pipeline.LogEntry {
	return pipeline.LogEntry{
		Timestamp: now(),
		Agent:     "system",
		Message:   fmt.Sprintf("Connected to event stream for pipeline %s", subject),
		Level:     pipeline.LevelSystem,
	}
}
