package pipeline

import (
	"strings"
	"time"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
	LevelSystem  Level = "system"
)

// ParseLevel maps a wire-level severity string onto the five-valued
// enum. Parsing is lenient: common aliases are folded in and anything
// unrecognized defaults to info, so a malformed event never fails on
// its level field.
func ParseLevel(raw string) Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "info":
		return LevelInfo
	case "success", "ok":
		return LevelSuccess
	case "warning", "warn":
		return LevelWarning
	case "error", "err", "critical", "fatal":
		return LevelError
	case "system":
		return LevelSystem
	default:
		return LevelInfo
	}
}

// LogEntry is a single line in the pipeline's log stream.
//
// Entries are immutable once appended to a LogBuffer; the buffer that
// appended an entry is its sole owner.
type LogEntry struct {
	// ID is unique and monotonically assigned within a run.
	ID int64 `json:"id"`

	// Timestamp is when the producing event was observed.
	Timestamp time.Time `json:"timestamp"`

	// Agent is the short human label of the emitting source.
	Agent string `json:"agent"`

	// Message is the log text.
	Message string `json:"message"`

	// Level is the entry severity.
	Level Level `json:"level"`
}

// DefaultMaxLogs is the default LogBuffer capacity.
const DefaultMaxLogs = 500

// LogBuffer is a bounded, order-preserving collection of log entries.
//
// Appends beyond capacity evict the oldest entries; insertion order of
// the survivors is preserved. The buffer also owns ID assignment so
// entries carry stable, monotonically increasing IDs.
//
// LogBuffer is not safe for concurrent use; per the engine's resource
// model exactly one producer appends to a buffer at a time, and owners
// serialize reads against that producer.
type LogBuffer struct {
	entries []LogEntry
	max     int
	nextID  int64
}

// NewLogBuffer creates a buffer bounded at max entries. A max of zero
// or less falls back to DefaultMaxLogs.
func NewLogBuffer(max int) *LogBuffer {
	if max <= 0 {
		max = DefaultMaxLogs
	}
	return &LogBuffer{max: max}
}

// Append assigns the next sequential ID to e, stores it, and evicts
// the oldest entry if the buffer is over capacity. The stored entry is
// returned.
func (b *LogBuffer) Append(e LogEntry) LogEntry {
	b.nextID++
	e.ID = b.nextID
	b.entries = append(b.entries, e)
	if len(b.entries) > b.max {
		// Shift rather than reslice so evicted entries are freed.
		n := copy(b.entries, b.entries[len(b.entries)-b.max:])
		b.entries = b.entries[:n]
	}
	return e
}

// Len returns the number of buffered entries.
func (b *LogBuffer) Len() int {
	return len(b.entries)
}

// Cap returns the configured capacity.
func (b *LogBuffer) Cap() int {
	return b.max
}

// Entries returns a copy of the buffered entries in insertion order.
func (b *LogBuffer) Entries() []LogEntry {
	out := make([]LogEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Reset empties the buffer and restarts ID assignment from 1.
func (b *LogBuffer) Reset() {
	b.entries = nil
	b.nextID = 0
}
