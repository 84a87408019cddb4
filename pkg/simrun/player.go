package simrun

import (
	"time"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// Player paces a fixed script of log entries into a shared buffer.
//
// The player emits exactly one entry per tick until the script is
// exhausted. Pacing is decoupled from stage changes on purpose: log
// output stays visually continuous even when a stage transition
// straddles several ticks.
type Player struct {
	script []ScriptEntry
	cursor int
	buf    *pipeline.LogBuffer
	now    func() time.Time
}

// NewPlayer creates a player over script, appending into buf. The
// clock is used for entry timestamps; a nil clock means time.Now.
func NewPlayer(script []ScriptEntry, buf *pipeline.LogBuffer, clock func() time.Time) *Player {
	if clock == nil {
		clock = time.Now
	}
	return &Player{script: script, buf: buf, now: clock}
}

// Tick emits the entry at the cursor, if any, and advances the cursor.
// The stored entry (with its assigned ID) is returned; ok is false
// once the script is exhausted.
func (p *Player) Tick() (entry pipeline.LogEntry, ok bool) {
	if p.Exhausted() {
		return pipeline.LogEntry{}, false
	}
	s := p.script[p.cursor]
	p.cursor++
	stored := p.buf.Append(pipeline.LogEntry{
		Timestamp: p.now(),
		Agent:     s.Agent,
		Message:   s.Message,
		Level:     s.Level,
	})
	return stored, true
}

// Exhausted reports whether every script entry has been emitted. An
// empty script is exhausted from the start.
func (p *Player) Exhausted() bool {
	return p.cursor >= len(p.script)
}

// Remaining returns the number of entries not yet emitted.
func (p *Player) Remaining() int {
	return len(p.script) - p.cursor
}

// Reset rewinds the cursor to the start of the script.
func (p *Player) Reset() {
	p.cursor = 0
}
