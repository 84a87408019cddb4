package simrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// DefaultTickPeriod is the tick clock period of the demo simulation.
const DefaultTickPeriod = 1200 * time.Millisecond

// State is the lifecycle state of a simulation run.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateComplete State = "complete"
)

// StageChange records a stage transition in tick units, which is the
// timestamp domain deterministic replay is compared in.
type StageChange struct {
	Tick  int64
	Stage pipeline.Stage
}

// Config configures a simulation scheduler.
type Config struct {
	// Subject is the id of the pipeline run being simulated.
	Subject string

	// TickPeriod is the tick clock period. Default: DefaultTickPeriod.
	TickPeriod time.Duration

	// Table maps elapsed time to stages. Default: pipeline.DefaultTransitions.
	Table pipeline.TransitionTable

	// Script is the log script to play. A nil script selects
	// DefaultScript; an explicitly empty slice plays nothing.
	Script []ScriptEntry

	// MaxLogs bounds the shared log buffer. Default: pipeline.DefaultMaxLogs.
	MaxLogs int

	// Clock supplies entry timestamps and the run start time.
	// Default: time.Now. Tests inject a fixed clock so replayed runs
	// are byte-identical.
	Clock func() time.Time

	// Logger receives debug output. Default: zap.NewNop().
	Logger *zap.Logger
}

// Scheduler is the cooperative tick loop driving a simulated run.
//
// The scheduler owns at most one active timer (inside Run) and is the
// single producer for its log buffer. Tick, Start, and the accessors
// are safe for concurrent use; each tick handler runs to completion
// under the scheduler's lock.
type Scheduler struct {
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	buf      *pipeline.LogBuffer
	player   *Player
	tick     int64
	stage    pipeline.Stage
	started  time.Time
	state    State
	changes  []StageChange
	running  bool
	disposed bool

	done chan struct{}
}

// NewScheduler validates cfg and creates an idle scheduler. Call
// Start (or Run) to begin a run.
func NewScheduler(cfg Config) (*Scheduler, error) {
	if cfg.TickPeriod <= 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}
	if cfg.Table == nil {
		cfg.Table = pipeline.DefaultTransitions()
	}
	if err := cfg.Table.Validate(); err != nil {
		return nil, fmt.Errorf("invalid transition table: %w", err)
	}
	if cfg.Script == nil {
		cfg.Script = DefaultScript()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	buf := pipeline.NewLogBuffer(cfg.MaxLogs)
	return &Scheduler{
		cfg:    cfg,
		logger: cfg.Logger,
		buf:    buf,
		player: NewPlayer(cfg.Script, buf, cfg.Clock),
		stage:  cfg.Table[0].Stage,
		state:  StateIdle,
		done:   make(chan struct{}),
	}, nil
}

// Start resets the run to a clean slate and marks it running: tick
// counter zeroed, buffer emptied, script rewound, stage back to the
// table's first entry. One synthetic system entry announcing the run
// is appended immediately so consumers see output before the first
// tick fires.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disposed {
		return
	}

	// Re-arm completion signalling after a finished run, so a reset
	// scheduler reports Done only for the new run.
	select {
	case <-s.done:
		s.done = make(chan struct{})
	default:
	}

	s.tick = 0
	s.started = s.cfg.Clock()
	s.stage = s.cfg.Table[0].Stage
	s.changes = nil
	s.buf.Reset()
	s.player.Reset()
	s.state = StateRunning

	s.buf.Append(pipeline.LogEntry{
		Timestamp: s.started,
		Agent:     "system",
		Message:   fmt.Sprintf("Monitoring started for pipeline %s", s.cfg.Subject),
		Level:     pipeline.LevelSystem,
	})

	s.logger.Debug("simulation started",
		zap.String("subject", s.cfg.Subject),
		zap.Duration("tick_period", s.cfg.TickPeriod))
}

// Reset is Start under the name the lifecycle contract uses for
// re-activation: a fresh run with no residual state from the prior
// one.
func (s *Scheduler) Reset() {
	s.Start()
}

// Tick advances the clock by one period, resolves the current stage,
// and plays the next script entry. Stage writes are idempotent: an
// unchanged resolution records no transition.
//
// Tick returns false once the run should stop scheduling further
// ticks, which happens only when the resolved stage is terminal AND
// the script is exhausted.
func (s *Scheduler) Tick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRunning || s.disposed {
		return false
	}

	s.tick++
	elapsed := time.Duration(s.tick) * s.cfg.TickPeriod
	next := s.cfg.Table.StageAt(elapsed)
	if next != s.stage {
		s.stage = next
		s.changes = append(s.changes, StageChange{Tick: s.tick, Stage: next})
		s.logger.Debug("stage advanced",
			zap.String("subject", s.cfg.Subject),
			zap.Int64("tick", s.tick),
			zap.String("stage", string(next)))
	}

	s.player.Tick()

	if s.stage.IsTerminal() && s.player.Exhausted() {
		s.state = StateComplete
		s.signalDoneLocked()
		s.logger.Debug("simulation complete",
			zap.String("subject", s.cfg.Subject),
			zap.Int64("ticks", s.tick))
		return false
	}
	return true
}

// Run starts a fresh run and drives Tick from a timer until the run
// completes, the context is cancelled, or the scheduler is disposed.
// At most one Run may be active per scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("simulation already running")
	}
	if s.disposed {
		s.mu.Unlock()
		return errors.New("simulation disposed")
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	s.Start()
	done := s.Done()

	ticker := time.NewTicker(s.cfg.TickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-done:
			return nil
		case <-ticker.C:
			if !s.Tick() {
				return nil
			}
		}
	}
}

// Dispose tears the scheduler down. Any active Run loop exits, and
// further Tick and Start calls are no-ops. Dispose is idempotent.
func (s *Scheduler) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disposed = true
	s.signalDoneLocked()
}

// signalDoneLocked closes the current done channel. Callers hold s.mu.
func (s *Scheduler) signalDoneLocked() {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
}

// Done is closed when the current run completes or the scheduler is
// disposed. Start and Reset arm a fresh channel, so callers observing
// a new run must fetch Done again.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Subject returns the simulated subject id.
func (s *Scheduler) Subject() string {
	return s.cfg.Subject
}

// State returns the run lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// TickCount returns the number of ticks processed so far.
func (s *Scheduler) TickCount() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Stage returns the currently resolved stage.
func (s *Scheduler) Stage() pipeline.Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

// Snapshot recomputes the derived pipeline view for the current stage.
func (s *Scheduler) Snapshot() pipeline.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pipeline.BuildSnapshot(s.stage, s.started)
}

// Entries returns a copy of the buffered log entries.
func (s *Scheduler) Entries() []pipeline.LogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Entries()
}

// StageChanges returns the recorded stage transitions in tick units.
func (s *Scheduler) StageChanges() []StageChange {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StageChange, len(s.changes))
	copy(out, s.changes)
	return out
}
