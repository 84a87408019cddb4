// Package monitor exposes the producer-agnostic engine for watching
// pipeline runs.
//
// An Engine hands out one Run per subject id, backed either by the
// deterministic simulation (pkg/simrun) or the live SSE client
// (pkg/streamwatch) depending on configuration. Consumers read the
// shared event model through the Run interface and never learn which
// producer is active.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
	"github.com/eido-labs/pipewatch/pkg/simrun"
	"github.com/eido-labs/pipewatch/pkg/streamwatch"
)

// ErrActiveSubject is returned when a second producer is requested
// for a subject that already has one. The one-producer-per-subject
// rule is enforced here, structurally, rather than left as a
// convention between callers.
var ErrActiveSubject = errors.New("monitor: subject already has an active run")

// Config is the engine configuration. The engine reads no environment
// state, so the core stays testable without environment mutation.
type Config struct {
	// Simulate activates the simulation producer for SimulateSubject.
	// Any other subject always uses the stream client.
	Simulate        bool
	SimulateSubject string

	// StreamBaseURL is the backend root for live streams.
	StreamBaseURL string

	// Simulation knobs (defaults from pkg/simrun and pkg/pipeline).
	TickPeriod time.Duration
	Table      pipeline.TransitionTable
	Script     []simrun.ScriptEntry

	// Shared buffer bound.
	MaxLogs int

	// Stream client knobs (defaults from pkg/streamwatch).
	BackoffBase           time.Duration
	BackoffGrowth         float64
	BackoffCap            time.Duration
	ResetBackoffOnConnect bool
	HTTPClient            *http.Client

	Clock  func() time.Time
	Logger *zap.Logger
}

// Run is a live view over a single watched pipeline run.
//
// Both producers populate the same model, so every method below is
// meaningful regardless of the backing producer.
type Run interface {
	// Subject returns the watched subject id.
	Subject() string

	// Stage returns the current pipeline stage.
	Stage() pipeline.Stage

	// Snapshot returns the derived pipeline view for the current stage.
	Snapshot() pipeline.Snapshot

	// Entries returns the buffered log entries in observation order.
	Entries() []pipeline.LogEntry

	// ConnState returns the transport state. Simulated runs report
	// connected for their whole lifetime.
	ConnState() pipeline.ConnState

	// Done is closed when the run finishes or is torn down.
	Done() <-chan struct{}

	// Close releases the run's resources (timers, connections) exactly
	// once and frees the subject id for re-watching.
	Close() error
}

// Engine creates and tracks runs, one per subject id.
type Engine struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	active map[string]Run
}

// NewEngine creates an engine from an explicit configuration.
func NewEngine(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Engine{
		cfg:    cfg,
		logger: cfg.Logger,
		active: make(map[string]Run),
	}
}

// Watch activates a run for subject. The producer is the simulation
// when the engine is configured to simulate that exact subject, and
// the stream client otherwise. Watching an already-active subject
// fails with ErrActiveSubject; a subject freed by Close can be
// watched again and starts from clean state.
func (e *Engine) Watch(ctx context.Context, subject string) (Run, error) {
	if subject == "" {
		return nil, errors.New("monitor: subject id is required")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.active[subject]; ok {
		return nil, fmt.Errorf("%w: %s", ErrActiveSubject, subject)
	}

	var (
		run Run
		err error
	)
	if e.cfg.Simulate && subject == e.cfg.SimulateSubject {
		run, err = e.startSimulation(ctx, subject)
	} else {
		run, err = e.startStream(subject)
	}
	if err != nil {
		return nil, err
	}

	e.active[subject] = run
	e.logger.Info("watching pipeline",
		zap.String("subject", subject),
		zap.Bool("simulated", e.cfg.Simulate && subject == e.cfg.SimulateSubject))
	return run, nil
}

// Active reports whether subject currently has a run.
func (e *Engine) Active(subject string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.active[subject]
	return ok
}

// Close tears down every active run.
func (e *Engine) Close() error {
	e.mu.Lock()
	runs := make([]Run, 0, len(e.active))
	for _, r := range e.active {
		runs = append(runs, r)
	}
	e.mu.Unlock()

	var firstErr error
	for _, r := range runs {
		if err := r.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (e *Engine) release(subject string) {
	e.mu.Lock()
	delete(e.active, subject)
	e.mu.Unlock()
}

func (e *Engine) startSimulation(ctx context.Context, subject string) (Run, error) {
	sched, err := simrun.NewScheduler(simrun.Config{
		Subject:    subject,
		TickPeriod: e.cfg.TickPeriod,
		Table:      e.cfg.Table,
		Script:     e.cfg.Script,
		MaxLogs:    e.cfg.MaxLogs,
		Clock:      e.cfg.Clock,
		Logger:     e.logger,
	})
	if err != nil {
		return nil, err
	}

	r := &simRun{engine: e, sched: sched}
	go func() {
		_ = sched.Run(ctx)
	}()
	return r, nil
}

func (e *Engine) startStream(subject string) (Run, error) {
	client, err := streamwatch.New(streamwatch.Config{
		BaseURL:               e.cfg.StreamBaseURL,
		Subject:               subject,
		MaxLogs:               e.cfg.MaxLogs,
		BackoffBase:           e.cfg.BackoffBase,
		BackoffGrowth:         e.cfg.BackoffGrowth,
		BackoffCap:            e.cfg.BackoffCap,
		ResetBackoffOnConnect: e.cfg.ResetBackoffOnConnect,
		HTTPClient:            e.cfg.HTTPClient,
		Clock:                 e.cfg.Clock,
		Logger:                e.logger,
	})
	if err != nil {
		return nil, err
	}
	if err := client.Start(); err != nil {
		return nil, err
	}
	return &streamRun{engine: e, client: client}, nil
}

// simRun adapts a simulation scheduler to the Run interface.
type simRun struct {
	engine    *Engine
	sched     *simrun.Scheduler
	closeOnce sync.Once
}

func (r *simRun) Subject() string              { return r.sched.Subject() }
func (r *simRun) Stage() pipeline.Stage        { return r.sched.Stage() }
func (r *simRun) Snapshot() pipeline.Snapshot  { return r.sched.Snapshot() }
func (r *simRun) Entries() []pipeline.LogEntry { return r.sched.Entries() }
func (r *simRun) Done() <-chan struct{}        { return r.sched.Done() }

func (r *simRun) ConnState() pipeline.ConnState {
	if r.sched.State() == simrun.StateIdle {
		return pipeline.ConnDisconnected
	}
	return pipeline.ConnConnected
}

func (r *simRun) Close() error {
	r.closeOnce.Do(func() {
		r.sched.Dispose()
		r.engine.release(r.sched.Subject())
	})
	return nil
}

// streamRun adapts a stream client to the Run interface.
type streamRun struct {
	engine    *Engine
	client    *streamwatch.Client
	closeOnce sync.Once
	closeErr  error
}

func (r *streamRun) Subject() string               { return r.client.Subject() }
func (r *streamRun) Stage() pipeline.Stage         { return r.client.Stage() }
func (r *streamRun) Snapshot() pipeline.Snapshot   { return r.client.Snapshot() }
func (r *streamRun) Entries() []pipeline.LogEntry  { return r.client.Entries() }
func (r *streamRun) ConnState() pipeline.ConnState { return r.client.ConnState() }
func (r *streamRun) Done() <-chan struct{}         { return r.client.Done() }

func (r *streamRun) Close() error {
	r.closeOnce.Do(func() {
		r.closeErr = r.client.Close()
		r.engine.release(r.client.Subject())
	})
	return r.closeErr
}
