package server

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eido-labs/pipewatch/pkg/simrun"
)

// DefaultFeedInterval is the pause between replayed log events.
const DefaultFeedInterval = 1200 * time.Millisecond

// logEventData is the data section of a "log" event, mirroring what
// the production backend emits per pipeline log line.
type logEventData struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
	Level   string `json:"level"`
	Logger  string `json:"logger"`
}

// connectEventData is the data section of the "connect" event.
type connectEventData struct {
	Message string `json:"message"`
	Subject string `json:"mvp_id"`
}

// Feed replays a build script over the broker as SSE log events, one
// replay per subject. Replays are paced by a rate limiter so clients
// see the pipeline advance in real time.
type Feed struct {
	broker   *Broker
	script   []simrun.ScriptEntry
	interval time.Duration
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]struct{}
}

// NewFeed returns a feed that replays script over broker. A nil script
// selects the built-in demo script.
func NewFeed(broker *Broker, script []simrun.ScriptEntry, interval time.Duration, logger *zap.Logger) *Feed {
	if script == nil {
		script = simrun.DefaultScript()
	}
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feed{
		broker:   broker,
		script:   script,
		interval: interval,
		logger:   logger,
		active:   make(map[string]struct{}),
	}
}

// EnsureRunning starts a replay for subject unless one is already in
// flight. Subsequent subscribers to the same subject join the ongoing
// replay mid-stream.
func (f *Feed) EnsureRunning(ctx context.Context, subject string) {
	f.mu.Lock()
	if _, ok := f.active[subject]; ok {
		f.mu.Unlock()
		return
	}
	f.active[subject] = struct{}{}
	f.mu.Unlock()

	go f.replay(ctx, subject)
}

func (f *Feed) replay(ctx context.Context, subject string) {
	defer func() {
		f.mu.Lock()
		delete(f.active, subject)
		f.mu.Unlock()
	}()

	f.logger.Info("starting demo feed",
		zap.String("subject", subject),
		zap.Duration("interval", f.interval),
		zap.Int("entries", len(f.script)))

	limiter := rate.NewLimiter(rate.Every(f.interval), 1)
	for _, entry := range f.script {
		if err := limiter.Wait(ctx); err != nil {
			f.logger.Debug("demo feed cancelled", zap.String("subject", subject))
			return
		}
		f.broker.Broadcast(subject, "log", logEventData{
			Stage:   string(entry.Stage),
			Message: entry.Message,
			Level:   string(entry.Level),
			Logger:  "app.services." + entry.Agent + "_service",
		})
	}

	f.logger.Info("demo feed complete", zap.String("subject", subject))
}
