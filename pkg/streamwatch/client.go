package streamwatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// Default reconnect backoff parameters: delay = min(cap, base × growth^attempts).
const (
	DefaultBackoffBase   = time.Second
	DefaultBackoffGrowth = 1.5
	DefaultBackoffCap    = 30 * time.Second
)

// ErrClosed is returned when operating on a closed client.
var ErrClosed = errors.New("streamwatch: client is closed")

// Config configures a stream client.
type Config struct {
	// BaseURL is the backend root, e.g. "http://localhost:8000".
	BaseURL string

	// Subject is the id of the pipeline run to watch.
	Subject string

	// MaxLogs bounds the log buffer. Default: pipeline.DefaultMaxLogs.
	MaxLogs int

	// Backoff knobs for reconnect delays. Defaults: DefaultBackoffBase,
	// DefaultBackoffGrowth, DefaultBackoffCap.
	BackoffBase   time.Duration
	BackoffGrowth float64
	BackoffCap    time.Duration

	// ResetBackoffOnConnect resets the attempt counter after a
	// successful connect. The backend's own client never resets it, so
	// an early failure permanently inflates later delays; this knob
	// makes the tightened behavior available explicitly. Default:
	// false, matching the backend client.
	ResetBackoffOnConnect bool

	// HTTPClient performs the stream requests. Default: http.DefaultClient.
	HTTPClient *http.Client

	// Clock supplies timestamps for synthetic entries. Default: time.Now.
	Clock func() time.Time

	// Logger receives diagnostics, including dropped-payload notices.
	// Default: zap.NewNop().
	Logger *zap.Logger
}

// Client maintains exactly one persistent SSE connection for a
// subject, normalizes its events into the shared event model, and
// reconnects with exponential backoff on transport failure.
//
// A single run-loop goroutine owns the transport, which is what makes
// connection attempts strictly serialized: a new connection is never
// opened while a previous one is pending or live.
type Client struct {
	cfg      Config
	endpoint string
	httpc    *http.Client
	logger   *zap.Logger
	bo       *backoff.ExponentialBackOff

	mu       sync.Mutex
	buf      *pipeline.LogBuffer
	conn     pipeline.ConnState
	stage    pipeline.Stage
	started  time.Time
	events   int64
	attempts int
	body     io.ReadCloser
	startedL bool
	closed   bool

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// New validates cfg and creates an idle client. Call Start to open
// the stream.
func New(cfg Config) (*Client, error) {
	if cfg.Subject == "" {
		return nil, errors.New("streamwatch: subject id is required")
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("streamwatch: invalid base URL %q", cfg.BaseURL)
	}
	if cfg.MaxLogs <= 0 {
		cfg.MaxLogs = pipeline.DefaultMaxLogs
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = DefaultBackoffBase
	}
	if cfg.BackoffGrowth <= 1 {
		cfg.BackoffGrowth = DefaultBackoffGrowth
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = DefaultBackoffCap
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		cfg:      cfg,
		endpoint: base.JoinPath("api", "mvp", cfg.Subject, "events").String(),
		httpc:    cfg.HTTPClient,
		logger:   cfg.Logger.With(zap.String("subject", cfg.Subject)),
		bo:       newBackoff(cfg.BackoffBase, cfg.BackoffGrowth, cfg.BackoffCap),
		buf:      pipeline.NewLogBuffer(cfg.MaxLogs),
		conn:     pipeline.ConnDisconnected,
		stage:    pipeline.StageSubmitted,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}, nil
}

// newBackoff builds the reconnect delay source. Randomization is
// disabled so consecutive delays follow min(cap, base × growth^n)
// exactly and grow monotonically up to the cap.
func newBackoff(base time.Duration, growth float64, max time.Duration) *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = base
	bo.Multiplier = growth
	bo.MaxInterval = max
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

// Start launches the run loop. It may be called once per client.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.startedL {
		return errors.New("streamwatch: client already started")
	}
	c.startedL = true
	c.started = c.cfg.Clock()
	go c.run(uuid.New().String())
	return nil
}

// run is the single goroutine owning the transport lifecycle.
func (c *Client) run(traceID string) {
	defer close(c.done)
	logger := c.logger.With(zap.String("trace_id", traceID))

	for {
		if c.ctx.Err() != nil {
			return
		}

		c.setConn(pipeline.ConnConnecting)
		body, err := c.connect(logger)
		if err == nil {
			c.setConn(pipeline.ConnConnected)
			if c.cfg.ResetBackoffOnConnect {
				c.bo.Reset()
			}
			err = c.readLoop(body, logger)
			c.detachBody()
		}
		c.setConn(pipeline.ConnDisconnected)

		if c.ctx.Err() != nil {
			return
		}

		// Exactly one reconnect is scheduled per failure; the attempt
		// counter grows monotonically across the client's lifetime.
		delay := c.bo.NextBackOff()
		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		c.mu.Unlock()

		logger.Warn("stream disconnected, scheduling reconnect",
			zap.Error(err),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-c.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// connect opens the persistent event stream. On success the response
// body is registered as the client's single open connection.
func (c *Client) connect(logger *zap.Logger) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("open stream: unexpected status %d", resp.StatusCode)
	}

	c.mu.Lock()
	c.body = resp.Body
	c.mu.Unlock()

	logger.Debug("stream connected", zap.String("endpoint", c.endpoint))
	return resp.Body, nil
}

// readLoop decodes events until the stream breaks. Malformed payloads
// are logged and dropped; only transport errors escape.
func (c *Client) readLoop(body io.ReadCloser, logger *zap.Logger) error {
	dec := NewSSEDecoder(body)
	for {
		ev, err := dec.Next()
		if err != nil {
			return fmt.Errorf("read stream: %w", err)
		}
		c.handleEvent(ev, logger)
	}
}

func (c *Client) handleEvent(ev SSEEvent, logger *zap.Logger) {
	switch ev.Name {
	case eventConnect:
		c.append(connectEntry(c.cfg.Subject, c.cfg.Clock))

	case eventLog:
		entry, stage, err := parseLogEvent(ev.Data, c.cfg.Clock)
		if err != nil {
			logger.Warn("dropping malformed log event", zap.Error(err))
			return
		}
		c.observeStage(stage)
		c.append(entry)

	default:
		entry, ok := parseGenericEvent(ev.Data, c.cfg.Clock)
		if !ok {
			logger.Debug("dropping generic event with no message")
			return
		}
		c.append(entry)
	}
}

func (c *Client) append(entry pipeline.LogEntry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Append(entry)
	c.events++
}

// observeStage advances the tracked stage. Regressions are ignored so
// the model's monotonic-stage invariant holds even for out-of-order
// telemetry.
func (c *Client) observeStage(raw string) {
	stage, err := pipeline.ParseStage(raw)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if stage.AtOrAfter(c.stage) {
		c.stage = stage
	}
}

func (c *Client) setConn(state pipeline.ConnState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed && state != pipeline.ConnDisconnected {
		return
	}
	c.conn = state
}

// detachBody closes and forgets the current connection body.
func (c *Client) detachBody() {
	c.mu.Lock()
	body := c.body
	c.body = nil
	c.mu.Unlock()
	if body != nil {
		_ = body.Close()
	}
}

// Close tears the client down: the pending reconnect timer (if any)
// is cancelled and the open connection closed before Close returns,
// so nothing owned by the client outlives it. Close is idempotent.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	started := c.startedL
	c.mu.Unlock()

	c.cancel()
	c.detachBody()
	if started {
		<-c.done
	}
	c.setConn(pipeline.ConnDisconnected)
	return nil
}

// Done is closed when the run loop has fully stopped.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Subject returns the watched subject id.
func (c *Client) Subject() string {
	return c.cfg.Subject
}

// ConnState returns the current transport state.
func (c *Client) ConnState() pipeline.ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

// Stage returns the latest stage observed from log events.
func (c *Client) Stage() pipeline.Stage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stage
}

// Snapshot recomputes the derived pipeline view for the observed stage.
func (c *Client) Snapshot() pipeline.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return pipeline.BuildSnapshot(c.stage, c.started)
}

// Entries returns a copy of the buffered log entries.
func (c *Client) Entries() []pipeline.LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Entries()
}

// EventCount returns the number of accepted (appended) entries.
// Dropped malformed payloads do not count.
func (c *Client) EventCount() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.events
}

// Attempts returns the reconnect attempt count so far.
func (c *Client) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}
