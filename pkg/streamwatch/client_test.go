package streamwatch

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eido-labs/pipewatch/pkg/pipeline"
)

// sseHandler serves scripted SSE frames for one connection, then
// either holds the stream open or drops it.
func sseHandler(t *testing.T, frames []string, hold bool) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		require.True(t, ok)

		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()
		for _, frame := range frames {
			_, _ = fmt.Fprint(w, frame)
			flusher.Flush()
		}
		if hold {
			<-r.Context().Done()
		}
	}
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{
		BaseURL:     baseURL,
		Subject:     "mvp-7",
		BackoffBase: 5 * time.Millisecond,
		BackoffCap:  20 * time.Millisecond,
		Clock:       testClock(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func logFrame(stage, message, level, logger string) string {
	return fmt.Sprintf("event: log\ndata: {\"timestamp\":\"2026-02-10T12:00:00Z\",\"data\":{\"stage\":%q,\"message\":%q,\"level\":%q,\"logger\":%q}}\n\n",
		stage, message, level, logger)
}

func TestClientReceivesEvents(t *testing.T) {
	frames := []string{
		"event: connect\ndata: {\"message\":\"stream open\"}\n\n",
		logFrame("IDEATING", "expanding brief", "info", "app.services.ideation"),
		logFrame("BUILDING", "step 1/12", "success", "app.services.builder_agent"),
		"data: {\"message\":\"generic note\"}\n\n",
	}
	srv := httptest.NewServer(sseHandler(t, frames, true))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.EventCount() == 4
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, pipeline.ConnConnected, c.ConnState())
	assert.Equal(t, pipeline.StageBuilding, c.Stage())

	entries := c.Entries()
	require.Len(t, entries, 4)
	assert.Equal(t, pipeline.LevelSystem, entries[0].Level)
	assert.Equal(t, "[IDEATING] expanding brief", entries[1].Message)
	assert.Equal(t, "ideation", entries[1].Agent)
	assert.Equal(t, "[BUILDING] step 1/12", entries[2].Message)
	assert.Equal(t, "generic note", entries[3].Message)

	// IDs are sequential in observation order.
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.ID)
	}

	snap := c.Snapshot()
	assert.Equal(t, pipeline.StageBuilding, snap.Stage)
	assert.False(t, snap.HasDeployment)
}

func TestClientDropsMalformedPayload(t *testing.T) {
	frames := []string{
		logFrame("IDEATING", "good", "info", "app.pipeline"),
		"event: log\ndata: this is not json\n\n",
		logFrame("IDEATING", "still good", "info", "app.pipeline"),
	}
	srv := httptest.NewServer(sseHandler(t, frames, true))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.EventCount() == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The malformed frame was skipped without disturbing the stream.
	assert.Equal(t, pipeline.ConnConnected, c.ConnState())
	entries := c.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "[IDEATING] good", entries[0].Message)
	assert.Equal(t, "[IDEATING] still good", entries[1].Message)
}

func TestClientReconnects(t *testing.T) {
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connects.Add(1)
		frames := []string{logFrame("SUBMITTED", fmt.Sprintf("connection %d", n), "info", "app.pipeline")}
		// First two connections drop immediately after one event; the
		// third stays open.
		sseHandler(t, frames, n >= 3)(w, r)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return connects.Load() >= 3 && c.ConnState() == pipeline.ConnConnected
	}, 5*time.Second, 10*time.Millisecond)

	assert.GreaterOrEqual(t, c.Attempts(), 2)

	entries := c.Entries()
	require.GreaterOrEqual(t, len(entries), 3)
	assert.Equal(t, "connection 1", stripPrefix(entries[0].Message))
	assert.Equal(t, "connection 2", stripPrefix(entries[1].Message))
	assert.Equal(t, "connection 3", stripPrefix(entries[2].Message))
}

func stripPrefix(msg string) string {
	const prefix = "[SUBMITTED] "
	if len(msg) > len(prefix) {
		return msg[len(prefix):]
	}
	return msg
}

func TestClientRetriesOnBadStatus(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
		sseHandler(t, []string{"event: connect\ndata: {}\n\n"}, true)(w, r)
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.ConnState() == pipeline.ConnConnected
	}, 5*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, c.Attempts(), 2)
}

func TestClientClose(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{"event: connect\ndata: {}\n\n"}, true))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.ConnState() == pipeline.ConnConnected
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, c.Close())

	// Close is synchronous: the run loop has fully exited.
	select {
	case <-c.Done():
	default:
		t.Fatal("run loop still alive after Close")
	}
	assert.Equal(t, pipeline.ConnDisconnected, c.ConnState())

	require.NoError(t, c.Close(), "close is idempotent")
	assert.ErrorIs(t, c.Start(), ErrClosed)
}

func TestClientCloseCancelsPendingReconnect(t *testing.T) {
	// Server refuses every connection; the client ends up parked on a
	// reconnect timer, which Close must cancel synchronously.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:     srv.URL,
		Subject:     "mvp-7",
		BackoffBase: time.Hour, // park the loop on the timer
		Clock:       testClock(),
	})
	require.NoError(t, err)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.Attempts() >= 1
	}, 2*time.Second, 10*time.Millisecond)

	done := make(chan struct{})
	go func() {
		_ = c.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close blocked on a pending reconnect timer")
	}
}

func TestNewValidation(t *testing.T) {
	_, err := New(Config{BaseURL: "http://localhost:8000"})
	assert.Error(t, err, "subject required")

	_, err = New(Config{Subject: "mvp-7", BaseURL: "not a url"})
	assert.Error(t, err)

	_, err = New(Config{Subject: "mvp-7", BaseURL: ""})
	assert.Error(t, err)
}

func TestBackoffGrowthCapped(t *testing.T) {
	bo := newBackoff(100*time.Millisecond, 2, 400*time.Millisecond)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
		400 * time.Millisecond,
	}
	var prev time.Duration
	for i, w := range want {
		d := bo.NextBackOff()
		assert.Equal(t, w, d, "delay %d", i)
		assert.GreaterOrEqual(t, d, prev, "delays must be non-decreasing")
		prev = d
	}
}

func TestBackoffCounterNotResetByDefault(t *testing.T) {
	// Default behavior: a successful connect does not reset
	// the delay progression. Two early failures push the next delay to
	// the cap even if a connect succeeded in between.
	var connects atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := connects.Add(1)
		sseHandler(t, nil, n >= 4)(w, r) // drop first three immediately
	}))
	t.Cleanup(srv.Close)

	c := newTestClient(t, srv.URL)
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return c.ConnState() == pipeline.ConnConnected
	}, 5*time.Second, 10*time.Millisecond)

	// Three drops happened, each scheduling a reconnect.
	assert.GreaterOrEqual(t, c.Attempts(), 3)
}

func TestBackoffResetOnConnectOption(t *testing.T) {
	// With the opt-in reset, a successful connect collapses the delay
	// progression back to the base. Three refused connections inflate
	// the delay to 10ms, 40ms, 160ms; the fourth connection succeeds
	// and drops, and the fifth must then arrive after roughly the base
	// delay instead of the next inflated step.
	var (
		connects atomic.Int32
		mu       sync.Mutex
		stamps   []time.Time
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		stamps = append(stamps, time.Now())
		mu.Unlock()

		switch n := connects.Add(1); {
		case n <= 3:
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
		case n == 4:
			sseHandler(t, []string{"event: connect\ndata: {\"message\":\"stream open\"}\n\n"}, false)(w, r)
		default:
			sseHandler(t, nil, true)(w, r)
		}
	}))
	t.Cleanup(srv.Close)

	c, err := New(Config{
		BaseURL:               srv.URL,
		Subject:               "mvp-7",
		BackoffBase:           10 * time.Millisecond,
		BackoffGrowth:         4,
		BackoffCap:            2 * time.Second,
		ResetBackoffOnConnect: true,
		Clock:                 testClock(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.Start())

	require.Eventually(t, func() bool {
		return connects.Load() >= 5 && c.ConnState() == pipeline.ConnConnected
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(stamps), 5)
	inflated := stamps[3].Sub(stamps[2])
	recovered := stamps[4].Sub(stamps[3])
	assert.GreaterOrEqual(t, inflated, 100*time.Millisecond,
		"third refused connect must wait the inflated delay")
	assert.Less(t, recovered, 100*time.Millisecond,
		"delay after a successful connect must fall back to the base")
}
