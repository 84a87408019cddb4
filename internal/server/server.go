// Package server hosts the demo SSE backend: a chi router serving the
// pipeline event stream that pkg/streamwatch consumes, fed by a
// scripted replay of an autonomous build.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/eido-labs/pipewatch/internal/config"
)

// Server exposes the demo event stream over HTTP.
type Server struct {
	cfg    config.ServerConfig
	broker *Broker
	feed   *Feed
	logger *zap.Logger

	httpServer *http.Server
	listener   net.Listener

	// baseCtx scopes feed replays to the server lifetime rather than
	// the first subscriber's request.
	baseCtx context.Context
}

// New builds an unstarted server. feedInterval controls replay pacing;
// zero selects DefaultFeedInterval.
func New(cfg config.ServerConfig, feedInterval time.Duration, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	broker := NewBroker(logger)
	return &Server{
		cfg:     cfg,
		broker:  broker,
		feed:    NewFeed(broker, nil, feedInterval, logger),
		logger:  logger,
		baseCtx: context.Background(),
	}
}

// Handler returns the server's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/api/mvp/{id}/events", s.handleEvents)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// handleEvents serves the per-subject SSE stream. It emits a connect
// event, starts the demo replay for the subject if needed, then relays
// broker frames until the client goes away.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "id")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)

	ch := s.broker.Subscribe(subject)
	defer s.broker.Unsubscribe(subject, ch)

	connect, err := s.broker.message("connect", connectEventData{
		Message: fmt.Sprintf("Connected to event stream for pipeline %s", subject),
		Subject: subject,
	})
	if err != nil {
		s.logger.Error("format connect event", zap.Error(err))
		return
	}
	if _, err := w.Write(connect); err != nil {
		return
	}
	flusher.Flush()

	s.feed.EnsureRunning(s.baseCtx, subject)

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			if _, err := w.Write(msg); err != nil {
				return
			}
			flusher.Flush()
		case <-r.Context().Done():
			return
		}
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	s.listener = ln
	s.baseCtx = ctx

	s.httpServer = &http.Server{
		Handler:     s.Handler(),
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout stays zero; SSE responses are open-ended.
		WriteTimeout: s.cfg.WriteTimeout,
	}

	s.logger.Info("demo server listening", zap.String("addr", ln.Addr().String()))

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Port reports the bound port once Run has started listening.
func (s *Server) Port() int {
	if s.listener == nil {
		return s.cfg.Port
	}
	return s.listener.Addr().(*net.TCPAddr).Port
}
