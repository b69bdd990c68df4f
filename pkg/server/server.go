// Package server hosts the loopback response surface: the HTTP endpoints a
// dashboard or an operator's browser uses to read workflow state, follow the
// live event stream, and post answers to pending questions.
//
// The server binds to 127.0.0.1 only. Answers arriving here are handed
// straight to the question broker; in split-process mode the dashboard drops
// answer files instead and never talks to this server directly.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NexeraDigital/get-shit-done/pkg/activity"
	"github.com/NexeraDigital/get-shit-done/pkg/ipc"
	"github.com/NexeraDigital/get-shit-done/pkg/notify"
	"github.com/NexeraDigital/get-shit-done/pkg/state"
)

// shutdownTimeout bounds how long Close waits for in-flight requests.
const shutdownTimeout = 5 * time.Second

// StateSource serves point-in-time state snapshots.
type StateSource interface {
	Snapshot() *state.WorkflowState
}

// QuestionBroker is the slice of the broker the question endpoints use.
type QuestionBroker interface {
	PendingByID(id string) (state.Question, bool)
	SubmitAnswer(id string, answers map[string]string) bool
}

// EventSource serves the recent-event burst and live event subscriptions
// behind the SSE endpoint.
type EventSource interface {
	Recent(n int) []ipc.Event
	Subscribe(fn func(ipc.Event)) func()
}

// ActivityFeed serves the newest-first activity entries.
type ActivityFeed interface {
	Feed() []activity.Entry
}

// Server is the loopback HTTP response surface.
type Server struct {
	logger *slog.Logger
	port   int

	states   StateSource
	broker   QuestionBroker
	events   EventSource
	activity ActivityFeed

	// webpush is nil when the webpush channel is not configured; the push
	// endpoints then answer 404.
	webpush *notify.WebpushAdapter

	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	started  bool
	closed   bool
}

// New constructs the server. webpush may be nil.
func New(port int, states StateSource, broker QuestionBroker, events EventSource, feed ActivityFeed, webpush *notify.WebpushAdapter, logger *slog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		logger:   logger.With("component", "server"),
		port:     port,
		states:   states,
		broker:   broker,
		events:   events,
		activity: feed,
		webpush:  webpush,
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	s.registerRoutes(engine)

	s.httpServer = &http.Server{
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) registerRoutes(engine *gin.Engine) {
	api := engine.Group("/api")
	api.GET("/health", s.healthHandler)
	api.GET("/state", s.stateHandler)
	api.GET("/questions/:id", s.getQuestionHandler)
	api.POST("/questions/:id", s.answerQuestionHandler)
	api.GET("/events", s.eventsHandler)
	api.GET("/activity", s.activityHandler)
	api.POST("/push/subscribe", s.pushSubscribeHandler)
	api.GET("/push/vapid-public-key", s.pushPublicKeyHandler)

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Start binds the loopback listener and begins serving. A bind failure on an
// occupied port is reported as *PortInUseError naming the port.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("server already started")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", s.port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return &PortInUseError{Port: s.port, Err: err}
	}
	s.listener = listener
	s.started = true

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped unexpectedly", "error", err)
		}
	}()

	s.logger.Info("Response surface listening", "addr", addr)
	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close shuts the server down. It is idempotent: closing an unstarted server
// is a no-op and a second call returns immediately.
func (s *Server) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		// Long-lived SSE connections can outlast the grace period.
		s.logger.Warn("Graceful shutdown incomplete, closing", "error", err)
		return s.httpServer.Close()
	}
	s.logger.Info("Response surface closed")
	return nil
}
