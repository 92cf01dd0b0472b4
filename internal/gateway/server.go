// Package gateway serves the task API: submission, inspection,
// cancellation, and event streaming over HTTP and websocket.
//
// The gateway owns no task state. It writes through the store, hands
// execution to the worker pool via the queue, and reads event history
// from the store with the broker supplying the live tail.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/golemhq/golem/internal/config"
	"github.com/golemhq/golem/internal/events"
	"github.com/golemhq/golem/internal/observability"
	"github.com/golemhq/golem/internal/queue"
	"github.com/golemhq/golem/internal/store"
)

// TaskCanceller aborts a live task run. The worker pool satisfies it;
// nil disables live cancellation (queued tasks can still be swapped).
type TaskCanceller interface {
	Cancel(taskID string) bool
}

// Server is the task API server.
type Server struct {
	config  config.ServerConfig
	store   store.TaskStore
	queue   queue.Queue
	broker  *events.Broker
	worker  TaskCanceller
	logger  *observability.Logger
	metrics *observability.Metrics

	httpServer *http.Server
	listener   net.Listener
	startTime  time.Time
}

// New assembles a server. broker may be nil to disable websocket
// streaming; worker may be nil when no pool runs in this process.
func New(
	cfg config.ServerConfig,
	st store.TaskStore,
	q queue.Queue,
	broker *events.Broker,
	worker TaskCanceller,
	logger *observability.Logger,
	metrics *observability.Metrics,
) *Server {
	if logger == nil {
		logger = observability.NewLogger(observability.LogConfig{})
	}
	return &Server{
		config:    cfg,
		store:     st,
		queue:     q,
		broker:    broker,
		worker:    worker,
		logger:    logger,
		metrics:   metrics,
		startTime: time.Now(),
	}
}

// Handler returns the full route set wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/v1/tasks", s.handleTasks)
	mux.HandleFunc("/v1/tasks/", s.handleTask)
	mux.HandleFunc("/v1/events/ws", s.handleWS)

	var handler http.Handler = mux
	handler = s.authMiddleware(handler)
	handler = s.metricsMiddleware(handler)
	handler = s.loggingMiddleware(handler)
	return handler
}

// Start binds the listener and serves in the background. It returns
// once the port is bound so callers can report the address.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.listener = listener
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error(context.Background(), "gateway server error", "error", err)
		}
	}()

	s.logger.Info(context.Background(), "gateway listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, or "" before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"uptime_ms": time.Since(s.startTime).Milliseconds(),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
