// Package api exposes the producer and admin HTTP surface: enqueue,
// queue lifecycle operations, event queries, suppression administration and
// provider feedback webhooks.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/ignite/mailqueue/internal/feedback"
	"github.com/ignite/mailqueue/internal/pkg/logger"
	"github.com/ignite/mailqueue/internal/service/events"
	"github.com/ignite/mailqueue/internal/service/queue"
	"github.com/ignite/mailqueue/internal/service/suppression"
)

// Handlers bundles the services the HTTP layer fronts.
type Handlers struct {
	Queue        *queue.Service
	Suppressions *suppression.Service
	Events       *events.Service
	Feedback     *feedback.Ingestor
	log          *logger.Logger
}

// NewHandlers creates the handler set.
func NewHandlers(q *queue.Service, s *suppression.Service, e *events.Service, f *feedback.Ingestor) *Handlers {
	return &Handlers{
		Queue:        q,
		Suppressions: s,
		Events:       e,
		Feedback:     f,
		log:          logger.With("api"),
	}
}

// Server wraps the HTTP server with sane timeouts.
type Server struct {
	srv *http.Server
	log *logger.Logger
}

// NewServer creates a server listening on the given port.
func NewServer(port int, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      handler,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		log: logger.With("http"),
	}
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("shutting down")
	return s.srv.Shutdown(ctx)
}
