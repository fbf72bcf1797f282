package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server runs the API mux. Write timeouts stay off because the stream
// endpoints hold connections open indefinitely.
type Server struct {
	srv    *http.Server
	logger *zap.Logger
}

// NewServer wraps the mux in an http.Server on the given port.
func NewServer(port int, mux *http.ServeMux, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		srv: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in the background. Errors other than a clean close are
// logged, not returned; the health endpoints surface a dead listener.
func (s *Server) Start() {
	go func() {
		s.logger.Info("HTTP API listening", zap.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP API server failed", zap.Error(err))
		}
	}()
}

// Shutdown drains in-flight requests bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
