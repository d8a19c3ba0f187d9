package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/wonny/aegis-trader/pkg/logger"
)

// Options configure the ops API server
type Options struct {
	Addr            string // ":8089"
	Env             string
	DryRun          bool
	ShutdownTimeout time.Duration // zero means 30s
}

// Server is the ops API: health, metrics, guard and breaker endpoints.
// ⭐ SSOT: API 서버 설정과 종료 절차는 이 파일에서만
type Server struct {
	httpServer      *http.Server
	shutdownTimeout time.Duration
	opts            Options
	metrics         bool
	logger          *logger.Logger
}

// New builds the server and mounts routes on it
func New(opts Options, routes Routes, log *logger.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}
	log = log.WithComponent("api")
	return &Server{
		httpServer: &http.Server{
			Addr:              opts.Addr,
			Handler:           NewRouter(routes, log),
			ReadTimeout:       15 * time.Second,
			ReadHeaderTimeout: 5 * time.Second,
			// 브레이커 즉시 점검은 청산까지 실행할 수 있음
			WriteTimeout: 60 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		shutdownTimeout: opts.ShutdownTimeout,
		opts:            opts,
		metrics:         routes.Metrics != nil,
		logger:          log,
	}
}

// Handler exposes the mounted router
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run listens on the configured address and serves until ctx is done
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.opts.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then drains in-flight requests
// within the shutdown timeout. A clean shutdown returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.logger.WithFields(map[string]interface{}{
		"addr":    ln.Addr().String(),
		"env":     s.opts.Env,
		"dry_run": s.opts.DryRun,
		"metrics": s.metrics,
	}).Info("Starting API server")

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("Shutting down API server")
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(sctx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}
	<-errCh
	return nil
}
