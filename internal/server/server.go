package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"
)

type Server struct {
	config  *Config
	server  *http.Server
	handler http.Handler

	// cancels sync runs started by the trigger route
	runCtx    context.Context
	runCancel context.CancelFunc
}

func New(config *Config, svc *Services) (*Server, error) {
	if err := svc.validate(); err != nil {
		return nil, err
	}
	if config.Addr == "" {
		config.Addr = DefaultAddr
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	handler, err := SetupRoutes(runCtx, config, svc)
	if err != nil {
		runCancel()
		return nil, err
	}

	return &Server{
		config:    config,
		handler:   handler,
		runCtx:    runCtx,
		runCancel: runCancel,
		server: &http.Server{
			Addr:              config.Addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Handler exposes the routes without a listener
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start serves until ctx is done, then shuts down gracefully
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	slog.Info("kbsync server start", "addr", ln.Addr().String())
	defer slog.Info("kbsync server stop")

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.runCancel()
		return err
	case <-ctx.Done():
	}

	slog.Info("kbsync shutdown signal")
	if err := s.Stop(context.WithoutCancel(ctx)); err != nil {
		slog.Error("kbsync shutdown error", "error", err)
		return err
	}
	return nil
}

// Stop aborts running syncs and waits for in-flight requests to finish
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	s.runCancel()
	return s.server.Shutdown(shutdownCtx)
}
