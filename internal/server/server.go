// Package server provides the gateway's HTTP server lifecycle manager,
// grounded on the teacher's internal/server.Manager: non-blocking Start,
// a bounded-timeout graceful Shutdown, and signal-driven WaitForShutdown.
// TLS is dropped (the gateway sits behind a terminating proxy in every
// deployment this spec targets) but the start/serve/shutdown shape is
// otherwise unchanged.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Config configures the Manager's underlying http.Server.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sane server timeouts.
func DefaultConfig() Config {
	return Config{
		Addr:            ":3000",
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Closer is implemented by components (the rate limiter, the idempotency
// cache) that own a background sweeper goroutine and must release it
// during shutdown.
type Closer interface {
	Close()
}

// Manager owns the gateway's http.Server and any Closers that must be
// torn down alongside it.
type Manager struct {
	server   *http.Server
	listener net.Listener
	errCh    chan error
	cfg      Config
	logger   *zap.Logger
	closers  []Closer

	mu     sync.RWMutex
	closed bool
}

// NewManager creates a Manager. Any closers supplied are released, in
// order, during Shutdown — after the HTTP server has finished draining.
func NewManager(handler http.Handler, cfg Config, logger *zap.Logger, closers ...Closer) *Manager {
	srv := &http.Server{
		Addr:           cfg.Addr,
		Handler:        handler,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		server:  srv,
		errCh:   make(chan error, 1),
		cfg:     cfg,
		logger:  logger.With(zap.String("component", "http_server")),
		closers: closers,
	}
}

// Start begins serving in a background goroutine; it returns once the
// listener is bound, not once serving stops.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("server is closed")
	}
	if m.listener != nil {
		return fmt.Errorf("server already started")
	}

	listener, err := net.Listen("tcp", m.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", m.cfg.Addr, err)
	}
	m.listener = listener
	m.logger.Info("starting HTTP server", zap.String("addr", m.cfg.Addr))

	go m.serve(listener)
	return nil
}

func (m *Manager) serve(listener net.Listener) {
	if err := m.server.Serve(listener); err != nil && err != http.ErrServerClosed {
		m.logger.Error("HTTP server failed", zap.Error(err))
		select {
		case m.errCh <- err:
		default:
		}
	}
}

// Shutdown drains in-flight requests within cfg.ShutdownTimeout, then
// releases every registered Closer. Safe to call multiple times.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.logger.Info("shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, m.cfg.ShutdownTimeout)
	defer cancel()

	err := m.server.Shutdown(shutdownCtx)
	if err != nil {
		m.logger.Error("HTTP server shutdown failed", zap.Error(err))
	}

	for _, c := range m.closers {
		c.Close()
	}

	m.listener = nil
	m.logger.Info("HTTP server stopped")
	return err
}

// WaitForShutdown blocks until SIGINT/SIGTERM or an async serve error,
// then performs Shutdown with a background context.
func (m *Manager) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		m.logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-m.errCh:
		if err != nil {
			m.logger.Error("server exited unexpectedly", zap.Error(err))
		}
	}

	if err := m.Shutdown(context.Background()); err != nil {
		m.logger.Error("shutdown error", zap.Error(err))
	}
}

// Addr returns the server's configured listen address.
func (m *Manager) Addr() string { return m.cfg.Addr }
