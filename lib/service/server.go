// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"
)

// DefaultShutdownTimeout bounds the drain after cancellation when
// ServerConfig.ShutdownTimeout is zero.
const DefaultShutdownTimeout = 10 * time.Second

// defaultWriteTimeout covers a hook request that runs two admin calls
// at the default 30s request timeout before answering.
const defaultWriteTimeout = 90 * time.Second

// ServerConfig configures a Server.
type ServerConfig struct {
	// Address is the TCP listen address, such as "127.0.0.1:9810".
	// Port 0 picks a free port; read it from Addr. Required.
	Address string

	// Handler serves every request. Required.
	Handler http.Handler

	// ShutdownTimeout bounds the wait for in-flight requests once the
	// serve context is cancelled. Defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration

	// WriteTimeout bounds each response and must exceed the slowest
	// handler. Defaults to 90 seconds.
	WriteTimeout time.Duration

	// Logger is required.
	Logger *slog.Logger
}

// Server runs an http.Handler on a TCP listener and drains it on
// cancellation. In-flight requests keep a live context during the
// drain, so admin calls already issued for a registration complete.
type Server struct {
	config ServerConfig
	ready  chan struct{}
	addr   net.Addr
}

// NewServer validates config and returns an unstarted Server.
func NewServer(config ServerConfig) *Server {
	switch {
	case config.Address == "":
		panic("service: ServerConfig.Address is required")
	case config.Handler == nil:
		panic("service: ServerConfig.Handler is required")
	case config.Logger == nil:
		panic("service: ServerConfig.Logger is required")
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = DefaultShutdownTimeout
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = defaultWriteTimeout
	}
	return &Server{config: config, ready: make(chan struct{})}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound address. Valid after Ready is closed.
func (s *Server) Addr() net.Addr { return s.addr }

// Serve binds the listener and serves until ctx is cancelled. It then
// refuses new connections and waits up to ShutdownTimeout for active
// requests. A bind failure is returned before Ready is closed.
func (s *Server) Serve(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.config.Address, err)
	}
	s.addr = listener.Addr()
	close(s.ready)

	logger := s.config.Logger.With("address", s.addr.String())
	httpServer := &http.Server{
		Handler:           s.config.Handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       2 * time.Minute,
		BaseContext:       func(net.Listener) context.Context { return context.WithoutCancel(ctx) },
	}

	// http.Server.Serve only returns on failure or after Shutdown.
	served := make(chan error, 1)
	go func() { served <- httpServer.Serve(listener) }()
	logger.Info("listener started")

	select {
	case err := <-served:
		return fmt.Errorf("serving on %s: %w", s.addr, err)
	case <-ctx.Done():
	}

	logger.Info("listener draining", "timeout", s.config.ShutdownTimeout)
	drainCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(drainCtx); err != nil {
		logger.Error("listener drain incomplete", "error", err)
		return fmt.Errorf("draining %s: %w", s.addr, err)
	}
	if err := <-served; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving on %s: %w", s.addr, err)
	}
	logger.Info("listener stopped")
	return nil
}
