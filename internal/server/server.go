// Package server provides the HTTP server for the application.
// It wires the lifecycle controller and its collaborators, handles server
// lifecycle, API routes, and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/arvlabs/arv/internal/agent"
	"github.com/arvlabs/arv/internal/api/router"
	"github.com/arvlabs/arv/internal/assist"
	"github.com/arvlabs/arv/internal/config"
	"github.com/arvlabs/arv/internal/conntest"
	"github.com/arvlabs/arv/internal/events"
	"github.com/arvlabs/arv/internal/lifecycle"
	"github.com/arvlabs/arv/internal/repo"
	"github.com/arvlabs/arv/internal/store"
	"github.com/arvlabs/arv/pkg/logger"
)

// HTTP server timeout configuration
const (
	defaultReadTimeout = 30 * time.Second
	// Write timeout is generous: the SSE stream and the connection-test
	// NDJSON stream hold their response open
	defaultWriteTimeout    = 10 * time.Minute
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultStopTimeout     = 5 * time.Second
)

// Server represents the HTTP server
type Server struct {
	cfg        *config.Config
	httpServer *http.Server
	router     *gin.Engine
	store      store.Store

	bus        *events.Bus
	runner     *agent.Runner
	controller *lifecycle.Controller
	janitor    *Janitor
}

// New creates a server with its full dependency graph: event bus, reviewer
// runner, repo reader, lifecycle controller, assist engine, connection
// tester and janitor.
func New(cfg *config.Config, st store.Store) *Server {
	if cfg.Server.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false

	bus := events.NewBus()
	runner := agent.NewRunner(bus)
	reader := repo.NewReader()
	baseURL := fmt.Sprintf("http://%s", cfg.Server.Address())
	controller := lifecycle.New(cfg, st, runner, reader, bus, baseURL)

	router.Setup(r, router.Deps{
		Config:     cfg,
		Store:      st,
		Controller: controller,
		Assist:     assist.New(cfg, st),
		Tester:     conntest.New(cfg, st),
		Bus:        bus,
		Reader:     reader,
		BaseURL:    baseURL,
	})

	return &Server{
		cfg:        cfg,
		router:     r,
		store:      st,
		bus:        bus,
		runner:     runner,
		controller: controller,
		janitor:    NewJanitor(cfg, st),
	}
}

// Start recovers interrupted sessions, starts the janitor and begins
// serving. Recovery runs before the listener opens so no request observes a
// half-reset session.
func (s *Server) Start() error {
	if err := s.controller.Recover(); err != nil {
		logger.Error("Session recovery failed", zap.Error(err))
	}
	if err := s.janitor.Start(); err != nil {
		logger.Warn("Janitor failed to start", zap.Error(err))
	}

	s.httpServer = &http.Server{
		Addr:         s.cfg.Server.Address(),
		Handler:      s.router,
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}

	logger.Info("Starting HTTP server",
		zap.String("address", s.cfg.Server.Address()),
		zap.Bool("debug", s.cfg.Server.Debug),
	)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	return nil
}

// WaitForShutdown waits for shutdown signal and gracefully stops the server.
// First signal triggers graceful shutdown, second signal forces immediate exit.
func (s *Server) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.Info("Received shutdown signal, starting graceful shutdown (press Ctrl+C again to force exit)",
		zap.String("signal", sig.String()))

	go func() {
		sig := <-quit
		logger.Warn("Received second shutdown signal, forcing exit",
			zap.String("signal", sig.String()))
		os.Exit(1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
	defer cancel()

	s.shutdown(ctx)
	logger.Info("Server stopped")
}

// Stop stops the server immediately
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()
	s.shutdown(ctx)
	return nil
}

// shutdown drains in order: stop accepting requests, close the bus so SSE
// streams end, then the janitor.
func (s *Server) shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	s.bus.Close()
	s.janitor.Stop()
}

// Router returns the underlying Gin router
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Controller returns the lifecycle controller
func (s *Server) Controller() *lifecycle.Controller {
	return s.controller
}
