// Package server implements the inkpad development server: local document
// lookup endpoints, a passthrough proxy for the backend API, and the agent
// websocket route.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/inkpad/inkpad/internal/config"
	"github.com/inkpad/inkpad/internal/lookup"
	"github.com/inkpad/inkpad/runner"
)

// Server is the inkpad development server.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      lookup.Store
	resolver   *lookup.Resolver
	exec       runner.Runner // non-streaming run path to the backend
	local      runner.Runner // short-circuits wasm blocks without a backend round trip
	dispatcher *runner.Dispatcher
	proxy      http.Handler
	router     chi.Router
	watcher    *Watcher
}

// New wires a server from configuration.
func New(cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := lookup.Open(cfg.Store)
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		store:    store,
		resolver: lookup.NewResolver(store, logger),
	}

	retry := runner.RetryPolicy{
		MaxRetries: cfg.Exec.Retry.GetRetryMaxRetries(),
		BaseDelay:  cfg.Exec.Retry.GetRetryBaseDelay(),
		MaxDelay:   cfg.Exec.Retry.GetRetryMaxDelay(),
	}
	s.exec = runner.NewBreakerRunner(
		runner.NewRetryRunner(runner.NewHTTPRunner(cfg.Backend.APIURL), retry, logger),
		runner.DefaultCircuitBreakerConfig(), logger)
	if cfg.Exec.WasmDir != "" {
		s.local = runner.NewRetryRunner(
			runner.NewWasmRunner(cfg.Exec.WasmDir), retry, logger)
	}

	// Hosts that track open documents dispatch block runs through this;
	// streaming runs go over the agent channel, wasm blocks stay local.
	s.dispatcher = runner.NewDispatcher(logger,
		runner.WithRateLimit(cfg.Server.RateLimit, cfg.Server.Burst),
		runner.WithTimeout(cfg.Exec.GetTimeout()))
	s.dispatcher.Register(runner.DefaultLanguage, runner.NewBreakerRunner(
		runner.NewRetryRunner(runner.NewAgentRunner(cfg.Backend.AgentURL, logger), retry, logger),
		runner.DefaultCircuitBreakerConfig(), logger))
	if s.local != nil {
		s.dispatcher.Register("wasm", s.local)
	}

	if cfg.Docs.Dir != "" {
		w, err := NewWatcher(cfg.Docs.Dir, store, s.resolver, logger)
		if err != nil {
			return nil, err
		}
		s.watcher = w
	}

	s.proxy = newAPIProxy(cfg.Backend.APIURL, logger)
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(requestLogger(s.logger))
	r.Use(recoverer(s.logger))
	if s.cfg.Server.RateLimit > 0 {
		r.Use(rateLimit(s.cfg.Server.RateLimit, s.cfg.Server.Burst))
	}

	// Local lookup endpoints take precedence over the passthrough proxy.
	r.Get("/api/documents", s.handleSearch)
	r.Post("/api/documents", s.handlePut)
	r.Post("/api/run", s.handleRun)

	r.Handle("/api/*", s.proxy)

	// Agent traffic is rewritten from /agent-ws to /ws before it reaches
	// the backend.
	r.HandleFunc("/agent-ws", s.handleAgentWS)

	return r
}

// Handler returns the HTTP handler, used directly by tests.
func (s *Server) Handler() http.Handler { return s.router }

// Resolver exposes the rename/resolution collaborator for embedding hosts.
func (s *Server) Resolver() *lookup.Resolver { return s.resolver }

// Dispatcher exposes the run dispatcher. Hosts holding open documents use it
// to drive executable blocks through their state machine.
func (s *Server) Dispatcher() *runner.Dispatcher { return s.dispatcher }

// Start runs the server and watcher until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Server.Address(),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.Info("dev server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	s.dispatcher.Wait()
	if closeErr := s.store.Close(); closeErr != nil {
		s.logger.Warn("failed to close store", zap.Error(closeErr))
	}
	return err
}
