// Package server is the composition root: it opens the data directory and
// the store, builds the HTTP handler and runs the listener.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"cellxplore/internal/adapters/httpapi"
	"cellxplore/internal/blob"
	"cellxplore/internal/config"
	"cellxplore/internal/observability"
	"cellxplore/internal/selection"
	"cellxplore/internal/store"
	"cellxplore/internal/vizconfig"
)

// Server owns the store handle, the selection registry and the listener.
type Server struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      *store.Handle
	selections *selection.Registry
	metrics    *observability.Metrics
	httpServer *http.Server
}

type settings struct {
	blob     blob.Store
	registry *prometheus.Registry
}

// Option customizes New.
type Option func(*settings)

// WithBlob uses b instead of opening the configured blob backend.
func WithBlob(b blob.Store) Option {
	return func(s *settings) { s.blob = b }
}

// WithRegistry registers metrics on reg instead of a fresh registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(s *settings) { s.registry = reg }
}

// New wires every component. Unless store.lazy is set the store is opened
// here and a failure is returned, so a misconfigured service never starts.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var st settings
	for _, opt := range opts {
		opt(&st)
	}

	files := st.blob
	if files == nil {
		b, err := blob.Open(ctx, BlobOptions(cfg))
		if err != nil {
			return nil, fmt.Errorf("open blob backend: %w", err)
		}
		files = b
	}

	metrics := observability.NewMetrics(st.registry)
	storeOpts := StoreOptions(cfg)
	storeOpts.OnOpen = func(err error) {
		metrics.StoreOpened(err)
		if err != nil {
			logger.Error("store open failed", zap.String("path", cfg.Store.Path), zap.Error(err))
			return
		}
		logger.Info("store opened", zap.String("path", cfg.Store.Path), zap.String("driver", string(files.Driver())))
	}
	handle, err := store.New(files, storeOpts)
	if err != nil {
		return nil, err
	}
	if !cfg.Store.Lazy {
		if err := handle.Open(ctx); err != nil {
			return nil, err
		}
	}

	viz := VizSettings(cfg)
	registry := selection.NewRegistry()
	handler := httpapi.NewHandler(httpapi.Options{
		Tables:     handle,
		Selections: registry,
		Pipeline:   Pipeline(cfg),
		Files:      files,
		Rewrites:   rewrites(cfg),
		Presign:    cfg.Datasets.Presign,
		PresignTTL: cfg.Datasets.PresignTTL,
		Config:     vizconfig.Primary(viz).Document(cfg.Server.BaseURL),
		Samples:    vizconfig.Samples(viz).Document(cfg.Server.BaseURL),
		Logger:     logger.Named("http"),
		Metrics:    metrics,
	})

	return &Server{
		cfg:        cfg,
		logger:     logger,
		store:      handle,
		selections: registry,
		metrics:    metrics,
		httpServer: &http.Server{
			Addr:              cfg.Server.Addr,
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: cfg.Server.ReadTimeout,
			WriteTimeout:      cfg.Server.WriteTimeout,
			ErrorLog:          zap.NewStdLog(logger.Named("http.server")),
		},
	}, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Store returns the store handle.
func (s *Server) Store() *store.Handle { return s.store }

// Run listens on the configured address until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is canceled, then shuts down
// gracefully within the configured shutdown timeout.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("listening", zap.String("addr", ln.Addr().String()))
		errc <- s.httpServer.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	s.logger.Info("shutting down", zap.Duration("timeout", timeout))
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
