package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server is the operational listener serving /metrics and /healthz.
type Server struct {
	addr          string
	registry      *prometheus.Registry
	healthChecker *HealthChecker
	logger        *slog.Logger
	metrics       *Metrics
	server        *http.Server
}

// Option is a functional option for configuring Server.
type Option func(*Server)

// WithAddr sets the listen address. Default is "127.0.0.1:9464".
func WithAddr(addr string) Option {
	return func(s *Server) {
		s.addr = addr
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithHealthChecker sets the checker behind /healthz.
func WithHealthChecker(hc *HealthChecker) Option {
	return func(s *Server) {
		s.healthChecker = hc
	}
}

// NewServer creates a listener exposing reg. The Go runtime and process
// collectors and the listener's own metrics are registered on reg.
func NewServer(reg *prometheus.Registry, opts ...Option) *Server {
	s := &Server{
		addr:     "127.0.0.1:9464",
		registry: reg,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	s.metrics = NewMetrics(reg)
	if s.healthChecker == nil {
		s.healthChecker = NewHealthChecker()
	}
	s.healthChecker.metrics = s.metrics
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/healthz", s.healthChecker.Handler())
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{
		Registry: s.registry,
	}))
	return MetricsMiddleware(s.metrics)(mux)
}

// Start listens and serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled. ln is closed on return.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("starting metrics listener", "addr", ln.Addr().String())
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		return err
	}
}

// shutdown performs graceful shutdown of the HTTP server.
func (s *Server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("error during metrics listener shutdown", "error", err)
		return err
	}
	s.logger.Info("metrics listener shutdown complete")
	return nil
}
