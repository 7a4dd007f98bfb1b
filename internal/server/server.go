package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	"gotransit/internal/config"
	"gotransit/internal/handler"
	"gotransit/internal/metrics"
)

// Server is the HTTP server for GoTransit.
type Server struct {
	mux     *http.ServeMux
	handler http.Handler
	cfg     *config.Config
	logger  *slog.Logger
	ready   chan struct{} // closed when schedule data is available
}

// Options configures the middleware chain. Metrics and OnVisit may be nil.
type Options struct {
	Static  fs.FS
	Metrics *metrics.Collector
	// OnVisit runs in the background on the first request of each agency day.
	OnVisit func()
	Ready   bool
}

// New creates a Server with all routes registered.
func New(cfg *config.Config, h *handler.Handler, opts Options, logger *slog.Logger) (*Server, error) {
	mux := http.NewServeMux()
	ready := make(chan struct{})
	if opts.Ready {
		close(ready)
	}
	s := &Server{mux: mux, cfg: cfg, logger: logger, ready: ready}

	// Static files, versioned URLs get immutable caching
	if opts.Static != nil {
		fileServer := http.FileServer(http.FS(opts.Static))
		mux.Handle("GET /static/", http.StripPrefix("/static/", staticCacheHandler(fileServer)))
	}

	// Auth
	mux.HandleFunc("GET /login", h.Login)
	mux.HandleFunc("POST /login", h.Login)
	mux.HandleFunc("GET /register", h.Register)
	mux.HandleFunc("POST /register", h.Register)
	mux.HandleFunc("POST /logout", h.Logout)

	// Pages
	mux.HandleFunc("GET /", h.Home)
	mux.HandleFunc("GET /find/route", h.FindRoute)

	// API
	mux.HandleFunc("GET /api/find/route", h.FindRouteAPI)
	mux.HandleFunc("GET /api/stops", h.Stops)
	mux.HandleFunc("GET /api/trips/{id}/shape", h.TripShape)

	// Admin
	mux.HandleFunc("GET /admin/cache", h.CacheStats)
	mux.HandleFunc("POST /admin/cache/clear", h.CacheClear)

	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics.Handler())
	}

	chain, err := withMiddleware(mux, middlewareConfig{
		logger:       logger,
		cookieSecret: h.CookieSecret(),
		ready:        ready,
		limiter:      newRateLimiter(cfg.RateLimit, cfg.RateBurst),
		gzipMinSize:  cfg.GzipMinSize,
		metrics:      opts.Metrics,
		daily:        newDailyTrigger(cfg.Location(), opts.OnVisit),
	})
	if err != nil {
		return nil, err
	}
	s.handler = chain
	return s, nil
}

// Handler returns the routes wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// SetReady signals that schedule data is available.
func (s *Server) SetReady() {
	select {
	case <-s.ready:
	default:
		close(s.ready)
	}
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
