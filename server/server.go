// Package server exposes a snapshot pool over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/MoriEdan/libvtsoffscreen/config"
	"github.com/MoriEdan/libvtsoffscreen/log"
	"github.com/MoriEdan/libvtsoffscreen/snapper"
)

// Request id header echoed back on every response.
const RequestIDHeader = "X-Request-Id"

// Maximum accepted request body size.
const maxBodyBytes = 1 << 20

// Capturer is implemented by snapper.Pool.
type Capturer interface {
	Capture(ctx context.Context, view snapper.View) (*snapper.Snapshot, error)
	Stats() snapper.PoolStats
}

type requestIDKey struct{}

// An HTTP front-end for a snapshot pool.
type Server struct {
	logger    log.Logger
	cfg       config.ServerConfig
	capturer  Capturer
	server    *http.Server
	startedAt time.Time
}

// Create a new server instance.
func New(cfg config.ServerConfig, capturer Capturer) *Server {
	defaults := config.Defaults().Server
	if cfg.Listen == "" {
		cfg.Listen = defaults.Listen
	}
	if cfg.MaxViewport <= 0 {
		cfg.MaxViewport = defaults.MaxViewport
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	return &Server{
		logger:    log.New("server"),
		cfg:       cfg,
		capturer:  capturer,
		startedAt: time.Now(),
	}
}

// Start serving requests. Start blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:         s.cfg.Listen,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: s.cfg.RequestTimeout + 10*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Noticef("listening on %s", s.cfg.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Notice("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(requestID)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/v1/healthz", s.handleHealthz)
	r.Get("/v1/stats", s.handleStats)
	r.Post("/v1/snapshots", s.handleSnapshot)
	r.Post("/v1/snapshots/image", s.handleSnapshotImage)

	return r
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

// RequestID returns the id assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Infof(
			"%s %s -> %d in %d ms [%s]",
			r.Method, r.URL.Path, ww.Status(), time.Since(start).Milliseconds(), RequestID(r.Context()),
		)
	})
}
