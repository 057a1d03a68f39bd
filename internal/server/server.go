// Package server exposes the monitor on a local HTTP control surface: health,
// status, commands, an MJPEG preview and a websocket of verdict transitions.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/ayusman/kitchensafe/internal/app"
	"github.com/ayusman/kitchensafe/internal/hazard"
	"github.com/ayusman/kitchensafe/internal/screenshot"
)

const (
	commandTimeout  = 2 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Controller is the part of app.Controller the server needs.
type Controller interface {
	Status() app.Status
	Request(ctx context.Context, cmd app.Command) error
	Frame() ([]byte, uint64)
	Subscribe(buffer int) (<-chan hazard.Transition, func())
}

// Config holds the server configuration.
type Config struct {
	Controller Controller
	Logger     *zap.SugaredLogger

	// FrameInterval is how often the MJPEG stream polls for a new frame.
	FrameInterval time.Duration
}

// Server serves the control surface.
type Server struct {
	ctrl     Controller
	logger   *zap.SugaredLogger
	interval time.Duration
	router   chi.Router
	start    time.Time
}

// New creates a new Server with the given configuration.
func New(config Config) (*Server, error) {
	if config.Controller == nil {
		return nil, errors.New("server: controller is required")
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop().Sugar()
	}
	if config.FrameInterval <= 0 {
		config.FrameInterval = 66 * time.Millisecond
	}

	s := &Server{
		ctrl:     config.Controller,
		logger:   config.Logger,
		interval: config.FrameInterval,
		router:   chi.NewRouter(),
		start:    time.Now(),
	}
	s.setupRoutes()
	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.Recoverer)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/status", s.handleStatus)
		r.Post("/commands", s.handleCommand)
		r.Get("/stream", s.handleStream)
		r.Get("/events", s.handleEvents)
	})
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// ListenAndServe listens on addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down. Open streams and
// websockets see their request context cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	s.logger.Infow("control surface listening", "addr", ln.Addr().String())

	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	err := srv.Shutdown(shutdownCtx)
	if err != nil {
		err = multierr.Append(err, srv.Close())
	}
	if serveErr := <-errc; !errors.Is(serveErr, http.ErrServerClosed) {
		err = multierr.Append(err, serveErr)
	}
	return err
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.start).String(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

func (s *Server) handleCommand(w http.ResponseWriter, r *http.Request) {
	var cmd app.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("decode command: %w", err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), commandTimeout)
	defer cancel()

	if err := s.ctrl.Request(ctx, cmd); err != nil {
		s.logger.Debugw("command rejected", "command", cmd.String(), "error", err)
		writeError(w, commandStatus(err), err)
		return
	}
	writeJSON(w, http.StatusOK, s.ctrl.Status())
}

// commandStatus maps a command error to an HTTP status code.
func commandStatus(err error) int {
	switch {
	case errors.Is(err, app.ErrInvalidCommand):
		return http.StatusBadRequest
	case errors.Is(err, app.ErrInvalidState), errors.Is(err, app.ErrNoFrame):
		return http.StatusConflict
	case errors.Is(err, app.ErrCommandQueueFull), errors.Is(err, screenshot.ErrQueueFull):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
