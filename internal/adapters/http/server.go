// Package http provides the HTTP server and handlers.
package http //nolint:revive // package name conflicts with stdlib but is acceptable in this context

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/jobrunner/seriesview/internal/config"
	"github.com/jobrunner/seriesview/internal/ports/input"
)

// MetricsHandler instruments requests and exposes collected metrics.
type MetricsHandler interface {
	Middleware(next http.Handler) http.Handler
	Handler() http.Handler
}

// Server wraps the HTTP server with application handlers.
type Server struct {
	server      *http.Server
	router      *mux.Router
	series      input.SeriesService
	health      input.HealthChecker
	metrics     MetricsHandler // nil disables /metrics
	metricsPath string
	logger      *slog.Logger
	config      config.ServerConfig
}

// NewServer creates a new HTTP server.
func NewServer(
	cfg config.ServerConfig,
	series input.SeriesService,
	health input.HealthChecker,
	metrics MetricsHandler,
	metricsPath string,
	logger *slog.Logger,
) *Server {
	if metricsPath == "" {
		metricsPath = "/metrics"
	}

	s := &Server{
		series:      series,
		health:      health,
		metrics:     metrics,
		metricsPath: metricsPath,
		logger:      logger,
		config:      cfg,
	}

	s.router = s.setupRoutes()

	s.server = &http.Server{
		Addr:         cfg.Address(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	// Add middleware
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
	}

	// Add CORS middleware if configured
	if s.config.CORS.Enabled() {
		r.Use(s.corsMiddleware)
	}

	// Health endpoints
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/health/live", s.handleLiveness).Methods(http.MethodGet)
	r.HandleFunc("/health/ready", s.handleReadiness).Methods(http.MethodGet)

	// API v1
	api := r.PathPrefix("/api/v1").Subrouter()

	// Preflight requests must match a route for the CORS middleware to run.
	api.Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	api.HandleFunc("/series/open", s.handleOpenSeries).Methods(http.MethodPost)
	api.HandleFunc("/invocations", s.handleListInvocations).Methods(http.MethodGet)
	api.HandleFunc("/invocations/{id}", s.handleGetInvocation).Methods(http.MethodGet)
	api.HandleFunc("/invocations/{id}/wait", s.handleWaitInvocation).Methods(http.MethodGet)

	if s.metrics != nil {
		r.Handle(s.metricsPath, s.metrics.Handler()).Methods(http.MethodGet)
	}

	// OpenAPI spec and Swagger UI
	r.HandleFunc("/openapi.json", s.handleOpenAPI).Methods(http.MethodGet)
	r.HandleFunc("/docs", s.handleSwaggerUI).Methods(http.MethodGet)

	return r
}

// Start listens on the configured address and serves until Shutdown.
// The viewer companion is meant for the local UI only, so a listener on a
// non-loopback address is logged as a warning.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.server.Addr, err)
	}

	if !isLoopback(ln.Addr()) {
		s.logger.Warn("HTTP server reachable beyond this machine", "address", ln.Addr().String())
	}
	s.logger.Info("starting HTTP server", "address", ln.Addr().String())

	return s.server.Serve(ln)
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func isLoopback(addr net.Addr) bool {
	tcp, ok := addr.(*net.TCPAddr)
	return ok && tcp.IP.IsLoopback()
}

const (
	requestIDHeader   = "X-Request-ID"
	maxRequestIDLen   = 128
	requestIDLogField = "request_id"
)

// requestID returns the caller's request ID when it is usable, otherwise a
// fresh one.
func requestID(r *http.Request) string {
	if id := r.Header.Get(requestIDHeader); id != "" && len(id) <= maxRequestIDLen {
		return id
	}
	return uuid.NewString()
}

// isProbe reports whether a path is polled by supervisors rather than used
// by the UI. Those requests log at debug level.
func (s *Server) isProbe(path string) bool {
	return strings.HasPrefix(path, "/health") || path == s.metricsPath
}

// loggingMiddleware tags each request with an ID and logs its outcome.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		id := requestID(r)
		w.Header().Set(requestIDHeader, id)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		level := slog.LevelInfo
		switch {
		case rec.status >= http.StatusInternalServerError:
			level = slog.LevelError
		case s.isProbe(r.URL.Path):
			level = slog.LevelDebug
		}

		s.logger.Log(r.Context(), level, "request",
			requestIDLogField, id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"bytes", rec.written,
			"duration", time.Since(start),
			"remote_addr", r.RemoteAddr,
		)
	})
}

// recoveryMiddleware turns a handler panic into a 500 response.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				s.logger.Error("panic recovered",
					"panic", p,
					"path", r.URL.Path,
					requestIDLogField, w.Header().Get(requestIDHeader),
					"stack", string(debug.Stack()),
				)
				s.writeError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the status code and body size of a response.
type statusRecorder struct {
	http.ResponseWriter
	status  int
	written int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *statusRecorder) Write(b []byte) (int, error) {
	n, err := rec.ResponseWriter.Write(b)
	rec.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rec *statusRecorder) Unwrap() http.ResponseWriter {
	return rec.ResponseWriter
}
