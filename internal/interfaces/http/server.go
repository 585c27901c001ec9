package http

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/interfaces/http/handlers"
)

// Server represents the read-only monitor
type Server struct {
	router   *mux.Router
	server   *http.Server
	handlers *handlers.Handlers
	metrics  http.Handler
	config   ServerConfig
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:           "127.0.0.1", // Local-only by default
		Port:           8080,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		IdleTimeout:    60 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// NewServer creates the monitor. metrics may be nil, in which case /metrics is not routed.
func NewServer(config ServerConfig, h *handlers.Handlers, metrics http.Handler) *Server {
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 5 * time.Second
	}
	s := &Server{
		router:   mux.NewRouter(),
		handlers: h,
		metrics:  metrics,
		config:   config,
	}
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.Address(),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.requestLoggingMiddleware)
	s.router.Use(s.corsMiddleware)

	// long-lived, so no request timeout
	s.router.HandleFunc("/ws/signals", s.handlers.SignalStream).Methods(http.MethodGet)
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics).Methods(http.MethodGet)
	}

	// API routes (JSON only)
	api := s.router.PathPrefix("/").Subrouter()
	api.Use(s.timeoutMiddleware)
	api.Use(s.jsonContentTypeMiddleware)

	api.HandleFunc("/health", s.handlers.Health).Methods(http.MethodGet)
	api.HandleFunc("/signals/latest", s.handlers.LatestSignals).Methods(http.MethodGet)
	api.HandleFunc("/stats", s.handlers.Stats).Methods(http.MethodGet)
	api.HandleFunc("/trades", s.handlers.ListTrades).Methods(http.MethodGet)
	api.HandleFunc("/trades/summary", s.handlers.TradeSummary).Methods(http.MethodGet)
	api.HandleFunc("/scheduler/status", s.handlers.SchedulerStatus).Methods(http.MethodGet)

	s.router.NotFoundHandler = http.HandlerFunc(s.handlers.NotFound)
}

// Handler exposes the routed handler, mainly for tests
func (s *Server) Handler() http.Handler { return s.router }

// requestIDMiddleware adds unique request ID to each request
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(handlers.WithRequestID(r.Context(), requestID)))
	})
}

// requestLoggingMiddleware logs all requests with structured format
func (s *Server) requestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		wrapper := &responseWrapper{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)

		log.Debug().
			Str("request_id", handlers.RequestID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Str("remote", r.RemoteAddr).
			Msg("REQ")
	})
}

// timeoutMiddleware enforces request timeouts
func (s *Server) timeoutMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.config.RequestTimeout)
		defer cancel()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// corsMiddleware adds CORS headers for local development
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only allow localhost origins
		origin := r.Header.Get("Origin")
		if strings.Contains(origin, "localhost") || strings.Contains(origin, "127.0.0.1") {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// jsonContentTypeMiddleware sets JSON content type for API responses
func (s *Server) jsonContentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}

// Start serves until Shutdown; a clean shutdown returns nil
func (s *Server) Start() error {
	log.Info().Str("addr", s.Address()).Msg("Starting monitor (read-only)")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down monitor")
	return s.server.Shutdown(ctx)
}

// Address returns the listen address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// responseWrapper captures HTTP status codes for logging
type responseWrapper struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWrapper) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection
func (rw *responseWrapper) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	return hj.Hijack()
}
