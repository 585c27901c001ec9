package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/persistence"
	"github.com/sawpanic/predictrun/internal/scheduler"
)

type ctxKey string

const requestIDKey ctxKey = "request_id"

// WithRequestID stores the request ID on ctx
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestID returns the request ID set by the server middleware, or "unknown"
func RequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return "unknown"
}

// Subscriber delivers published prediction batches
type Subscriber interface {
	Subscribe() (<-chan market.Batch, func())
}

// ModelInfo describes the live classifier
type ModelInfo interface {
	Trained() bool
	Version() int64
}

// JobStatus reports scheduler state
type JobStatus interface {
	GetStatus() scheduler.Status
}

// Config lists what the monitor reads from. Any field may be nil.
type Config struct {
	Signals   persistence.SignalStore
	Trades    persistence.TradeStore
	Prices    persistence.PriceStore
	Checks    map[string]persistence.Pinger
	Hub       Subscriber
	Model     ModelInfo
	Scheduler JobStatus
	Version   string
}

// Handlers manages all HTTP endpoint handlers
type Handlers struct {
	signals   persistence.SignalStore
	trades    persistence.TradeStore
	prices    persistence.PriceStore
	checks    map[string]persistence.Pinger
	hub       Subscriber
	model     ModelInfo
	scheduler JobStatus
	version   string
	now      func() time.Time
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewHandlers creates a new handlers instance
func NewHandlers(cfg Config) *Handlers {
	return &Handlers{
		signals:   cfg.Signals,
		trades:    cfg.Trades,
		prices:    cfg.Prices,
		checks:    cfg.Checks,
		hub:       cfg.Hub,
		model:     cfg.Model,
		scheduler: cfg.Scheduler,
		version:   cfg.Version,
		now:       time.Now,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		logger: log.With().Str("component", "monitor").Logger(),
	}
}

// writeJSON writes JSON response with proper error handling
func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError writes standardized error response
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	h.writeJSON(w, status, ErrorResponse{
		Error:     http.StatusText(status),
		Message:   message,
		Code:      code,
		RequestID: RequestID(r.Context()),
		Timestamp: h.now().UTC(),
	})
}

// NotFound handles 404 responses
func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	h.writeError(w, r, http.StatusNotFound, "endpoint_not_found",
		"The requested endpoint does not exist")
}
