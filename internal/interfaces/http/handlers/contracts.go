package handlers

import (
	"time"

	"github.com/sawpanic/predictrun/internal/domain/market"
	"github.com/sawpanic/predictrun/internal/domain/trade"
	"github.com/sawpanic/predictrun/internal/persistence"
)

// ErrorResponse is the body of every non-2xx answer
type ErrorResponse struct {
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Code      string    `json:"code"`
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// HealthResponse is returned by GET /health
type HealthResponse struct {
	Status    string                 `json:"status"` // healthy, degraded
	Timestamp time.Time              `json:"timestamp"`
	Version   string                 `json:"version"`
	Model     ModelStatus            `json:"model"`
	Checks    map[string]CheckResult `json:"checks"`
}

// ModelStatus reports whether the classifier can serve predictions
type ModelStatus struct {
	Trained bool  `json:"trained"`
	Version int64 `json:"version"`
}

// CheckResult is the outcome of one backend ping
type CheckResult struct {
	Status    string `json:"status"`
	LatencyMS int64  `json:"latency_ms"`
	Error     string `json:"error,omitempty"`
}

// SignalsResponse is returned by GET /signals/latest
type SignalsResponse struct {
	GeneratedAt *time.Time      `json:"generated_at,omitempty"`
	Long        []market.Signal `json:"long"`
	Short       []market.Signal `json:"short"`
	Message     string          `json:"message,omitempty"`
}

// TradeSummaryResponse is returned by GET /trades/summary
type TradeSummaryResponse struct {
	persistence.TradeSummary
	Timestamp time.Time `json:"timestamp"`
}

// TradesResponse is returned by GET /trades
type TradesResponse struct {
	Status    string        `json:"status"`
	Count     int           `json:"count"`
	Trades    []trade.Trade `json:"trades"`
	Timestamp time.Time     `json:"timestamp"`
}

// StatsResponse is returned by GET /stats
type StatsResponse struct {
	Prices      persistence.PriceStats `json:"prices"`
	Predictions PredictionStats        `json:"predictions"`
	Timestamp   time.Time              `json:"timestamp"`
}

// PredictionStats describes the latest batch; zero before the first one
type PredictionStats struct {
	LatestAt *time.Time `json:"latest_at,omitempty"`
	Count    int        `json:"count"`
	Long     int        `json:"long"`
	Short    int        `json:"short"`
}
