package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sawpanic/predictrun/internal/domain/trade"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 500
)

// TradeSummary handles GET /trades/summary
func (h *Handlers) TradeSummary(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "trades_unavailable", "Trade store is not configured")
		return
	}
	summary, err := h.trades.Summary(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to summarise trades")
		h.writeError(w, r, http.StatusInternalServerError, "summary_failed", "Trade summary could not be computed")
		return
	}
	h.writeJSON(w, http.StatusOK, TradeSummaryResponse{TradeSummary: summary.Finalize(), Timestamp: h.now().UTC()})
}

// ListTrades handles GET /trades?status=closed|open&limit=N. Closed trades come newest first,
// open trades oldest first.
func (h *Handlers) ListTrades(w http.ResponseWriter, r *http.Request) {
	if h.trades == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "trades_unavailable", "Trade store is not configured")
		return
	}

	q := r.URL.Query()
	status := trade.Status(q.Get("status"))
	if status == "" {
		status = trade.StatusClosed
	}
	if status != trade.StatusClosed && status != trade.StatusOpen {
		h.writeError(w, r, http.StatusBadRequest, "invalid_status", "status must be open or closed")
		return
	}

	limit := defaultTradeLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxTradeLimit {
			h.writeError(w, r, http.StatusBadRequest, "invalid_limit",
				"limit must be between 1 and "+strconv.Itoa(maxTradeLimit))
			return
		}
		limit = n
	}

	var (
		trades []trade.Trade
		err    error
	)
	if status == trade.StatusOpen {
		trades, err = h.trades.OpenTrades(r.Context())
	} else {
		trades, err = h.trades.ClosedTrades(r.Context(), time.Time{})
	}
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to list trades")
		h.writeError(w, r, http.StatusInternalServerError, "trades_failed", "Trades could not be loaded")
		return
	}

	if len(trades) > limit {
		trades = trades[:limit]
	}
	if trades == nil {
		trades = []trade.Trade{}
	}
	h.writeJSON(w, http.StatusOK, TradesResponse{
		Status:    string(status),
		Count:     len(trades),
		Trades:    trades,
		Timestamp: h.now().UTC(),
	})
}
