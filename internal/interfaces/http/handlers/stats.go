package handlers

import (
	"net/http"
)

// Stats handles GET /stats: stored price counts and the latest prediction batch
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	if h.prices == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "prices_unavailable", "Price store is not configured")
		return
	}

	prices, err := h.prices.Stats(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to read price stats")
		h.writeError(w, r, http.StatusInternalServerError, "stats_failed", "Price statistics could not be computed")
		return
	}

	resp := StatsResponse{Prices: prices, Timestamp: h.now().UTC()}
	if h.signals != nil {
		batch, ok, err := h.signals.LatestBatch(r.Context())
		if err != nil {
			h.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to load latest batch")
			h.writeError(w, r, http.StatusInternalServerError, "signals_unavailable", "Latest predictions could not be loaded")
			return
		}
		if ok {
			at := batch.GeneratedAt.UTC()
			resp.Predictions = PredictionStats{
				LatestAt: &at,
				Count:    len(batch.Long) + len(batch.Short),
				Long:     len(batch.Long),
				Short:    len(batch.Short),
			}
		}
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// SchedulerStatus handles GET /scheduler/status
func (h *Handlers) SchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if h.scheduler == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "scheduler_unavailable", "Scheduler is not running in this process")
		return
	}
	h.writeJSON(w, http.StatusOK, h.scheduler.GetStatus())
}
