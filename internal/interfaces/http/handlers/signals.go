package handlers

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sawpanic/predictrun/internal/domain/market"
)

const (
	noBatchMessage = "no predictions available yet"
	writeWait      = 5 * time.Second
	pingPeriod     = 30 * time.Second
)

// LatestSignals handles GET /signals/latest. Before the first batch it answers 200 with
// empty lists and an advisory message.
func (h *Handlers) LatestSignals(w http.ResponseWriter, r *http.Request) {
	resp := SignalsResponse{Long: []market.Signal{}, Short: []market.Signal{}}
	if h.signals == nil {
		resp.Message = noBatchMessage
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	batch, ok, err := h.signals.LatestBatch(r.Context())
	if err != nil {
		h.logger.Error().Err(err).Str("request_id", RequestID(r.Context())).Msg("Failed to load latest batch")
		h.writeError(w, r, http.StatusInternalServerError, "signals_unavailable", "Latest predictions could not be loaded")
		return
	}
	if !ok {
		resp.Message = noBatchMessage
		h.writeJSON(w, http.StatusOK, resp)
		return
	}

	generated := batch.GeneratedAt.UTC()
	resp.GeneratedAt = &generated
	if batch.Long != nil {
		resp.Long = batch.Long
	}
	if batch.Short != nil {
		resp.Short = batch.Short
	}
	h.writeJSON(w, http.StatusOK, resp)
}

// SignalStream handles GET /ws/signals: every published batch is relayed as one JSON text frame
func (h *Handlers) SignalStream(w http.ResponseWriter, r *http.Request) {
	if h.hub == nil {
		h.writeError(w, r, http.StatusServiceUnavailable, "stream_unavailable", "Signal stream is not enabled")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	batches, detach := h.hub.Subscribe()
	defer detach()

	// reader goroutine only notices the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	h.logger.Debug().Str("remote", r.RemoteAddr).Msg("Signal stream client attached")
	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case batch, ok := <-batches:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(batch); err != nil {
				h.logger.Debug().Err(err).Msg("Signal stream client dropped")
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
