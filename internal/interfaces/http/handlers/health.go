package handlers

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/sawpanic/predictrun/internal/persistence"
)

const checkTimeout = 2 * time.Second

// Health handles GET /health. Every configured backend is checked, through Health when it
// reports details and Ping otherwise; any failure degrades the status and answers 503.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "healthy",
		Timestamp: h.now().UTC(),
		Version:   h.version,
		Checks:    make(map[string]CheckResult, len(h.checks)),
	}
	if h.model != nil {
		resp.Model = ModelStatus{Trained: h.model.Trained(), Version: h.model.Version()}
	}

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
		res := check(ctx, h.checks[name])
		cancel()

		if res.Status != "up" {
			resp.Status = "degraded"
		}
		resp.Checks[name] = res
	}

	status := http.StatusOK
	if resp.Status != "healthy" {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, resp)
}

func check(ctx context.Context, p persistence.Pinger) CheckResult {
	if hc, ok := p.(persistence.HealthChecker); ok {
		report := hc.Health(ctx)
		res := CheckResult{Status: "up", LatencyMS: report.ResponseTimeMS}
		if !report.Healthy {
			res.Status = "down"
			res.Error = strings.Join(report.Errors, "; ")
		}
		return res
	}

	start := time.Now()
	err := p.Ping(ctx)
	res := CheckResult{Status: "up", LatencyMS: time.Since(start).Milliseconds()}
	if err != nil {
		res.Status = "down"
		res.Error = err.Error()
	}
	return res
}
