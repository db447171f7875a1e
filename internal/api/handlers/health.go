package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/ilkin0/chunkup/internal/api/types"
	"github.com/ilkin0/chunkup/internal/logger"
	"github.com/ilkin0/chunkup/internal/utils"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	checks  map[string]Pinger
	timeout time.Duration
}

// NewHealthHandler reports ready only when every named dependency answers
// a ping.
func NewHealthHandler(checks map[string]Pinger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 2 * time.Second}
}

func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	utils.Ok(w, types.HealthResponse{Status: "ok"})
}

func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := types.HealthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	status := http.StatusOK
	for _, name := range names {
		if err := h.checks[name].Ping(ctx); err != nil {
			logger.FromContext(r.Context()).Warn("readiness check failed",
				slog.String("check", name),
				slog.String("error", err.Error()),
			)
			resp.Checks[name] = err.Error()
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	utils.WriteJSON(w, status, resp)
}
