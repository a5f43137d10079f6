package status

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/dgnsrekt/radar-downloader/internal/dispatch"
	"github.com/dgnsrekt/radar-downloader/internal/download"
	"github.com/dgnsrekt/radar-downloader/internal/feed"
)

// Snapshot is a point-in-time view of the whole pipeline.
type Snapshot struct {
	Stopping  bool           `json:"stopping"`
	Feed      feed.Stats     `json:"feed"`
	Dispatch  dispatch.Stats `json:"dispatch"`
	Downloads download.Stats `json:"downloads"`
	Queue     QueueStats     `json:"queue"`
}

type QueueStats struct {
	Depth    int `json:"depth"`
	Capacity int `json:"capacity"`
}

// Provider supplies the snapshot served by the endpoints.
type Provider interface {
	Snapshot() Snapshot
}

type healthResponse struct {
	Status string `json:"status"`
	Feed   string `json:"feed"`
}

type handlers struct {
	provider Provider
	logger   *zap.Logger
}

// health is 200 only while the feed is subscribed and the process is not stopping.
func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	snap := h.provider.Snapshot()

	resp := healthResponse{Status: "ok", Feed: snap.Feed.State}
	code := http.StatusOK
	switch {
	case snap.Stopping:
		resp.Status = "stopping"
		code = http.StatusServiceUnavailable
	case snap.Feed.State != feed.StateSubscribed.String():
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	h.writeJSON(w, code, resp)
}

func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.provider.Snapshot())
}

func (h *handlers) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Warn("failed to write response", zap.Error(err))
	}
}
