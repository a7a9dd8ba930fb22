package analytics

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
)

const (
	defaultTrending = 5
	maxTrending     = 100
)

// Handler serves the aggregate over HTTP.
type Handler struct {
	aggregator *Aggregator
	logger     *slog.Logger
}

func NewHandler(aggregator *Aggregator) *Handler {
	return &Handler{
		aggregator: aggregator,
		logger:     slog.Default().With("component", "analytics-api"),
	}
}

// Register mounts the stats and trending routes. The searcher mounts only
// Stats since it answers trending itself.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/analytics", h.Stats)
	mux.HandleFunc("GET /api/v1/trending", h.Trending)
}

func (h *Handler) Stats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Cache-Control", "no-store")
	h.respond(w, http.StatusOK, h.aggregator.Stats())
}

type trendingResponse struct {
	Queries []string     `json:"queries"`
	Counts  []QueryCount `json:"counts"`
}

// Trending answers in the same shape as the searcher's trending route, with
// the per-query counts alongside. ?n= sets the length.
func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	n := defaultTrending
	if raw := r.URL.Query().Get("n"); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil || v < 1 || v > maxTrending {
			h.respond(w, http.StatusBadRequest, map[string]any{
				"error":  "validation failed",
				"fields": map[string]string{"n": "n must be between 1 and 100"},
			})
			return
		}
		n = v
	}
	top := h.aggregator.Trending(n)
	resp := trendingResponse{Queries: make([]string, len(top)), Counts: top}
	for i, qc := range top {
		resp.Queries[i] = qc.Query
	}
	h.respond(w, http.StatusOK, resp)
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Warn("writing response failed", "status", status, "error", err)
	}
}
