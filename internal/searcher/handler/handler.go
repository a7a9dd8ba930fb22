// Package handler serves the JSON API: search, suggestions, trending
// queries, and the archive views (digest, navigation, categories, timeline,
// single reports).
package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/OnlineMo/DeepResearch-Web/internal/archive"
	"github.com/OnlineMo/DeepResearch-Web/internal/indexer"
	"github.com/OnlineMo/DeepResearch-Web/internal/render"
	"github.com/OnlineMo/DeepResearch-Web/internal/report"
	"github.com/OnlineMo/DeepResearch-Web/internal/searcher"
	apperrors "github.com/OnlineMo/DeepResearch-Web/pkg/errors"
	"github.com/OnlineMo/DeepResearch-Web/pkg/logger"
)

// Option configures a Handler.
type Option func(*Handler)

// WithMaxQueryLength overrides DefaultMaxQueryLength.
func WithMaxQueryLength(n int) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxQueryLength = n
		}
	}
}

// WithEngine exposes index state on GET /api/v1/index.
func WithEngine(e *indexer.Engine) Option {
	return func(h *Handler) { h.engine = e }
}

type Handler struct {
	search         *searcher.Service
	library        *archive.Library
	renderer       *render.Renderer
	engine         *indexer.Engine
	maxQueryLength int
	logger         *slog.Logger
}

func New(search *searcher.Service, library *archive.Library, renderer *render.Renderer, opts ...Option) *Handler {
	h := &Handler{
		search:         search,
		library:        library,
		renderer:       renderer,
		maxQueryLength: DefaultMaxQueryLength,
		logger:         slog.Default().With("component", "search-handler"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/search", h.Search)
	mux.HandleFunc("GET /api/v1/suggestions", h.Suggestions)
	mux.HandleFunc("GET /api/v1/trending", h.Trending)
	mux.HandleFunc("GET /api/v1/today", h.Today)
	mux.HandleFunc("GET /api/v1/navigation", h.Navigation)
	mux.HandleFunc("GET /api/v1/archive", h.ArchiveRoot)
	mux.HandleFunc("GET /api/v1/categories", h.Categories)
	mux.HandleFunc("GET /api/v1/categories/{slug}", h.Category)
	mux.HandleFunc("GET /api/v1/timeline", h.Timeline)
	mux.HandleFunc("GET /api/v1/reports/{path...}", h.Report)
	mux.HandleFunc("GET /api/v1/index", h.IndexStatus)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, err := ParseSearchRequest(r.URL.Query(), h.maxQueryLength, h.search.Executor().MaxResults())
	if err != nil {
		h.writeValidation(w, err)
		return
	}

	result, err := h.search.Search(ctx, req.Query, req.Options)
	if err != nil {
		logger.FromContext(ctx).Error("search execution failed", "query", req.Query, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "search failed")
		return
	}
	h.writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Suggestions(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{
		"suggestions": h.search.Suggestions(r.URL.Query().Get("q")),
	})
}

func (h *Handler) Trending(w http.ResponseWriter, r *http.Request) {
	n := searcher.DefaultTrending
	if raw := r.URL.Query().Get("n"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > 100 {
			h.writeValidation(w, &ValidationError{Fields: map[string]string{"n": "n must be between 1 and 100"}})
			return
		}
		n = parsed
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"queries": h.search.Trending(n)})
}

func (h *Handler) Today(w http.ResponseWriter, r *http.Request) {
	digest, err := h.library.Today(r.Context())
	if err != nil {
		if !h.archiveError(w, r, "today", err) {
			return
		}
		digest = archive.Digest{Date: time.Now().UTC().Format("2006-01-02"), Reports: []report.Reference{}}
	}
	h.writeJSON(w, http.StatusOK, digest)
}

func (h *Handler) Navigation(w http.ResponseWriter, r *http.Request) {
	sections, err := h.library.Navigation(r.Context())
	if err != nil {
		if !h.archiveError(w, r, "navigation", err) {
			return
		}
		sections = []report.Section{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"sections": sections})
}

// ArchiveRoot lists the top level of the archive. A listing that cannot be
// interpreted answers 502 instead of an empty view.
func (h *Handler) ArchiveRoot(w http.ResponseWriter, r *http.Request) {
	entries, err := h.library.Root(r.Context())
	if err != nil {
		if errors.Is(err, apperrors.ErrMalformedDocument) {
			logger.FromContext(r.Context()).Error("archive root listing unreadable", "error", err)
			h.writeError(w, http.StatusBadGateway, "archive root listing could not be interpreted")
			return
		}
		if !h.archiveError(w, r, "root", err) {
			return
		}
		entries = []archive.Entry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Categories(w http.ResponseWriter, r *http.Request) {
	stats, err := h.library.Stats(r.Context())
	if err != nil {
		if !h.archiveError(w, r, "categories", err) {
			return
		}
		stats = archive.Stats{Categories: make([]archive.CategoryCount, len(report.Categories))}
		for i, c := range report.Categories {
			stats.Categories[i] = archive.CategoryCount{CategoryInfo: c}
		}
	}
	h.writeJSON(w, http.StatusOK, stats)
}

func (h *Handler) Category(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("slug")
	info, ok := report.LookupCategory(slug)
	if !ok {
		h.writeError(w, http.StatusNotFound, "unknown category "+strconv.Quote(slug))
		return
	}
	refs, err := h.library.CategoryReports(r.Context(), slug)
	if err != nil {
		if !h.archiveError(w, r, "category", err) {
			return
		}
		refs = nil
	}
	if refs == nil {
		refs = []report.Reference{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"category": info, "reports": refs})
}

func (h *Handler) Timeline(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := report.TimelineFilter{Category: q.Get("category"), Year: q.Get("year")}
	if filter.Year != "" {
		if y, err := strconv.Atoi(filter.Year); err != nil || len(filter.Year) != 4 || y < 1 {
			h.writeValidation(w, &ValidationError{Fields: map[string]string{"year": "year must have four digits"}})
			return
		}
	}
	groups, err := h.library.Timeline(r.Context(), filter)
	if err != nil {
		if !h.archiveError(w, r, "timeline", err) {
			return
		}
		groups = nil
	}
	if groups == nil {
		groups = []report.DateGroup{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"groups": groups})
}

type reportResponse struct {
	report.Content
	HTML     string           `json:"html"`
	Headings []render.Heading `json:"headings"`
}

func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	path := r.PathValue("path")
	if !strings.HasPrefix(path, report.ReportsRoot+"/") || !strings.HasSuffix(path, ".md") || strings.Contains(path, "..") {
		h.writeValidation(w, &ValidationError{Fields: map[string]string{
			"path": "path must name a markdown file under " + report.ReportsRoot,
		}})
		return
	}

	content := h.library.Report(r.Context(), path)
	doc, err := h.renderer.Render(content.Body)
	if err != nil {
		logger.FromContext(r.Context()).Error("rendering report failed", "path", path, "error", err)
		h.writeError(w, http.StatusInternalServerError, "rendering report failed")
		return
	}
	if doc.Headings == nil {
		doc.Headings = []render.Heading{}
	}

	status := http.StatusOK
	switch content.Placeholder {
	case report.PlaceholderNotFound:
		status = http.StatusNotFound
	case report.PlaceholderRateLimited:
		status = http.StatusTooManyRequests
		h.setRetryAfter(w)
	}
	h.writeJSON(w, status, reportResponse{Content: content, HTML: doc.HTML, Headings: doc.Headings})
}

func (h *Handler) IndexStatus(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		h.writeError(w, http.StatusNotFound, "index status is not exposed")
		return
	}
	status := map[string]any{
		"state":   h.engine.State(),
		"reports": h.engine.Len(),
		"stats":   h.engine.Index().Stats(),
	}
	if at := h.engine.UpdatedAt(); !at.IsZero() {
		status["updated_at"] = at.UTC()
	}
	h.writeJSON(w, http.StatusOK, status)
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	c := h.search.Cache()
	if c == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	h.writeJSON(w, http.StatusOK, c.Stats(r.Context()))
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	c := h.search.Cache()
	if c == nil {
		h.writeError(w, http.StatusServiceUnavailable, "caching is disabled")
		return
	}
	if err := c.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "cache invalidation failed")
		return
	}
	content := h.library.Invalidate()
	h.writeJSON(w, http.StatusOK, map[string]any{"status": "invalidated", "content_entries": content})
}

// archiveError handles a failed archive document read. Rate limits answer
// 429 and timeouts or outages answer with their status; in both cases it
// returns false. A missing document returns true so the caller can serve an
// empty collection.
func (h *Handler) archiveError(w http.ResponseWriter, r *http.Request, view string, err error) bool {
	log := logger.FromContext(r.Context())
	switch {
	case apperrors.IsRateLimited(err):
		log.Warn("archive rate limited", "view", view, "error", err)
		h.setRetryAfter(w)
		h.writeError(w, http.StatusTooManyRequests, "archive rate limit reached, retry later")
		return false
	case apperrors.IsNotFound(err), errors.Is(err, apperrors.ErrMalformedDocument):
		log.Warn("archive document unavailable, serving empty view", "view", view, "error", err)
		return true
	default:
		log.Error("reading archive failed", "view", view, "error", err)
		h.writeError(w, apperrors.HTTPStatusCode(err), "archive unavailable")
		return false
	}
}

func (h *Handler) setRetryAfter(w http.ResponseWriter) {
	wait := h.library.RetryAfter()
	w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeValidation(w http.ResponseWriter, err error) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		h.writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  "invalid request",
			"fields": verr.Fields,
		})
		return
	}
	h.writeError(w, http.StatusBadRequest, err.Error())
}
