// Package handler exposes the study search engine over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/study-search/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/corpus"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/executor"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/parser"
	"github.com/Adithya-Monish-Kumar-K/study-search/internal/searcher/payload"
	apperrors "github.com/Adithya-Monish-Kumar-K/study-search/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/study-search/pkg/middleware"
)

// Engine is the part of *indexer.Engine the handler uses.
type Engine interface {
	Current() (*indexer.Snapshot, error)
	Reload(ctx context.Context) (*indexer.Snapshot, error)
}

// Tracker receives one analytics event per answered query.
type Tracker interface {
	Track(event any)
}

type Handler struct {
	engine  Engine
	builder *payload.Builder
	cache   *cache.QueryCache[payload.Payload]
	tracker Tracker
	logger  *slog.Logger
}

// New wires the handler. queryCache and tracker may be nil.
func New(engine Engine, builder *payload.Builder, queryCache *cache.QueryCache[payload.Payload], tracker Tracker) *Handler {
	return &Handler{
		engine:  engine,
		builder: builder,
		cache:   queryCache,
		tracker: tracker,
		logger:  slog.Default().With("component", "search-handler"),
	}
}

// Register mounts every route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/studies", h.Search)
	mux.HandleFunc("POST /api/v1/studies/search", h.SearchJSON)
	mux.HandleFunc("GET /api/v1/studies/{id}", h.Study)
	mux.HandleFunc("GET /api/v1/facets", h.Facets)
	mux.HandleFunc("GET /api/v1/spell-check", h.SpellCheck)
	mux.HandleFunc("POST /api/v1/reload", h.Reload)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("POST /api/v1/cache/invalidate", h.CacheInvalidate)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// Search answers a query given as URL parameters.
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	req, err := parser.ParseValues(r.URL.Query())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.search(w, r, req)
}

// SearchJSON answers a query given as a JSON body.
func (h *Handler) SearchJSON(w http.ResponseWriter, r *http.Request) {
	req, err := parser.ParseJSON(r.Body)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.search(w, r, req)
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request, req payload.Request) {
	start := time.Now()
	ctx := r.Context()
	log := logger.FromContext(ctx)

	snap, err := h.engine.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	p, err := h.builder.Build(ctx, snap, req)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	latencyMs := time.Since(start).Milliseconds()
	log.Info("search completed",
		"query", req.Filter.Query,
		"total", p.Counts.TotalStudies,
		"returned", p.Counts.PageItems,
		"cache_hit", p.Debug.CacheHit,
		"latency_ms", latencyMs,
	)
	h.track(ctx, req, p, latencyMs)
	h.writeJSON(w, http.StatusOK, p)
}

func (h *Handler) track(ctx context.Context, req payload.Request, p payload.Payload, latencyMs int64) {
	if h.tracker == nil {
		return
	}
	eventType := analytics.EventCacheMiss
	switch {
	case p.Counts.TotalStudies == 0:
		eventType = analytics.EventZeroResult
	case p.Debug.CacheHit:
		eventType = analytics.EventCacheHit
	}
	h.tracker.Track(analytics.SearchEvent{
		Type:             eventType,
		Query:            req.Filter.Query,
		Organisms:        req.Filter.Organisms,
		ProjectTypes:     req.Filter.ProjectTypes,
		Keywords:         req.Filter.Keywords,
		Mode:             p.Filters.QMode,
		TotalHits:        p.Counts.TotalStudies,
		Returned:         p.Counts.PageItems,
		LatencyMs:        latencyMs,
		CacheHit:         p.Debug.CacheHit,
		Fallbacks:        fallbacks(p.Debug.FilterStats),
		SpellSubstituted: p.Debug.FilterStats.SpellSubstituted,
		SnapshotVersion:  p.Debug.SnapshotVersion,
		Timestamp:        time.Now().UTC(),
		RequestID:        middleware.GetRequestID(ctx),
	})
}

// fallbacks names the relaxations the executor applied, in cascade order.
func fallbacks(s executor.Stats) []string {
	var out []string
	if s.SpellSubstituted {
		out = append(out, "spell_substitution")
	}
	if len(s.TokenSuggestions) > 0 {
		out = append(out, "token_suggestion")
	}
	if s.AndFallbackLevel != nil && *s.AndFallbackLevel > 0 {
		out = append(out, fmt.Sprintf("and_tier_%d", *s.AndFallbackLevel))
	}
	if s.PhraseFallback {
		out = append(out, "phrase")
	}
	if s.FuzzyFallback {
		out = append(out, "fuzzy")
	}
	return out
}

// Study returns one record with all of its attributes.
func (h *Handler) Study(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	rec, err := snap.Study(r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) Facets(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	organisms, projectTypes := snap.Facets()
	resp := facetsResponse{SnapshotVersion: snap.Version}
	resp.Organism, resp.Counts.Organism = labelCounts(organisms)
	resp.ProjectType, resp.Counts.ProjectType = labelCounts(projectTypes)
	h.writeJSON(w, http.StatusOK, resp)
}

// facetsResponse lists labels alphabetically; counts are keyed by label.
type facetsResponse struct {
	Organism    []string `json:"organism"`
	ProjectType []string `json:"project_type"`
	Counts      struct {
		Organism    map[string]int `json:"organism"`
		ProjectType map[string]int `json:"project_type"`
	} `json:"counts"`
	SnapshotVersion string `json:"snapshot_version"`
}

func labelCounts(facets []corpus.FacetCount) ([]string, map[string]int) {
	labels := make([]string, 0, len(facets))
	counts := make(map[string]int, len(facets))
	for _, f := range facets {
		labels = append(labels, f.Value)
		counts[f.Value] = f.Count
	}
	sort.Strings(labels)
	return labels, counts
}

func (h *Handler) SpellCheck(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.writeError(w, r, apperrors.InvalidRequestf("query parameter 'q' is required"))
		return
	}
	snap, err := h.engine.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, snap.Spell.CheckQuery(q))
}

// Reload rebuilds the snapshot from the configured source. The previous
// snapshot keeps serving if the rebuild fails.
func (h *Handler) Reload(w http.ResponseWriter, r *http.Request) {
	snap, err := h.engine.Reload(r.Context())
	if err != nil {
		logger.FromContext(r.Context()).Error("reload failed", "error", err)
		h.writeError(w, r, apperrors.Newf(apperrors.ErrInternal, http.StatusInternalServerError, "reload failed: %v", err))
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":  "reloaded",
		"version": snap.Version,
		"records": snap.Stats.Records,
		"tokens":  snap.Stats.Tokens,
		"skipped": snap.Stats.Skipped,
	})
}

func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeJSON(w, http.StatusOK, map[string]string{"status": "disabled"})
		return
	}
	stats := h.cache.Stats()
	total := stats.Hits + stats.Misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(stats.Hits) / float64(total) * 100
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"stats":    stats,
		"total":    total,
		"hit_rate": fmt.Sprintf("%.1f%%", hitRate),
	})
}

func (h *Handler) CacheInvalidate(w http.ResponseWriter, r *http.Request) {
	if h.cache == nil {
		h.writeError(w, r, apperrors.New(apperrors.ErrInvalidRequest, http.StatusServiceUnavailable, "caching is disabled"))
		return
	}
	if err := h.cache.Invalidate(r.Context()); err != nil {
		h.logger.Error("cache invalidation failed", "error", err)
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated"})
}

// Health reports the loaded snapshot without running the other checks.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	c := h.SnapshotCheck(r.Context())
	if c.Status != health.StatusUp {
		status = http.StatusServiceUnavailable
	}
	h.writeJSON(w, status, c)
}

// SnapshotCheck is a health.Check: down until the first snapshot is
// published, then up with its size.
func (h *Handler) SnapshotCheck(ctx context.Context) health.ComponentHealth {
	snap, err := h.engine.Current()
	if err != nil {
		return health.ComponentHealth{Status: health.StatusDown, Message: "no snapshot published"}
	}
	organisms, projectTypes := snap.Facets()
	return health.ComponentHealth{
		Status: health.StatusUp,
		Details: map[string]any{
			"version":       snap.Version,
			"source":        snap.Source,
			"built_at":      snap.BuiltAt,
			"records":       snap.Corpus.Len(),
			"organisms":     len(organisms),
			"project_types": len(projectTypes),
		},
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to write response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperrors.HTTPStatusCode(err)
	message := "internal error"
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		message = appErr.Message
	}
	if status >= http.StatusInternalServerError {
		logger.FromContext(r.Context()).Error("request failed", "path", r.URL.Path, "error", err)
	}
	h.writeJSON(w, status, map[string]string{"error": message})
}
