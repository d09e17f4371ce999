package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"rpimash/core-go/internal/db"
	"rpimash/core-go/internal/metrics"
	"rpimash/core-go/internal/worker"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// StatusSource is the control loop as seen by the API.
type StatusSource interface {
	Snapshot() *worker.Snapshot
	Ready() bool
}

type HistoryReader interface {
	Recent(ctx context.Context, f db.HistoryFilter) ([]db.ActionRun, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Status StatusSource
	// History and DB are nil when no database is configured.
	History HistoryReader
	DB      Pinger
	Metrics *metrics.Metrics
}

type Handler struct {
	log     zerolog.Logger
	status  StatusSource
	history HistoryReader
	db      Pinger
	metrics *metrics.Metrics
}

func NewHandler(log zerolog.Logger, opts Options) *Handler {
	return &Handler{
		log:     log,
		status:  opts.Status,
		history: opts.History,
		db:      opts.DB,
		metrics: opts.Metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))
	r.Use(h.accessLog)

	// Health
	r.Get("/healthz", h.handleHealthz)
	r.Get("/readyz", h.handleReadyZ)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	// API
	r.Route("/api", func(r chi.Router) {
		r.Route("/v1", func(r chi.Router) {
			r.Get("/status", h.handleStatus)
			r.Get("/history", h.handleHistory)
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), time.Since(start))

		h.log.Debug().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", time.Since(start).Milliseconds()).
			Msg("http_request")
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string, details map[string]any) {
	resp := map[string]any{
		"error": map[string]any{
			"code":    code,
			"message": msg,
		},
	}
	if details != nil {
		resp["error"].(map[string]any)["details"] = details
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.status != nil && !h.status.Ready() {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "waiting for network", nil)
		return
	}

	if h.db != nil {
		if err := h.db.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	var snap *worker.Snapshot
	if h.status != nil {
		snap = h.status.Snapshot()
	}
	if snap == nil {
		h.writeError(w, http.StatusServiceUnavailable, "not_ready", "no status published yet", nil)
		return
	}
	h.writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if h.history == nil {
		h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not configured", nil)
		return
	}

	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > maxHistoryLimit {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid limit", map[string]any{"limit": v, "max": maxHistoryLimit})
			return
		}
		limit = n
	}

	var before time.Time
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid before", map[string]any{"before": v, "format": "RFC3339"})
			return
		}
		before = t
	}

	runs, err := h.history.Recent(r.Context(), db.HistoryFilter{
		Action: r.URL.Query().Get("action"),
		Before: before,
		Limit:  limit,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("list history failed")
		h.writeError(w, http.StatusInternalServerError, "db_error", "failed to list history", nil)
		return
	}
	if runs == nil {
		runs = []db.ActionRun{}
	}
	body := map[string]any{"runs": runs}
	if len(runs) == limit {
		// A full page may have more behind it.
		body["next_before"] = runs[len(runs)-1].StartedAt.Format(time.RFC3339Nano)
	}
	h.writeJSON(w, http.StatusOK, body)
}
