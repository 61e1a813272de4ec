package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"aed_map/core-go/internal/catalog"
	"aed_map/core-go/internal/db"
	"aed_map/core-go/internal/metrics"
	"aed_map/core-go/internal/session"
)

// Reloader reloads the catalog from its source on demand.
type Reloader interface {
	RunOnce(ctx context.Context) (bool, error)
}

type Deps struct {
	Store    *catalog.Store
	Sessions *session.Manager
	Reloader Reloader
	// Pool is optional; readiness checks it when set.
	Pool    *db.Pool
	Metrics *metrics.Metrics
}

type Handler struct {
	log      zerolog.Logger
	store    *catalog.Store
	sessions *session.Manager
	reloader Reloader
	pool     *db.Pool
	metrics  *metrics.Metrics
}

func NewHandler(log zerolog.Logger, deps Deps) *Handler {
	return &Handler{
		log:      log,
		store:    deps.Store,
		sessions: deps.Sessions,
		reloader: deps.Reloader,
		pool:     deps.Pool,
		metrics:  deps.Metrics,
	}
}

func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)

	// The state stream outlives any request timeout.
	r.Get("/api/v1/sessions/{id}/ws", h.handleSessionStream)

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(15 * time.Second))

		// Health
		r.Get("/healthz", h.handleHealthz)
		r.Get("/readyz", h.handleReadyZ)
		r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

		// API
		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/devices", h.handleListDevices)
			r.Post("/catalog/reload", h.handleCatalogReload)

			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.handleCreateSession)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", h.handleGetSession)
					r.Delete("/", h.handleDeleteSession)
					r.Put("/filter", h.handleSetFilter)
					r.Post("/select", h.handleSelect)
					r.Post("/close", h.handleClosePanel)
					r.Post("/recenter", h.handleRecenter)
					r.Post("/pan", h.handlePan)
					r.Put("/zoom", h.handleSetZoom)
					r.Put("/size", h.handleResize)
				})
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		elapsed := time.Since(start)
		// Label by route pattern so session ids don't explode cardinality.
		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				route = p
			}
		}
		h.metrics.ObserveHTTPRequest(r.Method, route, ww.Status(), elapsed)

		h.log.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Int64("duration_ms", elapsed.Milliseconds()).
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

func decodeJSONStrict(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		if err == nil {
			return errors.New("unexpected extra data after JSON body")
		}
		return err
	}
	return nil
}

// decodeJSONOptional is decodeJSONStrict that also accepts an empty body.
func decodeJSONOptional(r *http.Request, dst any) error {
	if err := decodeJSONStrict(r, dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) handleReadyZ(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if h.store == nil || !h.store.Loaded() {
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog not loaded", nil)
		return
	}

	if h.pool != nil {
		if err := h.pool.Ping(ctx); err != nil {
			h.writeError(w, http.StatusServiceUnavailable, "db_unavailable", "database not ready", map[string]any{"error": err.Error()})
			return
		}
	}

	h.writeJSON(w, http.StatusOK, map[string]any{"ready": true, "catalog_version": h.store.Version()})
}

func (h *Handler) handleListDevices(w http.ResponseWriter, r *http.Request) {
	f, err := catalog.ParseFilter(r.URL.Query().Get("filter"))
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "validation_failed", "invalid filter", map[string]any{"filter": r.URL.Query().Get("filter")})
		return
	}
	if h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "catalog_unavailable", "catalog not configured", nil)
		return
	}

	devices := h.store.Devices(f)
	if devices == nil {
		devices = []catalog.Device{}
	}
	h.writeJSON(w, http.StatusOK, devices)
}

func (h *Handler) handleCatalogReload(w http.ResponseWriter, r *http.Request) {
	if h.reloader == nil || h.store == nil {
		h.writeError(w, http.StatusServiceUnavailable, "reload_unavailable", "catalog source not configured", nil)
		return
	}

	changed, err := h.reloader.RunOnce(r.Context())
	if err != nil {
		h.writeError(w, http.StatusBadGateway, "catalog_source_error", "failed to reload catalog", map[string]any{"error": err.Error()})
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]any{
		"changed": changed,
		"version": h.store.Version(),
		"devices": len(h.store.Devices(catalog.FilterAll)),
	})
}
