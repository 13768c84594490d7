package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"syscall"
	"time"

	"survey-map/pkg/dataset"
	"survey-map/pkg/mapstream"
	"survey-map/pkg/storage"
)

// Handler serves the storage endpoints and the map API.
type Handler struct {
	Store   storage.Store
	Blobs   storage.Blobs
	DataDir string
	Maps    *dataset.Coordinator
	Cache   *ResponseCache
	Limiter *RateLimiter
	Events  *mapstream.Bus
	Logf    func(string, ...any)

	// reloadTimeout bounds background reloads started by track mutations.
	reloadTimeout time.Duration
}

// NewHandler wires a handler. cache and logf may be nil.
func NewHandler(store storage.Store, blobs storage.Blobs, dataDir string, maps *dataset.Coordinator, cache *ResponseCache, logf func(string, ...any)) *Handler {
	return &Handler{
		Store:         store,
		Blobs:         blobs,
		DataDir:       dataDir,
		Maps:          maps,
		Cache:         cache,
		Logf:          logf,
		reloadTimeout: 2 * time.Minute,
	}
}

// Register attaches every route to mux. Uploads and reloads are heavy
// for the limiter; other writes are only queued per client.
func (h *Handler) Register(mux *http.ServeMux) {
	general := func(f http.HandlerFunc) http.HandlerFunc { return h.Limiter.Limit(RequestGeneral, f) }
	heavy := func(f http.HandlerFunc) http.HandlerFunc { return h.Limiter.Limit(RequestHeavy, f) }

	mux.HandleFunc("GET /api/data-dir", h.handleDataDir)

	mux.HandleFunc("GET /api/sites", h.handleSitesList)
	mux.HandleFunc("POST /api/sites", general(h.handleSiteSave))
	mux.HandleFunc("DELETE /api/sites/{id}", general(h.handleSiteDelete))

	mux.HandleFunc("GET /api/tracks", h.handleTracksList)
	mux.HandleFunc("POST /api/tracks", heavy(h.handleTrackUpload))
	mux.HandleFunc("PUT /api/tracks", general(h.handleTrackUpdate))
	mux.HandleFunc("DELETE /api/tracks", general(h.handleTrackDelete))

	mux.HandleFunc("GET /api/samples", h.handleSamplesList)
	mux.HandleFunc("POST /api/samples", general(h.handleSampleSave))
	mux.HandleFunc("DELETE /api/samples/{id}", general(h.handleSampleDelete))

	mux.HandleFunc("POST /api/images/{siteId}", heavy(h.handleSiteImageUpload))
	mux.HandleFunc("DELETE /api/images/{siteId}/{imageName}", general(h.handleSiteImageDelete))
	mux.HandleFunc("POST /api/samples/{sampleId}/images", heavy(h.handleSampleImageUpload))
	mux.HandleFunc("DELETE /api/samples/{sampleId}/images/{imageName}", general(h.handleSampleImageDelete))

	mux.HandleFunc("GET /api/map/dots", h.handleDots)
	mux.HandleFunc("GET /api/map/cell", h.handleCell)
	mux.HandleFunc("GET /api/map/lines", h.handleLines)
	mux.HandleFunc("GET /api/map/tracks", h.handleMapTracks)
	mux.HandleFunc("GET /api/map/track", h.handleTrackSummary)
	mux.HandleFunc("GET /api/map/extent", h.handleExtent)
	mux.HandleFunc("GET /api/map/status", h.handleStatus)
	mux.HandleFunc("POST /api/map/reload", heavy(h.handleReload))
	mux.HandleFunc("GET /api/map/events", h.handleEvents)

	mux.HandleFunc("GET /qrpng", h.handleQR)
}

func (h *Handler) logf(format string, v ...any) {
	if h.Logf != nil {
		h.Logf(format, v...)
	}
}

// reloadAsync rebuilds the dataset after a track mutation. A reload that a
// newer one overtook is not an error.
func (h *Handler) reloadAsync() {
	if h.Maps == nil {
		return
	}
	go func() {
		timeout := h.reloadTimeout
		if timeout <= 0 {
			timeout = 2 * time.Minute
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if _, err := h.Maps.Reload(ctx); err != nil && !errors.Is(err, dataset.ErrStale) {
			h.logf("dataset reload failed: %v", err)
		}
	}()
}

// Announce drops cached renders and tells streaming clients about ds. Hook
// it into the coordinator with OnPublish.
func (h *Handler) Announce(ds *dataset.Dataset) {
	h.Cache.Purge()
	h.Events.Publish(eventOf(ds))
}

// =====================
// Utility helpers
// =====================

type okResponse struct {
	OK   bool   `json:"ok"`
	File string `json:"file,omitempty"`
	ID   string `json:"id,omitempty"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(payload); err != nil && !isClientDisconnect(err) {
		h.logf("encode response: %v", err)
	}
}

func (h *Handler) respondRaw(w http.ResponseWriter, contentType string, body []byte) {
	w.Header().Set("Content-Type", contentType)
	if _, err := w.Write(body); err != nil && !isClientDisconnect(err) {
		h.logf("write response: %v", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

// fail logs err and answers {"error": msg} with status.
func (h *Handler) fail(w http.ResponseWriter, status int, msg string, err error) {
	if err != nil {
		h.logf("%s: %v", msg, err)
	}
	w.Header().Del("Content-Disposition")
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: msg})
}

// decodeBody reads a JSON request body of at most 1 MiB.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	return json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(v)
}

func parseIntDefault(v string, def int) int {
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func parseInt64Default(v string, def int64) int64 {
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// hiddenSet parses a comma separated list of track files.
func hiddenSet(v string) map[string]bool {
	if v == "" {
		return nil
	}
	out := make(map[string]bool)
	for _, f := range strings.Split(v, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out[f] = true
		}
	}
	return out
}

// isClientDisconnect reports errors caused by the client going away.
func isClientDisconnect(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, context.Canceled) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "broken pipe") || strings.Contains(msg, "connection reset by peer")
}
