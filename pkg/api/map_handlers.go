package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image/color"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"survey-map/pkg/aggregate"
	"survey-map/pkg/colormap"
	"survey-map/pkg/dataset"
	"survey-map/pkg/mapstream"
	"survey-map/pkg/qrshare"
	"survey-map/pkg/survey"
	"survey-map/pkg/timerange"
)

// Zoom levels outside the tile pyramid are clamped.
const (
	minZoom     = 0
	maxZoom     = 22
	defaultZoom = 3
)

// cachedJSON returns the JSON encoding of build(), memoised under key when
// the cache is enabled.
func (h *Handler) cachedJSON(ctx context.Context, key string, build func() (any, error)) ([]byte, error) {
	load := func(context.Context) ([]byte, error) {
		v, err := build()
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(v, "", "  ")
	}
	data, err := h.Cache.Get(ctx, key, load)
	if errors.Is(err, errCacheDisabled) {
		return load(ctx)
	}
	return data, err
}

func windowOf(q interface{ Get(string) string }) timerange.Window {
	return timerange.Window{
		StartMs: parseInt64Default(q.Get("start"), 0),
		EndMs:   parseInt64Default(q.Get("end"), 0),
	}
}

// hiddenKey is a canonical form of a hidden set for cache keys.
func hiddenKey(hidden map[string]bool) string {
	keys := make([]string, 0, len(hidden))
	for k := range hidden {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return strings.Join(keys, ",")
}

func (h *Handler) handleDots(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := dataset.RenderOptions{
		Zoom:   clampInt(parseIntDefault(q.Get("zoom"), defaultZoom), minZoom, maxZoom),
		Metric: survey.ParseMetric(q.Get("metric")),
		Ramp:   colormap.ParseRamp(q.Get("scale")),
		Scope:  dataset.ParseScope(q.Get("scope")),
		Track:  q.Get("track"),
		Window: windowOf(q),
		Hidden: hiddenSet(q.Get("hidden")),
	}
	ds := h.Maps.Current()
	key := fmt.Sprintf("dots|%d|%d|%s|%s|%s|%s|%d|%d|%s", ds.Generation, opts.Zoom, opts.Metric, opts.Ramp,
		opts.Scope, opts.Track, opts.Window.StartMs, opts.Window.EndMs, hiddenKey(opts.Hidden))

	body, err := h.cachedJSON(r.Context(), key, func() (any, error) { return ds.Render(opts), nil })
	if err != nil {
		if !isClientDisconnect(err) {
			h.fail(w, http.StatusInternalServerError, "render dots", err)
		}
		return
	}
	h.respondRaw(w, "application/json", body)
}

func (h *Handler) handleLines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	style := colormap.ParseBaseMap(q.Get("basemap"))
	hidden := hiddenSet(q.Get("hidden"))
	ds := h.Maps.Current()
	if q.Get("format") == "wkt" {
		var b strings.Builder
		for _, f := range ds.Lines(hidden, style) {
			fmt.Fprintf(&b, "%s\t%s\n", f.ID, f.Geometry.AsText())
		}
		h.respondRaw(w, "text/plain; charset=utf-8", []byte(b.String()))
		return
	}
	key := fmt.Sprintf("lines|%d|%d|%s", ds.Generation, style, hiddenKey(hidden))

	body, err := h.cachedJSON(r.Context(), key, func() (any, error) { return ds.Lines(hidden, style), nil })
	if err != nil {
		if !isClientDisconnect(err) {
			h.fail(w, http.StatusInternalServerError, "render lines", err)
		}
		return
	}
	h.respondRaw(w, "application/geo+json", body)
}

// handleCell answers the statistics behind one dot, addressed by the
// cellX/cellY of a dots response at the same zoom.
func (h *Handler) handleCell(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	x, errX := strconv.ParseInt(q.Get("x"), 10, 64)
	y, errY := strconv.ParseInt(q.Get("y"), 10, 64)
	if errX != nil || errY != nil {
		h.fail(w, http.StatusBadRequest, "x and y are required", nil)
		return
	}
	opts := dataset.RenderOptions{
		Zoom:   clampInt(parseIntDefault(q.Get("zoom"), defaultZoom), minZoom, maxZoom),
		Track:  q.Get("track"),
		Window: windowOf(q),
		Hidden: hiddenSet(q.Get("hidden")),
	}
	summary, ok := h.Maps.Current().CellSummary(opts, aggregate.Key{X: x, Y: y})
	if !ok {
		h.fail(w, http.StatusNotFound, "empty cell", nil)
		return
	}
	h.respondJSON(w, summary)
}

func (h *Handler) handleMapTracks(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	style := colormap.ParseBaseMap(q.Get("basemap"))
	h.respondJSON(w, h.Maps.Current().TrackInfos(style, hiddenSet(q.Get("hidden"))))
}

func (h *Handler) handleTrackSummary(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	file := q.Get("file")
	if file == "" {
		h.fail(w, http.StatusBadRequest, "file is required", nil)
		return
	}
	window := clampInt(parseIntDefault(q.Get("window"), 1), 1, 50)
	bins := clampInt(parseIntDefault(q.Get("bins"), 0), 0, 200)
	s, ok := h.Maps.Current().TrackSummary(file, windowOf(q), window, bins)
	if !ok {
		h.fail(w, http.StatusNotFound, "track not loaded", nil)
		return
	}
	h.respondJSON(w, s)
}

func (h *Handler) handleExtent(w http.ResponseWriter, r *http.Request) {
	ext, ok := h.Maps.Current().Extent()
	if !ok {
		h.respondJSON(w, struct{}{})
		return
	}
	h.respondJSON(w, ext)
}

type statusResponse struct {
	Generation uint64               `json:"generation"`
	Tracks     int                  `json:"tracks"`
	Points     int                  `json:"points"`
	Bounds     timerange.Bounds     `json:"bounds"`
	Results    []dataset.FileResult `json:"results"`
	Stale      bool                 `json:"stale,omitempty"`
}

func statusOf(ds *dataset.Dataset) statusResponse {
	results := ds.Results
	if results == nil {
		results = []dataset.FileResult{}
	}
	return statusResponse{
		Generation: ds.Generation,
		Tracks:     len(ds.Tracks),
		Points:     len(ds.Points),
		Bounds:     ds.Bounds,
		Results:    results,
	}
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, statusOf(h.Maps.Current()))
}

// handleReload rebuilds the dataset before answering.
func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	ds, err := h.Maps.Reload(r.Context())
	switch {
	case errors.Is(err, dataset.ErrStale):
		resp := statusOf(ds)
		resp.Stale = true
		h.respondJSON(w, resp)
		return
	case err != nil:
		h.fail(w, http.StatusInternalServerError, "reload failed", err)
		return
	}
	h.logf("dataset reloaded: generation %d, %d tracks", ds.Generation, len(ds.Tracks))
	h.respondJSON(w, statusOf(ds))
}

func eventOf(ds *dataset.Dataset) mapstream.Event {
	return mapstream.Event{Generation: ds.Generation, Tracks: len(ds.Tracks), Points: len(ds.Points)}
}

// handleEvents streams a "dataset" server-sent event for the current
// generation and for every later publication.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	if h.Events == nil {
		http.NotFound(w, r)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, http.StatusInternalServerError, "streaming unsupported", nil)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	events := h.Events.Subscribe(r.Context(), 4)
	send := func(e mapstream.Event) bool {
		data, _ := json.Marshal(e)
		if _, err := fmt.Fprintf(w, "event: dataset\ndata: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}
	if !send(eventOf(h.Maps.Current())) {
		return
	}

	ping := time.NewTicker(25 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case e, ok := <-events:
			if !ok || !send(e) {
				return
			}
		case <-ping.C:
			if _, err := io.WriteString(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

// handleQR renders the share QR code of ?u=, falling back to the referring
// page and then to the request itself.
func (h *Handler) handleQR(w http.ResponseWriter, r *http.Request) {
	u := r.URL.Query().Get("u")
	if u == "" {
		if ref := r.Referer(); ref != "" {
			u = ref
		} else {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			u = scheme + "://" + r.Host + r.URL.RequestURI()
		}
	}
	if len(u) > 2048 {
		u = u[:2048]
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", `inline; filename="qr.png"`)
	opts := qrshare.Options{
		SizePx: 720,
		Fg:     color.RGBA{0, 0, 0, 255},
		Bg:     color.RGBA{255, 255, 255, 255},
		Mark:   color.RGBA{233, 192, 35, 255},
	}
	if err := qrshare.EncodePNG(w, u, opts); err != nil {
		h.fail(w, http.StatusInternalServerError, "QR encode", err)
	}
}
