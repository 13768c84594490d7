package api

import (
	"errors"
	"mime/multipart"
	"net/http"
	"path/filepath"

	"survey-map/pkg/storage"
	"survey-map/pkg/survey"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 256 << 20

func (h *Handler) handleDataDir(w http.ResponseWriter, r *http.Request) {
	dir := h.DataDir
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	h.respondJSON(w, map[string]string{"dataDir": dir})
}

// ---- sites and samples ----

type recordOps struct {
	list   func(*Handler, *http.Request) ([]storage.Record, error)
	save   func(*Handler, *http.Request, storage.Record) error
	remove func(*Handler, *http.Request, string) error
}

var (
	siteOps = recordOps{
		list:   func(h *Handler, r *http.Request) ([]storage.Record, error) { return h.Store.Sites(r.Context()) },
		save:   func(h *Handler, r *http.Request, rec storage.Record) error { return h.Store.SaveSite(r.Context(), rec) },
		remove: func(h *Handler, r *http.Request, id string) error { return h.Store.DeleteSite(r.Context(), id) },
	}
	sampleOps = recordOps{
		list:   func(h *Handler, r *http.Request) ([]storage.Record, error) { return h.Store.Samples(r.Context()) },
		save:   func(h *Handler, r *http.Request, rec storage.Record) error { return h.Store.SaveSample(r.Context(), rec) },
		remove: func(h *Handler, r *http.Request, id string) error { return h.Store.DeleteSample(r.Context(), id) },
	}
)

func (h *Handler) listRecords(w http.ResponseWriter, r *http.Request, ops recordOps) {
	list, err := ops.list(h, r)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "read records", err)
		return
	}
	h.respondJSON(w, list)
}

func (h *Handler) saveRecord(w http.ResponseWriter, r *http.Request, ops recordOps) {
	var rec storage.Record
	if err := decodeBody(w, r, &rec); err != nil || rec == nil {
		h.fail(w, http.StatusBadRequest, "invalid JSON body", nil)
		return
	}
	id := rec.EnsureID()
	if err := ops.save(h, r, rec); err != nil {
		h.fail(w, http.StatusInternalServerError, "save record", err)
		return
	}
	h.respondJSON(w, okResponse{OK: true, ID: id})
}

func (h *Handler) deleteRecord(w http.ResponseWriter, r *http.Request, ops recordOps) {
	if err := ops.remove(h, r, r.PathValue("id")); err != nil {
		h.fail(w, http.StatusInternalServerError, "delete record", err)
		return
	}
	h.respondJSON(w, okResponse{OK: true})
}

func (h *Handler) handleSitesList(w http.ResponseWriter, r *http.Request) {
	h.listRecords(w, r, siteOps)
}

func (h *Handler) handleSiteSave(w http.ResponseWriter, r *http.Request) {
	h.saveRecord(w, r, siteOps)
}

func (h *Handler) handleSiteDelete(w http.ResponseWriter, r *http.Request) {
	h.deleteRecord(w, r, siteOps)
}

func (h *Handler) handleSamplesList(w http.ResponseWriter, r *http.Request) {
	h.listRecords(w, r, sampleOps)
}

func (h *Handler) handleSampleSave(w http.ResponseWriter, r *http.Request) {
	h.saveRecord(w, r, sampleOps)
}

func (h *Handler) handleSampleDelete(w http.ResponseWriter, r *http.Request) {
	h.deleteRecord(w, r, sampleOps)
}

// ---- tracks ----

func (h *Handler) handleTracksList(w http.ResponseWriter, r *http.Request) {
	entries, err := h.Store.Tracks(r.Context())
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "read track index", err)
		return
	}
	h.respondJSON(w, entries)
}

func (h *Handler) handleTrackUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}
	file, _, err := r.FormFile("file")
	if err != nil {
		h.fail(w, http.StatusBadRequest, "missing file", nil)
		return
	}
	defer file.Close()

	key, err := h.Blobs.SaveTrack(file)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "store track file", err)
		return
	}
	entry := survey.IndexEntry{
		File:        key,
		Title:       r.FormValue("title"),
		Description: r.FormValue("description"),
		Unit:        r.FormValue("unit"),
	}
	if err := h.Store.AddTrack(r.Context(), entry); err != nil {
		_ = h.Blobs.Remove(key)
		h.fail(w, http.StatusInternalServerError, "update track index", err)
		return
	}
	h.logf("track uploaded: %s", key)
	h.reloadAsync()
	h.respondJSON(w, okResponse{OK: true, File: key})
}

type trackBody struct {
	File        string `json:"file"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

func (h *Handler) handleTrackUpdate(w http.ResponseWriter, r *http.Request) {
	var body trackBody
	if err := decodeBody(w, r, &body); err != nil || body.File == "" {
		h.fail(w, http.StatusBadRequest, "file is required", nil)
		return
	}
	entry := survey.IndexEntry{File: body.File, Title: body.Title, Description: body.Description, Unit: body.Unit}
	switch err := h.Store.UpdateTrack(r.Context(), entry); {
	case errors.Is(err, storage.ErrNotFound):
		h.fail(w, http.StatusNotFound, "track not found", nil)
		return
	case err != nil:
		h.fail(w, http.StatusInternalServerError, "update track index", err)
		return
	}
	h.reloadAsync()
	h.respondJSON(w, okResponse{OK: true})
}

func (h *Handler) handleTrackDelete(w http.ResponseWriter, r *http.Request) {
	var body trackBody
	if err := decodeBody(w, r, &body); err != nil || body.File == "" {
		h.fail(w, http.StatusBadRequest, "file is required", nil)
		return
	}
	if err := h.Store.DeleteTrack(r.Context(), body.File); err != nil && !errors.Is(err, storage.ErrNotFound) {
		h.fail(w, http.StatusInternalServerError, "update track index", err)
		return
	}
	if err := h.Blobs.Remove(body.File); err != nil {
		h.logf("remove %s: %v", body.File, err)
	}
	h.reloadAsync()
	h.respondJSON(w, okResponse{OK: true})
}

// ---- images ----

func (h *Handler) uploadImage(w http.ResponseWriter, r *http.Request, save func(original string, f multipart.File) (string, error)) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		h.fail(w, http.StatusBadRequest, "invalid multipart form", nil)
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		h.fail(w, http.StatusBadRequest, "missing image", nil)
		return
	}
	defer file.Close()
	key, err := save(hdr.Filename, file)
	if err != nil {
		h.fail(w, http.StatusBadRequest, "store image", err)
		return
	}
	h.respondJSON(w, okResponse{OK: true, File: key})
}

func (h *Handler) handleSiteImageUpload(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")
	h.uploadImage(w, r, func(original string, f multipart.File) (string, error) {
		return h.Blobs.SaveSiteImage(siteID, original, f)
	})
}

func (h *Handler) handleSampleImageUpload(w http.ResponseWriter, r *http.Request) {
	sampleID := r.PathValue("sampleId")
	h.uploadImage(w, r, func(original string, f multipart.File) (string, error) {
		return h.Blobs.SaveSampleImage(sampleID, original, f)
	})
}

// detachImage removes the file behind key and drops it from the record
// with id. Sites also lose the caption at the same position.
func (h *Handler) detachImage(w http.ResponseWriter, r *http.Request, ops recordOps, id, key string, withCaptions bool) {
	if err := h.Blobs.Remove(key); err != nil {
		h.fail(w, http.StatusBadRequest, "remove image", err)
		return
	}
	list, err := ops.list(h, r)
	if err != nil {
		h.fail(w, http.StatusInternalServerError, "read records", err)
		return
	}
	for _, rec := range list {
		if rec.ID() != id {
			continue
		}
		if rec.DetachImage(key, withCaptions) {
			if err := ops.save(h, r, rec); err != nil {
				h.fail(w, http.StatusInternalServerError, "save record", err)
				return
			}
		}
		break
	}
	h.respondJSON(w, okResponse{OK: true})
}

func (h *Handler) handleSiteImageDelete(w http.ResponseWriter, r *http.Request) {
	siteID := r.PathValue("siteId")
	h.detachImage(w, r, siteOps, siteID, storage.SiteImageKey(siteID, r.PathValue("imageName")), true)
}

func (h *Handler) handleSampleImageDelete(w http.ResponseWriter, r *http.Request) {
	sampleID := r.PathValue("sampleId")
	h.detachImage(w, r, sampleOps, sampleID, storage.SampleImageKey(sampleID, r.PathValue("imageName")), false)
}
