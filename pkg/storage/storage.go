// Package storage keeps the survey metadata (track index, sites, samples)
// and the blob files (tracks, images) behind the HTTP API.
//
// Metadata lives either in JSON files inside the data directory (FileStore)
// or in a SQL database (SQLStore). Blob files always live in the data
// directory and are addressed by "data/..." keys, the same strings the track
// index and site records carry.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/google/uuid"

	"survey-map/pkg/survey"
)

// ErrNotFound is returned when a keyed record or blob does not exist.
var ErrNotFound = errors.New("storage: not found")

// Record is a free-form site or sample document. Only "id", "images" and
// "captions" have meaning to the server; every other field is kept as sent.
type Record map[string]any

// ID returns the record id as a string; numeric ids are formatted.
func (r Record) ID() string {
	switch v := r["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return ""
	}
}

// EnsureID assigns a random id to records sent without one.
func (r Record) EnsureID() string {
	if id := r.ID(); id != "" {
		return id
	}
	id := uuid.NewString()
	r["id"] = id
	return id
}

// Strings reads key as a list of strings; non-string items become "".
func (r Record) Strings(key string) ([]string, bool) {
	switch v := r[key].(type) {
	case []string:
		return append([]string(nil), v...), true
	case []any:
		out := make([]string, len(v))
		for i, item := range v {
			out[i], _ = item.(string)
		}
		return out, true
	default:
		return nil, false
	}
}

// DetachImage removes rel from the record's images and, when withCaptions
// is set, the caption at the same position. It reports whether rel was
// present.
func (r Record) DetachImage(rel string, withCaptions bool) bool {
	images, ok := r.Strings("images")
	if !ok {
		return false
	}
	idx := -1
	for i, img := range images {
		if img == rel {
			idx = i
			break
		}
	}
	if idx < 0 {
		return false
	}
	r["images"] = append(images[:idx], images[idx+1:]...)
	if !withCaptions {
		return true
	}
	if captions, ok := r.Strings("captions"); ok && idx < len(captions) {
		r["captions"] = append(captions[:idx], captions[idx+1:]...)
	}
	return true
}

// Store is the metadata backend.
type Store interface {
	// Tracks returns the normalised index in insertion order.
	Tracks(ctx context.Context) ([]survey.IndexEntry, error)
	AddTrack(ctx context.Context, e survey.IndexEntry) error
	// UpdateTrack replaces the entry with the same file; ErrNotFound if none.
	UpdateTrack(ctx context.Context, e survey.IndexEntry) error
	// DeleteTrack drops the entry for file; ErrNotFound if none.
	DeleteTrack(ctx context.Context, file string) error
	// ReplaceTracks overwrites the whole index.
	ReplaceTracks(ctx context.Context, entries []survey.IndexEntry) error

	Sites(ctx context.Context) ([]Record, error)
	// SaveSite inserts the site or replaces the one with the same id,
	// keeping its position.
	SaveSite(ctx context.Context, r Record) error
	DeleteSite(ctx context.Context, id string) error
	ReplaceSites(ctx context.Context, sites []Record) error

	Samples(ctx context.Context) ([]Record, error)
	SaveSample(ctx context.Context, r Record) error
	DeleteSample(ctx context.Context, id string) error

	Close() error
}

// normalizeEntry fills the default unit.
func normalizeEntry(e survey.IndexEntry) survey.IndexEntry {
	if e.Unit == "" {
		e.Unit = survey.DefaultUnit
	}
	return e
}

// upsert replaces the record with r's id or appends r.
func upsert(list []Record, r Record) []Record {
	id := r.ID()
	for i := range list {
		if list[i].ID() == id {
			list[i] = r
			return list
		}
	}
	return append(list, r)
}

// without drops every record with id.
func without(list []Record, id string) []Record {
	out := list[:0]
	for _, r := range list {
		if r.ID() != id {
			out = append(out, r)
		}
	}
	return out
}

// Open returns the JSON file store for an empty or "file" DBType and the
// SQL store otherwise.
func Open(ctx context.Context, cfg Config) (Store, error) {
	switch normalizeDBType(cfg.DBType) {
	case "", "file", "json":
		return NewFileStore(cfg.DataDir)
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	return OpenSQL(ctx, cfg)
}
