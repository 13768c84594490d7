package dataset

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"survey-map/pkg/survey"
)

// maxTrackBytes caps a single track download.
const maxTrackBytes = 64 << 20

// ErrTooLarge reports a download over the source's byte limit.
var ErrTooLarge = errors.New("track too large")

// HTTPSource reads the dataset from a running storage server.
type HTTPSource struct {
	BaseURL   string
	IndexPath string // default "api/tracks"
	Client    *http.Client
	// MaxBytes caps one response body; 0 means 64 MiB.
	MaxBytes int64
}

// NewHTTPSource returns a source for baseURL with a bounded client timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL:   baseURL,
		IndexPath: "api/tracks",
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *HTTPSource) get(ctx context.Context, path string) ([]byte, error) {
	target, err := url.JoinPath(s.BaseURL, strings.Split(path, "/")...)
	if err != nil {
		return nil, fmt.Errorf("build url for %q: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	limit := s.MaxBytes
	if limit <= 0 {
		limit = maxTrackBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("%s: %w (over %d bytes)", path, ErrTooLarge, limit)
	}
	return body, nil
}

// TrackIndex fetches and normalises the index.
func (s *HTTPSource) TrackIndex(ctx context.Context) ([]survey.IndexEntry, error) {
	path := s.IndexPath
	if path == "" {
		path = "api/tracks"
	}
	body, err := s.get(ctx, path)
	if err != nil {
		return nil, err
	}
	var entries []survey.IndexEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, fmt.Errorf("decode track index: %w", err)
	}
	return entries, nil
}

// TrackFile fetches the raw text of file.
func (s *HTTPSource) TrackFile(ctx context.Context, file string) ([]byte, error) {
	return s.get(ctx, file)
}

// IndexLister lists index entries; storage.Store satisfies it.
type IndexLister interface {
	Tracks(ctx context.Context) ([]survey.IndexEntry, error)
}

// FileReader reads stored track files by key; storage.Blobs satisfies it.
type FileReader interface {
	ReadFile(ctx context.Context, file string) ([]byte, error)
}

// StoreSource reads the dataset in-process from the storage layer.
type StoreSource struct {
	Index IndexLister
	Files FileReader
}

// TrackIndex lists the stored entries.
func (s StoreSource) TrackIndex(ctx context.Context) ([]survey.IndexEntry, error) {
	return s.Index.Tracks(ctx)
}

// TrackFile reads a stored file.
func (s StoreSource) TrackFile(ctx context.Context, file string) ([]byte, error) {
	return s.Files.ReadFile(ctx, file)
}
