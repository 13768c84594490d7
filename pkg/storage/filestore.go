package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"survey-map/pkg/survey"
)

const (
	sitesFile   = "sites.json"
	indexFile   = "track_index.json"
	samplesFile = "samples.json"
)

// FileStore keeps metadata in pretty-printed JSON files inside the data
// directory. Every operation is a read-modify-write executed on one
// goroutine, so concurrent requests never interleave on a file.
type FileStore struct {
	dir  string
	ops  chan func()
	quit chan struct{}
}

// NewFileStore prepares dir (and dir/images) and creates the metadata files
// as empty lists when missing.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Join(dir, "images"), 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}
	for _, name := range []string{sitesFile, indexFile, samplesFile} {
		full := filepath.Join(dir, name)
		if _, err := os.Stat(full); err == nil {
			continue
		}
		if err := os.WriteFile(full, []byte("[]"), 0o644); err != nil {
			return nil, fmt.Errorf("create %s: %w", name, err)
		}
	}
	s := &FileStore{dir: dir, ops: make(chan func()), quit: make(chan struct{})}
	go s.loop()
	return s, nil
}

func (s *FileStore) loop() {
	for {
		select {
		case op := <-s.ops:
			op()
		case <-s.quit:
			return
		}
	}
}

// Close stops the worker goroutine.
func (s *FileStore) Close() error {
	close(s.quit)
	return nil
}

// do runs fn on the worker goroutine and waits for its result.
func (s *FileStore) do(ctx context.Context, fn func() error) error {
	done := make(chan error, 1)
	select {
	case s.ops <- func() { done <- fn() }:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.quit:
		return fmt.Errorf("file store closed")
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *FileStore) readJSON(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", name, err)
	}
	return nil
}

// writeJSON replaces name atomically with v indented by two spaces.
func (s *FileStore) writeJSON(name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(s.dir, name+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(s.dir, name))
}

// The index file may mix bare file names and objects. Entries are kept raw
// so the ones an operation does not touch are written back unchanged.

func (s *FileStore) readIndex() ([]json.RawMessage, error) {
	var raw []json.RawMessage
	if err := s.readJSON(indexFile, &raw); err != nil {
		// Anything but a list reads as an empty index.
		var pathErr *os.PathError
		if errors.As(err, &pathErr) {
			return nil, err
		}
		return nil, nil
	}
	return raw, nil
}

func decodeEntry(raw json.RawMessage) (survey.IndexEntry, bool) {
	var e survey.IndexEntry
	if err := json.Unmarshal(raw, &e); err != nil || e.File == "" {
		return e, false
	}
	return e, true
}

// encodeEntry writes entries without metadata in the bare-name form.
func encodeEntry(e survey.IndexEntry) (json.RawMessage, error) {
	e = normalizeEntry(e)
	if e.Title == "" && e.Description == "" && e.Unit == survey.DefaultUnit {
		return json.Marshal(e.File)
	}
	return json.Marshal(struct {
		File        string `json:"file"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Unit        string `json:"unit"`
	}{e.File, e.Title, e.Description, e.Unit})
}

// Tracks implements Store.
func (s *FileStore) Tracks(ctx context.Context) ([]survey.IndexEntry, error) {
	var out []survey.IndexEntry
	err := s.do(ctx, func() error {
		raw, err := s.readIndex()
		if err != nil {
			return err
		}
		out = make([]survey.IndexEntry, 0, len(raw))
		for _, r := range raw {
			if e, ok := decodeEntry(r); ok {
				out = append(out, e)
			}
		}
		return nil
	})
	return out, err
}

// AddTrack implements Store.
func (s *FileStore) AddTrack(ctx context.Context, e survey.IndexEntry) error {
	return s.do(ctx, func() error {
		raw, err := s.readIndex()
		if err != nil {
			return err
		}
		enc, err := encodeEntry(e)
		if err != nil {
			return err
		}
		return s.writeJSON(indexFile, append(raw, enc))
	})
}

// UpdateTrack implements Store.
func (s *FileStore) UpdateTrack(ctx context.Context, e survey.IndexEntry) error {
	return s.do(ctx, func() error {
		raw, err := s.readIndex()
		if err != nil {
			return err
		}
		found := false
		for i, r := range raw {
			if cur, ok := decodeEntry(r); ok && cur.File == e.File {
				if raw[i], err = encodeEntry(e); err != nil {
					return err
				}
				found = true
			}
		}
		if !found {
			return ErrNotFound
		}
		return s.writeJSON(indexFile, raw)
	})
}

// DeleteTrack implements Store.
func (s *FileStore) DeleteTrack(ctx context.Context, file string) error {
	return s.do(ctx, func() error {
		raw, err := s.readIndex()
		if err != nil {
			return err
		}
		kept := make([]json.RawMessage, 0, len(raw))
		for _, r := range raw {
			if cur, ok := decodeEntry(r); ok && cur.File == file {
				continue
			}
			kept = append(kept, r)
		}
		if len(kept) == len(raw) {
			return ErrNotFound
		}
		return s.writeJSON(indexFile, kept)
	})
}

// ReplaceTracks implements Store.
func (s *FileStore) ReplaceTracks(ctx context.Context, entries []survey.IndexEntry) error {
	return s.do(ctx, func() error {
		raw := make([]json.RawMessage, 0, len(entries))
		for _, e := range entries {
			enc, err := encodeEntry(e)
			if err != nil {
				return err
			}
			raw = append(raw, enc)
		}
		return s.writeJSON(indexFile, raw)
	})
}

func (s *FileStore) records(ctx context.Context, name string) ([]Record, error) {
	var out []Record
	err := s.do(ctx, func() error {
		out = nil
		return s.readJSON(name, &out)
	})
	if out == nil && err == nil {
		out = []Record{}
	}
	return out, err
}

func (s *FileStore) mutate(ctx context.Context, name string, fn func([]Record) ([]Record, error)) error {
	return s.do(ctx, func() error {
		var list []Record
		if err := s.readJSON(name, &list); err != nil {
			return err
		}
		next, err := fn(list)
		if err != nil {
			return err
		}
		if next == nil {
			next = []Record{}
		}
		return s.writeJSON(name, next)
	})
}

// Sites implements Store.
func (s *FileStore) Sites(ctx context.Context) ([]Record, error) { return s.records(ctx, sitesFile) }

// SaveSite implements Store.
func (s *FileStore) SaveSite(ctx context.Context, r Record) error {
	return s.mutate(ctx, sitesFile, func(list []Record) ([]Record, error) { return upsert(list, r), nil })
}

// DeleteSite implements Store.
func (s *FileStore) DeleteSite(ctx context.Context, id string) error {
	return s.mutate(ctx, sitesFile, func(list []Record) ([]Record, error) { return without(list, id), nil })
}

// ReplaceSites implements Store.
func (s *FileStore) ReplaceSites(ctx context.Context, sites []Record) error {
	return s.mutate(ctx, sitesFile, func([]Record) ([]Record, error) { return sites, nil })
}

// Samples implements Store.
func (s *FileStore) Samples(ctx context.Context) ([]Record, error) {
	return s.records(ctx, samplesFile)
}

// SaveSample implements Store.
func (s *FileStore) SaveSample(ctx context.Context, r Record) error {
	return s.mutate(ctx, samplesFile, func(list []Record) ([]Record, error) { return upsert(list, r), nil })
}

// DeleteSample implements Store.
func (s *FileStore) DeleteSample(ctx context.Context, id string) error {
	return s.mutate(ctx, samplesFile, func(list []Record) ([]Record, error) { return without(list, id), nil })
}
