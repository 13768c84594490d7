package dataset

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"survey-map/pkg/logger"
	"survey-map/pkg/survey"
	"survey-map/pkg/trackparse"
)

// FallbackIndex is used when the track index cannot be fetched.
var FallbackIndex = []survey.IndexEntry{
	{File: "data/Track 11 Jul 2025 22-19-23.rctrk", Unit: survey.DefaultUnit},
}

// ErrStale is returned for a load that a newer load overtook.
var ErrStale = errors.New("dataset: load superseded by a newer one")

var errNoData = errors.New("no data")

// Source is the storage collaborator: the track index and raw track files.
type Source interface {
	TrackIndex(ctx context.Context) ([]survey.IndexEntry, error)
	TrackFile(ctx context.Context, file string) ([]byte, error)
}

// FileResult reports what happened to one index entry.
type FileResult struct {
	File   string            `json:"file"`
	Points int               `json:"points"`
	Format trackparse.Format `json:"format,omitempty"`
	Skip   string            `json:"skip,omitempty"`
}

// OK reports whether the file became a track.
func (r FileResult) OK() bool { return r.Skip == "" }

// Loader fetches and parses the whole dataset, one file at a time.
type Loader struct {
	src      Source
	fallback []survey.IndexEntry
	gen      atomic.Uint64
	logf     func(string, ...any)
}

// NewLoader builds a loader over src. logf may be nil.
func NewLoader(src Source, logf func(string, ...any)) *Loader {
	if logf == nil {
		logf = func(string, ...any) {}
	}
	return &Loader{src: src, fallback: FallbackIndex, logf: logf}
}

// WithFallback replaces the fallback index.
func (l *Loader) WithFallback(entries []survey.IndexEntry) *Loader {
	l.fallback = entries
	return l
}

// Load builds a new Dataset. Failures of single files are recorded in
// Dataset.Results and never abort the load. When another Load started
// after this one, the result is discarded with ErrStale.
func (l *Loader) Load(ctx context.Context) (*Dataset, error) {
	gen := l.gen.Add(1)

	entries, err := l.src.TrackIndex(ctx)
	if err != nil {
		l.logf("track index unavailable (%v) → fallback list", err)
		entries = l.fallback
	}

	ds := New(gen)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		ds.Results = append(ds.Results, l.loadOne(ctx, ds, e))
	}

	if l.gen.Load() != gen {
		return nil, ErrStale
	}
	loaded := 0
	for _, r := range ds.Results {
		if r.OK() {
			loaded++
		}
	}
	l.logf("dataset generation %d: %d/%d tracks, %d points", gen, loaded, len(ds.Results), len(ds.Points))
	return ds, nil
}

func (l *Loader) loadOne(ctx context.Context, ds *Dataset, e survey.IndexEntry) FileResult {
	res := FileResult{File: e.File}
	key := logger.Key(ds.Generation, e.File)
	logger.Begin(key)
	logT(key, e.File, "Fetch", "unit=%q", e.Unit)

	body, err := l.src.TrackFile(ctx, e.File)
	if err != nil {
		res.Skip = err.Error()
		logger.FlushError(key, err)
		return res
	}
	logT(key, e.File, "Fetch", "%d bytes", len(body))

	parsed := trackparse.Parse(string(body), trackparse.Options{Track: e.File, Unit: e.Unit})
	if len(parsed.Points) == 0 {
		res.Skip = errNoData.Error()
		logger.FlushError(key, errNoData)
		return res
	}
	logT(key, e.File, "Parse", "format=%s points=%d", parsed.Format, len(parsed.Points))

	ds.AddTrack(e, parsed.Points)
	res.Points = len(parsed.Points)
	res.Format = parsed.Format
	logger.Success(key, fmt.Sprintf("%d points (%s)", res.Points, res.Format))
	return res
}

// logT writes a detail line into the load's buffer for file.
func logT(key, file, component, format string, v ...any) {
	logger.Append(key, fmt.Sprintf("[%-6s][%s] %s", file, component, fmt.Sprintf(format, v...)))
}

// Coordinator publishes the current Dataset to concurrent readers.
type Coordinator struct {
	loader  *Loader
	current atomic.Pointer[Dataset]
	notify  func(*Dataset)
}

// NewCoordinator starts with an empty dataset.
func NewCoordinator(loader *Loader) *Coordinator {
	c := &Coordinator{loader: loader}
	c.current.Store(New(0))
	return c
}

// OnPublish registers fn to run after each successful publication. Call it
// before the first Reload.
func (c *Coordinator) OnPublish(fn func(*Dataset)) { c.notify = fn }

// Current returns the published dataset; it is never nil.
func (c *Coordinator) Current() *Dataset { return c.current.Load() }

// Reload loads a new dataset and publishes it unless a newer generation
// already won. On failure the previous dataset stays published.
func (c *Coordinator) Reload(ctx context.Context) (*Dataset, error) {
	ds, err := c.loader.Load(ctx)
	if err != nil {
		return c.Current(), err
	}
	for {
		cur := c.current.Load()
		if cur.Generation >= ds.Generation {
			return cur, ErrStale
		}
		if c.current.CompareAndSwap(cur, ds) {
			if c.notify != nil {
				c.notify(ds)
			}
			return ds, nil
		}
	}
}
