// Package dataset owns the working set of tracks built from one load of the
// track index, and runs the render pipeline over it: time filter, spatial
// aggregation, range computation and color mapping.
//
// A Dataset is built by a Loader and then only read. Servers publish it to
// request handlers through a Coordinator and replace it wholesale on reload;
// per-request choices (zoom, metric, ramp, window, hidden tracks, base map)
// travel in options and never touch the shared value.
package dataset

import (
	"survey-map/pkg/colormap"
	"survey-map/pkg/survey"
	"survey-map/pkg/timerange"
)

// Dataset is the coordinator state of one load: tracks in load order, the
// concatenated point set, global time bounds, the spatial extent and the
// hue sequence used to color tracks.
type Dataset struct {
	Generation uint64
	Tracks     []*survey.Track
	Points     []survey.Point
	Bounds     timerange.Bounds
	Results    []FileResult

	byFile    map[string]*survey.Track
	extent    survey.Extent
	hasExtent bool
	hues      colormap.HueSequence
}

// New returns an empty dataset for load generation gen.
func New(gen uint64) *Dataset {
	return &Dataset{Generation: gen, byFile: make(map[string]*survey.Track)}
}

// AddTrack registers the parsed points of entry. Points are sorted by
// timestamp (stable) and the track gets the next hue. A file already
// present is replaced in place, keeping its hue; only then are the derived
// point set, bounds and extent rebuilt from every track.
func (d *Dataset) AddTrack(entry survey.IndexEntry, pts []survey.Point) *survey.Track {
	survey.SortPoints(pts)
	for i := range pts {
		pts[i].Track = entry.File
	}

	t, exists := d.byFile[entry.File]
	if !exists {
		t = &survey.Track{File: entry.File, Hue: d.hues.Next()}
		d.byFile[entry.File] = t
		d.Tracks = append(d.Tracks, t)
	}
	t.Title = entry.Title
	t.Description = entry.Description
	t.Unit = entry.Unit
	t.Points = pts

	if exists {
		d.reindex()
	} else {
		d.index(pts)
	}
	return t
}

// index folds the points of a newly appended track into the derived state.
func (d *Dataset) index(pts []survey.Point) {
	d.Points = append(d.Points, pts...)
	for _, p := range pts {
		d.Bounds.Observe(p.Timestamp)
	}
	ext, ok := survey.ExtentOf(pts)
	switch {
	case !ok:
	case !d.hasExtent:
		d.extent, d.hasExtent = ext, true
	default:
		d.extent = d.extent.Union(ext)
	}
}

// reindex rebuilds the derived point set, bounds and extent.
func (d *Dataset) reindex() {
	d.Points = nil
	d.Bounds = timerange.Bounds{}
	for _, t := range d.Tracks {
		d.Points = append(d.Points, t.Points...)
	}
	for _, p := range d.Points {
		d.Bounds.Observe(p.Timestamp)
	}
	d.extent, d.hasExtent = survey.ExtentOf(d.Points)
}

// Track looks a track up by file key.
func (d *Dataset) Track(file string) (*survey.Track, bool) {
	t, ok := d.byFile[file]
	return t, ok
}

// Extent is the bounding box of all points, for fitting the viewport.
func (d *Dataset) Extent() (survey.Extent, bool) { return d.extent, d.hasExtent }

// shown reports whether t takes part in a view.
func shown(t *survey.Track, hidden map[string]bool) bool {
	return !hidden[t.File]
}

// VisiblePoints concatenates the points of shown tracks.
func (d *Dataset) VisiblePoints(hidden map[string]bool) []survey.Point {
	var out []survey.Point
	for _, t := range d.Tracks {
		if shown(t, hidden) {
			out = append(out, t.Points...)
		}
	}
	return out
}
