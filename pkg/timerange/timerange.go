// Package timerange restricts point sequences to a timestamp window.
package timerange

import "survey-map/pkg/survey"

// Bounds is the min/max nonzero timestamp (Unix seconds) seen across a
// whole dataset. The zero value means no point ever carried a timestamp.
type Bounds struct {
	Min int64 `json:"min"`
	Max int64 `json:"max"`
	Set bool  `json:"set"`
}

// Observe widens b to include ts; zero timestamps are ignored.
func (b *Bounds) Observe(ts int64) {
	if ts == 0 {
		return
	}
	if !b.Set {
		b.Min, b.Max, b.Set = ts, ts, true
		return
	}
	b.Min = min(b.Min, ts)
	b.Max = max(b.Max, ts)
}

// BoundsOf scans pts.
func BoundsOf(pts []survey.Point) Bounds {
	var b Bounds
	for _, p := range pts {
		b.Observe(p.Timestamp)
	}
	return b
}

// Window is an inclusive range in milliseconds since the epoch. A zero end
// means "unset" and falls back to the dataset bounds.
type Window struct {
	StartMs int64
	EndMs   int64
}

// Resolve fills unset ends from b.
func (w Window) Resolve(b Bounds) Window {
	if w.StartMs == 0 {
		w.StartMs = b.Min * 1000
	}
	if w.EndMs == 0 {
		w.EndMs = b.Max * 1000
	}
	return w
}

// Contains reports whether ts (seconds) lies inside w.
func (w Window) Contains(ts int64) bool {
	ms := ts * 1000
	return ms >= w.StartMs && ms <= w.EndMs
}

// Filter keeps the points whose timestamp lies inside w. When b was never
// set the dataset has no usable time metadata and pts is returned as is.
// The input slice is never modified.
func Filter(pts []survey.Point, w Window, b Bounds) []survey.Point {
	if !b.Set {
		return pts
	}
	w = w.Resolve(b)
	out := make([]survey.Point, 0, len(pts))
	for _, p := range pts {
		if w.Contains(p.Timestamp) {
			out = append(out, p)
		}
	}
	return out
}
