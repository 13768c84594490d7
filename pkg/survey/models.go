// Package survey holds the normalized measurement model shared by the
// parser, the aggregation pipeline and the storage server.
package survey

import (
	"encoding/json"
	"math"
	"sort"
)

// DefaultUnit is the unit label assumed for index entries that carry none.
const DefaultUnit = "usv"

// Point is one geotagged measurement in canonical units.
// Dose is µSv/h, CountRate is counts per second, Energy is keV (NaN when
// absent) and Timestamp is Unix seconds (0 when unknown).
type Point struct {
	Lat       float64
	Lon       float64
	Dose      float64
	CountRate float64
	Energy    float64
	Timestamp int64
	Track     string
}

// HasMeasurement reports whether the point carries any reading.
// A point with both channels at zero means "no measurement" and stays out
// of statistics and range computation, but is still rendered.
func (p Point) HasMeasurement() bool { return p.Dose != 0 || p.CountRate != 0 }

// HasEnergy reports whether Energy holds a usable value.
func (p Point) HasEnergy() bool { return !math.IsNaN(p.Energy) && !math.IsInf(p.Energy, 0) && p.Energy > 0 }

// Track is one source file's ordered point sequence.
type Track struct {
	File        string
	Title       string
	Description string
	Unit        string
	Hue         float64
	Points      []Point
}

// Name returns the title or, when empty, the last path element of File.
func (t *Track) Name() string {
	if t.Title != "" {
		return t.Title
	}
	for i := len(t.File) - 1; i >= 0; i-- {
		if t.File[i] == '/' {
			return t.File[i+1:]
		}
	}
	return t.File
}

// SortPoints orders points by timestamp, keeping the original order of ties.
func SortPoints(pts []Point) {
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Timestamp < pts[j].Timestamp })
}

// IndexEntry declares one track file of the dataset.
type IndexEntry struct {
	File        string `json:"file"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Unit        string `json:"unit"`
}

// UnmarshalJSON accepts both the object form and the legacy bare file name.
func (e *IndexEntry) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*e = IndexEntry{File: name, Unit: DefaultUnit}
		return nil
	}
	type plain IndexEntry
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Unit == "" {
		p.Unit = DefaultUnit
	}
	*e = IndexEntry(p)
	return nil
}

// Extent is a geographic bounding box.
type Extent struct {
	MinLat float64 `json:"minLat"`
	MinLon float64 `json:"minLon"`
	MaxLat float64 `json:"maxLat"`
	MaxLon float64 `json:"maxLon"`
}

// ExtentOf returns the bounding box of pts and false when pts is empty.
func ExtentOf(pts []Point) (Extent, bool) {
	if len(pts) == 0 {
		return Extent{}, false
	}
	e := Extent{MinLat: pts[0].Lat, MaxLat: pts[0].Lat, MinLon: pts[0].Lon, MaxLon: pts[0].Lon}
	for _, p := range pts[1:] {
		e.MinLat = math.Min(e.MinLat, p.Lat)
		e.MaxLat = math.Max(e.MaxLat, p.Lat)
		e.MinLon = math.Min(e.MinLon, p.Lon)
		e.MaxLon = math.Max(e.MaxLon, p.Lon)
	}
	return e, true
}

// Union is the smallest extent covering e and o.
func (e Extent) Union(o Extent) Extent {
	return Extent{
		MinLat: math.Min(e.MinLat, o.MinLat),
		MinLon: math.Min(e.MinLon, o.MinLon),
		MaxLat: math.Max(e.MaxLat, o.MaxLat),
		MaxLon: math.Max(e.MaxLon, o.MaxLon),
	}
}

// Metric selects the channel a view is colored by.
type Metric string

const (
	MetricDose Metric = "dose"
	MetricCps  Metric = "cps"
)

// ParseMetric maps a query value to a Metric, defaulting to dose.
func ParseMetric(s string) Metric {
	if Metric(s) == MetricCps || s == "countRate" {
		return MetricCps
	}
	return MetricDose
}

// Of returns the metric's value for p.
func (m Metric) Of(p Point) float64 {
	if m == MetricCps {
		return p.CountRate
	}
	return p.Dose
}
