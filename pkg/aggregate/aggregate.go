// Package aggregate buckets points into screen-space grid cells whose size
// depends on the zoom level, and reduces every cell to one representative
// point. Coarse cells at low zoom are the level-of-detail strategy of the
// map: fewer markers, each standing for its neighbourhood.
package aggregate

import (
	"math"
	"sort"

	"survey-map/pkg/survey"
)

// CellSize returns the cell edge in pixels for a zoom level.
func CellSize(zoom int) float64 {
	switch {
	case zoom >= 12:
		return 10
	case zoom >= 10:
		return 20
	case zoom >= 8:
		return 40
	case zoom >= 6:
		return 80
	default:
		return 120
	}
}

// Policy picks which reduction of a cell feeds the color.
type Policy int

const (
	// Mean colors a cell by the average of its points.
	Mean Policy = iota
	// Max colors a cell by its strongest point.
	Max
)

// Key is the integer grid coordinate of a cell.
type Key struct {
	X, Y int64
}

// Cell is the reduction of all points falling into one grid square.
// Energy is NaN and Timestamp is 0 when no contributing point had them.
type Cell struct {
	Key       Key
	Lat       float64
	Lon       float64
	SumDose   float64
	SumCps    float64
	MeanDose  float64
	MaxDose   float64
	MeanCps   float64
	MaxCps    float64
	Energy    float64
	Timestamp int64
	Count     int
	Measured  int
}

// HasMeasurement reports whether at least one contributing point carried a
// reading.
func (c Cell) HasMeasurement() bool { return c.Measured > 0 }

// HasEnergy reports whether Energy holds a mean.
func (c Cell) HasEnergy() bool { return !math.IsNaN(c.Energy) }

// Value returns the metric reduced by policy.
func (c Cell) Value(m survey.Metric, p Policy) float64 {
	switch {
	case m == survey.MetricCps && p == Max:
		return c.MaxCps
	case m == survey.MetricCps:
		return c.MeanCps
	case p == Max:
		return c.MaxDose
	default:
		return c.MeanDose
	}
}

// keyOf projects p and returns its grid cell; false when the projection
// is undefined.
func keyOf(p survey.Point, proj Projector, size float64) (Key, bool) {
	px, py := proj.Project(p.Lat, p.Lon)
	if math.IsNaN(px) || math.IsNaN(py) {
		return Key{}, false
	}
	return Key{X: int64(math.Floor(px / size)), Y: int64(math.Floor(py / size))}, true
}

// Members returns the points of pts that fall into cell k at zoom, in
// input order.
func Members(pts []survey.Point, zoom int, proj Projector, k Key) []survey.Point {
	if proj == nil {
		proj = WebMercator(zoom)
	}
	size := CellSize(zoom)
	var out []survey.Point
	for _, p := range pts {
		if pk, ok := keyOf(p, proj, size); ok && pk == k {
			out = append(out, p)
		}
	}
	return out
}

type acc struct {
	sumLat, sumLon     float64
	sumDose, sumCps    float64
	maxDose, maxCps    float64
	sumEnergy, sumTime float64
	nEnergy, nTime     int
	n, measured        int
}

// Aggregate groups pts by the grid at zoom. The input slice is not modified.
// Cells come back ordered by row, then column.
func Aggregate(pts []survey.Point, zoom int, proj Projector) []Cell {
	if len(pts) == 0 {
		return nil
	}
	if proj == nil {
		proj = WebMercator(zoom)
	}
	size := CellSize(zoom)

	cells := make(map[Key]*acc)
	for _, p := range pts {
		k, ok := keyOf(p, proj, size)
		if !ok {
			continue
		}
		a := cells[k]
		if a == nil {
			a = &acc{maxDose: p.Dose, maxCps: p.CountRate}
			cells[k] = a
		}
		a.sumLat += p.Lat
		a.sumLon += p.Lon
		a.sumDose += p.Dose
		a.sumCps += p.CountRate
		a.maxDose = math.Max(a.maxDose, p.Dose)
		a.maxCps = math.Max(a.maxCps, p.CountRate)
		if p.HasEnergy() {
			a.sumEnergy += p.Energy
			a.nEnergy++
		}
		if p.Timestamp != 0 {
			a.sumTime += float64(p.Timestamp)
			a.nTime++
		}
		if p.HasMeasurement() {
			a.measured++
		}
		a.n++
	}

	out := make([]Cell, 0, len(cells))
	for k, a := range cells {
		n := float64(a.n)
		c := Cell{
			Key:      k,
			Lat:      a.sumLat / n,
			Lon:      a.sumLon / n,
			SumDose:  a.sumDose,
			SumCps:   a.sumCps,
			MeanDose: a.sumDose / n,
			MaxDose:  a.maxDose,
			MeanCps:  a.sumCps / n,
			MaxCps:   a.maxCps,
			Energy:   math.NaN(),
			Count:    a.n,
			Measured: a.measured,
		}
		if a.nEnergy > 0 {
			c.Energy = a.sumEnergy / float64(a.nEnergy)
		}
		if a.nTime > 0 {
			c.Timestamp = int64(math.Round(a.sumTime / float64(a.nTime)))
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key.Y != out[j].Key.Y {
			return out[i].Key.Y < out[j].Key.Y
		}
		return out[i].Key.X < out[j].Key.X
	})
	return out
}
