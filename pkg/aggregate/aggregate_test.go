package aggregate

import (
	"math"
	"testing"

	"survey-map/pkg/survey"
)

// identity projects degrees straight onto pixels so tests can place points
// into known cells.
var identity = ProjectorFunc(func(lat, lon float64) (float64, float64) { return lon, lat })

func TestCellSize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		zoom int
		want float64
	}{
		{0, 120}, {5, 120}, {6, 80}, {7, 80}, {8, 40}, {9, 40},
		{10, 20}, {11, 20}, {12, 10}, {18, 10},
	}
	for _, tc := range tests {
		if got := CellSize(tc.zoom); got != tc.want {
			t.Fatalf("CellSize(%d)=%v want %v", tc.zoom, got, tc.want)
		}
	}
}

func TestAggregateReductions(t *testing.T) {
	t.Parallel()

	nan := math.NaN()
	pts := []survey.Point{
		{Lat: 1, Lon: 1, Dose: 0.2, CountRate: 4, Energy: 600, Timestamp: 100},
		{Lat: 3, Lon: 3, Dose: 0.4, CountRate: 8, Energy: nan, Timestamp: 0},
		{Lat: 5, Lon: 5, Dose: 0, CountRate: 0, Energy: 700, Timestamp: 300},
		// second cell at zoom 12 (cell size 10)
		{Lat: 1, Lon: 15, Dose: 1, CountRate: 2, Energy: nan},
	}
	snapshot := append([]survey.Point(nil), pts...)

	cells := Aggregate(pts, 12, identity)
	if len(cells) != 2 {
		t.Fatalf("cells=%d want 2", len(cells))
	}
	first := cells[0]
	if first.Key != (Key{X: 0, Y: 0}) || first.Count != 3 || first.Measured != 2 {
		t.Fatalf("first cell=%+v", first)
	}
	if math.Abs(first.MeanDose-0.2) > 1e-12 || first.MaxDose != 0.4 {
		t.Fatalf("dose mean/max = %v/%v", first.MeanDose, first.MaxDose)
	}
	if math.Abs(first.MeanCps-4) > 1e-12 || first.MaxCps != 8 {
		t.Fatalf("cps mean/max = %v/%v", first.MeanCps, first.MaxCps)
	}
	if first.Lat != 3 || first.Lon != 3 {
		t.Fatalf("centroid=%v,%v want 3,3", first.Lat, first.Lon)
	}
	if first.Energy != 650 {
		t.Fatalf("energy=%v want 650 (present values only)", first.Energy)
	}
	if first.Timestamp != 200 {
		t.Fatalf("timestamp=%d want 200 (present values only)", first.Timestamp)
	}

	second := cells[1]
	if second.Key != (Key{X: 1, Y: 0}) || second.HasEnergy() || second.Timestamp != 0 {
		t.Fatalf("second cell=%+v", second)
	}
	if got := second.Value(survey.MetricDose, Max); got != 1 {
		t.Fatalf("Value(dose,max)=%v", got)
	}

	for i := range pts {
		same := pts[i].Lat == snapshot[i].Lat && pts[i].Dose == snapshot[i].Dose && pts[i].Timestamp == snapshot[i].Timestamp
		if !same {
			t.Fatalf("input point %d mutated", i)
		}
	}
}

func TestAggregateNoMeasurementCell(t *testing.T) {
	t.Parallel()

	cells := Aggregate([]survey.Point{{Lat: 1, Lon: 1, Energy: math.NaN()}}, 3, identity)
	if len(cells) != 1 || cells[0].HasMeasurement() {
		t.Fatalf("cells=%+v", cells)
	}
}

func TestAggregateIdempotent(t *testing.T) {
	t.Parallel()

	var pts []survey.Point
	for i := 0; i < 500; i++ {
		f := float64(i)
		pts = append(pts, survey.Point{
			Lat:       48 + math.Mod(f*0.013, 1),
			Lon:       11 + math.Mod(f*0.029, 1),
			Dose:      0.1 + math.Mod(f, 7)/100,
			CountRate: math.Mod(f, 13),
			Energy:    math.NaN(),
			Timestamp: int64(1700000000 + i),
		})
	}
	a := Aggregate(pts, 9, nil)
	b := Aggregate(pts, 9, nil)
	if len(a) != len(b) {
		t.Fatalf("cell count differs: %d vs %d", len(a), len(b))
	}
	sums := map[Key][2]float64{}
	total := 0
	for _, c := range a {
		sums[c.Key] = [2]float64{c.SumDose, c.SumCps}
		total += c.Count
	}
	if total != len(pts) {
		t.Fatalf("cells hold %d points want %d", total, len(pts))
	}
	for _, c := range b {
		if sums[c.Key] != [2]float64{c.SumDose, c.SumCps} {
			t.Fatalf("sums differ for %v", c.Key)
		}
	}
}

func TestAggregateEmpty(t *testing.T) {
	t.Parallel()

	if cells := Aggregate(nil, 10, nil); len(cells) != 0 {
		t.Fatalf("cells=%v want none", cells)
	}
}

func TestWebMercatorProjection(t *testing.T) {
	t.Parallel()

	proj := WebMercator(0)
	x, y := proj.Project(0, 0)
	if math.Abs(x-128) > 1e-6 || math.Abs(y-128) > 1e-6 {
		t.Fatalf("Project(0,0)=%v,%v want 128,128", x, y)
	}
	x, _ = WebMercator(1).Project(0, 90)
	if math.Abs(x-384) > 1e-6 {
		t.Fatalf("Project(0,90) at z1 x=%v want 384", x)
	}
	_, yTop := proj.Project(89.9, 0)
	if math.IsInf(yTop, 0) || math.IsNaN(yTop) || math.Abs(yTop) > 1 {
		t.Fatalf("polar latitude not clamped: y=%v", yTop)
	}
}

func TestMembers(t *testing.T) {
	t.Parallel()

	pts := []survey.Point{
		{Lat: 1, Lon: 1, Dose: 0.2},
		{Lat: 1, Lon: 15, Dose: 1},
		{Lat: 9, Lon: 9, Dose: 0.4},
	}
	got := Members(pts, 12, identity, Key{X: 0, Y: 0})
	if len(got) != 2 || got[0].Dose != 0.2 || got[1].Dose != 0.4 {
		t.Fatalf("Members(cell 0,0)=%+v", got)
	}
	if got := Members(pts, 12, identity, Key{X: 5, Y: 5}); len(got) != 0 {
		t.Fatalf("Members(empty cell)=%+v", got)
	}
}
