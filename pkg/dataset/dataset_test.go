package dataset

import (
	"context"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/peterstace/simplefeatures/geom"

	"survey-map/pkg/aggregate"
	"survey-map/pkg/colormap"
	"survey-map/pkg/survey"
	"survey-map/pkg/timerange"
)

type fakeSource struct {
	index    []survey.IndexEntry
	indexErr error
	files    map[string]string
	onIndex  func()
}

func (f *fakeSource) TrackIndex(context.Context) ([]survey.IndexEntry, error) {
	if hook := f.onIndex; hook != nil {
		f.onIndex = nil
		hook()
	}
	return f.index, f.indexErr
}

func (f *fakeSource) TrackFile(_ context.Context, file string) ([]byte, error) {
	body, ok := f.files[file]
	if !ok {
		return nil, errors.New("HTTP 404")
	}
	return []byte(body), nil
}

const threeMarkers = `{"markers":[
	{"lat":10.2,"lon":20,"dose_uSv_h":0,"cps":0,"date":3000},
	{"lat":10,"lon":20,"dose_uSv_h":0.1,"cps":5,"date":1000},
	{"lat":10.1,"lon":20,"dose_uSv_h":0.3,"cps":7,"date":2000}
]}`

var identity = aggregate.ProjectorFunc(func(lat, lon float64) (float64, float64) { return lon, lat })

func TestLoadSkipsBrokenFiles(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		index: []survey.IndexEntry{
			{File: "data/a.rctrk", Unit: "usv"},
			{File: "data/missing.rctrk", Unit: "usv"},
			{File: "data/empty.csv", Unit: "usv"},
		},
		files: map[string]string{
			"data/a.rctrk":   threeMarkers,
			"data/empty.csv": "nothing useful here",
		},
	}
	ds, err := NewLoader(src, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Tracks) != 1 || len(ds.Points) != 3 {
		t.Fatalf("tracks=%d points=%d want 1/3", len(ds.Tracks), len(ds.Points))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if ds.Points[i].Timestamp != want {
			t.Fatalf("Points[%d].Timestamp=%d want %d", i, ds.Points[i].Timestamp, want)
		}
		if ds.Points[i].Track != "data/a.rctrk" {
			t.Fatalf("Points[%d].Track=%q", i, ds.Points[i].Track)
		}
	}
	if len(ds.Results) != 3 {
		t.Fatalf("results=%d want 3", len(ds.Results))
	}
	if !ds.Results[0].OK() || ds.Results[1].OK() || ds.Results[2].Skip != "no data" {
		t.Fatalf("results=%+v", ds.Results)
	}
	if !ds.Bounds.Set || ds.Bounds.Min != 1000 || ds.Bounds.Max != 3000 {
		t.Fatalf("bounds=%+v", ds.Bounds)
	}
}

func TestHTTPSourceRejectsOversizedTracks(t *testing.T) {
	t.Parallel()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/tracks", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `["data/small.json","data/big.json"]`)
	})
	mux.HandleFunc("/data/small.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"lat":1,"lon":2,"dose":0.1}]`)
	})
	mux.HandleFunc("/data/big.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `[{"lat":1,"lon":2,"dose":0.1},{"lat":1,"lon":3,"dose":0.2}]`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	src := NewHTTPSource(srv.URL)
	src.MaxBytes = 40
	if _, err := src.TrackFile(context.Background(), "data/big.json"); !errors.Is(err, ErrTooLarge) {
		t.Fatalf("TrackFile(big) err=%v want ErrTooLarge", err)
	}

	ds, err := NewLoader(src, nil).Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Results) != 2 || !ds.Results[0].OK() || !strings.Contains(ds.Results[1].Skip, "track too large") {
		t.Fatalf("results=%+v", ds.Results)
	}
	if len(ds.Points) != 1 {
		t.Fatalf("points=%d want 1", len(ds.Points))
	}
}

func TestLoadFallsBackWhenIndexFails(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		indexErr: errors.New("HTTP 500"),
		files:    map[string]string{"data/fallback.json": threeMarkers},
	}
	l := NewLoader(src, nil).WithFallback([]survey.IndexEntry{{File: "data/fallback.json", Unit: "usv"}})
	ds, err := l.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(ds.Tracks) != 1 || ds.Tracks[0].File != "data/fallback.json" {
		t.Fatalf("tracks=%+v", ds.Tracks)
	}
}

func TestLoadSupersededIsStale(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		index: []survey.IndexEntry{{File: "data/a.rctrk", Unit: "usv"}},
		files: map[string]string{"data/a.rctrk": threeMarkers},
	}
	l := NewLoader(src, nil)
	var newer *Dataset
	src.onIndex = func() {
		var err error
		if newer, err = l.Load(context.Background()); err != nil {
			t.Errorf("inner Load: %v", err)
		}
	}
	if _, err := l.Load(context.Background()); !errors.Is(err, ErrStale) {
		t.Fatalf("outer Load err=%v want ErrStale", err)
	}
	if newer == nil || newer.Generation != 2 {
		t.Fatalf("newer=%+v", newer)
	}
}

func TestCoordinatorReload(t *testing.T) {
	t.Parallel()

	src := &fakeSource{
		index: []survey.IndexEntry{{File: "data/a.rctrk", Unit: "usv"}},
		files: map[string]string{"data/a.rctrk": threeMarkers},
	}
	c := NewCoordinator(NewLoader(src, nil))
	var published []uint64
	c.OnPublish(func(d *Dataset) { published = append(published, d.Generation) })
	if c.Current() == nil || len(c.Current().Points) != 0 {
		t.Fatalf("initial dataset must be empty")
	}
	ds, err := c.Reload(context.Background())
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if c.Current() != ds || len(ds.Points) != 3 {
		t.Fatalf("published dataset has %d points", len(c.Current().Points))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Reload(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Reload(canceled) err=%v", err)
	}
	if c.Current() != ds {
		t.Fatalf("failed reload replaced the published dataset")
	}
	if len(published) != 1 || published[0] != ds.Generation {
		t.Fatalf("published=%v want [%d]", published, ds.Generation)
	}
}

func TestAddTrackHues(t *testing.T) {
	t.Parallel()

	ds := New(1)
	a := ds.AddTrack(survey.IndexEntry{File: "a"}, []survey.Point{{Lat: 1, Lon: 1, Dose: 1}})
	b := ds.AddTrack(survey.IndexEntry{File: "b"}, []survey.Point{{Lat: 2, Lon: 2, Dose: 1}})
	if a.Hue != 0 || math.Abs(b.Hue-colormap.GoldenAngle) > 1e-9 {
		t.Fatalf("hues=%v,%v", a.Hue, b.Hue)
	}
	again := ds.AddTrack(survey.IndexEntry{File: "a", Title: "A"}, []survey.Point{{Lat: 3, Lon: 3, Dose: 2}})
	if again != a || a.Hue != 0 || len(ds.Tracks) != 2 || len(ds.Points) != 2 {
		t.Fatalf("re-adding a track must keep its slot and hue")
	}
	infos := ds.TrackInfos(colormap.StyleDark, map[string]bool{"b": true})
	if infos[0].Color != "hsl(0, 100%, 60%)" {
		t.Fatalf("dark color=%q", infos[0].Color)
	}
	if !infos[0].Visible || infos[1].Visible {
		t.Fatalf("visible=%v,%v want true,false", infos[0].Visible, infos[1].Visible)
	}
	if infos = ds.TrackInfos(colormap.StyleLight, nil); infos[0].Color != "hsl(0, 85%, 40%)" {
		t.Fatalf("light color=%q", infos[0].Color)
	}
}

func TestAddTrackIndexesIncrementally(t *testing.T) {
	t.Parallel()

	ds := New(1)
	ds.AddTrack(survey.IndexEntry{File: "a"}, []survey.Point{{Lat: 1, Lon: 5, Timestamp: 20}, {Lat: 2, Lon: 6, Timestamp: 10}})
	ds.AddTrack(survey.IndexEntry{File: "b"}, []survey.Point{{Lat: -3, Lon: 9, Timestamp: 30}})
	if len(ds.Points) != 3 || ds.Points[0].Timestamp != 10 || ds.Points[2].Track != "b" {
		t.Fatalf("points=%+v", ds.Points)
	}
	ext, ok := ds.Extent()
	if !ok || ext != (survey.Extent{MinLat: -3, MinLon: 5, MaxLat: 2, MaxLon: 9}) {
		t.Fatalf("Extent()=%+v,%v", ext, ok)
	}
	if ds.Bounds.Min != 10 || ds.Bounds.Max != 30 {
		t.Fatalf("bounds=%+v", ds.Bounds)
	}

	ds.AddTrack(survey.IndexEntry{File: "b"}, []survey.Point{{Lat: 0, Lon: 7, Timestamp: 15}})
	ext, _ = ds.Extent()
	if len(ds.Points) != 3 || ext.MinLat != 0 || ds.Bounds.Max != 20 {
		t.Fatalf("after replace: points=%d extent=%+v bounds=%+v", len(ds.Points), ext, ds.Bounds)
	}
}

func renderFixture() *Dataset {
	ds := New(1)
	ds.AddTrack(survey.IndexEntry{File: "a"}, []survey.Point{
		{Lat: 1, Lon: 1, Dose: 0.2, CountRate: 4},
		{Lat: 2, Lon: 2, Dose: 0.6, CountRate: 6},
		{Lat: 1, Lon: 15},
	})
	ds.AddTrack(survey.IndexEntry{File: "b"}, []survey.Point{
		{Lat: 1, Lon: 31, Dose: 1.0, CountRate: 9},
	})
	return ds
}

func TestRenderPolicies(t *testing.T) {
	t.Parallel()

	ds := renderFixture()
	tests := []struct {
		name      string
		opts      RenderOptions
		wantDots  int
		wantLegs  int
		wantFirst float64
		wantLo    float64
		wantHi    float64
	}{
		{
			name:      "global uses cell max",
			opts:      RenderOptions{Zoom: 12, Projector: identity},
			wantDots:  3,
			wantLegs:  1,
			wantFirst: 0.6,
			wantLo:    0.6,
			wantHi:    1.0,
		},
		{
			name:      "single track uses cell mean",
			opts:      RenderOptions{Zoom: 12, Projector: identity, Track: "a"},
			wantDots:  2,
			wantLegs:  1,
			wantFirst: 0.4,
			wantLo:    0.4,
			wantHi:    0.4,
		},
		{
			name:      "per-track scope has one legend per track",
			opts:      RenderOptions{Zoom: 12, Projector: identity, Scope: ScopeTrack},
			wantDots:  3,
			wantLegs:  2,
			wantFirst: 0.6,
			wantLo:    0.6,
			wantHi:    0.6,
		},
		{
			name:      "hidden track is left out",
			opts:      RenderOptions{Zoom: 12, Projector: identity, Hidden: map[string]bool{"b": true}},
			wantDots:  2,
			wantLegs:  1,
			wantFirst: 0.6,
			wantLo:    0.6,
			wantHi:    0.6,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := ds.Render(tc.opts)
			if len(f.Dots) != tc.wantDots || len(f.Legends) != tc.wantLegs {
				t.Fatalf("dots=%d legends=%d want %d/%d", len(f.Dots), len(f.Legends), tc.wantDots, tc.wantLegs)
			}
			if math.Abs(f.Dots[0].Value-tc.wantFirst) > 1e-12 {
				t.Fatalf("first value=%v want %v", f.Dots[0].Value, tc.wantFirst)
			}
			leg := f.Legends[0]
			if math.Abs(leg.Min-tc.wantLo) > 1e-12 || math.Abs(leg.Max-tc.wantHi) > 1e-12 {
				t.Fatalf("legend range=[%v,%v] want [%v,%v]", leg.Min, leg.Max, tc.wantLo, tc.wantHi)
			}
			if f.CellSize != 10 {
				t.Fatalf("cellSize=%v want 10", f.CellSize)
			}
		})
	}
}

func TestRenderSentinelForEmptyCells(t *testing.T) {
	t.Parallel()

	f := renderFixture().Render(RenderOptions{Zoom: 12, Projector: identity, Track: "a"})
	empty := f.Dots[1]
	if empty.Count != 1 || empty.Color != colormap.Hex(colormap.Sentinel) {
		t.Fatalf("empty cell=%+v", empty)
	}
	if f.Dots[0].Color != colormap.Hex(colormap.At(colormap.Rainbow, 0)) {
		t.Fatalf("degenerate range must map to the first ramp color, got %s", f.Dots[0].Color)
	}
}

func TestRenderTimeWindow(t *testing.T) {
	t.Parallel()

	ds := New(1)
	ds.AddTrack(survey.IndexEntry{File: "a"}, []survey.Point{
		{Lat: 1, Lon: 1, Dose: 0.1, Timestamp: 100},
		{Lat: 1, Lon: 15, Dose: 0.2, Timestamp: 200},
		{Lat: 1, Lon: 31, Dose: 0.3, Timestamp: 300},
	})
	f := ds.Render(RenderOptions{Zoom: 12, Projector: identity, Window: timerange.Window{StartMs: 150_000}})
	if len(f.Dots) != 2 {
		t.Fatalf("dots=%d want 2", len(f.Dots))
	}
	if f.Legends[0].Min != 0.2 || f.Legends[0].Max != 0.3 {
		t.Fatalf("legend=%+v", f.Legends[0])
	}
}

func TestCellSummary(t *testing.T) {
	t.Parallel()

	ds := New(1)
	ds.AddTrack(survey.IndexEntry{File: "a"}, []survey.Point{
		{Lat: 1, Lon: 1, Dose: 0.1, CountRate: 2, Timestamp: 100},
		{Lat: 2, Lon: 2, Dose: 0, CountRate: 0, Timestamp: 150},
		{Lat: 1, Lon: 15, Dose: 0.9, Timestamp: 200},
	})
	ds.AddTrack(survey.IndexEntry{File: "b"}, []survey.Point{
		{Lat: 3, Lon: 3, Dose: 0.5, CountRate: 6, Timestamp: 120},
	})

	opts := RenderOptions{Zoom: 12, Projector: identity}
	got, ok := ds.CellSummary(opts, aggregate.Key{X: 0, Y: 0})
	if !ok || got.Count != 3 || len(got.Tracks) != 2 {
		t.Fatalf("CellSummary=%+v,%v", got, ok)
	}
	if got.Stats.MinDose != 0.1 || got.Stats.MaxDose != 0.5 || got.Stats.MaxCps != 6 {
		t.Fatalf("stats=%+v", got.Stats)
	}

	opts.Track = "a"
	if got, ok := ds.CellSummary(opts, aggregate.Key{X: 0, Y: 0}); !ok || got.Count != 2 || got.Tracks[0] != "a" {
		t.Fatalf("single track CellSummary=%+v,%v", got, ok)
	}
	opts.Track = ""
	opts.Hidden = map[string]bool{"a": true, "b": true}
	if _, ok := ds.CellSummary(opts, aggregate.Key{X: 0, Y: 0}); ok {
		t.Fatalf("all tracks hidden must give no cell")
	}
}

func TestTrackSummary(t *testing.T) {
	t.Parallel()

	ds := New(1)
	ds.AddTrack(survey.IndexEntry{File: "data/a.rctrk"}, []survey.Point{
		{Lat: 1, Lon: 1, Dose: 0.1, CountRate: 1, Timestamp: 100},
		{Lat: 1, Lon: 2, Dose: 0.3, CountRate: 3, Timestamp: 200},
	})
	if _, ok := ds.TrackSummary("nope", timerange.Window{}, 3, 0); ok {
		t.Fatalf("unknown track must report false")
	}

	s, ok := ds.TrackSummary("data/a.rctrk", timerange.Window{StartMs: 900_000}, 0, 0)
	if !ok {
		t.Fatalf("TrackSummary: not found")
	}
	if s.Points != 2 || s.Window != 1 || s.Name != "a.rctrk" {
		t.Fatalf("empty window must fall back to all points: %+v", s)
	}
	if len(s.DoseAvg) != 2 || s.DoseAvg[1] != 0.3 {
		t.Fatalf("doseAvg=%v", s.DoseAvg)
	}

	s, _ = ds.TrackSummary("data/a.rctrk", timerange.Window{}, 2, 0)
	if math.Abs(s.DoseAvg[1]-0.2) > 1e-12 {
		t.Fatalf("doseAvg[1]=%v want 0.2", s.DoseAvg[1])
	}
	if s.Stats.MaxDose != 0.3 || s.Stats.MinCps != 1 {
		t.Fatalf("stats=%+v", s.Stats)
	}
}

func TestLines(t *testing.T) {
	t.Parallel()

	ds := renderFixture()
	fc := ds.Lines(nil, colormap.StyleDark)
	if len(fc) != 2 {
		t.Fatalf("features=%d want 2", len(fc))
	}
	if fc[0].Geometry.Type() != geom.TypeLineString || fc[1].Geometry.Type() != geom.TypePoint {
		t.Fatalf("types=%v,%v", fc[0].Geometry.Type(), fc[1].Geometry.Type())
	}
	if fc[0].Properties["file"] != "a" {
		t.Fatalf("properties=%v", fc[0].Properties)
	}

	fc = ds.Lines(map[string]bool{"a": true}, colormap.StyleDark)
	if len(fc) != 1 || fc[0].ID != "b" {
		t.Fatalf("hidden track still drawn: %d features", len(fc))
	}
}

func TestLinesStationaryTrack(t *testing.T) {
	t.Parallel()

	ds := New(1)
	ds.AddTrack(survey.IndexEntry{File: "still"}, []survey.Point{
		{Lat: 10, Lon: 20, Dose: 0.1, Timestamp: 1},
		{Lat: 10, Lon: 20, Dose: 0.2, Timestamp: 2},
		{Lat: 10, Lon: 20, Dose: 0.3, Timestamp: 3},
	})
	fc := ds.Lines(nil, colormap.StyleDark)
	if len(fc) != 1 || fc[0].Geometry.Type() != geom.TypePoint {
		t.Fatalf("Lines(stationary)=%d features", len(fc))
	}
	if got := fc[0].Geometry.AsText(); got != "POINT(20 10)" {
		t.Fatalf("AsText()=%q want POINT(20 10)", got)
	}
}
