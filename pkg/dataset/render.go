package dataset

import (
	"log"

	"github.com/peterstace/simplefeatures/geom"

	"survey-map/pkg/aggregate"
	"survey-map/pkg/colormap"
	"survey-map/pkg/stats"
	"survey-map/pkg/survey"
	"survey-map/pkg/timerange"
)

// Scope selects how color ranges are normalised.
type Scope string

const (
	// ScopeGlobal aggregates all shown tracks together under one range.
	ScopeGlobal Scope = "global"
	// ScopeTrack aggregates every shown track on its own, each with its
	// own range and legend.
	ScopeTrack Scope = "track"
)

// ParseScope defaults to ScopeGlobal.
func ParseScope(s string) Scope {
	if Scope(s) == ScopeTrack {
		return ScopeTrack
	}
	return ScopeGlobal
}

// RenderOptions are the view parameters of one render pass.
type RenderOptions struct {
	Zoom int
	// Projector defaults to Web Mercator at Zoom.
	Projector aggregate.Projector
	Metric    survey.Metric
	Ramp      colormap.Ramp
	Scope     Scope
	// Track, when set, renders that single track with mean-valued cells.
	Track  string
	Window timerange.Window
	Hidden map[string]bool
}

// Dot is one render-ready aggregate point.
type Dot struct {
	Lat       float64  `json:"lat"`
	Lon       float64  `json:"lon"`
	Color     string   `json:"color"`
	Value     float64  `json:"value"`
	MeanDose  float64  `json:"doseAvg"`
	MaxDose   float64  `json:"doseMax"`
	MeanCps   float64  `json:"cpsAvg"`
	MaxCps    float64  `json:"cpsMax"`
	Energy    *float64 `json:"energy,omitempty"`
	Timestamp int64    `json:"timestamp,omitempty"`
	Count     int      `json:"count"`
	Track     string   `json:"track,omitempty"`
	CellX     int64    `json:"cellX"`
	CellY     int64    `json:"cellY"`
}

// Legend describes the color range of one group of dots.
type Legend struct {
	Track  string        `json:"track,omitempty"`
	Metric survey.Metric `json:"metric"`
	Label  string        `json:"label"`
	Min    float64       `json:"min"`
	Max    float64       `json:"max"`
	Stops  []string      `json:"stops"`
}

// Frame is the output of Render.
type Frame struct {
	Zoom     int      `json:"zoom"`
	CellSize float64  `json:"cellSize"`
	Dots     []Dot    `json:"dots"`
	Legends  []Legend `json:"legends"`
}

// legendStops is the number of colors painted on a legend bar.
const legendStops = 3

func metricLabel(m survey.Metric) string {
	if m == survey.MetricCps {
		return "Counts (cps)"
	}
	return "Dose (µSv/h)"
}

type renderGroup struct {
	track  string
	points []survey.Point
}

// Render runs time filter, aggregation and color mapping for opts.
// Single-track views color cells by their mean; global and per-track
// overlay views color by the cell maximum.
func (d *Dataset) Render(opts RenderOptions) Frame {
	if opts.Metric == "" {
		opts.Metric = survey.MetricDose
	}
	if opts.Ramp == "" {
		opts.Ramp = colormap.Rainbow
	}
	proj := opts.Projector
	if proj == nil {
		proj = aggregate.WebMercator(opts.Zoom)
	}

	policy := aggregate.Max
	var groups []renderGroup
	switch {
	case opts.Track != "":
		policy = aggregate.Mean
		if t, ok := d.byFile[opts.Track]; ok {
			groups = append(groups, renderGroup{track: t.File, points: t.Points})
		}
	case opts.Scope == ScopeTrack:
		for _, t := range d.Tracks {
			if shown(t, opts.Hidden) {
				groups = append(groups, renderGroup{track: t.File, points: t.Points})
			}
		}
	default:
		groups = append(groups, renderGroup{points: d.VisiblePoints(opts.Hidden)})
	}

	frame := Frame{
		Zoom:     opts.Zoom,
		CellSize: aggregate.CellSize(opts.Zoom),
		Dots:     []Dot{},
		Legends:  []Legend{},
	}
	for _, g := range groups {
		filtered := timerange.Filter(g.points, opts.Window, d.Bounds)
		cells := aggregate.Aggregate(filtered, opts.Zoom, proj)
		if len(cells) == 0 {
			continue
		}
		lo, hi := cellRange(cells, opts.Metric, policy)
		frame.Legends = append(frame.Legends, Legend{
			Track:  g.track,
			Metric: opts.Metric,
			Label:  metricLabel(opts.Metric),
			Min:    lo,
			Max:    hi,
			Stops:  colormap.Legend(lo, hi, opts.Ramp, legendStops),
		})
		for _, c := range cells {
			frame.Dots = append(frame.Dots, dotOf(c, g.track, opts.Metric, policy, lo, hi, opts.Ramp))
		}
	}
	return frame
}

// cellRange spans the policy values of cells holding a measurement, or of
// all cells when none does.
func cellRange(cells []aggregate.Cell, m survey.Metric, p aggregate.Policy) (lo, hi float64) {
	vals := make([]float64, 0, len(cells))
	for _, c := range cells {
		if c.HasMeasurement() {
			vals = append(vals, c.Value(m, p))
		}
	}
	if len(vals) == 0 {
		for _, c := range cells {
			vals = append(vals, c.Value(m, p))
		}
	}
	lo, hi, _ = stats.Range(vals)
	return lo, hi
}

func dotOf(c aggregate.Cell, track string, m survey.Metric, p aggregate.Policy, lo, hi float64, ramp colormap.Ramp) Dot {
	v := c.Value(m, p)
	col := colormap.Sentinel
	if c.HasMeasurement() {
		col = colormap.Map(v, lo, hi, ramp)
	}
	dot := Dot{
		Lat:       c.Lat,
		Lon:       c.Lon,
		Color:     colormap.Hex(col),
		Value:     v,
		MeanDose:  c.MeanDose,
		MaxDose:   c.MaxDose,
		MeanCps:   c.MeanCps,
		MaxCps:    c.MaxCps,
		Timestamp: c.Timestamp,
		Count:     c.Count,
		Track:     track,
		CellX:     c.Key.X,
		CellY:     c.Key.Y,
	}
	if c.HasEnergy() {
		e := c.Energy
		dot.Energy = &e
	}
	return dot
}

// CellSummary holds the statistics of the points behind one dot.
type CellSummary struct {
	CellX  int64       `json:"cellX"`
	CellY  int64       `json:"cellY"`
	Zoom   int         `json:"zoom"`
	Count  int         `json:"count"`
	Stats  stats.Stats `json:"stats"`
	Tracks []string    `json:"tracks"`
}

// CellSummary computes statistics over the time-filtered points that fall
// into cell key at opts.Zoom: the points of opts.Track when set, otherwise
// every shown track. False when the cell is empty.
func (d *Dataset) CellSummary(opts RenderOptions, key aggregate.Key) (CellSummary, bool) {
	var pts []survey.Point
	if opts.Track != "" {
		if t, ok := d.byFile[opts.Track]; ok {
			pts = t.Points
		}
	} else {
		pts = d.VisiblePoints(opts.Hidden)
	}
	proj := opts.Projector
	if proj == nil {
		proj = aggregate.WebMercator(opts.Zoom)
	}
	members := aggregate.Members(timerange.Filter(pts, opts.Window, d.Bounds), opts.Zoom, proj, key)
	if len(members) == 0 {
		return CellSummary{}, false
	}
	seen := make(map[string]bool)
	tracks := []string{}
	for _, p := range members {
		if !seen[p.Track] {
			seen[p.Track] = true
			tracks = append(tracks, p.Track)
		}
	}
	return CellSummary{
		CellX:  key.X,
		CellY:  key.Y,
		Zoom:   opts.Zoom,
		Count:  len(members),
		Stats:  stats.Compute(members),
		Tracks: tracks,
	}, true
}

// TrackInfo is the sidebar entry of one track.
type TrackInfo struct {
	File        string        `json:"file"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Name        string        `json:"name"`
	Unit        string        `json:"unit"`
	Color       string        `json:"color"`
	Hue         float64       `json:"hue"`
	Visible     bool          `json:"visible"`
	Points      int           `json:"points"`
	Stats       stats.Stats   `json:"stats"`
	Extent      survey.Extent `json:"extent"`
}

// TrackInfos lists tracks in load order with colors for style. Tracks named
// in hidden are reported as not visible.
func (d *Dataset) TrackInfos(style colormap.Style, hidden map[string]bool) []TrackInfo {
	out := make([]TrackInfo, 0, len(d.Tracks))
	for _, t := range d.Tracks {
		ext, _ := survey.ExtentOf(t.Points)
		out = append(out, TrackInfo{
			File:        t.File,
			Title:       t.Title,
			Description: t.Description,
			Name:        t.Name(),
			Unit:        t.Unit,
			Color:       colormap.TrackColor(t.Hue, style),
			Hue:         t.Hue,
			Visible:     shown(t, hidden),
			Points:      len(t.Points),
			Stats:       stats.Compute(t.Points),
			Extent:      ext,
		})
	}
	return out
}

// Summary is the chart payload of one track.
type Summary struct {
	File     string         `json:"file"`
	Name     string         `json:"name"`
	Points   int            `json:"points"`
	Stats    stats.Stats    `json:"stats"`
	Window   int            `json:"window"`
	Dose     []stats.Sample `json:"dose"`
	Cps      []stats.Sample `json:"cps"`
	DoseAvg  []float64      `json:"doseAvg"`
	CpsAvg   []float64      `json:"cpsAvg"`
	DoseHist []stats.Bin    `json:"doseHist"`
	CpsHist  []stats.Bin    `json:"cpsHist"`
}

// TrackSummary computes statistics, series, moving averages and histograms
// over the time-filtered points of file. When the window leaves nothing,
// the whole track is used.
func (d *Dataset) TrackSummary(file string, w timerange.Window, window, bins int) (Summary, bool) {
	t, ok := d.byFile[file]
	if !ok {
		return Summary{}, false
	}
	pts := timerange.Filter(t.Points, w, d.Bounds)
	if len(pts) == 0 {
		pts = t.Points
	}
	window = max(window, 1)
	dose := stats.Series(pts, survey.MetricDose)
	cps := stats.Series(pts, survey.MetricCps)
	doseVals, cpsVals := stats.Values(dose), stats.Values(cps)
	return Summary{
		File:     t.File,
		Name:     t.Name(),
		Points:   len(pts),
		Stats:    stats.Compute(pts),
		Window:   window,
		Dose:     dose,
		Cps:      cps,
		DoseAvg:  stats.MovingAverage(doseVals, window),
		CpsAvg:   stats.MovingAverage(cpsVals, window),
		DoseHist: stats.Histogram(doseVals, bins),
		CpsHist:  stats.Histogram(cpsVals, bins),
	}, true
}

// Lines returns shown tracks as GeoJSON features, points joined in time
// order. A track with a single point becomes a Point feature.
func (d *Dataset) Lines(hidden map[string]bool, style colormap.Style) geom.GeoJSONFeatureCollection {
	fc := geom.GeoJSONFeatureCollection{}
	for _, t := range d.Tracks {
		if !shown(t, hidden) || len(t.Points) == 0 {
			continue
		}
		g, err := trackGeometry(t.Points)
		if err != nil {
			log.Printf("track %s: no line geometry: %v", t.File, err)
			continue
		}
		fc = append(fc, geom.GeoJSONFeature{
			Geometry: g,
			ID:       t.File,
			Properties: map[string]interface{}{
				"file":    t.File,
				"name":    t.Name(),
				"color":   colormap.TrackColor(t.Hue, style),
				"points":  len(t.Points),
				"weight":  3,
				"opacity": 0.7,
			},
		})
	}
	return fc
}


// trackGeometry is a LineString through pts, or a Point when every point
// sits on the same coordinate.
func trackGeometry(pts []survey.Point) (geom.Geometry, error) {
	if len(pts) > 1 {
		coords := make([]float64, 0, 2*len(pts))
		for _, p := range pts {
			coords = append(coords, p.Lon, p.Lat)
		}
		ls, err := geom.NewLineString(geom.NewSequence(coords, geom.DimXY))
		if err == nil {
			return ls.AsGeometry(), nil
		}
		if !samePosition(pts) {
			return geom.Geometry{}, err
		}
	}
	pt, err := geom.NewPoint(geom.Coordinates{XY: geom.XY{X: pts[0].Lon, Y: pts[0].Lat}, Type: geom.DimXY})
	if err != nil {
		return geom.Geometry{}, err
	}
	return pt.AsGeometry(), nil
}

func samePosition(pts []survey.Point) bool {
	for _, p := range pts[1:] {
		if p.Lat != pts[0].Lat || p.Lon != pts[0].Lon {
			return false
		}
	}
	return true
}
