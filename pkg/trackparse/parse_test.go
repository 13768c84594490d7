package trackparse

import (
	"math"
	"testing"
)

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestParseJSONMarkers(t *testing.T) {
	t.Parallel()

	text := `{"markers":[
		{"lat":10,"lon":20,"dose_uSv_h":0.1,"cps":5,"date":1000},
		{"lat":10.1,"lon":20,"dose_uSv_h":0.3,"cps":7,"date":2000},
		{"lat":10.2,"lon":20,"dose_uSv_h":0,"cps":0,"date":3000}
	]}`
	res := Parse(text, Options{Track: "data/a.rctrk", Unit: "usv"})
	if res.Format != FormatJSON {
		t.Fatalf("format=%q want %q", res.Format, FormatJSON)
	}
	if len(res.Points) != 3 {
		t.Fatalf("points=%d want 3", len(res.Points))
	}
	want := []struct {
		dose, cps float64
		ts        int64
	}{{0.1, 5, 1000}, {0.3, 7, 2000}, {0, 0, 3000}}
	for i, w := range want {
		p := res.Points[i]
		if !approx(p.Dose, w.dose) || p.CountRate != w.cps || p.Timestamp != w.ts {
			t.Fatalf("point %d = %+v want dose=%v cps=%v ts=%d", i, p, w.dose, w.cps, w.ts)
		}
		if p.Track != "data/a.rctrk" {
			t.Fatalf("point %d track=%q", i, p.Track)
		}
		if p.HasEnergy() {
			t.Fatalf("point %d unexpectedly has energy %v", i, p.Energy)
		}
	}
	if res.Points[2].HasMeasurement() {
		t.Fatalf("third point should be a no-measurement point")
	}
}

func TestParseJSONAliasesAndUnits(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		unit     string
		wantDose float64
		wantCps  float64
	}{
		{
			name:     "doseRate before dose",
			text:     `[{"lat":1,"lon":2,"doseRate":0.2,"dose":9,"countRate":3,"cps":8}]`,
			wantDose: 0.2,
			wantCps:  3,
		},
		{
			name:     "sv false forces micro roentgen",
			text:     `{"sv":false,"markers":[{"lat":1,"lon":2,"doseRate":15}]}`,
			wantDose: 0.15,
		},
		{
			name:     "legacy isSievert flag",
			text:     `{"isSievert":false,"markers":[{"lat":1,"lon":2,"dose":20}]}`,
			wantDose: 0.2,
		},
		{
			name:     "document unit label",
			text:     `{"unit":"mR/h","markers":[{"lat":1,"lon":2,"dose":0.02}]}`,
			wantDose: 0.2,
		},
		{
			name:     "index unit used when file is silent",
			text:     `[{"lat":1,"lon":2,"dose":10}]`,
			unit:     "µR/h",
			wantDose: 0.1,
		},
		{
			name:     "explicit usv field ignores unit",
			text:     `{"unit":"mR/h","markers":[{"lat":1,"lon":2,"dose_uSv_h":0.5}]}`,
			wantDose: 0.5,
		},
		{
			name:     "explicit uR field",
			text:     `{"unit":"mR/h","markers":[{"lat":1,"lon":2,"dose_uR_h":12}]}`,
			wantDose: 0.12,
		},
		{
			name:     "null alias is skipped",
			text:     `[{"lat":1,"lon":2,"doseRate":null,"dose":0.7}]`,
			wantDose: 0.7,
		},
		{
			name:     "numeric strings",
			text:     `[{"lat":"1.5","lon":"2.5","dose":"0.4","cps":"11"}]`,
			wantDose: 0.4,
			wantCps:  11,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Parse(tc.text, Options{Unit: tc.unit})
			if len(res.Points) != 1 {
				t.Fatalf("points=%d want 1 (format %q)", len(res.Points), res.Format)
			}
			p := res.Points[0]
			if !approx(p.Dose, tc.wantDose) || !approx(p.CountRate, tc.wantCps) {
				t.Fatalf("dose=%v cps=%v want %v %v", p.Dose, p.CountRate, tc.wantDose, tc.wantCps)
			}
		})
	}
}

func TestParseJSONContainers(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{"points key", `{"unit":"µR/h","points":[{"lat":1,"lon":2,"dose":20,"cps":3}]}`},
		{"geojson features", `{"type":"FeatureCollection","unit":"µR/h","features":[
			{"type":"Feature","geometry":{"type":"Point","coordinates":[2,1]},"properties":{"dose":20,"cps":3}},
			{"type":"Feature","geometry":{"type":"LineString","coordinates":[[2,1],[3,4]]},"properties":{}},
			{"type":"Feature","geometry":null}
		]}`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Parse(tc.text, Options{})
			if res.Format != FormatJSON || len(res.Points) != 1 {
				t.Fatalf("format=%q points=%d", res.Format, len(res.Points))
			}
			p := res.Points[0]
			if p.Lat != 1 || p.Lon != 2 || !approx(p.Dose, 0.2) || p.CountRate != 3 {
				t.Fatalf("got %+v", p)
			}
		})
	}
}

func TestParseDropsInvalidCoordinates(t *testing.T) {
	t.Parallel()

	text := `[{"lat":"x","lon":2},{"lon":3},{"lat":1,"lon":2,"energy":-1},{"lat":4,"lon":5,"energyValue":662,"date":1700000000000}]`
	res := Parse(text, Options{})
	if len(res.Points) != 2 {
		t.Fatalf("points=%d want 2", len(res.Points))
	}
	for _, p := range res.Points {
		if math.IsNaN(p.Lat) || math.IsNaN(p.Lon) || math.IsInf(p.Lat, 0) || math.IsInf(p.Lon, 0) {
			t.Fatalf("non-finite coordinate in %+v", p)
		}
	}
	if res.Points[0].HasEnergy() {
		t.Fatalf("negative energy must be absent")
	}
	if !res.Points[1].HasEnergy() || res.Points[1].Energy != 662 {
		t.Fatalf("energy=%v want 662", res.Points[1].Energy)
	}
	if res.Points[1].Timestamp != 1700000000 {
		t.Fatalf("millisecond date not normalised: %d", res.Points[1].Timestamp)
	}
}

func TestParseNDJSON(t *testing.T) {
	t.Parallel()

	text := "{\"unit\":\"mR/h\"}\n" +
		"{\"lat\":1,\"lon\":2,\"dose\":0.01,\"cps\":4}\n" +
		"\n" +
		"{\"lat\":1.1,\"lon\":2.1,\"dose\":5,\"unit\":\"µR/h\",\"date\":\"2025-07-11T22:19:23Z\"}\n"
	res := Parse(text, Options{})
	if res.Format != FormatNDJSON {
		t.Fatalf("format=%q want ndjson", res.Format)
	}
	if len(res.Points) != 2 {
		t.Fatalf("points=%d want 2", len(res.Points))
	}
	if !approx(res.Points[0].Dose, 0.1) {
		t.Fatalf("first dose=%v want 0.1", res.Points[0].Dose)
	}
	if !approx(res.Points[1].Dose, 0.05) {
		t.Fatalf("second dose=%v want 0.05", res.Points[1].Dose)
	}
	if res.Points[1].Timestamp != 1752272363 {
		t.Fatalf("timestamp=%d", res.Points[1].Timestamp)
	}
}

func TestParseHeaderedCSV(t *testing.T) {
	t.Parallel()

	res := Parse("lat,lon,dose,count\n1.0,2.0,0.5,10\n3.0,4.0,0.0,0\n", Options{Unit: "usv"})
	if res.Format != FormatHeaderedCSV {
		t.Fatalf("format=%q want csv-header", res.Format)
	}
	if len(res.Points) != 2 {
		t.Fatalf("points=%d want 2", len(res.Points))
	}
	if res.Points[0].Dose != 0.5 || res.Points[0].CountRate != 10 {
		t.Fatalf("first=%+v", res.Points[0])
	}
	if res.Points[1].HasMeasurement() {
		t.Fatalf("second point should carry no measurement: %+v", res.Points[1])
	}
}

func TestParseHeaderedVariants(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		text     string
		wantDose float64
		wantCps  float64
		wantTS   int64
	}{
		{
			name:     "tsv with unit in dose header",
			text:     "Timestamp\tLatitude\tLongitude\tDose (µR/h)\tCountRate\n1700000000\t55.7\t37.6\t12\t3\n",
			wantDose: 0.12,
			wantCps:  3,
			wantTS:   1700000000,
		},
		{
			name:     "semicolon with cpm",
			text:     "date;lat;lng;dose_mR_h;cpm\n2024-01-02 03:04:05;10;20;0.01;120\n",
			wantDose: 0.1,
			wantCps:  2,
			wantTS:   1704164645,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Parse(tc.text, Options{Unit: "usv"})
			if res.Format != FormatHeaderedCSV || len(res.Points) != 1 {
				t.Fatalf("format=%q points=%d", res.Format, len(res.Points))
			}
			p := res.Points[0]
			if !approx(p.Dose, tc.wantDose) || !approx(p.CountRate, tc.wantCps) || p.Timestamp != tc.wantTS {
				t.Fatalf("got %+v want dose=%v cps=%v ts=%d", p, tc.wantDose, tc.wantCps, tc.wantTS)
			}
		})
	}
}

func TestParseLegacyLayout(t *testing.T) {
	t.Parallel()

	text := "Track: morning walk\n" +
		"Timestamp\tTime\tLatitude\tLongitude\tAccuracy\tDoseRate\tCountRate\tEnergy\n" +
		"1700000000\t2023-11-14 22:13:20\t55.75\t37.61\t5\t0.12\t4.5\t662\n" +
		"bad\t\tNaN\t37.6\t5\t0.1\t3\n" +
		"1700000010\t2023-11-14 22:13:30\t55.76\t37.62\t5\t0.14\t4.7\n"
	res := Parse(text, Options{})
	if res.Format != FormatLegacy {
		t.Fatalf("format=%q want legacy", res.Format)
	}
	if len(res.Points) != 2 {
		t.Fatalf("points=%d want 2", len(res.Points))
	}
	first := res.Points[0]
	if first.Lat != 55.75 || first.Lon != 37.61 || first.Dose != 0.12 || first.CountRate != 4.5 || first.Energy != 662 || first.Timestamp != 1700000000 {
		t.Fatalf("first=%+v", first)
	}
	if res.Points[1].HasEnergy() {
		t.Fatalf("short row should have no energy")
	}
}

func TestParseLeadingTitleRow(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		text   string
		format Format
		points int
	}{
		{
			name: "legacy title without delimiter",
			text: "Track: walk\n" +
				"1700000000\t2023-11-14 22:13:20\t55.75\t37.61\t5\t0.12\t4.5\n" +
				"1700000010\t2023-11-14 22:13:30\t55.76\t37.62\t5\t0.14\t4.7\n",
			format: FormatLegacy,
			points: 2,
		},
		{
			name:   "minimal with title",
			text:   "Survey title\n1,2,0.3,4\n5,6,0.7,8\n",
			format: FormatMinimal,
			points: 2,
		},
		{
			name:   "semicolon legacy with title",
			text:   "Track: walk\n1700000000;x;10.5;20.25;0;0.2;3\n1700000001;x;10.6;20.25;0;0.3;4\n",
			format: FormatLegacy,
			points: 2,
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			res := Parse(tc.text, Options{})
			if res.Format != tc.format || len(res.Points) != tc.points {
				t.Fatalf("Parse(%q)=%q/%d points want %q/%d", tc.text, res.Format, len(res.Points), tc.format, tc.points)
			}
		})
	}
}

func TestSniffDelimiter(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		want rune
	}{
		{"Track: walk\n1\t2\t3\n4\t5\t6\n", '\t'},
		{"title\n1,2,3,4\n", ','},
		{"a;b\n1;2\n", ';'},
		{"1 2 3 4\n5 6 7 8\n", ' '},
		{"Track: walk, morning\n1\t2\n3\t4\n", '\t'},
	}
	for _, tc := range tests {
		if got := sniffDelimiter(tc.text); got != tc.want {
			t.Fatalf("sniffDelimiter(%q)=%q want %q", tc.text, got, tc.want)
		}
	}
}

func TestParseLegacyFiletime(t *testing.T) {
	t.Parallel()

	// 1700000000 Unix seconds as FILETIME ticks.
	text := "133444736000000000\tx\t10\t20\t0\t0.2\t3\n"
	res := Parse(text, Options{})
	if len(res.Points) != 1 || res.Points[0].Timestamp != 1700000000 {
		t.Fatalf("got %+v", res.Points)
	}
}

func TestParseMinimalFallback(t *testing.T) {
	t.Parallel()

	res := Parse("1,2,0.3,4\n5,6,0.7,8,662\nfoo,bar,1,2\n7,8\n", Options{})
	if res.Format != FormatMinimal {
		t.Fatalf("format=%q want minimal", res.Format)
	}
	if len(res.Points) != 2 {
		t.Fatalf("points=%d want 2", len(res.Points))
	}
	if res.Points[0].Timestamp != 0 || res.Points[0].HasEnergy() {
		t.Fatalf("first=%+v", res.Points[0])
	}
	if res.Points[1].Energy != 662 {
		t.Fatalf("energy=%v", res.Points[1].Energy)
	}
}

func TestParseGPX(t *testing.T) {
	t.Parallel()

	text := `<?xml version="1.0"?>
<gpx xmlns:atom="urn:atom">
 <trk><trkseg>
  <trkpt lat="45.1" lon="7.6">
   <time>2025-04-19T14:57:46Z</time>
   <extensions><atom:marker><atom:doserate>0.0185</atom:doserate><atom:cp2s>3.0</atom:cp2s></atom:marker></extensions>
  </trkpt>
  <trkpt lat="oops" lon="7.6"></trkpt>
 </trkseg></trk>
</gpx>`
	res := Parse(text, Options{})
	if res.Format != FormatGPX || len(res.Points) != 1 {
		t.Fatalf("format=%q points=%d", res.Format, len(res.Points))
	}
	p := res.Points[0]
	if p.Dose != 0.0185 || p.CountRate != 1.5 || p.Timestamp != 1745074666 {
		t.Fatalf("got %+v", p)
	}
}

func TestParseKML(t *testing.T) {
	t.Parallel()

	text := `<kml><Document>
<Placemark><name>12 µR/h</name><description>24 cps 2012/05/23 04:10:08</description>
<Point><coordinates>30.5,50.4,0</coordinates></Point></Placemark>
</Document></kml>`
	res := Parse(text, Options{})
	if res.Format != FormatKML || len(res.Points) != 1 {
		t.Fatalf("format=%q points=%d", res.Format, len(res.Points))
	}
	p := res.Points[0]
	if p.Lat != 50.4 || p.Lon != 30.5 || !approx(p.Dose, 0.12) || p.CountRate != 24 || p.Timestamp != 1337746208 {
		t.Fatalf("got %+v", p)
	}
}

func TestParseUnusable(t *testing.T) {
	t.Parallel()

	for _, text := range []string{"", "   \n", "hello world", "{\"foo\":1}", "<html></html>", "a,b\nc,d\n"} {
		res := Parse(text, Options{})
		if len(res.Points) != 0 || res.Format != FormatNone {
			t.Fatalf("Parse(%q)=%+v want empty", text, res)
		}
	}
}
