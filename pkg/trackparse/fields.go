package trackparse

import (
	"math"
	"strconv"
	"strings"
	"time"

	"survey-map/pkg/survey"
	"survey-map/pkg/units"
)

// doseKind tells how a dose alias relates to the unit hint.
type doseKind int

const (
	doseGeneric doseKind = iota // scaled by the resolved unit factor
	doseMicroSv                 // already µSv/h
	doseMicroR                  // µR/h, fixed 0.01
)

type doseAlias struct {
	key  string
	kind doseKind
}

// Candidate keys per field, in precedence order.
var (
	latKeys    = []string{"lat", "latitude"}
	lonKeys    = []string{"lon", "lng", "longitude"}
	countKeys  = []string{"countRate", "cps", "count_rate"}
	energyKeys = []string{"energy", "energyValue", "energy_ev"}
	dateKeys   = []string{"date", "timestamp", "time", "t"}
	doseKeys   = []doseAlias{
		{"dose_uSv_h", doseMicroSv},
		{"dose_uR_h", doseMicroR},
		{"doseRate", doseGeneric},
		{"dose", doseGeneric},
		{"d", doseGeneric},
	}
)

// filetimeEpochOffset is the number of seconds between 1601-01-01 and the
// Unix epoch; Radiacode text exports stamp rows with Windows FILETIME ticks.
const filetimeEpochOffset = 11644473600

// timeLayouts lists the textual timestamp shapes seen in track exports.
// All of them are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006/01/02 15:04:05",
	"2006-01-02 15:04",
	"Jan 2, 2006 15:04:05",
	"2006-01-02",
}

// lookup returns the first alias present with a non-null value.
func lookup(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// toFloat coerces JSON numbers and numeric strings.
func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, !math.IsNaN(x)
	case string:
		return parseNumber(x)
	}
	return 0, false
}

func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

func finite(f float64) bool { return !math.IsNaN(f) && !math.IsInf(f, 0) }

// orZero keeps finite values and maps everything else to 0.
func orZero(f float64, ok bool) float64 {
	if !ok || !finite(f) {
		return 0
	}
	return f
}

// energyOf keeps only positive finite energies; anything else is absent.
func energyOf(f float64, ok bool) float64 {
	if !ok || !finite(f) || f <= 0 {
		return math.NaN()
	}
	return f
}

// epochSeconds normalises numeric timestamps to Unix seconds: FILETIME
// ticks and milliseconds are recognised by magnitude.
func epochSeconds(f float64) int64 {
	switch {
	case !finite(f) || f <= 0:
		return 0
	case f > 1e15:
		s := f/1e7 - filetimeEpochOffset
		if s <= 0 {
			return 0
		}
		return int64(s)
	case f > 1e12:
		return int64(f / 1000)
	default:
		return int64(f)
	}
}

// parseTimeString accepts numeric epochs and the layouts above.
func parseTimeString(s string) int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	if f, ok := parseNumber(s); ok {
		return epochSeconds(f)
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Unix()
		}
	}
	return 0
}

func timeOf(v any) int64 {
	switch x := v.(type) {
	case float64:
		return epochSeconds(x)
	case string:
		return parseTimeString(x)
	}
	return 0
}

// hintOf reads per-record or per-document unit metadata.
func hintOf(m map[string]any) units.Hint {
	var h units.Hint
	if s, ok := m["unit"].(string); ok {
		h.Label = s
	}
	for _, k := range []string{"sv", "isSievert"} {
		if b, ok := m[k].(bool); ok {
			h.Sievert = units.Bool(b)
			break
		}
	}
	return h
}

// markerPoint extracts one point from a decoded JSON marker. The bool is
// false when latitude or longitude is missing or not finite.
func markerPoint(m map[string]any, doc units.Hint) (survey.Point, bool) {
	latRaw, ok := lookup(m, latKeys)
	if !ok {
		return survey.Point{}, false
	}
	lonRaw, ok := lookup(m, lonKeys)
	if !ok {
		return survey.Point{}, false
	}
	lat, latOK := toFloat(latRaw)
	lon, lonOK := toFloat(lonRaw)
	if !latOK || !lonOK || !finite(lat) || !finite(lon) {
		return survey.Point{}, false
	}

	p := survey.Point{Lat: lat, Lon: lon, Energy: math.NaN()}
	hint := units.Merge(hintOf(m), doc)
	for _, alias := range doseKeys {
		raw, present := m[alias.key]
		if !present || raw == nil {
			continue
		}
		v := orZero(toFloat(raw))
		switch alias.kind {
		case doseMicroSv:
			p.Dose = v
		case doseMicroR:
			p.Dose = units.FromMicroRoentgen(v)
		default:
			p.Dose = hint.ToMicroSv(v)
		}
		break
	}
	if raw, ok := lookup(m, countKeys); ok {
		p.CountRate = orZero(toFloat(raw))
	}
	if raw, ok := lookup(m, energyKeys); ok {
		p.Energy = energyOf(toFloat(raw))
	}
	if raw, ok := lookup(m, dateKeys); ok {
		p.Timestamp = timeOf(raw)
	}
	return p, true
}
