package trackparse

import (
	"encoding/json"
	"strings"

	"survey-map/pkg/survey"
	"survey-map/pkg/units"
)

// parseJSONDocument reads a single JSON value: a bare array of markers, an
// object {markers|points: [...], unit?, sv?}, or a GeoJSON FeatureCollection
// of Point features whose properties carry the readings.
func parseJSONDocument(text string, hint units.Hint) []survey.Point {
	var doc any
	if err := json.Unmarshal([]byte(text), &doc); err != nil {
		return nil
	}

	var markers []any
	docHint := hint
	switch v := doc.(type) {
	case []any:
		markers = v
	case map[string]any:
		switch {
		case isArray(v["markers"]):
			markers = v["markers"].([]any)
		case isArray(v["points"]):
			markers = v["points"].([]any)
		case isArray(v["features"]):
			markers = featureMarkers(v["features"].([]any))
		default:
			return nil
		}
		docHint = units.Merge(hintOf(v), hint)
	default:
		return nil
	}

	pts := make([]survey.Point, 0, len(markers))
	for _, raw := range markers {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		if p, ok := markerPoint(m, docHint); ok {
			pts = append(pts, p)
		}
	}
	return pts
}

// parseNDJSON reads one JSON object per line. A line without coordinates
// but with unit metadata sets the unit for the lines after it.
func parseNDJSON(text string, hint units.Hint) []survey.Point {
	lines := nonEmptyLines(text)
	if len(lines) < 2 {
		return nil
	}

	docHint := hint
	pts := make([]survey.Point, 0, len(lines))
	for _, ln := range lines {
		var m map[string]any
		if err := json.Unmarshal([]byte(ln), &m); err != nil || m == nil {
			return nil
		}
		if p, ok := markerPoint(m, docHint); ok {
			pts = append(pts, p)
			continue
		}
		if h := hintOf(m); h.Label != "" || h.Sievert != nil {
			docHint = units.Merge(h, docHint)
		}
	}
	return pts
}

func nonEmptyLines(text string) []string {
	raw := strings.Split(text, "\n")
	out := make([]string, 0, len(raw))
	for _, ln := range raw {
		if ln = strings.TrimSpace(ln); ln != "" {
			out = append(out, ln)
		}
	}
	return out
}

func isArray(v any) bool {
	_, ok := v.([]any)
	return ok
}

// featureMarkers flattens GeoJSON Point features into marker objects: the
// feature properties plus lat/lon from the [lon, lat] coordinates.
func featureMarkers(features []any) []any {
	out := make([]any, 0, len(features))
	for _, raw := range features {
		f, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		g, _ := f["geometry"].(map[string]any)
		if g == nil || g["type"] != "Point" {
			continue
		}
		coords, _ := g["coordinates"].([]any)
		if len(coords) < 2 {
			continue
		}
		m := make(map[string]any)
		if props, ok := f["properties"].(map[string]any); ok {
			for k, v := range props {
				m[k] = v
			}
		}
		m["lon"], m["lat"] = coords[0], coords[1]
		out = append(out, m)
	}
	return out
}
