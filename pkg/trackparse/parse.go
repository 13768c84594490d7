// Package trackparse turns the raw text of one track file into survey
// points. Formats are sniffed by an ordered list of detectors; the first
// detector that produces at least one point wins. Parsing never fails:
// text that no detector understands yields an empty Result, and the caller
// skips the file.
package trackparse

import (
	"strings"

	"survey-map/pkg/survey"
	"survey-map/pkg/units"
)

// Format names the detector that produced a Result.
type Format string

const (
	FormatNone        Format = ""
	FormatJSON        Format = "json"
	FormatNDJSON      Format = "ndjson"
	FormatGPX         Format = "gpx"
	FormatKML         Format = "kml"
	FormatHeaderedCSV Format = "csv-header"
	FormatLegacy      Format = "legacy"
	FormatMinimal     Format = "minimal"
)

// Options carries what the caller knows about the file before reading it.
type Options struct {
	// Track is stamped on every point as its back-reference.
	Track string
	// Unit is the dose unit declared by the track index ("usv", "mR/h", ...).
	// Labels found inside the file take precedence.
	Unit string
}

// Result is the parsed point sequence in file order.
type Result struct {
	Points []survey.Point
	Format Format
}

type detector struct {
	format Format
	parse  func(text string, hint units.Hint) []survey.Point
}

// detectors is tried top to bottom.
var detectors = []detector{
	{FormatJSON, parseJSONDocument},
	{FormatNDJSON, parseNDJSON},
	{FormatGPX, parseGPX},
	{FormatKML, parseKML},
	{FormatHeaderedCSV, parseHeadered},
	{FormatLegacy, parseLegacy},
	{FormatMinimal, parseMinimal},
}

// Parse runs the detector cascade over text.
func Parse(text string, opts Options) Result {
	text = strings.TrimPrefix(text, "\ufeff")
	if strings.TrimSpace(text) == "" {
		return Result{}
	}
	hint := units.Hint{Label: opts.Unit}
	for _, d := range detectors {
		pts := d.parse(text, hint)
		if len(pts) == 0 {
			continue
		}
		for i := range pts {
			pts[i].Track = opts.Track
		}
		return Result{Points: pts, Format: d.format}
	}
	return Result{}
}
