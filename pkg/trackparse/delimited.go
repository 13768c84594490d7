package trackparse

import (
	"encoding/csv"
	"errors"
	"io"
	"math"
	"strings"

	"survey-map/pkg/survey"
	"survey-map/pkg/units"
)

// legacyLabels are first-row prefixes that mark a title or header line in
// headerless exports (Radiacode writes "Track: <name>" then "Timestamp ...").
var legacyLabels = []string{"track", "timestamp"}

// Fixed column positions of the legacy layout.
const (
	legacyDate      = 0
	legacyDateText  = 1
	legacyLat       = 2
	legacyLon       = 3
	legacyDose      = 5
	legacyCountRate = 6
	legacyEnergy    = 7
	legacyMinCols   = 7
)

// sniffLines is how many non-empty lines sniffDelimiter samples.
const sniffLines = 16

// sniffDelimiter picks the delimiter that splits the most sampled lines into
// at least two cells; ties go to the earlier candidate. Sampling several
// lines keeps a leading title row ("Track: walk") from deciding alone.
// Falls back to whitespace.
func sniffDelimiter(text string) rune {
	var sample []string
	for _, ln := range strings.Split(text, "\n") {
		if strings.TrimSpace(ln) == "" {
			continue
		}
		sample = append(sample, ln)
		if len(sample) == sniffLines {
			break
		}
	}

	best, bestLines := ' ', 0
	for _, d := range []rune{'\t', ';', ','} {
		n := 0
		for _, ln := range sample {
			if strings.ContainsRune(ln, d) {
				n++
			}
		}
		if n > bestLines {
			best, bestLines = d, n
		}
	}
	return best
}

// readRows splits text into trimmed cells. Space-delimited text is split on
// runs of whitespace; everything else goes through encoding/csv, skipping
// records it cannot read.
func readRows(text string) [][]string {
	delim := sniffDelimiter(text)
	var rows [][]string
	if delim == ' ' {
		for _, ln := range strings.Split(text, "\n") {
			if f := strings.Fields(ln); len(f) > 0 {
				rows = append(rows, f)
			}
		}
		return rows
	}

	r := csv.NewReader(strings.NewReader(text))
	r.Comma = delim
	r.FieldsPerRecord = -1
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			break
		}
		for i := range rec {
			rec[i] = strings.TrimSpace(rec[i])
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		rows = append(rows, rec)
	}
	return rows
}

// headerColumns maps field names to column indexes; -1 means missing.
type headerColumns struct {
	lat, lon, dose, count, time, energy int
	countPerMinute                      bool
}

func matchHeader(header []string) headerColumns {
	cols := headerColumns{lat: -1, lon: -1, dose: -1, count: -1, time: -1, energy: -1}
	for i, raw := range header {
		h := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case cols.lat < 0 && strings.HasPrefix(h, "lat"):
			cols.lat = i
		case cols.lon < 0 && (strings.HasPrefix(h, "lon") || strings.HasPrefix(h, "lng")):
			cols.lon = i
		case cols.dose < 0 && strings.Contains(h, "dose"):
			cols.dose = i
		case cols.count < 0 && (strings.Contains(h, "count") || h == "cps" || h == "cpm"):
			cols.count = i
			cols.countPerMinute = h == "cpm"
		case cols.time < 0 && (strings.HasPrefix(h, "time") || strings.Contains(h, "stamp") || strings.HasPrefix(h, "date")):
			cols.time = i
		case cols.energy < 0 && strings.Contains(h, "energy"):
			cols.energy = i
		}
	}
	return cols
}

func cell(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return row[i]
}

// parseHeadered handles delimited text whose first row names the columns.
func parseHeadered(text string, hint units.Hint) []survey.Point {
	rows := readRows(text)
	if len(rows) < 2 {
		return nil
	}
	cols := matchHeader(rows[0])
	if cols.lat < 0 || cols.lon < 0 {
		return nil
	}
	if _, numeric := parseNumber(cell(rows[0], cols.lat)); numeric {
		return nil
	}

	doseHint := hint
	if cols.dose >= 0 {
		doseHint = units.Merge(units.Hint{Label: units.HeaderLabel(rows[0][cols.dose])}, hint)
	}

	pts := make([]survey.Point, 0, len(rows)-1)
	for _, row := range rows[1:] {
		lat, latOK := parseNumber(cell(row, cols.lat))
		lon, lonOK := parseNumber(cell(row, cols.lon))
		if !latOK || !lonOK || !finite(lat) || !finite(lon) {
			continue
		}
		p := survey.Point{
			Lat:       lat,
			Lon:       lon,
			Dose:      doseHint.ToMicroSv(orZero(parseNumber(cell(row, cols.dose)))),
			CountRate: orZero(parseNumber(cell(row, cols.count))),
			Energy:    energyOf(parseNumber(cell(row, cols.energy))),
			Timestamp: parseTimeString(cell(row, cols.time)),
		}
		if cols.countPerMinute {
			p.CountRate /= 60
		}
		pts = append(pts, p)
	}
	return pts
}

// isLabelRow reports whether a leading row is a title or header line.
func isLabelRow(row []string) bool {
	if len(row) == 0 {
		return false
	}
	first := strings.ToLower(row[0])
	for _, prefix := range legacyLabels {
		if strings.HasPrefix(first, prefix) {
			return true
		}
	}
	_, numeric := parseNumber(row[0])
	return !numeric
}

// parseLegacy handles headerless exports with the fixed column layout.
// At most two leading label rows are dropped (a title and a header).
func parseLegacy(text string, hint units.Hint) []survey.Point {
	rows := readRows(text)
	for dropped := 0; dropped < 2 && len(rows) > 0 && isLabelRow(rows[0]); dropped++ {
		rows = rows[1:]
	}
	if len(rows) == 0 || len(rows[0]) < legacyMinCols {
		return nil
	}

	pts := make([]survey.Point, 0, len(rows))
	for _, row := range rows {
		if len(row) < legacyMinCols {
			continue
		}
		lat, latOK := parseNumber(row[legacyLat])
		lon, lonOK := parseNumber(row[legacyLon])
		if !latOK || !lonOK || !finite(lat) || !finite(lon) {
			continue
		}
		ts := parseTimeString(row[legacyDate])
		if ts == 0 {
			ts = parseTimeString(row[legacyDateText])
		}
		pts = append(pts, survey.Point{
			Lat:       lat,
			Lon:       lon,
			Dose:      hint.ToMicroSv(orZero(parseNumber(row[legacyDose]))),
			CountRate: orZero(parseNumber(row[legacyCountRate])),
			Energy:    energyOf(parseNumber(cell(row, legacyEnergy))),
			Timestamp: ts,
		})
	}
	return pts
}

// parseMinimal reads lat, lon, dose, countRate[, energy] by position.
func parseMinimal(text string, hint units.Hint) []survey.Point {
	rows := readRows(text)
	pts := make([]survey.Point, 0, len(rows))
	for _, row := range rows {
		if len(row) < 4 {
			continue
		}
		lat, latOK := parseNumber(row[0])
		lon, lonOK := parseNumber(row[1])
		if !latOK || !lonOK || !finite(lat) || !finite(lon) {
			continue
		}
		p := survey.Point{
			Lat:       lat,
			Lon:       lon,
			Dose:      hint.ToMicroSv(orZero(parseNumber(row[2]))),
			CountRate: orZero(parseNumber(row[3])),
			Energy:    math.NaN(),
		}
		if len(row) > 4 {
			p.Energy = energyOf(parseNumber(row[4]))
		}
		pts = append(pts, p)
	}
	return pts
}
