package trackparse

import (
	"encoding/xml"
	"io"
	"math"
	"regexp"
	"strings"
	"time"

	"survey-map/pkg/survey"
	"survey-map/pkg/units"
)

// GPX as written by AtomSwift:
//
//	<trkpt lat="…" lon="…">
//	  <time>2025-04-19T14:57:46Z</time>
//	  <extensions>
//	    <atom:marker>
//	      <atom:doserate>0.0185</atom:doserate>
//	      <atom:cp2s>1.0</atom:cp2s>
//	    </atom:marker>
//	  </extensions>
//	</trkpt>
func parseGPX(text string, hint units.Hint) []survey.Point {
	if !looksLikeXML(text) {
		return nil
	}
	dec := xml.NewDecoder(strings.NewReader(text))

	var (
		pts     []survey.Point
		cur     survey.Point
		inTrkpt bool
		coordOK bool
	)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			// keep what was read before the damage
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			name := strings.ToLower(el.Name.Local)
			if name == "trkpt" || name == "wpt" {
				inTrkpt = true
				cur = survey.Point{Energy: math.NaN()}
				var latOK, lonOK bool
				for _, a := range el.Attr {
					switch a.Name.Local {
					case "lat":
						cur.Lat, latOK = parseNumber(a.Value)
					case "lon":
						cur.Lon, lonOK = parseNumber(a.Value)
					}
				}
				coordOK = latOK && lonOK && finite(cur.Lat) && finite(cur.Lon)
				continue
			}
			if !inTrkpt {
				continue
			}
			var s string
			switch name {
			case "time":
				_ = dec.DecodeElement(&s, &el)
				cur.Timestamp = parseTimeString(s)
			case "doserate", "dose":
				_ = dec.DecodeElement(&s, &el)
				cur.Dose = hint.ToMicroSv(orZero(parseNumber(s)))
			case "cp2s":
				_ = dec.DecodeElement(&s, &el)
				cur.CountRate = orZero(parseNumber(s)) / 2
			case "cps", "countrate":
				_ = dec.DecodeElement(&s, &el)
				cur.CountRate = orZero(parseNumber(s))
			case "cpm":
				_ = dec.DecodeElement(&s, &el)
				cur.CountRate = orZero(parseNumber(s)) / 60
			case "energy":
				_ = dec.DecodeElement(&s, &el)
				cur.Energy = energyOf(parseNumber(s))
			}
		case xml.EndElement:
			name := strings.ToLower(el.Name.Local)
			if (name == "trkpt" || name == "wpt") && inTrkpt {
				inTrkpt = false
				if coordOK {
					pts = append(pts, cur)
				}
			}
		}
	}
	return pts
}

// Dose and count rate inside KML placemark names and descriptions.
var (
	reMicroRh   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*[µμu]R/h`)
	reMicroSv   = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*[µμu]Sv/h`)
	reRuMicroSv = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*мк?з?в/ч`)
	reCPS       = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*cps`)
	reCPM       = regexp.MustCompile(`(?i)CPM\s*Value\s*=\s*(\d+(?:\.\d+)?)`)
	reRuCPS     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*имп\s*/\s*[cс]`)
	reEnDate    = regexp.MustCompile(`([A-Za-z]{3} \d{1,2}, \d{4} \d{2}:\d{2}:\d{2})`)
	reSlashDate = regexp.MustCompile(`(\d{4}/\d{2}/\d{2} \d{2}:\d{2}:\d{2})`)
	reISODate   = regexp.MustCompile(`(\d{4}-\d{2}-\d{2}[ T]\d{2}:\d{2}:\d{2})`)
)

func parseKML(text string, _ units.Hint) []survey.Point {
	if !looksLikeXML(text) {
		return nil
	}
	dec := xml.NewDecoder(strings.NewReader(text))

	var (
		pts         []survey.Point
		inPlacemark bool
		coordOK     bool
		lat, lon    float64
		name, desc  string
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch el := tok.(type) {
		case xml.StartElement:
			switch el.Name.Local {
			case "Placemark":
				inPlacemark, coordOK, name, desc = true, false, "", ""
			case "name":
				if inPlacemark {
					_ = dec.DecodeElement(&name, &el)
				}
			case "description":
				if inPlacemark {
					_ = dec.DecodeElement(&desc, &el)
				}
			case "coordinates":
				if inPlacemark {
					var coord string
					_ = dec.DecodeElement(&coord, &el)
					parts := strings.Split(strings.TrimSpace(coord), ",")
					if len(parts) >= 2 {
						var lonOK, latOK bool
						lon, lonOK = parseNumber(parts[0])
						lat, latOK = parseNumber(parts[1])
						coordOK = lonOK && latOK && finite(lat) && finite(lon)
					}
				}
			}
		case xml.EndElement:
			if el.Name.Local == "Placemark" && inPlacemark {
				inPlacemark = false
				if !coordOK {
					continue
				}
				dose := kmlDose(name)
				if dose == 0 {
					dose = kmlDose(desc)
				}
				pts = append(pts, survey.Point{
					Lat:       lat,
					Lon:       lon,
					Dose:      dose,
					CountRate: kmlCountRate(desc),
					Energy:    math.NaN(),
					Timestamp: kmlDate(desc),
				})
			}
		}
	}
	return pts
}

func kmlDose(s string) float64 {
	if m := reMicroRh.FindStringSubmatch(s); m != nil {
		return units.FromMicroRoentgen(orZero(parseNumber(m[1])))
	}
	if m := reMicroSv.FindStringSubmatch(s); m != nil {
		return orZero(parseNumber(m[1]))
	}
	if m := reRuMicroSv.FindStringSubmatch(s); m != nil {
		return orZero(parseNumber(m[1]))
	}
	return 0
}

func kmlCountRate(s string) float64 {
	if m := reCPS.FindStringSubmatch(s); m != nil {
		return orZero(parseNumber(m[1]))
	}
	if m := reCPM.FindStringSubmatch(s); m != nil {
		return orZero(parseNumber(m[1])) / 60
	}
	if m := reRuCPS.FindStringSubmatch(s); m != nil {
		return orZero(parseNumber(m[1]))
	}
	return 0
}

func kmlDate(s string) int64 {
	if m := reEnDate.FindStringSubmatch(s); m != nil {
		if t, err := time.ParseInLocation("Jan 2, 2006 15:04:05", m[1], time.UTC); err == nil {
			return t.Unix()
		}
	}
	if m := reSlashDate.FindStringSubmatch(s); m != nil {
		return parseTimeString(m[1])
	}
	if m := reISODate.FindStringSubmatch(s); m != nil {
		return parseTimeString(strings.Replace(m[1], "T", " ", 1))
	}
	return 0
}

func looksLikeXML(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "<")
}
