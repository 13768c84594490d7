package aggregate

import (
	"math"

	"github.com/wroge/wgs84"
)

// Projector maps geographic coordinates to screen pixels at a fixed zoom.
type Projector interface {
	Project(lat, lon float64) (x, y float64)
}

// ProjectorFunc adapts a plain function to Projector.
type ProjectorFunc func(lat, lon float64) (x, y float64)

// Project calls f.
func (f ProjectorFunc) Project(lat, lon float64) (x, y float64) { return f(lat, lon) }

const (
	tileSize = 256.0
	// originShift is half the circumference of the EPSG:3857 world in metres.
	originShift = math.Pi * 6378137.0
	// maxMercatorLat is where the square Web Mercator world ends.
	maxMercatorLat = 85.05112878
)

var toMercator = wgs84.EPSG().Transform(4326, 3857)

type webMercator struct {
	scale float64
}

// WebMercator is the slippy-map projection: EPSG:4326 degrees to EPSG:3857
// metres, then to a 256·2^zoom pixel world with the origin at the top left.
func WebMercator(zoom int) Projector {
	return webMercator{scale: tileSize * math.Exp2(float64(zoom))}
}

func (w webMercator) Project(lat, lon float64) (x, y float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	mx, my, _ := toMercator(lon, lat, 0)
	x = (mx + originShift) / (2 * originShift) * w.scale
	y = (originShift - my) / (2 * originShift) * w.scale
	return x, y
}
