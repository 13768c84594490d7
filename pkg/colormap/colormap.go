// Package colormap turns measurement values into colors and assigns track
// colors.
package colormap

import (
	"fmt"
	"image/color"
	"math"
)

// Sentinel is the grey used for points without a measurement (#777).
var Sentinel = rgb(0x77, 0x77, 0x77)

// epsilon replaces a zero-width range so t resolves to 0.
const epsilon = 1e-9

// Map returns the color of value within [lo, hi] on ramp. A value of
// exactly zero is "no measurement" and always maps to Sentinel.
func Map(value, lo, hi float64, ramp Ramp) color.RGBA {
	if value == 0 {
		return Sentinel
	}
	den := hi - lo
	if den == 0 {
		den = epsilon
	}
	t := (value - lo) / den
	if math.IsNaN(t) {
		t = 0
	}
	return At(ramp, math.Max(0, math.Min(1, t)))
}

// At samples ramp at t ∈ [0,1], interpolating linearly between the two
// control points around t·(N-1).
func At(ramp Ramp, t float64) color.RGBA {
	stops, ok := controlPoints[ramp]
	if !ok {
		stops = controlPoints[Rainbow]
	}
	pos := t * float64(len(stops)-1)
	i := int(math.Floor(pos))
	if i >= len(stops)-1 {
		return stops[len(stops)-1]
	}
	if i < 0 {
		return stops[0]
	}
	f := pos - float64(i)
	a, b := stops[i], stops[i+1]
	return color.RGBA{
		R: lerp(a.R, b.R, f),
		G: lerp(a.G, b.G, f),
		B: lerp(a.B, b.B, f),
		A: 0xff,
	}
}

func lerp(a, b uint8, f float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*f))
}

// Hex formats c as #rrggbb.
func Hex(c color.RGBA) string {
	return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B)
}

// Legend returns n evenly spaced colors from lo to hi, the way the map
// legend bar is painted. n below 2 is raised to 3 (min, mid, max).
func Legend(lo, hi float64, ramp Ramp, n int) []string {
	if n < 2 {
		n = 3
	}
	out := make([]string, n)
	for i := range out {
		v := lo + (hi-lo)*float64(i)/float64(n-1)
		out[i] = Hex(At(ramp, rampPosition(v, lo, hi)))
	}
	return out
}

// rampPosition is Map's normalisation without the zero sentinel, so a
// legend starting at 0 still shows the ramp's first color.
func rampPosition(v, lo, hi float64) float64 {
	den := hi - lo
	if den == 0 {
		den = epsilon
	}
	return math.Max(0, math.Min(1, (v-lo)/den))
}
