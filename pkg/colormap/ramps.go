package colormap

import "image/color"

// Ramp names a color gradient.
type Ramp string

const (
	Rainbow Ramp = "rainbow"
	Viridis Ramp = "viridis"
	Plasma  Ramp = "plasma"
	Magma   Ramp = "magma"
	Turbo   Ramp = "turbo"
	// Classic is the green→yellow→red scale of the first map releases.
	Classic Ramp = "classic"
)

func rgb(r, g, b uint8) color.RGBA { return color.RGBA{R: r, G: g, B: b, A: 0xff} }

// controlPoints holds each ramp's evenly spaced stops from t=0 to t=1.
// The perceptual ramps are sampled from the matplotlib and Google Turbo
// tables.
var controlPoints = map[Ramp][]color.RGBA{
	Rainbow: {
		rgb(0, 0, 255),
		rgb(0, 255, 255),
		rgb(0, 255, 0),
		rgb(255, 255, 0),
		rgb(255, 0, 0),
	},
	Viridis: {
		rgb(68, 1, 84),
		rgb(72, 40, 120),
		rgb(62, 73, 137),
		rgb(49, 104, 142),
		rgb(38, 130, 142),
		rgb(31, 158, 137),
		rgb(53, 183, 121),
		rgb(110, 206, 88),
		rgb(181, 222, 43),
		rgb(253, 231, 37),
	},
	Plasma: {
		rgb(13, 8, 135),
		rgb(70, 3, 159),
		rgb(114, 1, 168),
		rgb(156, 23, 158),
		rgb(189, 55, 134),
		rgb(216, 87, 107),
		rgb(237, 121, 83),
		rgb(251, 159, 58),
		rgb(253, 202, 38),
		rgb(240, 249, 33),
	},
	Magma: {
		rgb(0, 0, 4),
		rgb(24, 15, 61),
		rgb(68, 15, 118),
		rgb(114, 31, 129),
		rgb(158, 47, 127),
		rgb(205, 64, 113),
		rgb(241, 96, 93),
		rgb(253, 150, 104),
		rgb(254, 202, 141),
		rgb(252, 253, 191),
	},
	Turbo: {
		rgb(48, 18, 59),
		rgb(65, 69, 171),
		rgb(70, 117, 237),
		rgb(57, 162, 252),
		rgb(27, 207, 212),
		rgb(36, 236, 166),
		rgb(97, 252, 108),
		rgb(164, 252, 59),
		rgb(209, 232, 52),
		rgb(243, 198, 58),
		rgb(254, 155, 45),
		rgb(243, 99, 21),
		rgb(217, 56, 6),
		rgb(177, 25, 1),
		rgb(122, 4, 3),
	},
	Classic: {
		rgb(0, 255, 0),
		rgb(255, 255, 0),
		rgb(255, 0, 0),
	},
}

// Ramps lists every ramp in display order.
func Ramps() []Ramp { return []Ramp{Rainbow, Viridis, Plasma, Magma, Turbo, Classic} }

// ParseRamp maps a name to a Ramp, falling back to Rainbow.
func ParseRamp(name string) Ramp {
	if _, ok := controlPoints[Ramp(name)]; ok {
		return Ramp(name)
	}
	return Rainbow
}
