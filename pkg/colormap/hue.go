package colormap

import (
	"fmt"
	"math"
	"strconv"
)

// GoldenAngle is the hue step between consecutive tracks, in degrees.
const GoldenAngle = 137.508

// Style is the brightness family of the active base map.
type Style int

const (
	StyleDark Style = iota
	StyleLight
)

// ParseBaseMap maps a base-map key to its style. Only the "dark" tiles are
// dark; light, topo, osm and hot are light. Unknown keys use the default
// dark base map.
func ParseBaseMap(name string) Style {
	switch name {
	case "light", "topo", "osm", "hot":
		return StyleLight
	default:
		return StyleDark
	}
}

// saturation and lightness per style, in percent
var trackTone = map[Style][2]int{
	StyleDark:  {100, 60},
	StyleLight: {85, 40},
}

// HueSequence hands out track hues. The zero value starts at 0°.
type HueSequence struct {
	next float64
}

// Next returns the current hue and advances by the golden angle.
func (h *HueSequence) Next() float64 {
	hue := h.next
	h.next = math.Mod(h.next+GoldenAngle, 360)
	return hue
}

// TrackColor formats a CSS hsl() color for hue on a base map of style.
func TrackColor(hue float64, style Style) string {
	tone, ok := trackTone[style]
	if !ok {
		tone = trackTone[StyleDark]
	}
	return fmt.Sprintf("hsl(%s, %d%%, %d%%)", strconv.FormatFloat(hue, 'f', -1, 64), tone[0], tone[1])
}
