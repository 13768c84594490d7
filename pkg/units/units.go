// Package units converts dose readings into the canonical µSv/h.
package units

import (
	"strings"
	"unicode"
)

// Conversion factors into µSv/h.
const (
	FactorMicroSievert  = 1.0
	FactorMicroRoentgen = 0.01
	FactorMilliRoentgen = 10.0
	FactorRoentgen      = 10000.0
	FactorMilliSievert  = 1000.0
	FactorNanoSievert   = 0.001
	defaultFactor       = FactorMicroSievert
)

// muReplacer collapses the two common micro symbols into ASCII 'u'.
var muReplacer = strings.NewReplacer("µ", "u", "μ", "u")

// hourReplacer shortens spelled-out hours so "mR/hour" does not read as µR.
var hourReplacer = strings.NewReplacer("hour", "h")

// Hint is the unit metadata known for one reading: a free-form label such as
// "µR/h" and the legacy Sievert flag ("sv" / "isSievert" in track files).
type Hint struct {
	Label   string
	Sievert *bool
}

// Bool returns a pointer to v, handy for building hints in literals.
func Bool(v bool) *bool { return &v }

// Merge combines hints from the most specific to the least specific source
// (marker, document, index entry). The first non-empty label and the first
// non-nil flag win independently.
func Merge(hints ...Hint) Hint {
	var out Hint
	for _, h := range hints {
		if out.Label == "" && strings.TrimSpace(h.Label) != "" {
			out.Label = h.Label
		}
		if out.Sievert == nil && h.Sievert != nil {
			out.Sievert = h.Sievert
		}
	}
	return out
}

// Factor resolves the multiplier that turns a raw reading into µSv/h.
// A false Sievert flag beats any label; a recognised label beats the default.
func (h Hint) Factor() float64 {
	if h.Sievert != nil && !*h.Sievert {
		return FactorMicroRoentgen
	}
	if f, ok := LabelFactor(h.Label); ok {
		return f
	}
	return defaultFactor
}

// ToMicroSv converts v using the hint's factor.
func (h Hint) ToMicroSv(v float64) float64 { return v * h.Factor() }

// FromMicroRoentgen converts a reading taken from a field explicitly named
// for µR/h.
func FromMicroRoentgen(v float64) float64 { return v * FactorMicroRoentgen }

// LabelFactor maps a unit label to its factor. The bool is false when the
// label carries no recognisable unit.
func LabelFactor(label string) (float64, bool) {
	n := hourReplacer.Replace(Normalize(label))
	if n == "" {
		return 0, false
	}
	if strings.Contains(n, "sv") {
		switch {
		case strings.Contains(n, "msv"):
			return FactorMilliSievert, true
		case strings.Contains(n, "nsv"):
			return FactorNanoSievert, true
		default:
			return FactorMicroSievert, true
		}
	}
	switch {
	case strings.Contains(n, "ur"):
		return FactorMicroRoentgen, true
	case strings.Contains(n, "mr"):
		return FactorMilliRoentgen, true
	}
	switch keepAlphaNumeric(n) {
	case "r", "rh", "rhr", "rph":
		return FactorRoentgen, true
	}
	return 0, false
}

// Normalize trims, lowercases and replaces micro symbols with 'u'.
func Normalize(label string) string {
	trimmed := strings.TrimSpace(label)
	if trimmed == "" {
		return ""
	}
	return strings.ToLower(muReplacer.Replace(trimmed))
}

// HeaderLabel extracts the unit part of a dose column header such as
// "Dose (µR/h)" or "dose_mR_h". Headers without a unit yield "".
func HeaderLabel(header string) string {
	n := Normalize(header)
	if open := strings.IndexAny(n, "(["); open >= 0 {
		inner := n[open+1:]
		if end := strings.IndexAny(inner, ")]"); end >= 0 {
			inner = inner[:end]
		}
		return strings.TrimSpace(inner)
	}
	idx := strings.Index(n, "dose")
	if idx < 0 {
		return ""
	}
	rest := strings.TrimLeft(n[idx+len("dose"):], " _-,:")
	rest = strings.TrimPrefix(rest, "rate")
	return strings.TrimLeft(rest, " _-,:")
}

func keepAlphaNumeric(s string) string {
	var b strings.Builder
	for _, r := range s {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
