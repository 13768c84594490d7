// Package stats computes summary statistics and chart series over survey
// points. Every function is pure: inputs are never modified.
package stats

import (
	"math"

	"survey-map/pkg/survey"
)

// Stats summarises the dose and count-rate channels of the points that
// carry a measurement. All fields are zero when there are none.
type Stats struct {
	MinDose float64 `json:"minDose"`
	AvgDose float64 `json:"avgDose"`
	MaxDose float64 `json:"maxDose"`
	MinCps  float64 `json:"minCps"`
	AvgCps  float64 `json:"avgCps"`
	MaxCps  float64 `json:"maxCps"`
}

// Compute returns min/avg/max over pts, skipping no-measurement points.
func Compute(pts []survey.Point) Stats {
	var (
		s          Stats
		n          int
		sumD, sumC float64
	)
	for _, p := range pts {
		if !p.HasMeasurement() {
			continue
		}
		if n == 0 {
			s.MinDose, s.MaxDose = p.Dose, p.Dose
			s.MinCps, s.MaxCps = p.CountRate, p.CountRate
		}
		s.MinDose = math.Min(s.MinDose, p.Dose)
		s.MaxDose = math.Max(s.MaxDose, p.Dose)
		s.MinCps = math.Min(s.MinCps, p.CountRate)
		s.MaxCps = math.Max(s.MaxCps, p.CountRate)
		sumD += p.Dose
		sumC += p.CountRate
		n++
	}
	if n == 0 {
		return Stats{}
	}
	s.AvgDose = sumD / float64(n)
	s.AvgCps = sumC / float64(n)
	return s
}

// Range returns the min and max of vals; ok is false for an empty slice.
func Range(vals []float64) (lo, hi float64, ok bool) {
	if len(vals) == 0 {
		return 0, 0, false
	}
	lo, hi = vals[0], vals[0]
	for _, v := range vals[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, true
}
