package stats

import (
	"math"

	"survey-map/pkg/survey"
)

// Sample is one (timestamp, value) pair of a chart series.
type Sample struct {
	Timestamp int64   `json:"t"`
	Value     float64 `json:"v"`
}

// Series returns the metric of every point in order.
func Series(pts []survey.Point, m survey.Metric) []Sample {
	out := make([]Sample, len(pts))
	for i, p := range pts {
		out[i] = Sample{Timestamp: p.Timestamp, Value: m.Of(p)}
	}
	return out
}

// Values extracts the value column of a series.
func Values(series []Sample) []float64 {
	out := make([]float64, len(series))
	for i, s := range series {
		out[i] = s.Value
	}
	return out
}

// MovingAverage is a trailing mean over up to w previous samples, divided
// by the number of samples actually available. Windows of 1 or less return
// a copy of the input.
func MovingAverage(vals []float64, w int) []float64 {
	out := make([]float64, len(vals))
	if w <= 1 {
		copy(out, vals)
		return out
	}
	var acc float64
	for i, v := range vals {
		acc += v
		if i >= w {
			acc -= vals[i-w]
		}
		out[i] = acc / float64(min(i+1, w))
	}
	return out
}

// Bin is one histogram bucket covering [Lo, Hi).
type Bin struct {
	Lo    float64 `json:"lo"`
	Hi    float64 `json:"hi"`
	Count int     `json:"count"`
}

// Histogram buckets vals into equal-width bins over their range. A bins
// value of 0 or less picks Sturges' rule. The last bin is closed so the
// maximum lands in it; a degenerate range yields a single bin.
func Histogram(vals []float64, bins int) []Bin {
	lo, hi, ok := Range(vals)
	if !ok {
		return nil
	}
	if hi == lo {
		return []Bin{{Lo: lo, Hi: hi, Count: len(vals)}}
	}
	if bins <= 0 {
		bins = int(math.Ceil(math.Log2(float64(len(vals))))) + 1
	}
	width := (hi - lo) / float64(bins)
	out := make([]Bin, bins)
	for i := range out {
		out[i].Lo = lo + float64(i)*width
		out[i].Hi = lo + float64(i+1)*width
	}
	out[bins-1].Hi = hi
	for _, v := range vals {
		idx := int((v - lo) / width)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		out[idx].Count++
	}
	return out
}
