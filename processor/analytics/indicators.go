package analytics

import (
	"math"
	"time"
)

// TradingDays annualizes daily volatility.
const TradingDays = 252

// SMA is the simple moving average; the first window-1 values are NaN.
func SMA(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window <= 0 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		var sum float64
		ok := true
		for _, v := range values[i-window+1 : i+1] {
			if missing(v) {
				ok = false
				break
			}
			sum += v
		}
		if ok {
			out[i] = sum / float64(window)
		}
	}
	return out
}

// EMA is the recursive exponential moving average with alpha = 2/(span+1),
// seeded with the first value.
func EMA(values []float64, span int) []float64 {
	out := nanSlice(len(values))
	if span <= 0 || len(values) == 0 {
		return out
	}
	alpha := 2 / (float64(span) + 1)
	prev := math.NaN()
	for i, v := range values {
		switch {
		case missing(v):
			out[i] = prev
		case missing(prev):
			prev = v
			out[i] = v
		default:
			prev = alpha*v + (1-alpha)*prev
			out[i] = prev
		}
	}
	return out
}

// RollingStd is the rolling sample standard deviation (n-1 in the
// denominator). Windows touching a missing value yield NaN.
func RollingStd(values []float64, window int) []float64 {
	out := nanSlice(len(values))
	if window < 2 {
		return out
	}
	for i := window - 1; i < len(values); i++ {
		out[i] = sampleStd(values[i-window+1 : i+1])
	}
	return out
}

func sampleStd(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	var sum float64
	for _, v := range values {
		if missing(v) {
			return math.NaN()
		}
		sum += v
	}
	m := sum / float64(len(values))
	var ss float64
	for _, v := range values {
		ss += (v - m) * (v - m)
	}
	return math.Sqrt(ss / float64(len(values)-1))
}

// Bands holds Bollinger bands around a simple moving average.
type Bands struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes middle = SMA(window) and upper/lower at k sample
// standard deviations.
func Bollinger(values []float64, window int, k float64) Bands {
	mid := SMA(values, window)
	std := RollingStd(values, window)
	b := Bands{Middle: mid, Upper: nanSlice(len(values)), Lower: nanSlice(len(values))}
	for i := range values {
		if missing(mid[i]) || missing(std[i]) {
			continue
		}
		b.Upper[i] = mid[i] + k*std[i]
		b.Lower[i] = mid[i] - k*std[i]
	}
	return b
}

// PctChange returns v[i]/v[i-1]-1; the first element is NaN.
func PctChange(values []float64) []float64 {
	out := nanSlice(len(values))
	for i := 1; i < len(values); i++ {
		prev, cur := values[i-1], values[i]
		if missing(prev) || missing(cur) || prev == 0 {
			continue
		}
		out[i] = cur/prev - 1
	}
	return out
}

// RollingVolatility is the rolling standard deviation of daily returns,
// annualized and expressed in percent.
func RollingVolatility(closes []float64, window int) []float64 {
	std := RollingStd(PctChange(closes), window)
	for i, v := range std {
		if !missing(v) {
			std[i] = v * math.Sqrt(TradingDays) * 100
		}
	}
	return std
}

// AnnualizedVolatility is std(daily returns) * sqrt(252) * 100. ok is false
// with fewer than two returns.
func AnnualizedVolatility(closes []float64) (float64, bool) {
	var rets []float64
	for _, r := range PctChange(closes) {
		if !missing(r) {
			rets = append(rets, r)
		}
	}
	if len(rets) < 2 {
		return 0, false
	}
	return sampleStd(rets) * math.Sqrt(TradingDays) * 100, true
}

// KeyStats summarizes a close-price series.
type KeyStats struct {
	Start                float64  `json:"start"`
	End                  float64  `json:"end"`
	Change               float64  `json:"change"`
	ChangePercent        float64  `json:"change_pct"`
	AnnualizedVolatility *float64 `json:"annualized_volatility"`
}

func ComputeKeyStats(closes []float64) (KeyStats, error) {
	if len(closes) == 0 {
		return KeyStats{}, ErrInsufficientData
	}
	s := KeyStats{Start: closes[0], End: closes[len(closes)-1]}
	s.Change = s.End - s.Start
	if s.Start != 0 {
		s.ChangePercent = s.Change / s.Start * 100
	}
	if v, ok := AnnualizedVolatility(closes); ok {
		s.AnnualizedVolatility = &v
	}
	return s, nil
}

// VolPoint is a day whose rolling volatility exceeded the threshold.
type VolPoint struct {
	Date       time.Time `json:"date"`
	Close      float64   `json:"close"`
	Volatility float64   `json:"volatility"`
}

// HighVolatility lists the days where vol is strictly above threshold.
func HighVolatility(dates []time.Time, closes, vol []float64, threshold float64) []VolPoint {
	var out []VolPoint
	for i := range dates {
		if i >= len(vol) || i >= len(closes) || missing(vol[i]) {
			continue
		}
		if vol[i] > threshold {
			out = append(out, VolPoint{Date: dates[i], Close: closes[i], Volatility: vol[i]})
		}
	}
	return out
}

func nanSlice(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}
