package analytics

import (
	"fmt"
	"math"
	"strings"
	"time"

	"marketpulse/models"
)

// Matrix is a symmetric correlation matrix.
type Matrix struct {
	Labels []string    `json:"labels"`
	Values [][]float64 `json:"values"`
}

// Pearson returns the correlation coefficient of the pairs where both sides
// are present. NaN when fewer than two pairs exist or either side is flat.
func Pearson(a, b []float64) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var xs, ys []float64
	for i := 0; i < n; i++ {
		if missing(a[i]) || missing(b[i]) {
			continue
		}
		xs = append(xs, a[i])
		ys = append(ys, b[i])
	}
	if len(xs) < 2 {
		return math.NaN()
	}
	mx, my := mean(xs), mean(ys)
	var sxy, sxx, syy float64
	for i := range xs {
		dx, dy := xs[i]-mx, ys[i]-my
		sxy += dx * dy
		sxx += dx * dx
		syy += dy * dy
	}
	if sxx == 0 || syy == 0 {
		return math.NaN()
	}
	return sxy / math.Sqrt(sxx*syy)
}

func mean(v []float64) float64 {
	var s float64
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}

// CorrelationMatrix correlates every pair of columns of f.
func CorrelationMatrix(f Frame) (Matrix, error) {
	if len(f.Columns) < 2 || f.Rows() == 0 {
		return Matrix{}, ErrInsufficientData
	}
	m := Matrix{Labels: append([]string(nil), f.Columns...), Values: make([][]float64, len(f.Columns))}
	for i := range f.Columns {
		m.Values[i] = make([]float64, len(f.Columns))
	}
	for i := range f.Columns {
		for j := i; j < len(f.Columns); j++ {
			v := Pearson(f.Data[i], f.Data[j])
			m.Values[i][j] = v
			m.Values[j][i] = v
		}
	}
	return m, nil
}

// Relabel replaces matrix labels using names, leaving unknown labels alone.
func (m Matrix) Relabel(names map[string]string) Matrix {
	out := Matrix{Labels: make([]string, len(m.Labels)), Values: m.Values}
	for i, l := range m.Labels {
		if n, ok := names[l]; ok {
			out.Labels[i] = n
		} else {
			out.Labels[i] = l
		}
	}
	return out
}

// CleanDisplayNames shortens "AAPL_AdjClose" style column names to the part
// before the first underscore and numbers repeats: AAPL, AAPL_2, ...
func CleanDisplayNames(columns []string) map[string]string {
	seen := map[string]int{}
	out := make(map[string]string, len(columns))
	for _, c := range columns {
		label := c
		if i := strings.Index(c, "_"); i >= 0 {
			label = c[:i]
		}
		seen[label]++
		if seen[label] > 1 {
			label = fmt.Sprintf("%s_%d", label, seen[label])
		}
		out[c] = label
	}
	return out
}

// PairResult is the close-price correlation of two instruments.
type PairResult struct {
	Coefficient  float64     `json:"coefficient"`
	Observations int         `json:"observations"`
	Merged       []PairPoint `json:"merged"`
}

// PairPoint is one date present in both series.
type PairPoint struct {
	Date  time.Time `json:"date"`
	Left  float64   `json:"left"`
	Right float64   `json:"right"`
}

// PairCorrelation inner-joins a and b on date and correlates the values.
func PairCorrelation(a, b models.Series) (PairResult, error) {
	right := make(map[time.Time]float64, len(b.Points))
	for _, p := range b.Points {
		right[p.Date] = p.Value
	}
	var res PairResult
	var xs, ys []float64
	for _, p := range a.Points {
		v, ok := right[p.Date]
		if !ok {
			continue
		}
		res.Merged = append(res.Merged, PairPoint{Date: p.Date, Left: p.Value, Right: v})
		xs = append(xs, p.Value)
		ys = append(ys, v)
	}
	res.Observations = len(xs)
	if res.Observations < 2 {
		return res, ErrInsufficientData
	}
	res.Coefficient = Pearson(xs, ys)
	return res, nil
}
