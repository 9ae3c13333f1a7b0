package analytics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"marketpulse/models"
)

// ErrInsufficientData is returned when a computation has too few columns or
// observations to produce a result.
var ErrInsufficientData = errors.New("not enough data")

// Frame is a set of columns sharing one ascending date index. Missing cells
// hold NaN.
type Frame struct {
	Dates   []time.Time
	Columns []string
	Data    [][]float64 // Data[column][row]
}

func missing(v float64) bool { return math.IsNaN(v) }

// OuterJoin aligns the series on the union of their dates.
func OuterJoin(series ...models.Series) Frame {
	seen := map[time.Time]struct{}{}
	for _, s := range series {
		for _, p := range s.Points {
			seen[p.Date] = struct{}{}
		}
	}
	dates := make([]time.Time, 0, len(seen))
	for d := range seen {
		dates = append(dates, d)
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })

	pos := make(map[time.Time]int, len(dates))
	for i, d := range dates {
		pos[d] = i
	}

	f := Frame{Dates: dates}
	for _, s := range series {
		col := make([]float64, len(dates))
		for i := range col {
			col[i] = math.NaN()
		}
		for _, p := range s.Points {
			col[pos[p.Date]] = p.Value
		}
		f.Columns = append(f.Columns, s.Name)
		f.Data = append(f.Data, col)
	}
	return f
}

// Join outer-joins other onto f.
func (f Frame) Join(other Frame) Frame {
	var all []models.Series
	all = append(all, f.Series()...)
	all = append(all, other.Series()...)
	return OuterJoin(all...)
}

// Series converts every column back to a series, skipping missing cells.
func (f Frame) Series() []models.Series {
	out := make([]models.Series, len(f.Columns))
	for c, name := range f.Columns {
		s := models.Series{Name: name}
		for r, v := range f.Data[c] {
			if !missing(v) {
				s.Points = append(s.Points, models.Point{Date: f.Dates[r], Value: v})
			}
		}
		out[c] = s
	}
	return out
}

func (f Frame) Rows() int { return len(f.Dates) }

func (f Frame) Column(name string) ([]float64, bool) {
	for i, c := range f.Columns {
		if c == name {
			return f.Data[i], true
		}
	}
	return nil, false
}

// Coverage is the share of non-missing cells per column.
func (f Frame) Coverage() map[string]float64 {
	out := make(map[string]float64, len(f.Columns))
	for i, name := range f.Columns {
		if len(f.Dates) == 0 {
			out[name] = 0
			continue
		}
		n := 0
		for _, v := range f.Data[i] {
			if !missing(v) {
				n++
			}
		}
		out[name] = float64(n) / float64(len(f.Dates))
	}
	return out
}

// KeepCoverageAbove drops columns whose coverage is not strictly above min.
func (f Frame) KeepCoverageAbove(min float64) Frame {
	cov := f.Coverage()
	var keep []string
	for _, c := range f.Columns {
		if cov[c] > min {
			keep = append(keep, c)
		}
	}
	out, _ := f.Select(keep)
	return out
}

// Select returns the named columns in the requested order.
func (f Frame) Select(names []string) (Frame, error) {
	out := Frame{Dates: f.Dates}
	for _, n := range names {
		col, ok := f.Column(n)
		if !ok {
			return Frame{}, fmt.Errorf("unknown column %q", n)
		}
		out.Columns = append(out.Columns, n)
		out.Data = append(out.Data, col)
	}
	return out, nil
}

// Between keeps rows with from <= date <= to.
func (f Frame) Between(from, to time.Time) Frame {
	return f.filterRows(func(r int) bool {
		d := f.Dates[r]
		return !d.Before(from) && !d.After(to)
	})
}

// DropMissing keeps only rows where every column has a value.
func (f Frame) DropMissing() Frame {
	return f.filterRows(func(r int) bool {
		for c := range f.Columns {
			if missing(f.Data[c][r]) {
				return false
			}
		}
		return true
	})
}

func (f Frame) filterRows(keep func(r int) bool) Frame {
	out := Frame{Columns: f.Columns, Data: make([][]float64, len(f.Columns))}
	for r := range f.Dates {
		if !keep(r) {
			continue
		}
		out.Dates = append(out.Dates, f.Dates[r])
		for c := range f.Columns {
			out.Data[c] = append(out.Data[c], f.Data[c][r])
		}
	}
	return out
}

// Returns computes daily percent change per column. Gaps are padded with the
// previous value first, so a gap contributes a zero return, and rows that
// still miss any column are dropped.
func (f Frame) Returns() Frame {
	out := Frame{Dates: f.Dates, Columns: f.Columns, Data: make([][]float64, len(f.Columns))}
	for c := range f.Columns {
		out.Data[c] = PctChange(padForward(f.Data[c]))
	}
	return out.DropMissing()
}

func padForward(values []float64) []float64 {
	out := make([]float64, len(values))
	last := math.NaN()
	for i, v := range values {
		if !missing(v) {
			last = v
		}
		out[i] = last
	}
	return out
}

// ForwardFillDaily resamples s to one point per calendar day between its
// first and last observation, carrying the last value forward.
func ForwardFillDaily(s models.Series) models.Series {
	out := models.Series{Name: s.Name}
	if len(s.Points) == 0 {
		return out
	}
	pts := append([]models.Point(nil), s.Points...)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date) })

	i := 0
	last := math.NaN()
	for d := pts[0].Date; !d.After(pts[len(pts)-1].Date); d = d.AddDate(0, 0, 1) {
		for i < len(pts) && !pts[i].Date.After(d) {
			if !missing(pts[i].Value) {
				last = pts[i].Value
			}
			i++
		}
		if !missing(last) {
			out.Points = append(out.Points, models.Point{Date: d, Value: last})
		}
	}
	return out
}

// ValidStart returns the first date on which at least int(columns*share)
// columns have a value.
func (f Frame) ValidStart(share float64) (time.Time, bool) {
	threshold := int(float64(len(f.Columns)) * share)
	for r, d := range f.Dates {
		n := 0
		for c := range f.Columns {
			if !missing(f.Data[c][r]) {
				n++
			}
		}
		if n >= threshold {
			return d, true
		}
	}
	return time.Time{}, false
}

// YearWindow returns how many whole years fit between start and end (at
// least one) and the default selection of min(2, max).
func YearWindow(start, end time.Time) (maxYears, defaultYears int) {
	days := math.Floor(end.Sub(start).Hours() / 24)
	maxYears = int(math.RoundToEven(days / 365.25))
	if maxYears < 1 {
		maxYears = 1
	}
	defaultYears = 2
	if maxYears < defaultYears {
		defaultYears = maxYears
	}
	return maxYears, defaultYears
}
