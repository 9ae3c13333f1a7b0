package models

import "time"

// Point is a single observation of a numeric series.
type Point struct {
	Date  time.Time `json:"date"`
	Value float64   `json:"value"`
}

// Series is a date-ordered numeric series. Missing observations are absent,
// never zero.
type Series struct {
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Len returns the number of observations.
func (s Series) Len() int { return len(s.Points) }

// Values returns the observation values in date order.
func (s Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// PriceHistory is the daily history of one ticker.
type PriceHistory struct {
	Ticker   string `json:"ticker"`
	Close    Series `json:"close"`
	AdjClose Series `json:"adj_close"`
	Volume   Series `json:"volume"`
}
