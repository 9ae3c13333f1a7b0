package models

import "time"

/////////////////////////////////////////////////////////////////////////////
////////////////////////////////// RAW //////////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// RawRecord is one reporting-period row for one market as delivered by the
// report provider. Long and Short hold the raw cell text; Normalizer coerces
// them.
type RawRecord struct {
	Date   time.Time `json:"date"`
	Market string    `json:"market"`
	Long   string    `json:"long"`
	Short  string    `json:"short"`
}

// YearFailure records why a single report year could not be fetched.
type YearFailure struct {
	Year   int    `json:"year"`
	Reason string `json:"reason"`
}

// FetchResult is the outcome of a multi-year fetch. Years that failed are
// simply absent from Records.
type FetchResult struct {
	Records   []RawRecord   `json:"-"`
	Succeeded []int         `json:"succeeded"`
	Failed    []YearFailure `json:"failed,omitempty"`
}

// Partial reports whether at least one year failed.
func (r FetchResult) Partial() bool {
	return len(r.Failed) > 0
}

/////////////////////////////////////////////////////////////////////////////
/////////////////////////////// NORMALIZED //////////////////////////////////
/////////////////////////////////////////////////////////////////////////////

// Mode selects how normalize collapses multiple periods per asset.
type Mode string

const (
	// ModeSnapshot keeps only the most recent report per asset.
	ModeSnapshot Mode = "snapshot"
	// ModeHistory sums reports into weekly buckets ending on Sunday.
	ModeHistory Mode = "history"
)

// NormalizedRecord is the positioning of one asset for one period.
type NormalizedRecord struct {
	Date         time.Time `json:"date"`
	Asset        string    `json:"asset"`
	Long         int64     `json:"long"`
	Short        int64     `json:"short"`
	LongPercent  float64   `json:"long_pct"`
	ShortPercent float64   `json:"short_pct"`
}

// NormalizeStats counts what happened to every input row.
type NormalizeStats struct {
	Input       int `json:"input"`
	Unmapped    int `json:"unmapped"`
	BadDate     int `json:"bad_date"`
	Uncoercible int `json:"uncoercible"`
	Collapsed   int `json:"collapsed"`
	ZeroTotal   int `json:"zero_total"`
	Output      int `json:"output"`
}

// Dropped returns the number of input rows that contributed nothing to the
// output.
func (s NormalizeStats) Dropped() int {
	return s.Unmapped + s.BadDate + s.Uncoercible
}
