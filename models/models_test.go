package models

import "testing"

func TestFetchResultPartial(t *testing.T) {
	r := FetchResult{Succeeded: []int{2024}}
	if r.Partial() {
		t.Fatalf("expected complete result")
	}
	r.Failed = append(r.Failed, YearFailure{Year: 2023, Reason: "timeout"})
	if !r.Partial() {
		t.Fatalf("expected partial result")
	}
}

func TestNormalizeStatsDropped(t *testing.T) {
	s := NormalizeStats{Input: 10, Unmapped: 2, BadDate: 1, Uncoercible: 3, ZeroTotal: 1, Output: 3}
	if got := s.Dropped(); got != 6 {
		t.Fatalf("Dropped() = %d, want 6", got)
	}
}

func TestSeriesValues(t *testing.T) {
	s := Series{Points: []Point{{Value: 1}, {Value: 2.5}}}
	v := s.Values()
	if s.Len() != 2 || v[0] != 1 || v[1] != 2.5 {
		t.Fatalf("unexpected values: %v", v)
	}
}
