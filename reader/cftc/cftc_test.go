package cftc

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"marketpulse/config"
)

const sampleReport = `"Market and Exchange Names","As of Date in Form YYMMDD","As of Date in Form YYYY-MM-DD","Noncommercial Positions-Long (All)","Noncommercial Positions-Short (All)"
"EURO FX - CHICAGO MERCANTILE EXCHANGE",250107,2025-01-07,1100,350
"GOLD - COMMODITY EXCHANGE INC.",250107,2025-01-07,  250000 ,90000
"BROKEN ROW",250107,not-a-date,1,1
`

func zipped(t *testing.T, name, content string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.Create(name)
	if err != nil {
		t.Fatalf("create zip entry: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("write zip entry: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("close zip: %v", err)
	}
	return buf.Bytes()
}

func testConfig(baseURL string) *config.Config {
	cfg := config.Default()
	cfg.COT.BaseURL = baseURL
	cfg.COT.Timeout = 5 * time.Second
	cfg.Reader.RateLimit.RequestsPerSecond = 0
	return &cfg
}

func TestParseReport(t *testing.T) {
	recs, err := ParseReport(strings.NewReader(sampleReport))
	if err != nil {
		t.Fatalf("ParseReport: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(recs))
	}
	if recs[0].Market != "EURO FX - CHICAGO MERCANTILE EXCHANGE" || recs[0].Long != "1100" || recs[0].Short != "350" {
		t.Fatalf("unexpected first row: %+v", recs[0])
	}
	if !recs[0].Date.Equal(time.Date(2025, 1, 7, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected date: %v", recs[0].Date)
	}
	if recs[1].Long != "250000" {
		t.Fatalf("cells should be trimmed, got %q", recs[1].Long)
	}
	if !recs[2].Date.IsZero() {
		t.Fatalf("bad date should stay zero, got %v", recs[2].Date)
	}
}

func TestParseReportMissingColumn(t *testing.T) {
	_, err := ParseReport(strings.NewReader("\"Market and Exchange Names\",\"Other\"\n\"X\",1\n"))
	if err == nil || !strings.Contains(err.Error(), "missing column") {
		t.Fatalf("expected missing column error, got %v", err)
	}
}

func TestParseArchivePrefersAnnual(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range map[string]string{"readme.txt": "nothing", "annual.txt": sampleReport} {
		w, _ := zw.Create(name)
		w.Write([]byte(content))
	}
	zw.Close()

	recs, err := ParseArchive(buf.Bytes())
	if err != nil {
		t.Fatalf("ParseArchive: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected annual.txt rows, got %d", len(recs))
	}

	if _, err := ParseArchive(zipped(t, "data.bin", "x")); err != ErrNoReport {
		t.Fatalf("expected ErrNoReport, got %v", err)
	}
}

func TestFetchYearsCollectsFailures(t *testing.T) {
	archive := zipped(t, "annual.txt", sampleReport)
	var paths []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		switch r.URL.Path {
		case "/deacot2023.zip", "/deacot2025.zip":
			w.Write(archive)
		case "/deacot2024.zip":
			w.Write([]byte("not a zip"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	r := NewReader(testConfig(srv.URL + "/"))
	res, err := r.FetchYears(context.Background(), 2022, 2025)
	if err != nil {
		t.Fatalf("FetchYears: %v", err)
	}
	if len(paths) != 4 {
		t.Fatalf("expected one request per year, got %v", paths)
	}
	if len(res.Succeeded) != 2 || res.Succeeded[0] != 2023 || res.Succeeded[1] != 2025 {
		t.Fatalf("unexpected succeeded years: %v", res.Succeeded)
	}
	if len(res.Failed) != 2 || res.Failed[0].Year != 2022 || res.Failed[1].Year != 2024 {
		t.Fatalf("unexpected failed years: %+v", res.Failed)
	}
	if !res.Partial() {
		t.Fatalf("result should be partial")
	}
	if len(res.Records) != 6 {
		t.Fatalf("expected 6 records, got %d", len(res.Records))
	}
}

func TestFetchYearsStopsOnCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewReader(testConfig(srv.URL)).FetchYears(ctx, 2020, 2021); err == nil {
		t.Fatalf("expected context error")
	}
}

func TestURL(t *testing.T) {
	r := NewReader(testConfig("https://www.cftc.gov/files/dea/history/"))
	if got := r.URL(2025); got != "https://www.cftc.gov/files/dea/history/deacot2025.zip" {
		t.Fatalf("unexpected url %s", got)
	}
}
