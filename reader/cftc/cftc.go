package cftc

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"marketpulse/config"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/reader"
)

// Column headers of the legacy futures-only report.
const (
	ColumnDate   = "As of Date in Form YYYY-MM-DD"
	ColumnMarket = "Market and Exchange Names"
	ColumnLong   = "Noncommercial Positions-Long (All)"
	ColumnShort  = "Noncommercial Positions-Short (All)"
)

var requiredColumns = []string{ColumnDate, ColumnMarket, ColumnLong, ColumnShort}

// ErrNoReport is returned when an archive holds no report text file.
var ErrNoReport = errors.New("archive contains no report file")

// Reader downloads the yearly legacy futures archives.
type Reader struct {
	baseURL string
	http    *reader.HTTPClient
	log     *logger.Log
}

func NewReader(cfg *config.Config) *Reader {
	return &Reader{
		baseURL: strings.TrimRight(cfg.COT.BaseURL, "/"),
		http: reader.NewHTTPClient(reader.Options{
			Provider:          "cftc",
			Timeout:           cfg.COT.Timeout,
			UserAgent:         cfg.COT.UserAgent,
			RequestsPerSecond: cfg.Reader.RateLimit.RequestsPerSecond,
			Burst:             cfg.Reader.RateLimit.BurstSize,
		}),
		log: logger.GetLogger(),
	}
}

// URL returns the archive location for year.
func (r *Reader) URL(year int) string {
	return fmt.Sprintf("%s/deacot%d.zip", r.baseURL, year)
}

// FetchYear downloads and parses one year.
func (r *Reader) FetchYear(ctx context.Context, year int) ([]models.RawRecord, error) {
	log := r.log.WithComponent("cftc_reader").WithFields(logger.Fields{
		"year":      year,
		"operation": "fetch_year",
	})

	start := time.Now()
	body, err := r.http.Get(ctx, r.URL(year))
	if err != nil {
		return nil, err
	}
	records, err := ParseArchive(body)
	if err != nil {
		return nil, fmt.Errorf("year %d: %w", year, err)
	}

	logger.LogPerformanceEntry(log, "cftc_reader", "fetch_year", time.Since(start), logger.Fields{
		"rows": len(records),
	})
	logger.LogDataFlowEntry(log, "cftc", "normalizer", len(records), "cot_rows")
	return records, nil
}

// FetchYears fetches from..to inclusive, one year at a time. A failed year is
// logged, listed in the result and skipped; it is not retried. Only
// cancellation of ctx aborts the loop.
func (r *Reader) FetchYears(ctx context.Context, from, to int) (models.FetchResult, error) {
	var res models.FetchResult
	for year := from; year <= to; year++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		records, err := r.FetchYear(ctx, year)
		if err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			r.log.WithComponent("cftc_reader").WithError(err).WithFields(logger.Fields{
				"year": year,
			}).Warn("failed to fetch report year")
			res.Failed = append(res.Failed, models.YearFailure{Year: year, Reason: err.Error()})
			metrics.RecordYear(false)
			logger.RecordYearFetched(false)
			continue
		}
		res.Records = append(res.Records, records...)
		res.Succeeded = append(res.Succeeded, year)
		metrics.RecordYear(true)
		logger.RecordYearFetched(true)
	}
	return res, nil
}

// ParseArchive reads the report text file out of a zip archive.
func ParseArchive(data []byte) ([]models.RawRecord, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	var report *zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() || !strings.EqualFold(path.Ext(f.Name), ".txt") {
			continue
		}
		if report == nil || strings.EqualFold(path.Base(f.Name), "annual.txt") {
			report = f
		}
	}
	if report == nil {
		return nil, ErrNoReport
	}

	rc, err := report.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", report.Name, err)
	}
	defer rc.Close()
	return ParseReport(rc)
}

// ParseReport reads the comma-separated report. Cells are kept as text;
// unparseable dates are left zero for the normalizer to drop.
func ParseReport(r io.Reader) ([]models.RawRecord, error) {
	cr := csv.NewReader(r)
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	cols := make([]int, len(requiredColumns))
	for i, name := range requiredColumns {
		c, ok := idx[name]
		if !ok {
			return nil, fmt.Errorf("missing column %q", name)
		}
		cols[i] = c
	}

	var out []models.RawRecord
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", len(out)+2, err)
		}
		cell := func(i int) string {
			if cols[i] < len(row) {
				return strings.TrimSpace(row[cols[i]])
			}
			return ""
		}
		rec := models.RawRecord{
			Market: cell(1),
			Long:   cell(2),
			Short:  cell(3),
		}
		if d, err := time.Parse("2006-01-02", cell(0)); err == nil {
			rec.Date = d
		}
		out = append(out, rec)
	}
	return out, nil
}
