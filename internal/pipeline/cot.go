package pipeline

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketpulse/config"
	"marketpulse/internal/assets"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/processor"
	"marketpulse/writer"
)

// ReportFetcher supplies raw report rows per year.
type ReportFetcher interface {
	FetchYear(ctx context.Context, year int) ([]models.RawRecord, error)
	FetchYears(ctx context.Context, from, to int) (models.FetchResult, error)
}

// HistoryCache loads the weekly history or builds it once.
type HistoryCache interface {
	BuildOrLoad(ctx context.Context, from, to int, build writer.BuildFunc) ([]models.NormalizedRecord, error)
}

// LabeledRecord is a normalized record with the asset's display label.
type LabeledRecord struct {
	models.NormalizedRecord
	Label string `json:"label"`
}

type SnapshotResult struct {
	Year    int                   `json:"year"`
	Records []LabeledRecord       `json:"records"`
	Stats   models.NormalizeStats `json:"stats"`
}

type HistoryResult struct {
	Asset   string                    `json:"asset"`
	Label   string                    `json:"label"`
	MinDate time.Time                 `json:"min_date"`
	MaxDate time.Time                 `json:"max_date"`
	From    time.Time                 `json:"from"`
	To      time.Time                 `json:"to"`
	Records []models.NormalizedRecord `json:"records"`
}

// COT orchestrates the positioning pipelines. Each call runs synchronously
// and keeps no state besides the cache artifact.
type COT struct {
	cfg        *config.Config
	dict       *assets.Dictionary
	fetcher    ReportFetcher
	normalizer *processor.Normalizer
	cache      HistoryCache
	publisher  writer.Publisher
	now        func() time.Time
	log        *logger.Log
}

// NewCOT wires the pipeline. publisher may be nil.
func NewCOT(cfg *config.Config, dict *assets.Dictionary, fetcher ReportFetcher, cache HistoryCache, publisher writer.Publisher) *COT {
	return &COT{
		cfg:        cfg,
		dict:       dict,
		fetcher:    fetcher,
		normalizer: processor.NewNormalizer(dict),
		cache:      cache,
		publisher:  publisher,
		now:        time.Now,
		log:        logger.GetLogger(),
	}
}

func (p *COT) Dictionary() *assets.Dictionary { return p.dict }

// Snapshot returns the latest positioning per asset from the current year's
// report, optionally restricted to codes.
func (p *COT) Snapshot(ctx context.Context, codes []string) (SnapshotResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("cot_snapshot", time.Since(start)) }()
	log := p.log.WithComponent("cot_pipeline").WithFields(logger.Fields{"operation": "snapshot"})

	want, err := p.codeSet(codes)
	if err != nil {
		return SnapshotResult{}, err
	}

	year := p.now().Year()
	raw, err := p.fetcher.FetchYear(ctx, year)
	if err != nil {
		return SnapshotResult{}, fmt.Errorf("fetch %d report: %w", year, err)
	}

	records, stats, err := p.normalizer.Normalize(raw, models.ModeSnapshot)
	if err != nil {
		return SnapshotResult{}, err
	}
	metrics.RecordNormalize(stats)
	metrics.EmitMetric(p.log, "cot_pipeline", "snapshot_records", stats.Output, metrics.TypeGauge, logger.Fields{"year": year})
	p.publish(ctx, "snapshot", records)

	res := SnapshotResult{Year: year, Stats: stats, Records: make([]LabeledRecord, 0, len(records))}
	for _, r := range records {
		if want != nil && !want[r.Asset] {
			continue
		}
		res.Records = append(res.Records, LabeledRecord{NormalizedRecord: r, Label: p.dict.Label(r.Asset)})
	}
	logger.LogPerformanceEntry(log, "cot_pipeline", "snapshot", time.Since(start), logger.Fields{
		"records": len(res.Records),
		"dropped": stats.Dropped(),
	})
	return res, nil
}

func (p *COT) codeSet(codes []string) (map[string]bool, error) {
	if len(codes) == 0 {
		return nil, nil
	}
	want := make(map[string]bool, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		if !p.dict.Has(c) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownAsset, c)
		}
		want[c] = true
	}
	if len(want) == 0 {
		return nil, nil
	}
	return want, nil
}

// WeeklyHistory returns the cached weekly history, building it over the
// configured years when no artifact exists.
func (p *COT) WeeklyHistory(ctx context.Context) ([]models.NormalizedRecord, error) {
	from, to := p.cfg.COT.YearRange(p.now())
	return p.cache.BuildOrLoad(ctx, from, to, p.buildHistory)
}

func (p *COT) buildHistory(ctx context.Context, from, to int) ([]models.NormalizedRecord, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("cot_history_build", time.Since(start)) }()
	log := p.log.WithComponent("cot_pipeline").WithFields(logger.Fields{
		"operation":  "build_history",
		"start_year": from,
		"end_year":   to,
	})

	fetched, err := p.fetcher.FetchYears(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if len(fetched.Succeeded) == 0 {
		return nil, fmt.Errorf("%w: %d-%d", ErrNoReports, from, to)
	}
	if fetched.Partial() {
		log.WithFields(logger.Fields{
			"failed_years": len(fetched.Failed),
			"succeeded":    len(fetched.Succeeded),
		}).Warn("history built from partial years")
	}

	records, stats, err := p.normalizer.Normalize(fetched.Records, models.ModeHistory)
	if err != nil {
		return nil, err
	}
	metrics.RecordNormalize(stats)
	metrics.EmitMetric(p.log, "cot_pipeline", "history_records", stats.Output, metrics.TypeGauge, logger.Fields{
		"from":         from,
		"to":           to,
		"failed_years": len(fetched.Failed),
	})
	p.publish(ctx, "history", records)
	return records, nil
}

// History returns the weekly records of one asset. from and to must be
// given together; when both are nil the asset's whole range is returned.
func (p *COT) History(ctx context.Context, code string, from, to *time.Time) (HistoryResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("cot_history", time.Since(start)) }()

	if !p.dict.Has(code) {
		return HistoryResult{}, fmt.Errorf("%w: %s", ErrUnknownAsset, code)
	}
	if (from == nil) != (to == nil) {
		return HistoryResult{}, ErrIncompleteRange
	}
	if from != nil && from.After(*to) {
		return HistoryResult{}, fmt.Errorf("%w: from is after to", ErrIncompleteRange)
	}

	all, err := p.WeeklyHistory(ctx)
	if err != nil {
		return HistoryResult{}, err
	}

	res := HistoryResult{Asset: code, Label: p.dict.Label(code), Records: []models.NormalizedRecord{}}
	var rows []models.NormalizedRecord
	for _, r := range all {
		if r.Asset == code {
			rows = append(rows, r)
		}
	}
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Date.Before(rows[j].Date) })
	if len(rows) == 0 {
		return res, nil
	}
	res.MinDate, res.MaxDate = rows[0].Date, rows[len(rows)-1].Date
	res.From, res.To = res.MinDate, res.MaxDate
	if from != nil {
		res.From, res.To = *from, *to
	}
	for _, r := range rows {
		if !r.Date.Before(res.From) && !r.Date.After(res.To) {
			res.Records = append(res.Records, r)
		}
	}
	return res, nil
}

// publish forwards records to the optional sink. Failures are logged; the
// pipeline result does not depend on them.
func (p *COT) publish(ctx context.Context, dataset string, records []models.NormalizedRecord) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, dataset, records); err != nil {
		p.log.WithComponent("cot_pipeline").WithError(err).WithFields(logger.Fields{
			"dataset": dataset,
		}).Warn("failed to publish records")
		return
	}
	logger.LogDataFlowEntry(p.log.WithComponent("cot_pipeline"), "normalizer", "kafka", len(records), dataset)
}
