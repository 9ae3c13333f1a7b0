package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"marketpulse/config"
	"marketpulse/internal/metrics"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/processor/analytics"
	"marketpulse/reader/yahoo"
)

// PriceSource supplies daily price history.
type PriceSource interface {
	History(ctx context.Context, ticker, period string) (models.PriceHistory, error)
}

// MacroSource supplies macroeconomic series.
type MacroSource interface {
	Series(ctx context.Context, id, name string) (models.Series, error)
}

// Markets selectable on the correlation page.
const (
	MarketUS    = "us"
	MarketIndia = "india"
)

// Market runs the price and macro pages.
type Market struct {
	cfg    config.MarketConfig
	prices PriceSource
	macro  MacroSource
	log    *logger.Log
}

func NewMarket(cfg config.MarketConfig, prices PriceSource, macro MacroSource) *Market {
	return &Market{cfg: cfg, prices: prices, macro: macro, log: logger.GetLogger()}
}

// opt turns a missing value into a JSON null.
func opt(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func optSlice(values []float64) []*float64 {
	out := make([]*float64, len(values))
	for i, v := range values {
		out[i] = opt(v)
	}
	return out
}

func (m *Market) symbol(ticker string) string {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if m.cfg.ExchangeSuffix == "" || strings.HasSuffix(ticker, m.cfg.ExchangeSuffix) {
		return ticker
	}
	return ticker + m.cfg.ExchangeSuffix
}

func checkPeriod(period string) error {
	if !yahoo.ValidPeriod(period) {
		return fmt.Errorf("%w: period %q", ErrInvalidParameter, period)
	}
	return nil
}

///////////////////////////////////////////////////////////////////////////
/////////////////////////////// CORRELATION ///////////////////////////////
///////////////////////////////////////////////////////////////////////////

type CorrelationRequest struct {
	Market string
	// Years of data to include; zero selects the default.
	Years       int
	Assets      []string
	DropMissing bool
}

type AssetOption struct {
	Column string `json:"column"`
	Label  string `json:"label"`
}

type CorrelationResult struct {
	Market   string        `json:"market"`
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	MaxYears int           `json:"max_years"`
	Years    int           `json:"years"`
	Options  []AssetOption `json:"options"`
	Selected []string      `json:"selected"`
	Labels   []string      `json:"labels"`
	Values   [][]*float64  `json:"values"`
	Returns  int           `json:"return_rows"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Correlation builds the market frame, picks the year window and correlates
// daily returns of the selected columns.
func (m *Market) Correlation(ctx context.Context, req CorrelationRequest) (CorrelationResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("correlation", time.Since(start)) }()

	res := CorrelationResult{Market: req.Market}
	var frame analytics.Frame
	var err error
	switch req.Market {
	case MarketUS, "":
		res.Market = MarketUS
		frame, res.Warnings, err = m.usFrame(ctx)
	case MarketIndia:
		frame, res.Warnings, err = m.indiaFrame(ctx)
	default:
		return res, fmt.Errorf("%w: market %q", ErrInvalidParameter, req.Market)
	}
	if err != nil {
		return res, err
	}
	if frame.Rows() == 0 || len(frame.Columns) == 0 {
		return res, analytics.ErrInsufficientData
	}

	minDate, ok := frame.ValidStart(m.cfg.ValidShare)
	if !ok {
		return res, analytics.ErrInsufficientData
	}
	maxDate := frame.Dates[len(frame.Dates)-1]

	maxYears, years := analytics.YearWindow(minDate, maxDate)
	if req.Years != 0 {
		if req.Years < 1 || req.Years > maxYears {
			return res, fmt.Errorf("%w: years must be between 1 and %d", ErrInvalidParameter, maxYears)
		}
		years = req.Years
	}
	res.MaxYears, res.Years = maxYears, years
	res.Start, res.End = maxDate.AddDate(-years, 0, 0), maxDate
	window := frame.Between(res.Start, res.End)

	options := append([]string(nil), window.Columns...)
	sort.Strings(options)
	names := analytics.CleanDisplayNames(options)
	for _, c := range options {
		res.Options = append(res.Options, AssetOption{Column: c, Label: names[c]})
	}

	selected := req.Assets
	if len(selected) == 0 {
		n := m.cfg.DefaultAssets
		if n > len(options) {
			n = len(options)
		}
		selected = options[:n]
	}
	sub, err := window.Select(selected)
	if err != nil {
		return res, fmt.Errorf("%w: %v", ErrUnknownAsset, err)
	}
	res.Selected = selected

	if req.DropMissing {
		sub = sub.DropMissing()
	}
	returns := sub.Returns()
	res.Returns = returns.Rows()

	matrix, err := analytics.CorrelationMatrix(returns)
	if err != nil {
		return res, err
	}
	matrix = matrix.Relabel(names)
	res.Labels = matrix.Labels
	for _, row := range matrix.Values {
		res.Values = append(res.Values, optSlice(row))
	}
	metrics.EmitMetric(m.log, "market_pipeline", "correlation_returns", res.Returns, metrics.TypeGauge, logger.Fields{
		"market":   res.Market,
		"columns":  len(res.Selected),
		"warnings": len(res.Warnings),
	})
	return res, nil
}

// usFrame joins adjusted closes of the US tickers, keeping only
// well-populated columns, with the daily forward-filled macro series.
func (m *Market) usFrame(ctx context.Context) (analytics.Frame, []string, error) {
	log := m.log.WithComponent("market_pipeline").WithFields(logger.Fields{"market": MarketUS})

	var warnings []string
	var series []models.Series
	for _, t := range m.cfg.USTickers {
		h, err := m.prices.History(ctx, t, "max")
		if err != nil {
			if ctx.Err() != nil {
				return analytics.Frame{}, nil, ctx.Err()
			}
			log.WithError(err).WithFields(logger.Fields{"ticker": t}).Warn("skipping ticker")
			warnings = append(warnings, fmt.Sprintf("%s: %v", t, err))
			continue
		}
		series = append(series, h.AdjClose)
	}
	if len(series) == 0 && len(m.cfg.USTickers) > 0 {
		return analytics.Frame{}, warnings, fmt.Errorf("no US price history could be fetched")
	}
	prices := analytics.OuterJoin(series...).KeepCoverageAbove(m.cfg.CoverageThreshold)

	var macro []models.Series
	for _, ms := range m.cfg.Macro {
		s, err := m.macro.Series(ctx, ms.ID, ms.Column)
		if err != nil {
			if ctx.Err() != nil {
				return analytics.Frame{}, nil, ctx.Err()
			}
			log.WithError(err).WithFields(logger.Fields{"series": ms.ID}).Warn("skipping macro series")
			warnings = append(warnings, fmt.Sprintf("%s: %v", ms.ID, err))
			continue
		}
		macro = append(macro, analytics.ForwardFillDaily(s))
	}
	return prices.Join(analytics.OuterJoin(macro...)), warnings, nil
}

// indiaFrame joins adjusted closes of the NSE tickers, named by ticker.
func (m *Market) indiaFrame(ctx context.Context) (analytics.Frame, []string, error) {
	var series []models.Series
	for _, t := range m.cfg.IndiaTickers {
		h, err := m.prices.History(ctx, m.symbol(t), "max")
		if err != nil {
			return analytics.Frame{}, nil, fmt.Errorf("fetch %s: %w", t, err)
		}
		s := h.AdjClose
		s.Name = strings.ToUpper(t)
		series = append(series, s)
	}
	return analytics.OuterJoin(series...), nil, nil
}

///////////////////////////////////////////////////////////////////////////
///////////////////////////////// EQUITY //////////////////////////////////
///////////////////////////////////////////////////////////////////////////

// EquityRequest selects indicators; a zero window disables that indicator.
type EquityRequest struct {
	Ticker          string
	Period          string
	SMAWindow       int
	EMAWindow       int
	BollingerWindow int
	BollingerStd    float64
}

type EquityRow struct {
	Date       time.Time `json:"date"`
	Close      float64   `json:"close"`
	Volume     *float64  `json:"volume"`
	SMA        *float64  `json:"sma,omitempty"`
	EMA        *float64  `json:"ema,omitempty"`
	UpperBand  *float64  `json:"upper_band,omitempty"`
	MiddleBand *float64  `json:"middle_band,omitempty"`
	LowerBand  *float64  `json:"lower_band,omitempty"`
}

type EquityResult struct {
	Ticker string      `json:"ticker"`
	Symbol string      `json:"symbol"`
	Period string      `json:"period"`
	Rows   []EquityRow `json:"rows"`
}

func (m *Market) Equity(ctx context.Context, req EquityRequest) (EquityResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("equity", time.Since(start)) }()

	if strings.TrimSpace(req.Ticker) == "" {
		return EquityResult{}, fmt.Errorf("%w: ticker is required", ErrInvalidParameter)
	}
	if err := checkPeriod(req.Period); err != nil {
		return EquityResult{}, err
	}
	if req.SMAWindow < 0 || req.EMAWindow < 0 || req.BollingerWindow < 0 || req.BollingerStd < 0 {
		return EquityResult{}, fmt.Errorf("%w: windows must not be negative", ErrInvalidParameter)
	}

	symbol := m.symbol(req.Ticker)
	h, err := m.prices.History(ctx, symbol, req.Period)
	if err != nil {
		return EquityResult{}, err
	}

	closes := h.Close.Values()
	volumes := byDate(h.Volume)
	var sma, ema []float64
	var bands analytics.Bands
	if req.SMAWindow > 0 {
		sma = analytics.SMA(closes, req.SMAWindow)
	}
	if req.EMAWindow > 0 {
		ema = analytics.EMA(closes, req.EMAWindow)
	}
	if req.BollingerWindow > 0 {
		bands = analytics.Bollinger(closes, req.BollingerWindow, req.BollingerStd)
	}

	res := EquityResult{
		Ticker: strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Symbol: symbol,
		Period: req.Period,
		Rows:   make([]EquityRow, len(closes)),
	}
	for i, p := range h.Close.Points {
		row := EquityRow{Date: p.Date, Close: p.Value}
		if v, ok := volumes[p.Date]; ok {
			row.Volume = opt(v)
		}
		if sma != nil {
			row.SMA = opt(sma[i])
		}
		if ema != nil {
			row.EMA = opt(ema[i])
		}
		if bands.Middle != nil {
			row.MiddleBand = opt(bands.Middle[i])
			row.UpperBand = opt(bands.Upper[i])
			row.LowerBand = opt(bands.Lower[i])
		}
		res.Rows[i] = row
	}
	return res, nil
}

func byDate(s models.Series) map[time.Time]float64 {
	out := make(map[time.Time]float64, len(s.Points))
	for _, p := range s.Points {
		out[p.Date] = p.Value
	}
	return out
}

///////////////////////////////////////////////////////////////////////////
///////////////////////////////// INDICES /////////////////////////////////
///////////////////////////////////////////////////////////////////////////

type PriceRow struct {
	Date     time.Time `json:"date"`
	Close    float64   `json:"close"`
	AdjClose *float64  `json:"adj_close"`
	Volume   *float64  `json:"volume"`
}

type IndexResult struct {
	Name   string             `json:"name"`
	Ticker string             `json:"ticker"`
	Period string             `json:"period"`
	Stats  analytics.KeyStats `json:"stats"`
	Rows   []PriceRow         `json:"rows"`
}

// IndexTicker resolves a configured index name, case-insensitively.
func (m *Market) IndexTicker(name string) (config.IndexConfig, error) {
	for _, idx := range m.cfg.Indices {
		if strings.EqualFold(idx.Name, strings.TrimSpace(name)) {
			return idx, nil
		}
	}
	return config.IndexConfig{}, fmt.Errorf("%w: index %q", ErrUnknownAsset, name)
}

func (m *Market) Index(ctx context.Context, name, period string) (IndexResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("index", time.Since(start)) }()

	idx, err := m.IndexTicker(name)
	if err != nil {
		return IndexResult{}, err
	}
	if err := checkPeriod(period); err != nil {
		return IndexResult{}, err
	}
	h, err := m.prices.History(ctx, idx.Ticker, period)
	if err != nil {
		return IndexResult{}, err
	}

	res := IndexResult{Name: idx.Name, Ticker: idx.Ticker, Period: period}
	res.Stats, err = analytics.ComputeKeyStats(h.Close.Values())
	if err != nil {
		return res, fmt.Errorf("%w: %v", yahoo.ErrNoData, err)
	}
	adj, vol := byDate(h.AdjClose), byDate(h.Volume)
	for _, p := range h.Close.Points {
		row := PriceRow{Date: p.Date, Close: p.Value}
		if v, ok := adj[p.Date]; ok {
			row.AdjClose = opt(v)
		}
		if v, ok := vol[p.Date]; ok {
			row.Volume = opt(v)
		}
		res.Rows = append(res.Rows, row)
	}
	return res, nil
}

///////////////////////////////////////////////////////////////////////////
////////////////////////////////// PAIR ///////////////////////////////////
///////////////////////////////////////////////////////////////////////////

type PairResult struct {
	Stock       string                `json:"stock"`
	Index       string                `json:"index"`
	Period      string                `json:"period"`
	Coefficient *float64              `json:"coefficient"`
	Points      int                   `json:"observations"`
	Merged      []analytics.PairPoint `json:"merged"`
}

// Pair correlates the stock's closes with the index's closes on their
// common dates.
func (m *Market) Pair(ctx context.Context, stock, index, period string) (PairResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("pair", time.Since(start)) }()

	if strings.TrimSpace(stock) == "" {
		return PairResult{}, fmt.Errorf("%w: stock is required", ErrInvalidParameter)
	}
	idx, err := m.IndexTicker(index)
	if err != nil {
		return PairResult{}, err
	}
	if err := checkPeriod(period); err != nil {
		return PairResult{}, err
	}

	sh, err := m.prices.History(ctx, m.symbol(stock), period)
	if err != nil {
		return PairResult{}, err
	}
	ih, err := m.prices.History(ctx, idx.Ticker, period)
	if err != nil {
		return PairResult{}, err
	}

	pr, err := analytics.PairCorrelation(sh.Close, ih.Close)
	res := PairResult{
		Stock:       strings.ToUpper(strings.TrimSpace(stock)),
		Index:       idx.Name,
		Period:      period,
		Coefficient: opt(pr.Coefficient),
		Points:      pr.Observations,
		Merged:      pr.Merged,
	}
	return res, err
}

///////////////////////////////////////////////////////////////////////////
/////////////////////////////// VOLATILITY ////////////////////////////////
///////////////////////////////////////////////////////////////////////////

type VolatilityRequest struct {
	Ticker     string
	Period     string
	Window     int
	BandWindow int
	BandStd    float64
	Threshold  float64
}

type VolatilityRow struct {
	Date        time.Time `json:"date"`
	Close       float64   `json:"close"`
	DailyReturn *float64  `json:"daily_return"`
	Volatility  *float64  `json:"volatility"`
	MiddleBand  *float64  `json:"middle_band"`
	UpperBand   *float64  `json:"upper_band"`
	LowerBand   *float64  `json:"lower_band"`
}

type VolatilityResult struct {
	Ticker    string               `json:"ticker"`
	Symbol    string               `json:"symbol"`
	Period    string               `json:"period"`
	Window    int                  `json:"window"`
	Threshold float64              `json:"threshold"`
	Rows      []VolatilityRow      `json:"rows"`
	High      []analytics.VolPoint `json:"high_volatility"`
}

func (m *Market) Volatility(ctx context.Context, req VolatilityRequest) (VolatilityResult, error) {
	start := time.Now()
	defer func() { metrics.ObservePipeline("volatility", time.Since(start)) }()

	if strings.TrimSpace(req.Ticker) == "" {
		return VolatilityResult{}, fmt.Errorf("%w: ticker is required", ErrInvalidParameter)
	}
	if err := checkPeriod(req.Period); err != nil {
		return VolatilityResult{}, err
	}
	if req.Window < 2 || req.BandWindow < 2 || req.BandStd <= 0 {
		return VolatilityResult{}, fmt.Errorf("%w: windows must be at least 2 and std positive", ErrInvalidParameter)
	}

	symbol := m.symbol(req.Ticker)
	h, err := m.prices.History(ctx, symbol, req.Period)
	if err != nil {
		return VolatilityResult{}, err
	}

	closes := h.Close.Values()
	dates := make([]time.Time, len(h.Close.Points))
	for i, p := range h.Close.Points {
		dates[i] = p.Date
	}
	returns := analytics.PctChange(closes)
	vol := analytics.RollingVolatility(closes, req.Window)
	bands := analytics.Bollinger(closes, req.BandWindow, req.BandStd)

	res := VolatilityResult{
		Ticker:    strings.ToUpper(strings.TrimSpace(req.Ticker)),
		Symbol:    symbol,
		Period:    req.Period,
		Window:    req.Window,
		Threshold: req.Threshold,
		Rows:      make([]VolatilityRow, len(closes)),
		High:      analytics.HighVolatility(dates, closes, vol, req.Threshold),
	}
	for i := range closes {
		res.Rows[i] = VolatilityRow{
			Date:        dates[i],
			Close:       closes[i],
			DailyReturn: opt(returns[i]),
			Volatility:  opt(vol[i]),
			MiddleBand:  opt(bands.Middle[i]),
			UpperBand:   opt(bands.Upper[i]),
			LowerBand:   opt(bands.Lower[i]),
		}
	}
	return res, nil
}

// IsUserError reports whether err stems from the request rather than a
// provider.
func IsUserError(err error) bool {
	return errors.Is(err, ErrIncompleteRange) ||
		errors.Is(err, ErrInvalidParameter) ||
		errors.Is(err, analytics.ErrInsufficientData) ||
		errors.Is(err, yahoo.ErrInvalidPeriod)
}
