package pipeline

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"marketpulse/config"
	"marketpulse/models"
	"marketpulse/processor/analytics"
	"marketpulse/reader/fred"
	"marketpulse/reader/yahoo"
)

type fakePrices struct {
	histories map[string]models.PriceHistory
	requested []string
}

func (f *fakePrices) History(_ context.Context, ticker, period string) (models.PriceHistory, error) {
	f.requested = append(f.requested, ticker+"@"+period)
	h, ok := f.histories[ticker]
	if !ok {
		return models.PriceHistory{}, yahoo.ErrNoData
	}
	return h, nil
}

type fakeMacro struct {
	series map[string]models.Series
	err    error
}

func (f *fakeMacro) Series(_ context.Context, id, name string) (models.Series, error) {
	if f.err != nil {
		return models.Series{}, f.err
	}
	s := f.series[id]
	s.Name = name
	return s, nil
}

// history builds a daily history from start with the given closes.
func history(ticker string, start time.Time, closes ...float64) models.PriceHistory {
	h := models.PriceHistory{
		Ticker:   ticker,
		Close:    models.Series{Name: ticker + "_Close"},
		AdjClose: models.Series{Name: ticker + "_AdjClose"},
		Volume:   models.Series{Name: ticker + "_Volume"},
	}
	for i, c := range closes {
		d := start.AddDate(0, 0, i)
		h.Close.Points = append(h.Close.Points, models.Point{Date: d, Value: c})
		h.AdjClose.Points = append(h.AdjClose.Points, models.Point{Date: d, Value: c})
		h.Volume.Points = append(h.Volume.Points, models.Point{Date: d, Value: 1000 + float64(i)})
	}
	return h
}

func testMarketConfig() config.MarketConfig {
	cfg := config.Default().Market
	cfg.USTickers = []string{"AAA", "BBB"}
	cfg.IndiaTickers = []string{"RELIANCE", "TCS"}
	cfg.Macro = nil
	return cfg
}

func TestCorrelationIndiaIdenticalSeries(t *testing.T) {
	start := day("2024-01-01")
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"RELIANCE.NS": history("RELIANCE.NS", start, 10, 11, 12, 11, 13, 14),
		"TCS.NS":      history("TCS.NS", start, 20, 22, 24, 22, 26, 28),
	}}
	m := NewMarket(testMarketConfig(), prices, &fakeMacro{})

	res, err := m.Correlation(context.Background(), CorrelationRequest{Market: MarketIndia, DropMissing: true})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	if len(res.Labels) != 2 || res.Labels[0] != "RELIANCE" || res.Labels[1] != "TCS" {
		t.Fatalf("unexpected labels %v", res.Labels)
	}
	if v := res.Values[0][1]; v == nil || math.Abs(*v-1) > 1e-9 {
		t.Fatalf("expected correlation 1, got %v", v)
	}
	if res.MaxYears != 1 || res.Years != 1 {
		t.Fatalf("expected a one-year window, got max=%d years=%d", res.MaxYears, res.Years)
	}
	if res.Returns != 5 {
		t.Fatalf("expected 5 return rows, got %d", res.Returns)
	}
}

func TestCorrelationUSWithMacro(t *testing.T) {
	start := day("2024-01-01")
	cfg := testMarketConfig()
	cfg.Macro = []config.MacroSeries{{ID: "GS10", Column: "USBond_10Y_Bond_Rate"}}
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"AAA": history("AAA", start, 1, 2, 3, 4, 5, 6),
		"BBB": history("BBB", start, 10, 11, 12.5, 15, 19, 25),
	}}
	macro := &fakeMacro{series: map[string]models.Series{
		"GS10": {Points: []models.Point{{Date: start, Value: 4}, {Date: start.AddDate(0, 0, 3), Value: 5}}},
	}}
	m := NewMarket(cfg, prices, macro)

	res, err := m.Correlation(context.Background(), CorrelationRequest{Market: MarketUS, DropMissing: true})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	want := []string{"AAA_AdjClose", "BBB_AdjClose", "USBond_10Y_Bond_Rate"}
	if len(res.Options) != len(want) {
		t.Fatalf("unexpected options %+v", res.Options)
	}
	for i, w := range want {
		if res.Options[i].Column != w {
			t.Fatalf("option %d = %s, want %s", i, res.Options[i].Column, w)
		}
	}
	if res.Options[2].Label != "USBond" {
		t.Fatalf("expected cleaned label, got %s", res.Options[2].Label)
	}
	if v := res.Values[0][1]; v == nil || *v >= 0 {
		t.Fatalf("expected negative AAA/BBB correlation, got %v", v)
	}
	for _, r := range prices.requested {
		if r != "AAA@max" && r != "BBB@max" {
			t.Fatalf("unexpected request %s", r)
		}
	}
}

func TestCorrelationMacroFailureIsWarning(t *testing.T) {
	start := day("2024-01-01")
	cfg := testMarketConfig()
	cfg.Macro = []config.MacroSeries{{ID: "GDP", Column: "USGDP_GDP"}}
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"AAA": history("AAA", start, 1, 2, 4, 3),
		"BBB": history("BBB", start, 2, 4, 8, 6),
	}}
	m := NewMarket(cfg, prices, &fakeMacro{err: fred.ErrMissingAPIKey})

	res, err := m.Correlation(context.Background(), CorrelationRequest{Market: MarketUS})
	if err != nil {
		t.Fatalf("Correlation: %v", err)
	}
	if len(res.Warnings) != 1 || len(res.Labels) != 2 {
		t.Fatalf("expected price-only matrix with one warning, got %+v", res)
	}
}

func TestCorrelationErrors(t *testing.T) {
	start := day("2024-01-01")
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"RELIANCE.NS": history("RELIANCE.NS", start, 10, 11, 12),
		"TCS.NS":      history("TCS.NS", start, 20, 22, 24),
	}}
	m := NewMarket(testMarketConfig(), prices, &fakeMacro{})

	tests := []struct {
		name string
		req  CorrelationRequest
		want error
	}{
		{"single asset", CorrelationRequest{Market: MarketIndia, Assets: []string{"TCS"}}, analytics.ErrInsufficientData},
		{"unknown column", CorrelationRequest{Market: MarketIndia, Assets: []string{"TCS", "NOPE"}}, ErrUnknownAsset},
		{"years out of range", CorrelationRequest{Market: MarketIndia, Years: 5}, ErrInvalidParameter},
		{"unknown market", CorrelationRequest{Market: "mars"}, ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := m.Correlation(context.Background(), tt.req); !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEquityIndicators(t *testing.T) {
	start := day("2024-01-01")
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"SBIN.NS": history("SBIN.NS", start, 1, 2, 3, 4, 5),
	}}
	m := NewMarket(testMarketConfig(), prices, &fakeMacro{})

	res, err := m.Equity(context.Background(), EquityRequest{Ticker: "sbin", Period: "1mo", SMAWindow: 3, EMAWindow: 3, BollingerWindow: 3, BollingerStd: 2})
	if err != nil {
		t.Fatalf("Equity: %v", err)
	}
	if res.Symbol != "SBIN.NS" || len(res.Rows) != 5 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Rows[1].SMA != nil {
		t.Fatalf("expected SMA warm-up to be null")
	}
	if res.Rows[2].SMA == nil || *res.Rows[2].SMA != 2 {
		t.Fatalf("expected SMA 2, got %v", res.Rows[2].SMA)
	}
	if res.Rows[0].EMA == nil || *res.Rows[0].EMA != 1 || res.Rows[1].EMA == nil || *res.Rows[1].EMA != 1.5 {
		t.Fatalf("unexpected EMA seed values")
	}
	if res.Rows[2].UpperBand == nil || math.Abs(*res.Rows[2].UpperBand-4) > 1e-9 {
		t.Fatalf("expected upper band 4, got %v", res.Rows[2].UpperBand)
	}
	if res.Rows[4].Volume == nil || *res.Rows[4].Volume != 1004 {
		t.Fatalf("unexpected volume %v", res.Rows[4].Volume)
	}

	if _, err := m.Equity(context.Background(), EquityRequest{Ticker: "SBIN", Period: "10y"}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected invalid period, got %v", err)
	}
	if _, err := m.Equity(context.Background(), EquityRequest{Ticker: "NOPE", Period: "1y"}); !errors.Is(err, yahoo.ErrNoData) {
		t.Fatalf("expected ErrNoData, got %v", err)
	}
}

func TestIndexKeyStats(t *testing.T) {
	start := day("2024-01-01")
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"^NSEI": history("^NSEI", start, 100, 110, 99),
	}}
	m := NewMarket(testMarketConfig(), prices, &fakeMacro{})

	res, err := m.Index(context.Background(), "nifty 50", "1y")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if res.Name != "NIFTY 50" || res.Ticker != "^NSEI" || len(res.Rows) != 3 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Stats.Start != 100 || res.Stats.End != 99 || res.Stats.Change != -1 || res.Stats.ChangePercent != -1 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	if res.Stats.AnnualizedVolatility == nil {
		t.Fatalf("expected volatility with two returns")
	}

	if _, err := m.Index(context.Background(), "DAX", "1y"); !errors.Is(err, ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestPairCorrelation(t *testing.T) {
	start := day("2024-01-01")
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"RELIANCE.NS": history("RELIANCE.NS", start, 1, 2, 3, 4),
		"^BSESN":      history("^BSESN", start.AddDate(0, 0, 1), 20, 30, 40, 50),
	}}
	m := NewMarket(testMarketConfig(), prices, &fakeMacro{})

	res, err := m.Pair(context.Background(), "reliance", "SENSEX", "1y")
	if err != nil {
		t.Fatalf("Pair: %v", err)
	}
	if res.Points != 3 || res.Coefficient == nil || math.Abs(*res.Coefficient-1) > 1e-9 {
		t.Fatalf("unexpected pair result %+v", res)
	}
	if !res.Merged[0].Date.Equal(start.AddDate(0, 0, 1)) {
		t.Fatalf("expected inner join to start on the second day, got %v", res.Merged[0].Date)
	}
}

func TestVolatility(t *testing.T) {
	start := day("2024-01-01")
	prices := &fakePrices{histories: map[string]models.PriceHistory{
		"INFY.NS": history("INFY.NS", start, 100, 110, 100, 110, 100, 110),
	}}
	m := NewMarket(testMarketConfig(), prices, &fakeMacro{})

	res, err := m.Volatility(context.Background(), VolatilityRequest{
		Ticker: "INFY", Period: "1y", Window: 3, BandWindow: 3, BandStd: 2, Threshold: 50,
	})
	if err != nil {
		t.Fatalf("Volatility: %v", err)
	}
	if len(res.Rows) != 6 || res.Rows[0].DailyReturn != nil {
		t.Fatalf("unexpected rows %+v", res.Rows)
	}
	if res.Rows[2].Volatility != nil || res.Rows[3].Volatility == nil {
		t.Fatalf("expected volatility from the fourth row on")
	}
	if len(res.High) != 3 {
		t.Fatalf("expected 3 high-volatility days, got %d", len(res.High))
	}

	if _, err := m.Volatility(context.Background(), VolatilityRequest{Ticker: "INFY", Period: "1y", Window: 1, BandWindow: 3, BandStd: 2}); !errors.Is(err, ErrInvalidParameter) {
		t.Fatalf("expected ErrInvalidParameter, got %v", err)
	}
}

func TestIsUserError(t *testing.T) {
	if !IsUserError(ErrIncompleteRange) || !IsUserError(analytics.ErrInsufficientData) {
		t.Fatalf("expected user errors")
	}
	if IsUserError(errors.New("upstream")) {
		t.Fatalf("provider error misclassified")
	}
}
