package yahoo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/reader"
)

// Periods accepted by History.
var Periods = []string{"1mo", "3mo", "6mo", "1y", "2y", "5y", "max"}

// ErrInvalidPeriod is returned for a period outside Periods.
var ErrInvalidPeriod = errors.New("invalid period")

// ErrNoData is returned when the chart has no observations.
var ErrNoData = errors.New("no price data")

// ValidPeriod reports whether p is one of Periods.
func ValidPeriod(p string) bool {
	for _, v := range Periods {
		if v == p {
			return true
		}
	}
	return false
}

// Reader reads daily history from the chart API.
type Reader struct {
	baseURL string
	http    *reader.HTTPClient
	log     *logger.Log
}

func NewReader(cfg *config.Config) *Reader {
	y := cfg.Providers.Yahoo
	return &Reader{
		baseURL: strings.TrimRight(y.BaseURL, "/"),
		http: reader.NewHTTPClient(reader.Options{
			Provider:          "yahoo",
			Timeout:           y.Timeout,
			UserAgent:         y.UserAgent,
			RequestsPerSecond: cfg.Reader.RateLimit.RequestsPerSecond,
			Burst:             cfg.Reader.RateLimit.BurstSize,
		}),
		log: logger.GetLogger(),
	}
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta struct {
		Symbol    string `json:"symbol"`
		GMTOffset int    `json:"gmtoffset"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func (r *Reader) historyURL(ticker, period string) string {
	q := url.Values{}
	q.Set("range", period)
	q.Set("interval", "1d")
	q.Set("includeAdjustedClose", "true")
	return fmt.Sprintf("%s/v8/finance/chart/%s?%s", r.baseURL, url.PathEscape(ticker), q.Encode())
}

// History returns the daily close, adjusted close and volume series of
// ticker over period. Null observations are skipped.
func (r *Reader) History(ctx context.Context, ticker, period string) (models.PriceHistory, error) {
	if !ValidPeriod(period) {
		return models.PriceHistory{}, fmt.Errorf("%w %q", ErrInvalidPeriod, period)
	}

	body, err := r.http.Get(ctx, r.historyURL(ticker, period))
	if err != nil {
		return models.PriceHistory{}, fmt.Errorf("history %s: %w", ticker, err)
	}
	hist, err := decodeChart(ticker, body)
	if err != nil {
		return models.PriceHistory{}, err
	}

	r.log.WithComponent("yahoo_reader").WithFields(logger.Fields{
		"ticker": ticker,
		"period": period,
		"points": hist.Close.Len(),
	}).Debug("history fetched")
	return hist, nil
}

func decodeChart(ticker string, body []byte) (models.PriceHistory, error) {
	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.PriceHistory{}, fmt.Errorf("decode chart %s: %w", ticker, err)
	}
	if e := resp.Chart.Error; e != nil {
		return models.PriceHistory{}, fmt.Errorf("chart %s: %s: %s", ticker, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return models.PriceHistory{}, fmt.Errorf("%w for %s", ErrNoData, ticker)
	}

	res := resp.Chart.Result[0]
	hist := models.PriceHistory{
		Ticker:   ticker,
		Close:    models.Series{Name: ticker + "_Close"},
		AdjClose: models.Series{Name: ticker + "_AdjClose"},
		Volume:   models.Series{Name: ticker + "_Volume"},
	}
	offset := time.Duration(res.Meta.GMTOffset) * time.Second

	var closes, volumes, adj []*float64
	if len(res.Indicators.Quote) > 0 {
		closes = res.Indicators.Quote[0].Close
		volumes = res.Indicators.Quote[0].Volume
	}
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	for i, ts := range res.Timestamp {
		local := time.Unix(ts, 0).UTC().Add(offset)
		day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
		appendPoint(&hist.Close, closes, i, day)
		appendPoint(&hist.AdjClose, adj, i, day)
		appendPoint(&hist.Volume, volumes, i, day)
	}
	if hist.AdjClose.Len() == 0 {
		hist.AdjClose.Points = append([]models.Point(nil), hist.Close.Points...)
	}
	if hist.Close.Len() == 0 {
		return models.PriceHistory{}, fmt.Errorf("%w for %s", ErrNoData, ticker)
	}
	return hist, nil
}

// appendPoint adds values[i] unless it is null. A later point on the same
// day replaces the earlier one.
func appendPoint(s *models.Series, values []*float64, i int, day time.Time) {
	if i >= len(values) || values[i] == nil {
		return
	}
	if n := len(s.Points); n > 0 && s.Points[n-1].Date.Equal(day) {
		s.Points[n-1].Value = *values[i]
		return
	}
	s.Points = append(s.Points, models.Point{Date: day, Value: *values[i]})
}
