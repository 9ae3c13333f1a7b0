package fred

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"marketpulse/config"
	"marketpulse/logger"
	"marketpulse/models"
	"marketpulse/reader"
)

// ErrMissingAPIKey is returned by Series when no key is configured.
var ErrMissingAPIKey = errors.New("FRED API key not configured")

// Reader fetches series observations from FRED.
type Reader struct {
	baseURL string
	apiKey  string
	http    *reader.HTTPClient
	log     *logger.Log
}

func NewReader(cfg *config.Config) *Reader {
	f := cfg.Providers.FRED
	return &Reader{
		baseURL: strings.TrimRight(f.BaseURL, "/"),
		apiKey:  f.APIKey,
		http: reader.NewHTTPClient(reader.Options{
			Provider:          "fred",
			Timeout:           f.Timeout,
			RequestsPerSecond: cfg.Reader.RateLimit.RequestsPerSecond,
			Burst:             cfg.Reader.RateLimit.BurstSize,
		}),
		log: logger.GetLogger(),
	}
}

type observationsResponse struct {
	ErrorCode    int    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
	Observations []struct {
		Date  string `json:"date"`
		Value string `json:"value"`
	} `json:"observations"`
}

// Series returns every observation of id, named name. Values of "." mark
// missing observations and are skipped.
func (r *Reader) Series(ctx context.Context, id, name string) (models.Series, error) {
	if r.apiKey == "" {
		return models.Series{}, ErrMissingAPIKey
	}

	q := url.Values{}
	q.Set("series_id", id)
	q.Set("api_key", r.apiKey)
	q.Set("file_type", "json")

	body, err := r.http.Get(ctx, r.baseURL+"/series/observations?"+q.Encode())
	if err != nil {
		return models.Series{}, fmt.Errorf("series %s: %w", id, redactKey(err, r.apiKey))
	}

	var resp observationsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return models.Series{}, fmt.Errorf("decode series %s: %w", id, err)
	}
	if resp.ErrorMessage != "" {
		return models.Series{}, fmt.Errorf("series %s: %s", id, resp.ErrorMessage)
	}

	if name == "" {
		name = id
	}
	s := models.Series{Name: name}
	skipped := 0
	for _, o := range resp.Observations {
		d, err := time.Parse("2006-01-02", o.Date)
		if err != nil {
			skipped++
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(o.Value), 64)
		if err != nil {
			skipped++
			continue
		}
		s.Points = append(s.Points, models.Point{Date: d, Value: v})
	}

	r.log.WithComponent("fred_reader").WithFields(logger.Fields{
		"series":  id,
		"points":  s.Len(),
		"skipped": skipped,
	}).Debug("series fetched")
	return s, nil
}

// redactKey keeps the API key out of error messages that embed the URL.
func redactKey(err error, key string) error {
	msg := err.Error()
	if key == "" || !strings.Contains(msg, key) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, key, "REDACTED"))
}
