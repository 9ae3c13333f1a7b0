package reader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"marketpulse/internal/metrics"
	"marketpulse/logger"
)

const maxBodyBytes = 64 << 20

// ErrResponseTooLarge is returned when a body exceeds the client's limit.
var ErrResponseTooLarge = errors.New("response too large")

// secretParams are query parameters whose values never leave the client in
// logs or errors.
var secretParams = []string{"api_key", "apikey", "token", "access_token", "key"}

// Options configures an HTTPClient. A zero RequestsPerSecond disables rate
// limiting.
type Options struct {
	Provider          string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
}

// HTTPClient is the rate-limited GET client shared by the data providers.
type HTTPClient struct {
	provider  string
	client    *http.Client
	limiter   *rate.Limiter
	userAgent string
	maxBody   int64
	log       *logger.Log
}

// StatusError reports a non-200 response.
type StatusError struct {
	Provider   string
	StatusCode int
	URL        string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d from %s", e.Provider, e.StatusCode, e.URL)
}

func NewHTTPClient(opts Options) *HTTPClient {
	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst < 1 {
		burst = 1
	}
	maxBody := opts.MaxBodyBytes
	if maxBody <= 0 {
		maxBody = maxBodyBytes
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 2,
		IdleConnTimeout:     90 * time.Second,
	}

	return &HTTPClient{
		provider:  opts.Provider,
		client:    &http.Client{Transport: transport, Timeout: timeout},
		limiter:   rate.NewLimiter(limit, burst),
		userAgent: opts.UserAgent,
		maxBody:   maxBody,
		log:       logger.GetLogger(),
	}
}

// RedactURL masks the values of secret query parameters so the URL can be
// logged or put in an error.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid-url"
	}
	q := u.Query()
	changed := false
	for k := range q {
		for _, secret := range secretParams {
			if strings.EqualFold(k, secret) {
				q.Set(k, "REDACTED")
				changed = true
			}
		}
	}
	if changed {
		u.RawQuery = q.Encode()
	}
	u.User = nil
	return u.String()
}

// Get waits for the limiter, fetches rawURL and returns the body of a 200
// response. Only the redacted URL is logged or reported.
func (c *HTTPClient) Get(ctx context.Context, rawURL string) ([]byte, error) {
	safeURL := RedactURL(rawURL)
	log := c.log.WithComponent(c.provider + "_reader").WithFields(logger.Fields{
		"operation": "http_get",
		"url":       safeURL,
	})

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", safeURL, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		metrics.RecordProviderRequest(c.provider, 0)
		var ue *url.Error
		if errors.As(err, &ue) {
			ue.URL = safeURL
		}
		return nil, fmt.Errorf("%s request failed: %w", c.provider, err)
	}
	defer resp.Body.Close()

	metrics.RecordProviderRequest(c.provider, resp.StatusCode)
	logger.RecordProviderCall(c.provider)

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, URL: safeURL}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%s read body: %w", c.provider, err)
	}
	if int64(len(body)) > c.maxBody {
		return nil, fmt.Errorf("%s %s: %w (limit %d bytes)", c.provider, safeURL, ErrResponseTooLarge, c.maxBody)
	}

	logger.LogPerformanceEntry(log, c.provider+"_reader", "api_request", time.Since(start), logger.Fields{
		"bytes": len(body),
	})
	return body, nil
}
