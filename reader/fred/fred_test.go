package fred

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"

	"marketpulse/config"
	"marketpulse/logger"
)

func newTestReader(t *testing.T, key string, handler http.HandlerFunc) *Reader {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	cfg := config.Default()
	cfg.Providers.FRED.BaseURL = srv.URL
	cfg.Providers.FRED.APIKey = key
	cfg.Reader.RateLimit.RequestsPerSecond = 0
	return NewReader(&cfg)
}

func TestSeries(t *testing.T) {
	r := newTestReader(t, "k123", func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path != "/series/observations" || req.URL.Query().Get("series_id") != "GS10" || req.URL.Query().Get("api_key") != "k123" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"observations":[
			{"date":"2025-01-01","value":"4.5"},
			{"date":"2025-02-01","value":"."},
			{"date":"2025-03-01","value":"4.25"}]}`))
	})

	s, err := r.Series(context.Background(), "GS10", "USBond_10Y_Bond_Rate")
	if err != nil {
		t.Fatalf("Series: %v", err)
	}
	if s.Name != "USBond_10Y_Bond_Rate" || s.Len() != 2 || s.Points[1].Value != 4.25 {
		t.Fatalf("unexpected series: %+v", s)
	}
}

func TestSeriesRequiresKey(t *testing.T) {
	r := newTestReader(t, "", func(w http.ResponseWriter, req *http.Request) {
		t.Fatalf("no request expected")
	})
	if _, err := r.Series(context.Background(), "GDP", ""); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestSeriesErrorRedactsKey(t *testing.T) {
	r := newTestReader(t, "supersecret", func(w http.ResponseWriter, req *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	_, err := r.Series(context.Background(), "GDP", "")
	if err == nil {
		t.Fatalf("expected error")
	}
	if strings.Contains(err.Error(), "supersecret") {
		t.Fatalf("api key leaked: %v", err)
	}
}

func TestSeriesAPIErrorMessage(t *testing.T) {
	r := newTestReader(t, "k", func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"error_code":400,"error_message":"Bad Request. The series does not exist."}`))
	})
	if _, err := r.Series(context.Background(), "NOPE", ""); err == nil || !strings.Contains(err.Error(), "does not exist") {
		t.Fatalf("expected API error message, got %v", err)
	}
}

func TestSeriesKeepsKeyOutOfLogs(t *testing.T) {
	const key = "supersecretkey"
	var buf bytes.Buffer
	log := logger.GetLogger()
	prevLevel := log.GetLevel()
	log.SetOutput(&buf)
	log.SetLevel(logrus.DebugLevel)
	t.Cleanup(func() {
		log.SetOutput(os.Stdout)
		log.SetLevel(prevLevel)
	})

	r := newTestReader(t, key, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"observations":[{"date":"2025-01-01","value":"4.5"}]}`))
	})
	if _, err := r.Series(context.Background(), "GS10", ""); err != nil {
		t.Fatalf("Series: %v", err)
	}

	out := buf.String()
	if out == "" {
		t.Fatal("expected the request to be logged")
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, key) {
			t.Fatalf("api key logged: %s", line)
		}
	}
}
