package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"

	"marketpulse/models"
)

func scrape(t *testing.T) string {
	t.Helper()
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if rec.Code != 200 {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	return rec.Body.String()
}

func TestHandlerExposesCounters(t *testing.T) {
	RecordProviderRequest("yahoo", 200)
	RecordProviderRequest("yahoo", 0)
	RecordNormalize(models.NormalizeStats{Input: 5, Unmapped: 2, Output: 3})
	RecordCacheLookup(true)
	RecordYear(false)

	body := scrape(t)
	for _, want := range []string{
		`marketpulse_provider_requests_total{provider="yahoo",status="200"}`,
		`marketpulse_provider_requests_total{provider="yahoo",status="error"}`,
		`marketpulse_cot_rows_total{outcome="unmapped"}`,
		`marketpulse_cot_rows_total{outcome="emitted"}`,
		`marketpulse_cache_lookups_total{result="hit"}`,
		`marketpulse_cot_years_total{status="failed"}`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
	if strings.Contains(body, `outcome="zero_total"`) {
		t.Errorf("zero counts should not create series")
	}
}

func TestInitIsIdempotent(t *testing.T) {
	Init()
	Init()
	if _, err := Gatherer().Gather(); err != nil {
		t.Fatalf("gather: %v", err)
	}
}
