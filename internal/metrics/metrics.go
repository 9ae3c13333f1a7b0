// Registers:
//
//	#marketpulse_cot_years_total{status}
//	#marketpulse_cot_rows_total{outcome}
//	#marketpulse_cache_lookups_total{result}
//	#marketpulse_provider_requests_total{provider,status}
//	#marketpulse_pipeline_duration_seconds{pipeline}
//	#go_* and process_* system metrics
//
// The dashboard serves them through Handler.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"marketpulse/models"
)

var (
	once     sync.Once
	registry = prometheus.NewRegistry()

	cotYears = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_cot_years_total",
			Help: "Report years fetched, by status",
		},
		[]string{"status"},
	)
	cotRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_cot_rows_total",
			Help: "Raw report rows seen by the normalizer, by outcome",
		},
		[]string{"outcome"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_cache_lookups_total",
			Help: "History cache lookups, by result",
		},
		[]string{"result"},
	)
	providerRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_provider_requests_total",
			Help: "Outbound data provider requests, by provider and HTTP status",
		},
		[]string{"provider", "status"},
	)
	pipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_pipeline_duration_seconds",
			Help:    "Wall time of one pipeline run",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		},
		[]string{"pipeline"},
	)
)

// Init registers the collectors once. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		registry.MustRegister(cotYears, cotRows, cacheLookups, providerRequests, pipelineDuration)
		registry.MustRegister(collectors.NewGoCollector())
		registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	})
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	Init()
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func Gatherer() prometheus.Gatherer {
	return registry
}

func RecordYear(ok bool) {
	status := "ok"
	if !ok {
		status = "failed"
	}
	cotYears.WithLabelValues(status).Inc()
}

// RecordNormalize attributes every input row to exactly one outcome.
func RecordNormalize(stats models.NormalizeStats) {
	add := func(outcome string, n int) {
		if n > 0 {
			cotRows.WithLabelValues(outcome).Add(float64(n))
		}
	}
	add("unmapped", stats.Unmapped)
	add("bad_date", stats.BadDate)
	add("uncoercible", stats.Uncoercible)
	add("collapsed", stats.Collapsed)
	add("zero_total", stats.ZeroTotal)
	add("emitted", stats.Output)
}

func RecordCacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	cacheLookups.WithLabelValues(result).Inc()
}

// RecordProviderRequest counts one outbound call. A zero status means the
// request never got a response.
func RecordProviderRequest(provider string, status int) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	providerRequests.WithLabelValues(provider, label).Inc()
}

func ObservePipeline(pipeline string, d time.Duration) {
	pipelineDuration.WithLabelValues(pipeline).Observe(d.Seconds())
}
