package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net"
)

// counters aggregated for the runtime report
var (
	warnCount     sync.Map // component -> *int64
	errorCount    sync.Map // component -> *int64
	yearsFetched  int64
	yearsFailed   int64
	cacheHits     int64
	cacheMisses   int64
	rowsDropped   int64
	rowsPublished int64
	providerCalls sync.Map // provider -> *int64
)

func bump(m *sync.Map, key string, delta int64) {
	v, _ := m.LoadOrStore(key, new(int64))
	atomic.AddInt64(v.(*int64), delta)
}

func snapshot(m *sync.Map) map[string]int64 {
	out := map[string]int64{}
	m.Range(func(k, v any) bool {
		out[k.(string)] = atomic.LoadInt64(v.(*int64))
		return true
	})
	return out
}

func recordWarn(component string) {
	bump(&warnCount, rootComponent(component), 1)
}

func recordError(component string) {
	bump(&errorCount, rootComponent(component), 1)
}

// rootComponent folds "cftc_reader.year" style names into "cftc_reader".
func rootComponent(component string) string {
	if i := strings.IndexByte(component, '.'); i > 0 {
		return component[:i]
	}
	return component
}

func RecordYearFetched(ok bool) {
	if ok {
		atomic.AddInt64(&yearsFetched, 1)
	} else {
		atomic.AddInt64(&yearsFailed, 1)
	}
}

func RecordCacheLookup(hit bool) {
	if hit {
		atomic.AddInt64(&cacheHits, 1)
	} else {
		atomic.AddInt64(&cacheMisses, 1)
	}
}

func RecordRowsDropped(n int) {
	atomic.AddInt64(&rowsDropped, int64(n))
}

func RecordRowsPublished(n int) {
	atomic.AddInt64(&rowsPublished, int64(n))
}

func RecordProviderCall(provider string) {
	bump(&providerCalls, provider, 1)
}

// StartReport logs host and pipeline statistics every interval until ctx
// is done.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				logReport(ctx, log)
			}
		}
	}()
}

func reportFields() Fields {
	cpuPct := 0.0
	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		cpuPct = pct[0]
	}
	var memUsed, diskUsed, sent, recv uint64
	if m, err := mem.VirtualMemory(); err == nil {
		memUsed = m.Used
	}
	if d, err := disk.Usage("/"); err == nil {
		diskUsed = d.Used
	}
	if n, err := gnet.IOCounters(false); err == nil && len(n) > 0 {
		sent, recv = n[0].BytesSent, n[0].BytesRecv
	}

	return Fields{
		"warns":          snapshot(&warnCount),
		"errors":         snapshot(&errorCount),
		"provider_calls": snapshot(&providerCalls),
		"years_fetched":  atomic.LoadInt64(&yearsFetched),
		"years_failed":   atomic.LoadInt64(&yearsFailed),
		"cache_hits":     atomic.LoadInt64(&cacheHits),
		"cache_misses":   atomic.LoadInt64(&cacheMisses),
		"rows_dropped":   atomic.LoadInt64(&rowsDropped),
		"rows_published": atomic.LoadInt64(&rowsPublished),
		"goroutines":     runtime.NumGoroutine(),
		"cpu_percent":    cpuPct,
		"memory_mb":      int64(memUsed / 1024 / 1024),
		"disk_mb":        int64(diskUsed / 1024 / 1024),
		"net_bytes_sent": int64(sent),
		"net_bytes_recv": int64(recv),
	}
}

func logReport(ctx context.Context, log *Log) {
	fields := reportFields()
	log.WithComponent("report").WithFields(fields).Info("runtime report")

	datum := func(name string, unit cwtypes.StandardUnit, v float64) cwtypes.MetricDatum {
		return cwtypes.MetricDatum{MetricName: aws.String(name), Unit: unit, Value: aws.Float64(v)}
	}
	count := func(key string) float64 {
		return float64(fields[key].(int64))
	}

	publishMetrics(ctx, []cwtypes.MetricDatum{
		datum("CPUPercent", cwtypes.StandardUnitPercent, fields["cpu_percent"].(float64)),
		datum("MemoryMB", cwtypes.StandardUnitMegabytes, count("memory_mb")),
		datum("DiskMB", cwtypes.StandardUnitMegabytes, count("disk_mb")),
		datum("YearsFetched", cwtypes.StandardUnitCount, count("years_fetched")),
		datum("YearsFailed", cwtypes.StandardUnitCount, count("years_failed")),
		datum("CacheHits", cwtypes.StandardUnitCount, count("cache_hits")),
		datum("CacheMisses", cwtypes.StandardUnitCount, count("cache_misses")),
		datum("RowsDropped", cwtypes.StandardUnitCount, count("rows_dropped")),
		datum("NetBytesSent", cwtypes.StandardUnitBytes, count("net_bytes_sent")),
		datum("NetBytesRecv", cwtypes.StandardUnitBytes, count("net_bytes_recv")),
	})
}
