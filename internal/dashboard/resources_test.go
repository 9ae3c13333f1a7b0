package dashboard

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketpulse/logger"
)

// stubHost replaces the gopsutil collectors for the duration of the test.
// cpuErr, when set, makes every CPU sample fail.
func stubHost(t *testing.T, cpuErr error) *atomic.Int32 {
	t.Helper()
	originalCPU, originalMem, originalDisk := cpuPercentFn, memoryStatsFn, diskUsageFn
	t.Cleanup(func() {
		cpuPercentFn, memoryStatsFn, diskUsageFn = originalCPU, originalMem, originalDisk
	})

	calls := &atomic.Int32{}
	cpuPercentFn = func(ctx context.Context, _ time.Duration) ([]float64, error) {
		calls.Add(1)
		if cpuErr != nil {
			return nil, cpuErr
		}
		return []float64{42.5}, nil
	}
	memoryStatsFn = func(context.Context) (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Used: 1024, Total: 2048, UsedPercent: 50}, nil
	}
	diskUsageFn = func(_ context.Context, path string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Path: path, Used: 4096, Total: 8192, UsedPercent: 50}, nil
	}
	return calls
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestResourceSamplerCollectsSamples(t *testing.T) {
	calls := stubHost(t, nil)
	sampler := newResourceSampler(3, 10*time.Millisecond, "", logger.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)
	sampler.start(ctx)

	waitFor(t, time.Second, func() bool { return len(sampler.snapshot()) > 0 })
	sampler.stop()

	snaps := sampler.snapshot()
	latest := snaps[len(snaps)-1]
	if latest.CPUPercent != 42.5 || latest.MemoryPct != 50 || latest.DiskTotal != 8192 {
		t.Fatalf("unexpected snapshot data: %#v", latest)
	}
	if len(snaps) > 3 {
		t.Fatalf("history exceeds limit: %d", len(snaps))
	}
	if sampler.diskPath != "/" {
		t.Fatalf("disk path = %q, want /", sampler.diskPath)
	}
	if calls.Load() == 0 {
		t.Fatal("expected cpu sampler to be invoked")
	}
}

func TestResourceSamplerBacksOffOnError(t *testing.T) {
	calls := stubHost(t, errors.New("no procfs"))
	interval := 20 * time.Millisecond
	sampler := newResourceSampler(3, interval, "/", logger.Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sampler.start(ctx)
	time.Sleep(10 * interval)
	sampler.stop()

	if n := len(sampler.snapshot()); n != 0 {
		t.Fatalf("failed samples were recorded: %d", n)
	}
	// The stub returns at once, so without the pause the loop would spin
	// thousands of times in this window.
	if got := calls.Load(); got == 0 || got > 20 {
		t.Fatalf("cpu sampled %d times over 10 intervals", got)
	}
}

func TestResourceSamplerStopWithoutStart(t *testing.T) {
	sampler := newResourceSampler(0, 0, "", logger.Logger())
	sampler.stop()
	if sampler.interval != 5*time.Second {
		t.Fatalf("interval = %v", sampler.interval)
	}
}
