package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"

	"marketpulse/logger"
)

// resourceSnapshot is one sample of host utilisation.
type resourceSnapshot struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	DiskUsed    uint64    `json:"disk_used"`
	DiskTotal   uint64    `json:"disk_total"`
	DiskPct     float64   `json:"disk_percent"`
}

// resourceSampler samples the host in the background. It never touches
// pipeline state.
type resourceSampler struct {
	samples  *ring[resourceSnapshot]
	interval time.Duration
	diskPath string

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Log
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
	diskUsageFn   = disk.UsageWithContext
)

func newResourceSampler(limit int, interval time.Duration, diskPath string, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if diskPath == "" {
		diskPath = "/"
	}
	return &resourceSampler{
		samples:  newRing[resourceSnapshot](limit),
		interval: interval,
		diskPath: diskPath,
		log:      log,
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s.running.Swap(true) {
		return
	}
	childCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(childCtx)
	}()
}

func (s *resourceSampler) stop() {
	if cancel := s.cancel; cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) snapshot() []resourceSnapshot {
	return s.samples.snapshot(nil)
}

// run samples until ctx is done. The CPU measurement itself spans one
// interval; after a failed sample the loop waits one interval before
// retrying.
func (s *resourceSampler) run(ctx context.Context) {
	defer s.running.Store(false)
	for ctx.Err() == nil {
		snap, err := s.sample(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			s.log.WithComponent("resource_sampler").WithError(err).Debug("failed to sample host resources")
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.interval):
			}
			continue
		}
		s.samples.add(snap)
	}
}

func (s *resourceSampler) sample(ctx context.Context) (resourceSnapshot, error) {
	cpuSamples, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		return resourceSnapshot{}, err
	}
	memStats, err := memoryStatsFn(ctx)
	if err != nil {
		return resourceSnapshot{}, err
	}
	diskStats, err := diskUsageFn(ctx, s.diskPath)
	if err != nil {
		return resourceSnapshot{}, err
	}

	snap := resourceSnapshot{
		Timestamp:   time.Now(),
		MemoryUsed:  memStats.Used,
		MemoryTotal: memStats.Total,
		MemoryPct:   memStats.UsedPercent,
		DiskUsed:    diskStats.Used,
		DiskTotal:   diskStats.Total,
		DiskPct:     diskStats.UsedPercent,
	}
	if len(cpuSamples) > 0 {
		snap.CPUPercent = cpuSamples[0]
	}
	return snap, nil
}
