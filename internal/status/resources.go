package status

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"cryptostream/logger"
)

// resourceSample is one reading of host and process load.
type resourceSample struct {
	Timestamp   time.Time `json:"timestamp"`
	CPUPercent  float64   `json:"cpu_percent"`
	MemoryUsed  uint64    `json:"memory_used"`
	MemoryTotal uint64    `json:"memory_total"`
	MemoryPct   float64   `json:"memory_percent"`
	Goroutines  int       `json:"goroutines"`
	HeapAlloc   uint64    `json:"heap_alloc"`
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

type resourceSampler struct {
	samples  *ring[resourceSample]
	interval time.Duration
	wg       sync.WaitGroup
	log      *logger.Entry
}

func newResourceSampler(limit int, interval time.Duration) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &resourceSampler{
		samples:  newRing[resourceSample](limit),
		interval: interval,
		log:      logger.GetLogger().WithComponent("resource_sampler"),
	}
}

// start samples until ctx is done. The cpu reading itself spans one
// interval.
func (s *resourceSampler) start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ctx.Err() == nil {
			sample, err := s.sample(ctx)
			if err != nil {
				s.log.WithError(err).Debug("failed to sample resources")
				select {
				case <-ctx.Done():
				case <-time.After(s.interval):
				}
				continue
			}
			s.samples.add(sample)
		}
	}()
}

func (s *resourceSampler) wait() { s.wg.Wait() }

func (s *resourceSampler) sample(ctx context.Context) (resourceSample, error) {
	cpuSamples, err := cpuPercentFn(ctx, s.interval)
	if err != nil {
		return resourceSample{}, err
	}
	memStats, err := memoryStatsFn(ctx)
	if err != nil {
		return resourceSample{}, err
	}
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	out := resourceSample{
		Timestamp:   time.Now().UTC(),
		MemoryUsed:  memStats.Used,
		MemoryTotal: memStats.Total,
		MemoryPct:   memStats.UsedPercent,
		Goroutines:  runtime.NumGoroutine(),
		HeapAlloc:   ms.HeapAlloc,
	}
	if len(cpuSamples) > 0 {
		out.CPUPercent = cpuSamples[0]
	}
	return out, nil
}
