package dashboard

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/MtkN1/pybybit/internal/metrics"
	"github.com/MtkN1/pybybit/logger"
)

// resourceSnapshot is one sample of host usage plus the size of every
// mirrored store.
type resourceSnapshot struct {
	Timestamp   time.Time      `json:"timestamp"`
	CPUPercent  float64        `json:"cpu_percent"`
	MemoryUsed  uint64         `json:"memory_used"`
	MemoryTotal uint64         `json:"memory_total"`
	MemoryPct   float64        `json:"memory_percent"`
	Records     map[string]int `json:"records,omitempty"`
}

type resourceSampler struct {
	*history[resourceSnapshot]
	interval time.Duration
	stores   StoreSource

	cancel  context.CancelFunc
	running atomic.Bool
	wg      sync.WaitGroup
	log     *logger.Entry
}

var (
	cpuPercentFn = func(ctx context.Context, interval time.Duration) ([]float64, error) {
		return cpu.PercentWithContext(ctx, interval, false)
	}
	memoryStatsFn = mem.VirtualMemoryWithContext
)

func newResourceSampler(limit int, interval time.Duration, stores StoreSource, log *logger.Log) *resourceSampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &resourceSampler{
		history:  newHistory[resourceSnapshot](limit),
		interval: interval,
		stores:   stores,
		log:      log.WithComponent("resource_sampler"),
	}
}

func (s *resourceSampler) start(ctx context.Context) {
	if s == nil || s.running.Swap(true) {
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
	if s == nil {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	s.running.Store(false)
}

func (s *resourceSampler) run(ctx context.Context) {
	defer s.running.Store(false)
	for ctx.Err() == nil {
		// cpu.Percent blocks for the interval and paces the loop.
		cpuSamples, err := cpuPercentFn(ctx, s.interval)
		if err != nil {
			s.log.WithError(err).Debug("failed to sample cpu usage")
			if !sleep(ctx, s.interval) {
				return
			}
			continue
		}

		snap := resourceSnapshot{
			Timestamp:  time.Now(),
			CPUPercent: firstSample(cpuSamples),
			Records:    s.sampleStores(),
		}
		if memStats, err := memoryStatsFn(ctx); err == nil {
			snap.MemoryUsed = memStats.Used
			snap.MemoryTotal = memStats.Total
			snap.MemoryPct = memStats.UsedPercent
		} else {
			s.log.WithError(err).Debug("failed to sample memory usage")
		}
		s.add(snap)
	}
}

// sampleStores records the size of every store and mirrors it into the
// store_records gauge.
func (s *resourceSampler) sampleStores() map[string]int {
	if s.stores == nil {
		return nil
	}
	stores := s.stores.Stores()
	out := make(map[string]int, len(stores))
	for name, st := range stores {
		n := st.Len()
		out[name] = n
		metrics.StoreRecords.WithLabelValues(name).Set(float64(n))
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func firstSample(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	return samples[0]
}
