package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

const cpuSecondsMetric = "/sched/cpu:seconds"

// ProcessUsage is a coarse view of the gateway process, reported by the
// admin stats endpoint next to the bridge counters.
type ProcessUsage struct {
	CPUPercent float64   `json:"cpu_percent"`
	HeapBytes  uint64    `json:"heap_bytes"`
	Goroutines int       `json:"goroutines"`
	SampledAt  time.Time `json:"sampled_at"`
}

// processSampler derives CPU usage from the delta between two samples, so
// the first sample always reports zero.
type processSampler struct {
	mu       sync.Mutex
	sample   []metrics.Sample
	lastCPU  float64
	lastWall time.Time
	cpus     float64
}

func newProcessSampler() *processSampler {
	return &processSampler{cpus: float64(runtime.NumCPU())}
}

func (p *processSampler) Sample() ProcessUsage {
	if p == nil {
		return ProcessUsage{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.sample) == 0 {
		p.sample = []metrics.Sample{{Name: cpuSecondsMetric}}
	}
	metrics.Read(p.sample)
	now := time.Now()

	usage := ProcessUsage{Goroutines: runtime.NumGoroutine(), SampledAt: now}
	if v := p.sample[0].Value; v.Kind() == metrics.KindFloat64 {
		cpu := v.Float64()
		if wall := now.Sub(p.lastWall).Seconds(); !p.lastWall.IsZero() && wall > 0 && p.cpus > 0 {
			usage.CPUPercent = (cpu - p.lastCPU) / wall / p.cpus * 100
		}
		p.lastCPU = cpu
	}
	p.lastWall = now

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	usage.HeapBytes = mem.HeapAlloc
	return usage
}
