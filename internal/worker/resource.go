package worker

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// sampleCacheWindow bounds how often ResourceSampler re-reads CPU/RAM.
const sampleCacheWindow = 150 * time.Millisecond

// ResourceSampler reports the fraction of CPU and RAM currently in use,
// caching the result for a short window so concurrent outer-loop goroutines
// don't each pay the sampling cost.
type ResourceSampler struct {
	mu        sync.Mutex
	lastCPU   float64
	lastRAM   float64
	sampledAt time.Time
}

// NewResourceSampler builds a ResourceSampler.
func NewResourceSampler() *ResourceSampler {
	return &ResourceSampler{}
}

// Sample returns (cpuFraction, ramFraction), refreshing from the OS only if
// the cached reading is older than sampleCacheWindow.
func (r *ResourceSampler) Sample() (cpuFraction, ramFraction float64, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if time.Since(r.sampledAt) < sampleCacheWindow {
		return r.lastCPU, r.lastRAM, nil
	}

	percents, err := cpu.Percent(0, false)
	if err != nil {
		return r.lastCPU, r.lastRAM, err
	}
	vm, err := mem.VirtualMemory()
	if err != nil {
		return r.lastCPU, r.lastRAM, err
	}

	if len(percents) > 0 {
		r.lastCPU = percents[0] / 100
	}
	r.lastRAM = vm.UsedPercent / 100
	r.sampledAt = time.Now()

	return r.lastCPU, r.lastRAM, nil
}
