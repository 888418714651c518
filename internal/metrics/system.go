package metrics

import (
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// SystemSampler tracks host-wide CPU usage and this process's Go memory
// statistics for the /metrics/system endpoint. The CPU reading is
// smoothed with an exponential moving average to avoid spiky readings.
type SystemSampler struct {
	mu         sync.RWMutex
	cpuPercent float64
	mem        runtime.MemStats
	updatedAt  time.Time
}

// NewSystemSampler creates a sampler and takes an initial reading.
func NewSystemSampler() *SystemSampler {
	s := &SystemSampler{}
	s.Sample()
	return s
}

// Sample refreshes CPU and memory readings. Safe to call periodically from
// a ticker goroutine.
func (s *SystemSampler) Sample() {
	percents, err := cpu.Percent(0, false)

	s.mu.Lock()
	defer s.mu.Unlock()

	runtime.ReadMemStats(&s.mem)
	s.updatedAt = time.Now()

	if err != nil || len(percents) == 0 {
		return
	}

	const alpha = 0.3
	if s.cpuPercent == 0 {
		s.cpuPercent = percents[0]
	} else {
		s.cpuPercent = alpha*percents[0] + (1-alpha)*s.cpuPercent
	}
}

// Snapshot returns the most recent CPU/memory reading as plain values
// suitable for JSON encoding.
func (s *SystemSampler) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return map[string]any{
		"cpu_percent":  s.cpuPercent,
		"heap_alloc":   s.mem.HeapAlloc,
		"heap_sys":     s.mem.HeapSys,
		"goroutines":   runtime.NumGoroutine(),
		"num_gc":       s.mem.NumGC,
		"sampled_at":   s.updatedAt.Unix(),
	}
}
