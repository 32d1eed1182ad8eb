// Package monitoring collects in-process timing statistics for pipeline
// operations.
package monitoring

import (
	"sync"
	"time"
)

// OperationStats aggregates timings for one named operation.
type OperationStats struct {
	Count   int64
	Total   time.Duration
	Average time.Duration
	Min     time.Duration
	Max     time.Duration
}

// Monitor records operation durations. A disabled monitor costs one branch
// per call and records nothing.
type Monitor struct {
	enabled bool

	mu    sync.Mutex
	stats map[string]*OperationStats
}

func NewMonitor(enabled bool) *Monitor {
	return &Monitor{
		enabled: enabled,
		stats:   make(map[string]*OperationStats),
	}
}

// Start begins timing an operation. The returned stop function records the
// elapsed time; call it exactly once, usually via defer.
func (m *Monitor) Start(operation string) func() {
	if !m.enabled {
		return func() {}
	}
	start := time.Now()
	return func() {
		m.record(operation, time.Since(start))
	}
}

func (m *Monitor) record(operation string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.stats[operation]
	if !ok {
		s = &OperationStats{Min: d, Max: d}
		m.stats[operation] = s
	}
	s.Count++
	s.Total += d
	s.Average = s.Total / time.Duration(s.Count)
	if d < s.Min {
		s.Min = d
	}
	if d > s.Max {
		s.Max = d
	}
}

// Summary returns a copy of all collected statistics.
func (m *Monitor) Summary() map[string]OperationStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]OperationStats, len(m.stats))
	for name, s := range m.stats {
		out[name] = *s
	}
	return out
}
