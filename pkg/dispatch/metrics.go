package dispatch

import (
	"sync"
	"time"

	"github.com/irisware/go-iris/pkg/capability"
)

// historyCap bounds the sample window the collector keeps; stats are
// computed over this window, not process lifetime.
const historyCap = 256

// Sample is one recorded capability attempt.
type Sample struct {
	Capability capability.Capability `json:"capability"`
	Target     capability.Target     `json:"target"`
	Status     capability.Status     `json:"status"`
	Latency    time.Duration         `json:"latency"`
	At         time.Time             `json:"at"`
}

// LatencyStats summarizes one capability/target bucket over the window.
type LatencyStats struct {
	Count    int           `json:"count"`
	Failures int           `json:"failures"`
	Average  time.Duration `json:"average"`
	Min      time.Duration `json:"min"`
	Max      time.Duration `json:"max"`
	Last     time.Duration `json:"last"`
}

// Collector aggregates attempt latency per capability and target. It is
// goroutine-safe: dispatch workers record, the dashboard reads.
type Collector struct {
	mu      sync.Mutex
	history []Sample
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{
		history: make([]Sample, 0, historyCap),
	}
}

// Record adds one attempt sample, evicting the oldest past the window.
func (m *Collector) Record(c capability.Capability, target capability.Target, status capability.Status, latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.history = append(m.history, Sample{
		Capability: c,
		Target:     target,
		Status:     status,
		Latency:    latency,
		At:         time.Now(),
	})
	if len(m.history) > historyCap {
		m.history = m.history[1:]
	}
}

// Snapshot returns per-bucket stats keyed "capability/target".
func (m *Collector) Snapshot() map[string]LatencyStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[string]time.Duration)
	out := make(map[string]LatencyStats)
	for _, s := range m.history {
		key := string(s.Capability) + "/" + string(s.Target)
		st := out[key]

		st.Count++
		if s.Status != capability.StatusOK {
			st.Failures++
		}
		if st.Min == 0 || s.Latency < st.Min {
			st.Min = s.Latency
		}
		if s.Latency > st.Max {
			st.Max = s.Latency
		}
		st.Last = s.Latency
		totals[key] += s.Latency

		out[key] = st
	}
	for key, st := range out {
		st.Average = totals[key] / time.Duration(st.Count)
		out[key] = st
	}
	return out
}

// Recent returns the newest n samples, newest first.
func (m *Collector) Recent(n int) []Sample {
	m.mu.Lock()
	defer m.mu.Unlock()

	if n > len(m.history) {
		n = len(m.history)
	}
	out := make([]Sample, n)
	for i := 0; i < n; i++ {
		out[i] = m.history[len(m.history)-1-i]
	}
	return out
}
