package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

type outcome struct {
	ok      bool
	latency time.Duration
}

// Monitor owns the ConnectivityState. It is the single writer; every
// other component reads immutable snapshots or listens on a
// subscription channel.
type Monitor struct {
	cfg  Config
	log  *slog.Logger
	snap atomic.Value // Snapshot

	mu         sync.Mutex
	state      State
	window     []outcome
	consecOK   int
	consecFail int
	probes     uint64
	lastProbe  time.Time
	since      time.Time
	subs       []chan Snapshot
}

// NewMonitor creates a monitor. It starts in DEGRADED, adjacent to
// both end states, so the first few probes promote or demote it
// without ever skipping a step.
func NewMonitor(opts ...Option) (*Monitor, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("connectivity: %w", err)
	}

	m := &Monitor{
		cfg:    *cfg,
		log:    cfg.Logger.With("component", "connectivity"),
		state:  Degraded,
		window: make([]outcome, 0, cfg.WindowSize),
		since:  time.Now(),
	}
	m.snap.Store(m.buildSnapshot())
	return m, nil
}

// Run probes on the configured interval until ctx is cancelled. The
// first probe fires immediately so consumers are not stuck on the
// initial state for a full interval.
func (m *Monitor) Run(ctx context.Context) error {
	m.log.Info("monitor started",
		"interval", m.cfg.ProbeInterval,
		"window", m.cfg.WindowSize)

	ticker := time.NewTicker(m.cfg.ProbeInterval)
	defer ticker.Stop()

	for {
		m.probeOnce(ctx)
		select {
		case <-ctx.Done():
			m.log.Info("monitor stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	start := time.Now()
	err := m.cfg.Probe(pctx)
	elapsed := time.Since(start)

	if err != nil && ctx.Err() != nil {
		// Shutdown, not a network verdict.
		return
	}
	if err != nil {
		m.log.Debug("probe failed", "latency", elapsed, "error", err)
	}
	m.Observe(err == nil, elapsed)
}

// Observe folds one probe outcome into the window and advances the
// state machine by at most one step. Run is the normal caller; tests
// drive the machine through it directly.
func (m *Monitor) Observe(ok bool, latency time.Duration) {
	m.mu.Lock()

	m.probes++
	m.lastProbe = time.Now()
	m.window = append(m.window, outcome{ok: ok, latency: latency})
	if len(m.window) > m.cfg.WindowSize {
		m.window = m.window[1:]
	}
	if ok {
		m.consecOK++
		m.consecFail = 0
	} else {
		m.consecFail++
		m.consecOK = 0
	}

	prev := m.state
	next := m.nextState()
	if next != prev {
		m.state = next
		m.since = time.Now()
	}

	snap := m.buildSnapshot()
	m.snap.Store(snap)

	var subs []chan Snapshot
	if next != prev {
		subs = make([]chan Snapshot, len(m.subs))
		copy(subs, m.subs)
	}
	m.mu.Unlock()

	if next != prev {
		m.log.Info("state transition",
			"from", prev,
			"to", next,
			"success_rate", snap.SuccessRate,
			"avg_latency", snap.AvgLatency)
		for _, ch := range subs {
			select {
			case ch <- snap:
			default:
				// Subscriber lagging; it will catch up from the
				// snapshot on its next read.
			}
		}
	}
}

// nextState returns the state after this observation. At most one
// adjacency step per probe: a collapsing link passes through DEGRADED
// on the way down, and recovery climbs back the same way.
func (m *Monitor) nextState() State {
	rate, avg := m.windowStats()

	switch m.state {
	case Online:
		if rate < m.cfg.MinSuccessRate || avg > m.cfg.MaxLatency {
			return Degraded
		}
	case Degraded:
		if m.consecFail >= m.cfg.OfflineAfter {
			return Offline
		}
		if m.consecOK >= m.cfg.RecoverAfter &&
			rate >= m.cfg.MinSuccessRate && avg <= m.cfg.MaxLatency {
			return Online
		}
	case Offline:
		if m.consecOK >= m.cfg.RecoverAfter {
			return Degraded
		}
	}
	return m.state
}

// windowStats computes the success rate over the window and the mean
// latency over its successful probes. Caller holds m.mu.
func (m *Monitor) windowStats() (rate float64, avg time.Duration) {
	if len(m.window) == 0 {
		return 0, 0
	}
	var okCount int
	var total time.Duration
	for _, o := range m.window {
		if o.ok {
			okCount++
			total += o.latency
		}
	}
	rate = float64(okCount) / float64(len(m.window))
	if okCount > 0 {
		avg = total / time.Duration(okCount)
	}
	return rate, avg
}

// buildSnapshot assembles the published view. Caller holds m.mu.
func (m *Monitor) buildSnapshot() Snapshot {
	rate, avg := m.windowStats()
	return Snapshot{
		State:       m.state,
		StateName:   m.state.String(),
		SuccessRate: rate,
		AvgLatency:  avg,
		Probes:      m.probes,
		LastProbe:   m.lastProbe,
		Since:       m.since,
	}
}

// State returns the current state without locking.
func (m *Monitor) State() State {
	return m.Snapshot().State
}

// Snapshot returns the latest published view without locking.
func (m *Monitor) Snapshot() Snapshot {
	return m.snap.Load().(Snapshot)
}

// Subscribe registers for state-change notifications. The channel is
// buffered and sends are non-blocking: a subscriber that falls behind
// misses intermediate transitions but can always read the current
// Snapshot.
func (m *Monitor) Subscribe() <-chan Snapshot {
	ch := make(chan Snapshot, 4)
	m.mu.Lock()
	m.subs = append(m.subs, ch)
	m.mu.Unlock()
	return ch
}
