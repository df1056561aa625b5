// Package connectivity tracks cloud reachability and publishes a
// three-state health signal.
//
// A monitor goroutine probes the gateway health endpoint on a fixed
// interval and folds the outcomes into a rolling window. The window
// drives a small state machine (ONLINE, DEGRADED, OFFLINE) whose
// transitions only ever move between adjacent states: a flapping link
// walks through DEGRADED instead of slamming between ONLINE and
// OFFLINE, which keeps the dispatcher from stampeding the gateway with
// retries the moment a single probe succeeds.
//
// Readers never wait on a probe in flight: the current snapshot lives
// in an atomic.Value, and change notifications are non-blocking sends
// that drop when a subscriber lags.
package connectivity

import (
	"time"
)

// State is the cloud health signal consumed by the dispatcher and the
// turn coordinator.
type State int32

const (
	// Online means the gateway is reachable and responsive; remote
	// targets are preferred.
	Online State = iota

	// Degraded means the gateway is reachable but slow or flaky;
	// remote targets run with shortened deadlines and retries land on
	// local fallbacks.
	Degraded

	// Offline means the gateway is unreachable; everything runs on
	// local fallbacks.
	Offline
)

// String returns the wire form of the state.
func (s State) String() string {
	switch s {
	case Online:
		return "online"
	case Degraded:
		return "degraded"
	case Offline:
		return "offline"
	default:
		return "unknown"
	}
}

// Snapshot is an immutable view of the monitor at one instant. Reads
// are lock-free; a snapshot never blocks on a probe in flight.
type Snapshot struct {
	State       State         `json:"-"`
	StateName   string        `json:"state"`
	SuccessRate float64       `json:"success_rate"` // over the rolling window
	AvgLatency  time.Duration `json:"avg_latency"`  // successful probes only
	Probes      uint64        `json:"probes"`       // total since start
	LastProbe   time.Time     `json:"last_probe"`
	Since       time.Time     `json:"since"` // when State was entered
}
