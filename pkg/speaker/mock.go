package speaker

import (
	"context"
	"sync"

	"github.com/irisware/go-iris/pkg/capability"
)

// Mock is a sink for tests and the simulator. It records playback
// instead of sending audio anywhere.
type Mock struct {
	// PlayFunc overrides Play behavior after the call is recorded.
	PlayFunc func(ctx context.Context, clip *capability.Clip) error

	// StopFunc is invoked on Stop after the call is recorded.
	StopFunc func()

	mu      sync.Mutex
	calls   []string
	clips   []*capability.Clip
	playing bool
}

// NewMock creates a mock sink.
func NewMock() *Mock {
	return &Mock{}
}

// Play records the clip and returns immediately unless PlayFunc blocks.
func (m *Mock) Play(ctx context.Context, clip *capability.Clip) error {
	m.mu.Lock()
	m.calls = append(m.calls, "Play")
	m.clips = append(m.clips, clip)
	m.playing = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.playing = false
		m.mu.Unlock()
	}()

	if m.PlayFunc != nil {
		return m.PlayFunc(ctx, clip)
	}
	return nil
}

// Stop records the call.
func (m *Mock) Stop() {
	m.mu.Lock()
	m.calls = append(m.calls, "Stop")
	m.mu.Unlock()

	if m.StopFunc != nil {
		m.StopFunc()
	}
}

// IsSpeaking reports whether a Play call is in flight.
func (m *Mock) IsSpeaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.playing
}

// Clips returns the clips played so far.
func (m *Mock) Clips() []*capability.Clip {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*capability.Clip, len(m.clips))
	copy(out, m.clips)
	return out
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c == method {
			count++
		}
	}
	return count
}

// Reset clears recorded calls and clips.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.clips = nil
}
