package sense

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MockFrameSource replays a scripted frame sequence. Used by tests and the
// simulator. Once the script is exhausted the last frame repeats, which
// models a static scene.
type MockFrameSource struct {
	mu       sync.Mutex
	frames   []*Frame
	idx      int
	captures int
	closed   bool

	// CaptureFunc overrides CaptureFrame when set.
	CaptureFunc func(ctx context.Context) (*Frame, error)
}

var _ FrameSource = (*MockFrameSource)(nil)

// NewMockFrameSource creates a mock that replays the given frames in order.
func NewMockFrameSource(frames ...*Frame) *MockFrameSource {
	return &MockFrameSource{frames: frames}
}

// CaptureFrame returns the next scripted frame.
func (m *MockFrameSource) CaptureFrame(ctx context.Context) (*Frame, error) {
	if m.CaptureFunc != nil {
		return m.CaptureFunc(ctx)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, fmt.Errorf("mock frame source closed")
	}
	if len(m.frames) == 0 {
		return nil, fmt.Errorf("mock frame source has no frames")
	}
	m.captures++

	f := m.frames[m.idx]
	if m.idx < len(m.frames)-1 {
		m.idx++
	}
	return f, nil
}

// Captures returns how many frames have been served.
func (m *MockFrameSource) Captures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

// Close marks the source closed.
func (m *MockFrameSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// MockChunkSource is an in-memory AudioChunkSource fed by tests.
type MockChunkSource struct {
	ch        chan []byte
	closeOnce sync.Once
}

var _ AudioChunkSource = (*MockChunkSource)(nil)

// NewMockChunkSource creates a chunk source with the given buffer depth.
func NewMockChunkSource(buffer int) *MockChunkSource {
	return &MockChunkSource{ch: make(chan []byte, buffer)}
}

// Push enqueues one PCM chunk.
func (m *MockChunkSource) Push(pcm []byte) {
	m.ch <- pcm
}

// Chunks returns the chunk channel.
func (m *MockChunkSource) Chunks() <-chan []byte {
	return m.ch
}

// Close closes the chunk channel.
func (m *MockChunkSource) Close() error {
	m.closeOnce.Do(func() { close(m.ch) })
	return nil
}

// SyntheticFrame builds a frame with uniform luminance, bypassing image
// decoding. Handy for gate tests: identical levels score zero deltas,
// different levels score large ones.
func SyntheticFrame(seq uint64, ts time.Time, luma float64) *Frame {
	if luma < 0 {
		luma = 0
	}
	if luma > 255 {
		luma = 255
	}

	var hist Histogram
	bin := int(luma) * HistBins / 256
	if bin >= HistBins {
		bin = HistBins - 1
	}
	hist[bin] = 1

	var grid LumaGrid
	for i := range grid {
		grid[i] = luma
	}

	return &Frame{
		Seq:       seq,
		Timestamp: ts,
		Width:     GridSize,
		Height:    GridSize,
		Hist:      &hist,
		Grid:      &grid,
	}
}
