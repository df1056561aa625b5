package capability

import (
	"context"
	"sync"
	"time"
)

// Mock implements Provider for testing.
// All methods can be customized via function fields.
type Mock struct {
	// DetectFunc is called when Detect is invoked.
	// If nil, returns a single high-confidence person.
	DetectFunc func(ctx context.Context, image []byte) ([]Detection, error)

	// CaptionFunc is called when Caption is invoked.
	// If nil, returns a fixed caption.
	CaptionFunc func(ctx context.Context, image []byte) (string, error)

	// OCRFunc is called when OCR is invoked.
	// If nil, returns empty text with zero coverage.
	OCRFunc func(ctx context.Context, image []byte) (*OCRText, error)

	// TranscribeFunc is called when Transcribe is invoked.
	// If nil, returns a fixed transcript.
	TranscribeFunc func(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// ChatFunc is called when Chat is invoked.
	// If nil, echoes the prompt.
	ChatFunc func(ctx context.Context, req *ChatRequest) (string, error)

	// SynthesizeFunc is called when Synthesize is invoked.
	// If nil, returns silence paced at ~20ms per character.
	SynthesizeFunc func(ctx context.Context, text string) (*Clip, error)

	// HealthFunc is called when Health is invoked.
	// If nil, returns nil (healthy).
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	// If nil, returns nil.
	CloseFunc func() error

	// Delay, when set, is slept before every call returns. Lets tests
	// simulate slow backends without custom funcs.
	Delay time.Duration

	mu    sync.Mutex
	calls []MockCall
}

var _ Provider = (*Mock)(nil)

// MockCall records a method invocation for verification.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a mock provider with benign defaults: every capability
// succeeds instantly with plausible fixed output.
func NewMock() *Mock {
	return &Mock{
		DetectFunc: func(ctx context.Context, image []byte) ([]Detection, error) {
			return []Detection{{Label: "person", Confidence: 0.92, Box: Box{X: 10, Y: 10, W: 100, H: 200}}}, nil
		},
		CaptionFunc: func(ctx context.Context, image []byte) (string, error) {
			return "a room with a table", nil
		},
		OCRFunc: func(ctx context.Context, image []byte) (*OCRText, error) {
			return &OCRText{}, nil
		},
		TranscribeFunc: func(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
			return "what do you see", nil
		},
		ChatFunc: func(ctx context.Context, req *ChatRequest) (string, error) {
			return "I heard: " + req.Prompt, nil
		},
		SynthesizeFunc: func(ctx context.Context, text string) (*Clip, error) {
			// ~20ms of 16kHz mono silence per character.
			return &Clip{
				PCM:        make([]byte, len(text)*640),
				SampleRate: 16000,
				Channels:   1,
			}, nil
		},
	}
}

// Detect calls DetectFunc and records the call.
func (m *Mock) Detect(ctx context.Context, image []byte) ([]Detection, error) {
	m.recordCall("Detect")
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.DetectFunc != nil {
		return m.DetectFunc(ctx, image)
	}
	return nil, WrapError("mock", ErrUnsupported)
}

// Caption calls CaptionFunc and records the call.
func (m *Mock) Caption(ctx context.Context, image []byte) (string, error) {
	m.recordCall("Caption")
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.CaptionFunc != nil {
		return m.CaptionFunc(ctx, image)
	}
	return "", WrapError("mock", ErrUnsupported)
}

// OCR calls OCRFunc and records the call.
func (m *Mock) OCR(ctx context.Context, image []byte) (*OCRText, error) {
	m.recordCall("OCR")
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.OCRFunc != nil {
		return m.OCRFunc(ctx, image)
	}
	return nil, WrapError("mock", ErrUnsupported)
}

// Transcribe calls TranscribeFunc and records the call.
func (m *Mock) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	m.recordCall("Transcribe")
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.TranscribeFunc != nil {
		return m.TranscribeFunc(ctx, pcm, sampleRate)
	}
	return "", WrapError("mock", ErrUnsupported)
}

// Chat calls ChatFunc and records the call.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (string, error) {
	m.recordCall("Chat")
	if err := m.wait(ctx); err != nil {
		return "", err
	}
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return "", WrapError("mock", ErrUnsupported)
}

// Synthesize calls SynthesizeFunc and records the call.
func (m *Mock) Synthesize(ctx context.Context, text string) (*Clip, error) {
	m.recordCall("Synthesize")
	if err := m.wait(ctx); err != nil {
		return nil, err
	}
	if m.SynthesizeFunc != nil {
		return m.SynthesizeFunc(ctx, text)
	}
	return nil, WrapError("mock", ErrUnsupported)
}

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.recordCall("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Name identifies the mock in logs.
func (m *Mock) Name() string { return "mock" }

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.recordCall("Close")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// Calls returns a copy of recorded calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]MockCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallCount returns the number of calls to a specific method.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.Method == method {
			n++
		}
	}
	return n
}

// ResetCalls clears the call history.
func (m *Mock) ResetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *Mock) recordCall(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{Method: method, Time: time.Now()})
}

// wait blocks for Delay or until the context expires, whichever is first.
func (m *Mock) wait(ctx context.Context) error {
	if m.Delay <= 0 {
		return nil
	}
	t := time.NewTimer(m.Delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
