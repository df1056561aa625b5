package capability

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMockDefaults(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	dets, err := m.Detect(ctx, []byte("jpeg"))
	if err != nil {
		t.Fatalf("Detect error: %v", err)
	}
	if len(dets) != 1 || dets[0].Label != "person" {
		t.Errorf("Detect = %+v, want one person", dets)
	}

	caption, err := m.Caption(ctx, []byte("jpeg"))
	if err != nil || caption == "" {
		t.Errorf("Caption = %q, %v; want non-empty, nil", caption, err)
	}

	transcript, err := m.Transcribe(ctx, make([]byte, 320), 16000)
	if err != nil || transcript == "" {
		t.Errorf("Transcribe = %q, %v; want non-empty, nil", transcript, err)
	}

	reply, err := m.Chat(ctx, &ChatRequest{Prompt: "hello"})
	if err != nil {
		t.Fatalf("Chat error: %v", err)
	}
	if reply != "I heard: hello" {
		t.Errorf("Chat = %q", reply)
	}

	clip, err := m.Synthesize(ctx, "hi")
	if err != nil {
		t.Fatalf("Synthesize error: %v", err)
	}
	if clip.Duration() <= 0 {
		t.Error("synthesized clip should have positive duration")
	}

	if err := m.Health(ctx); err != nil {
		t.Errorf("Health error: %v", err)
	}
}

func TestMockRecordsCalls(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	m.Detect(ctx, nil)
	m.Detect(ctx, nil)
	m.Caption(ctx, nil)

	if got := m.CallCount("Detect"); got != 2 {
		t.Errorf("CallCount(Detect) = %d, want 2", got)
	}
	if got := m.CallCount("Caption"); got != 1 {
		t.Errorf("CallCount(Caption) = %d, want 1", got)
	}
	if got := len(m.Calls()); got != 3 {
		t.Errorf("len(Calls) = %d, want 3", got)
	}

	m.ResetCalls()
	if got := len(m.Calls()); got != 0 {
		t.Errorf("len(Calls) after reset = %d, want 0", got)
	}
}

func TestMockUnsetFuncReturnsUnsupported(t *testing.T) {
	m := &Mock{} // no funcs set

	_, err := m.OCR(context.Background(), nil)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("OCR error = %v, want ErrUnsupported", err)
	}
}

func TestMockDelayHonorsContext(t *testing.T) {
	m := NewMock()
	m.Delay = time.Second

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := m.Caption(ctx, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want deadline exceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("call blocked %v, should abort at context deadline", elapsed)
	}
}
