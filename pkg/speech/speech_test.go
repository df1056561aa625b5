package speech_test

import (
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/irisware/go-iris/pkg/speech"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestMockProvider(t *testing.T) {
	mock := speech.NewMock()
	ctx := context.Background()

	t.Run("Synthesize returns audio", func(t *testing.T) {
		result, err := mock.Synthesize(ctx, "Hello world")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Audio) == 0 {
			t.Error("expected audio data")
		}
		if result.CharCount != 11 {
			t.Errorf("expected 11 chars, got %d", result.CharCount)
		}
		if result.Format.SampleRate != 24000 {
			t.Errorf("expected 24000 sample rate, got %d", result.Format.SampleRate)
		}
	})

	t.Run("Stream returns audio stream", func(t *testing.T) {
		stream, err := mock.Stream(ctx, "Test stream")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer stream.Close()

		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if len(chunk) == 0 {
			t.Error("expected audio chunk")
		}
	})

	t.Run("Health returns nil", func(t *testing.T) {
		if err := mock.Health(ctx); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("Calls are tracked", func(t *testing.T) {
		calls := mock.Calls()
		if len(calls) != 3 {
			t.Errorf("expected 3 calls, got %d", len(calls))
		}
		if mock.CallCount("Synthesize") != 1 {
			t.Errorf("expected 1 Synthesize call, got %d", mock.CallCount("Synthesize"))
		}
	})

	t.Run("Reset clears calls", func(t *testing.T) {
		mock.Reset()
		if len(mock.Calls()) != 0 {
			t.Error("expected calls to be cleared")
		}
	})
}

func TestMockWithError(t *testing.T) {
	testErr := errors.New("test error")
	mock := speech.WithError(testErr)
	ctx := context.Background()

	t.Run("Synthesize returns error", func(t *testing.T) {
		_, err := mock.Synthesize(ctx, "Hello")
		if err == nil {
			t.Error("expected error")
		}
		if !errors.Is(err, testErr) {
			t.Errorf("expected test error, got %v", err)
		}
	})

	t.Run("Stream returns error", func(t *testing.T) {
		_, err := mock.Stream(ctx, "Hello")
		if err == nil {
			t.Error("expected error")
		}
	})

	t.Run("Health returns error", func(t *testing.T) {
		err := mock.Health(ctx)
		if err == nil {
			t.Error("expected error")
		}
	})
}

func TestMockWithLatency(t *testing.T) {
	mock := speech.NewMock()
	mock = speech.WithLatency(mock, 50*time.Millisecond)
	ctx := context.Background()

	t.Run("Synthesize has latency", func(t *testing.T) {
		start := time.Now()
		_, err := mock.Synthesize(ctx, "Hello")
		elapsed := time.Since(start)

		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if elapsed < 50*time.Millisecond {
			t.Errorf("expected at least 50ms latency, got %v", elapsed)
		}
	})

	t.Run("Context cancellation works", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := mock.Synthesize(ctx, "Hello")
		if err == nil {
			t.Error("expected context deadline error")
		}
	})
}

func TestFunctionalOptions(t *testing.T) {
	cfg := speech.DefaultConfig()
	cfg.Apply(
		speech.WithEndpoint("https://gw.example.com"),
		speech.WithVoice("test-voice"),
		speech.WithSpeakingRate(1.25),
		speech.WithTimeout(5*time.Second),
		speech.WithOutputFormat(speech.EncodingPCM16),
	)

	if cfg.Endpoint != "https://gw.example.com" {
		t.Errorf("expected endpoint https://gw.example.com, got %s", cfg.Endpoint)
	}
	if cfg.Voice != "test-voice" {
		t.Errorf("expected voice test-voice, got %s", cfg.Voice)
	}
	if cfg.SpeakingRate != 1.25 {
		t.Errorf("expected rate 1.25, got %f", cfg.SpeakingRate)
	}
	if cfg.Timeout != 5*time.Second {
		t.Errorf("expected timeout 5s, got %v", cfg.Timeout)
	}
	if cfg.OutputFormat != speech.EncodingPCM16 {
		t.Errorf("expected pcm_16000 format, got %s", cfg.OutputFormat)
	}
}

func TestConfigValidation(t *testing.T) {
	t.Run("Validate requires endpoint", func(t *testing.T) {
		cfg := speech.DefaultConfig()
		if err := cfg.Validate(); err != speech.ErrNoEndpoint {
			t.Errorf("expected ErrNoEndpoint, got %v", err)
		}
	})

	t.Run("Validate passes with endpoint", func(t *testing.T) {
		cfg := speech.DefaultConfig()
		cfg.Endpoint = "http://localhost:9090"
		if err := cfg.Validate(); err != nil {
			t.Errorf("unexpected error: %v", err)
		}
	})

	t.Run("NewGateway rejects empty endpoint", func(t *testing.T) {
		_, err := speech.NewGateway()
		if !errors.Is(err, speech.ErrNoEndpoint) {
			t.Errorf("expected ErrNoEndpoint, got %v", err)
		}
	})
}

func TestAPIError(t *testing.T) {
	t.Run("IsRateLimited", func(t *testing.T) {
		err := &speech.APIError{StatusCode: 429, Message: "rate limited"}
		if !err.IsRateLimited() {
			t.Error("expected IsRateLimited true")
		}
		if err.IsUnauthorized() {
			t.Error("expected IsUnauthorized false")
		}
	})

	t.Run("IsUnauthorized", func(t *testing.T) {
		err := &speech.APIError{StatusCode: 401, Message: "unauthorized"}
		if !err.IsUnauthorized() {
			t.Error("expected IsUnauthorized true")
		}
	})

	t.Run("IsServerError", func(t *testing.T) {
		for _, code := range []int{500, 502, 503, 504} {
			err := &speech.APIError{StatusCode: code}
			if !err.IsServerError() {
				t.Errorf("expected IsServerError true for %d", code)
			}
			if !err.IsRetryable() {
				t.Errorf("expected IsRetryable true for %d", code)
			}
		}
	})

	t.Run("Error message format", func(t *testing.T) {
		err := &speech.APIError{
			StatusCode: 400,
			Message:    "bad request",
			Code:       "invalid_input",
			Provider:   "gateway",
		}
		msg := err.Error()
		if msg != "speech [gateway]: API error 400 (invalid_input): bad request" {
			t.Errorf("unexpected error message: %s", msg)
		}
	})

	t.Run("Stream error renders without status", func(t *testing.T) {
		err := &speech.APIError{
			Message:  "voice not found",
			Code:     "unknown_voice",
			Provider: "gateway-ws",
		}
		msg := err.Error()
		if msg != "speech [gateway-ws]: voice not found (unknown_voice)" {
			t.Errorf("unexpected error message: %s", msg)
		}
	})
}

func TestProviderError(t *testing.T) {
	inner := errors.New("connection failed")
	err := speech.WrapError("gateway", inner)

	if err == nil {
		t.Fatal("expected error")
	}

	if err.Error() != "speech [gateway]: connection failed" {
		t.Errorf("unexpected error message: %s", err.Error())
	}

	var pe *speech.ProviderError
	if !errors.As(err, &pe) {
		t.Error("expected ProviderError")
	}
	if pe.Provider != "gateway" {
		t.Errorf("expected provider gateway, got %s", pe.Provider)
	}
	if !errors.Is(err, inner) {
		t.Error("expected Unwrap to reach the inner error")
	}
}

func TestSampleRateFromEncoding(t *testing.T) {
	tests := []struct {
		encoding   speech.Encoding
		sampleRate int
	}{
		{speech.EncodingPCM16, 16000},
		{speech.EncodingPCM22, 22050},
		{speech.EncodingPCM24, 24000},
		{speech.EncodingPCM44, 44100},
		{speech.EncodingULaw, 8000},
	}

	for _, tt := range tests {
		t.Run(string(tt.encoding), func(t *testing.T) {
			rate := speech.SampleRateFromEncoding(tt.encoding)
			if rate != tt.sampleRate {
				t.Errorf("expected %d, got %d", tt.sampleRate, rate)
			}
		})
	}
}

func TestChain(t *testing.T) {
	ctx := context.Background()

	t.Run("NewChain requires providers", func(t *testing.T) {
		_, err := speech.NewChain()
		if err != speech.ErrProviderUnavailable {
			t.Errorf("expected ErrProviderUnavailable, got %v", err)
		}
	})

	t.Run("First provider succeeds", func(t *testing.T) {
		mock1 := speech.NewMock()
		mock2 := speech.NewMock()

		chain, err := speech.NewChainWithLogger(testLogger(), mock1, mock2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer chain.Close()

		_, err = chain.Synthesize(ctx, "Hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if mock1.CallCount("Synthesize") != 1 {
			t.Error("expected first provider to be called")
		}
		if mock2.CallCount("Synthesize") != 0 {
			t.Error("expected second provider not to be called")
		}
	})

	t.Run("Fallback on failure", func(t *testing.T) {
		failMock := speech.WithError(errors.New("provider 1 failed"))
		successMock := speech.NewMock()

		chain, err := speech.NewChainWithLogger(testLogger(), failMock, successMock)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer chain.Close()

		result, err := chain.Synthesize(ctx, "Hello")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result == nil {
			t.Error("expected result from fallback provider")
		}
	})

	t.Run("All providers fail", func(t *testing.T) {
		lastErr := errors.New("fail 2")
		fail1 := speech.WithError(errors.New("fail 1"))
		fail2 := speech.WithError(lastErr)

		chain, err := speech.NewChainWithLogger(testLogger(), fail1, fail2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		defer chain.Close()

		_, err = chain.Synthesize(ctx, "Hello")
		if err == nil {
			t.Fatal("expected error when all providers fail")
		}

		var ce *speech.ChainError
		if !errors.As(err, &ce) {
			t.Fatalf("expected ChainError, got %T", err)
		}
		if len(ce.Errors) != 2 {
			t.Errorf("expected 2 recorded errors, got %d", len(ce.Errors))
		}
		if !errors.Is(err, lastErr) {
			t.Error("expected Unwrap to reach the last provider error")
		}
	})

	t.Run("Health checks all providers", func(t *testing.T) {
		mock1 := speech.NewMock()
		mock2 := speech.NewMock()

		chain, err := speech.NewChainWithLogger(testLogger(), mock1, mock2)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := chain.Health(ctx); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})
}

func TestGatewaySynthesize(t *testing.T) {
	pcm := make([]byte, 3200)
	for i := range pcm {
		pcm[i] = byte(i % 251)
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/speech" {
			http.NotFound(w, r)
			return
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			http.Error(w, "bad auth", http.StatusUnauthorized)
			return
		}

		var payload struct {
			Text   string `json:"text"`
			Voice  string `json:"voice"`
			Format string `json:"format"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			http.Error(w, "bad payload", http.StatusBadRequest)
			return
		}
		if payload.Text != "hello there" || payload.Voice != "iris-test" || payload.Format != "pcm_24000" {
			http.Error(w, "unexpected payload", http.StatusBadRequest)
			return
		}

		w.Header().Set("X-Sample-Rate", "16000")
		w.Write(pcm)
	}))
	defer srv.Close()

	gw, err := speech.NewGateway(
		speech.WithEndpoint(srv.URL),
		speech.WithAPIKey("test-key"),
		speech.WithVoice("iris-test"),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Close()

	result, err := gw.Synthesize(context.Background(), "hello there")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Audio) != len(pcm) {
		t.Errorf("audio length = %d, want %d", len(result.Audio), len(pcm))
	}
	if result.CharCount != len("hello there") {
		t.Errorf("char count = %d, want %d", result.CharCount, len("hello there"))
	}
	if result.Format.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000 from the response header", result.Format.SampleRate)
	}
	if want := 100 * time.Millisecond; result.Duration != want {
		t.Errorf("duration = %v, want %v", result.Duration, want)
	}
}

func TestGatewayStream(t *testing.T) {
	chunks := [][]byte{
		[]byte("first-chunk-of-audio"),
		[]byte("second-chunk-of-audio"),
		[]byte("third"),
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher, _ := w.(http.Flusher)
		for _, c := range chunks {
			w.Write(c)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}))
	defer srv.Close()

	gw, err := speech.NewGateway(
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Close()

	stream, err := gw.Stream(context.Background(), "streamed utterance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var total int
	for {
		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if chunk == nil {
			break
		}
		total += len(chunk)
	}

	want := 0
	for _, c := range chunks {
		want += len(c)
	}
	if total != want {
		t.Errorf("streamed %d bytes, want %d", total, want)
	}
}

func TestGatewayRetriesServerErrors(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) == 1 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"error": {"message": "model warming up", "code": "cold_start"}}`)
			return
		}

		var payload struct {
			Text string `json:"text"`
		}
		json.NewDecoder(r.Body).Decode(&payload)
		if payload.Text != "try again" {
			// The retry must resend the original body.
			http.Error(w, "lost payload", http.StatusBadRequest)
			return
		}
		w.Write([]byte("audio"))
	}))
	defer srv.Close()

	gw, err := speech.NewGateway(
		speech.WithEndpoint(srv.URL),
		speech.WithRetry(2, time.Millisecond),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Close()

	result, err := gw.Synthesize(context.Background(), "try again")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Audio) != "audio" {
		t.Errorf("audio = %q, want %q", result.Audio, "audio")
	}
	if got := atomic.LoadInt32(&attempts); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

func TestGatewayDoesNotRetryClientErrors(t *testing.T) {
	var attempts int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error": {"message": "text too long", "code": "too_long"}}`)
	}))
	defer srv.Close()

	gw, err := speech.NewGateway(
		speech.WithEndpoint(srv.URL),
		speech.WithRetry(3, time.Millisecond),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Close()

	_, err = gw.Synthesize(context.Background(), "way too much text")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *speech.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", apiErr.StatusCode)
	}
	if apiErr.Message != "text too long" || apiErr.Code != "too_long" {
		t.Errorf("parsed error = %q (%s), want gateway envelope fields", apiErr.Message, apiErr.Code)
	}
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestGatewayHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	gw, err := speech.NewGateway(
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Close()

	if err := gw.Health(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

// streamMsg mirrors the stream-input protocol for the test server.
type streamMsg struct {
	Type         string  `json:"type"`
	Text         string  `json:"text"`
	Voice        string  `json:"voice"`
	Format       string  `json:"format"`
	SpeakingRate float64 `json:"speaking_rate"`
}

func audioMsg(chunk []byte) map[string]interface{} {
	return map[string]interface{}{
		"type":  "audio",
		"audio": base64.StdEncoding.EncodeToString(chunk),
	}
}

func finalMsg() map[string]interface{} {
	return map[string]interface{}{"type": "audio", "final": true}
}

// newStreamServer runs a WebSocket server for the stream-input protocol.
// The handler must not touch testing.T; it reports through channels.
func newStreamServer(t *testing.T, handler func(conn *websocket.Conn)) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/speech/stream" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handler(conn)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newConnectedWS(t *testing.T, endpoint string, opts ...speech.Option) *speech.GatewayWS {
	t.Helper()
	opts = append([]speech.Option{
		speech.WithEndpoint(endpoint),
		speech.WithLogger(testLogger()),
	}, opts...)

	ws, err := speech.NewGatewayWS(opts...)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	t.Cleanup(func() { ws.Close() })

	if err := ws.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	return ws
}

func TestGatewayWSStream(t *testing.T) {
	texts := make(chan string, 4)
	voices := make(chan string, 4)
	chunk1 := []byte("part-one-")
	chunk2 := []byte("part-two")

	srv := newStreamServer(t, func(conn *websocket.Conn) {
		for {
			var msg streamMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "start":
				voices <- msg.Voice
			case "text":
				texts <- msg.Text
			case "end":
				conn.WriteJSON(audioMsg(chunk1))
				conn.WriteJSON(audioMsg(chunk2))
				conn.WriteJSON(finalMsg())
			}
		}
	})

	ws := newConnectedWS(t, srv.URL, speech.WithVoice("iris-test"))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := ws.Stream(ctx, "over the socket")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	var audio []byte
	for {
		chunk, err := stream.Read()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if chunk == nil {
			break
		}
		audio = append(audio, chunk...)
	}

	if got, want := string(audio), "part-one-part-two"; got != want {
		t.Errorf("audio = %q, want %q", got, want)
	}
	if got := <-texts; got != "over the socket" {
		t.Errorf("server received text %q, want %q", got, "over the socket")
	}
	if got := <-voices; got != "iris-test" {
		t.Errorf("server received voice %q, want %q", got, "iris-test")
	}

	// The socket stays up for the next utterance.
	result, err := ws.Synthesize(ctx, "again")
	if err != nil {
		t.Fatalf("second utterance failed: %v", err)
	}
	if got, want := string(result.Audio), "part-one-part-two"; got != want {
		t.Errorf("second audio = %q, want %q", got, want)
	}
}

func TestGatewayWSFailsFastWhenDown(t *testing.T) {
	ws, err := speech.NewGatewayWS(
		speech.WithEndpoint("http://127.0.0.1:9"),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ws.Close()

	// Never connected: calls fail immediately rather than blocking.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := ws.Stream(ctx, "hello"); !errors.Is(err, speech.ErrNotConnected) {
		t.Errorf("Stream error = %v, want ErrNotConnected", err)
	}
	if _, err := ws.Synthesize(ctx, "hello"); !errors.Is(err, speech.ErrNotConnected) {
		t.Errorf("Synthesize error = %v, want ErrNotConnected", err)
	}
	if err := ws.Health(ctx); !errors.Is(err, speech.ErrNotConnected) {
		t.Errorf("Health error = %v, want ErrNotConnected", err)
	}
}

func TestGatewayWSServerError(t *testing.T) {
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		for {
			var msg streamMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "end" {
				conn.WriteJSON(map[string]interface{}{
					"type":  "error",
					"error": map[string]string{"message": "voice not found", "code": "unknown_voice"},
				})
			}
		}
	})

	ws := newConnectedWS(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := ws.Stream(ctx, "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	_, err = stream.Read()
	if err == nil {
		t.Fatal("expected error from stream")
	}

	var apiErr *speech.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.Code != "unknown_voice" {
		t.Errorf("code = %q, want unknown_voice", apiErr.Code)
	}
}

func TestGatewayWSAbortFreesSocket(t *testing.T) {
	first := true
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		for {
			var msg streamMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			switch msg.Type {
			case "end":
				if first {
					first = false
					// Hold the utterance open until the client aborts.
					conn.WriteJSON(audioMsg([]byte("partial")))
				} else {
					conn.WriteJSON(audioMsg([]byte("second")))
					conn.WriteJSON(finalMsg())
				}
			case "stop":
				conn.WriteJSON(finalMsg())
			}
		}
	})

	ws := newConnectedWS(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	stream, err := ws.Stream(ctx, "first utterance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	chunk, err := stream.Read()
	if err != nil || string(chunk) != "partial" {
		t.Fatalf("first chunk = %q, %v; want partial", chunk, err)
	}

	// Abandon mid-synthesis; the stop handshake must free the socket.
	stream.Close()

	second, err := ws.Stream(ctx, "second utterance")
	if err != nil {
		t.Fatalf("second stream blocked after abort: %v", err)
	}
	defer second.Close()

	var audio []byte
	for {
		chunk, err := second.Read()
		if err != nil {
			t.Fatalf("read error: %v", err)
		}
		if chunk == nil {
			break
		}
		audio = append(audio, chunk...)
	}
	if string(audio) != "second" {
		t.Errorf("audio = %q, want %q", audio, "second")
	}
}

func TestGatewayWSReconnects(t *testing.T) {
	var conns int32
	srv := newStreamServer(t, func(conn *websocket.Conn) {
		if atomic.AddInt32(&conns, 1) == 1 {
			// Drop the first connection mid-utterance.
			for {
				var msg streamMsg
				if err := conn.ReadJSON(&msg); err != nil {
					return
				}
				if msg.Type == "end" {
					return
				}
			}
		}
		for {
			var msg streamMsg
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Type == "end" {
				conn.WriteJSON(audioMsg([]byte("recovered")))
				conn.WriteJSON(finalMsg())
			}
		}
	})

	ws := newConnectedWS(t, srv.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := ws.Stream(ctx, "doomed utterance")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := stream.Read(); !errors.Is(err, speech.ErrNotConnected) {
		t.Fatalf("read error = %v, want ErrNotConnected", err)
	}
	stream.Close()

	deadline := time.Now().Add(8 * time.Second)
	for !ws.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("socket never reconnected")
		}
		time.Sleep(10 * time.Millisecond)
	}

	result, err := ws.Synthesize(ctx, "hello again")
	if err != nil {
		t.Fatalf("synthesize after reconnect: %v", err)
	}
	if string(result.Audio) != "recovered" {
		t.Errorf("audio = %q, want %q", result.Audio, "recovered")
	}
}

func TestChainFallsThroughToHTTP(t *testing.T) {
	pcm := []byte("http-fallback-audio")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(pcm)
	}))
	defer srv.Close()

	// Stream socket never connected; the chain should fall to HTTP.
	ws, err := speech.NewGatewayWS(
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer ws.Close()

	gw, err := speech.NewGateway(
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer gw.Close()

	chain, err := speech.NewChainWithLogger(testLogger(), ws, gw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result, err := chain.Synthesize(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(result.Audio) != string(pcm) {
		t.Errorf("audio = %q, want %q", result.Audio, pcm)
	}
}

// wavWrap builds a minimal RIFF/WAVE container around raw PCM, the shape
// Google returns for LINEAR16.
func wavWrap(pcm []byte, sampleRate int) []byte {
	buf := make([]byte, 44+len(pcm))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+len(pcm)))
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], 1)
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(buf[32:34], 2)
	binary.LittleEndian.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(len(pcm)))
	copy(buf[44:], pcm)
	return buf
}

func TestGoogleSynthesize(t *testing.T) {
	pcm := []byte("raw-google-pcm-payload")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		wav := wavWrap(pcm, 24000)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(wav),
		})
	}))
	defer srv.Close()

	g, err := speech.NewGoogle(
		speech.WithHTTPClient(srv.Client()),
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	result, err := g.Synthesize(context.Background(), "hello from the fallback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The WAV container must be stripped down to raw PCM.
	if string(result.Audio) != string(pcm) {
		t.Errorf("audio = %q, want %q", result.Audio, pcm)
	}
	if result.Format.SampleRate != 24000 {
		t.Errorf("sample rate = %d, want 24000", result.Format.SampleRate)
	}
}

func TestGoogleMapsAPIErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error": {"code": 403, "message": "quota exceeded"}}`)
	}))
	defer srv.Close()

	g, err := speech.NewGoogle(
		speech.WithHTTPClient(srv.Client()),
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	_, err = g.Synthesize(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error")
	}

	var apiErr *speech.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if !apiErr.IsForbidden() {
		t.Errorf("status = %d, want 403", apiErr.StatusCode)
	}
	if apiErr.Provider != "google" {
		t.Errorf("provider = %q, want google", apiErr.Provider)
	}
}

func TestGoogleStreamWrapsSynthesize(t *testing.T) {
	pcm := []byte("single-shot")

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"audioContent": base64.StdEncoding.EncodeToString(wavWrap(pcm, 24000)),
		})
	}))
	defer srv.Close()

	g, err := speech.NewGoogle(
		speech.WithHTTPClient(srv.Client()),
		speech.WithEndpoint(srv.URL),
		speech.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer g.Close()

	stream, err := g.Stream(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer stream.Close()

	chunk, err := stream.Read()
	if err != nil {
		t.Fatalf("read error: %v", err)
	}
	if string(chunk) != string(pcm) {
		t.Errorf("chunk = %q, want %q", chunk, pcm)
	}

	end, err := stream.Read()
	if err != nil || end != nil {
		t.Errorf("expected clean end of stream, got %q, %v", end, err)
	}
}
