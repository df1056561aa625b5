package uplink

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gorilla/websocket"

	"github.com/irisware/go-iris/pkg/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	hub, err := NewHub(WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("NewHub failed: %v", err)
	}
	return hub
}

// startHub serves the hub on an ephemeral port and returns the ws base URL.
func startHub(t *testing.T, hub *Hub) string {
	t.Helper()

	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go app.Listener(ln)
	t.Cleanup(func() { app.Shutdown() })

	return "ws://" + ln.Addr().String()
}

func dialUnit(t *testing.T, base, id string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial(base+"/ws/head/"+id, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func solidJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 100, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestNewHub(t *testing.T) {
	hub := newTestHub(t)

	if hub.UnitCount() != 0 {
		t.Error("unit count should start at 0")
	}
	stats := hub.GetStats()
	if stats.MessagesReceived != 0 || stats.MessagesSent != 0 {
		t.Errorf("fresh hub stats = %+v, want zeros", stats)
	}

	if _, err := NewHub(WithMaxMessageBytes(0)); err == nil {
		t.Error("expected error for zero message limit")
	}
}

func TestUnitLifecycle(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	ws := dialUnit(t, base, "unit-a")
	waitFor(t, "unit to register", func() bool { return hub.UnitCount() == 1 })

	unit := hub.GetUnit("unit-a")
	if unit == nil {
		t.Fatal("GetUnit returned nil for connected unit")
	}
	infos := hub.Units()
	if len(infos) != 1 || infos[0].ID != "unit-a" {
		t.Errorf("units = %+v, want one entry unit-a", infos)
	}

	ws.Close()
	waitFor(t, "unit to deregister", func() bool { return hub.UnitCount() == 0 })
}

func TestMicCallback(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	type micEvent struct {
		unitID string
		pcm    []byte
		rate   int
	}
	got := make(chan micEvent, 1)
	hub.OnMic(func(unitID string, mic *protocol.MicData) {
		pcm, err := mic.DecodeMicData()
		if err != nil {
			return
		}
		got <- micEvent{unitID: unitID, pcm: pcm, rate: mic.SampleRate}
	})

	ws := dialUnit(t, base, "mic-unit")

	pcm := bytes.Repeat([]byte{0x10, 0x02}, 160)
	msg, err := protocol.NewMicMessage(pcm, 16000)
	if err != nil {
		t.Fatalf("NewMicMessage: %v", err)
	}
	data, _ := msg.Bytes()
	if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-got:
		if ev.unitID != "mic-unit" {
			t.Errorf("unit = %q, want mic-unit", ev.unitID)
		}
		if !bytes.Equal(ev.pcm, pcm) {
			t.Errorf("pcm = %d bytes, want %d", len(ev.pcm), len(pcm))
		}
		if ev.rate != 16000 {
			t.Errorf("rate = %d, want 16000", ev.rate)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("mic callback never fired")
	}

	if hub.GetStats().MicChunks != 1 {
		t.Errorf("mic chunks = %d, want 1", hub.GetStats().MicChunks)
	}
}

func TestFrameCallback(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	got := make(chan *protocol.FrameData, 1)
	hub.OnFrame(func(_ string, frame *protocol.FrameData) {
		got <- frame
	})

	ws := dialUnit(t, base, "cam-unit")

	msg, err := protocol.NewFrameMessage(640, 480, []byte("jpeg-bytes"), 7)
	if err != nil {
		t.Fatalf("NewFrameMessage: %v", err)
	}
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	select {
	case frame := <-got:
		if frame.FrameID != 7 {
			t.Errorf("frame id = %d, want 7", frame.FrameID)
		}
		if frame.Width != 640 || frame.Height != 480 {
			t.Errorf("dimensions = %dx%d, want 640x480", frame.Width, frame.Height)
		}
		payload, err := frame.DecodeFrameData()
		if err != nil {
			t.Fatalf("decode: %v", err)
		}
		if string(payload) != "jpeg-bytes" {
			t.Errorf("payload = %q", payload)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("frame callback never fired")
	}

	if hub.GetStats().FramesReceived != 1 {
		t.Errorf("frames received = %d, want 1", hub.GetStats().FramesReceived)
	}
}

func TestStateCallback(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	got := make(chan *protocol.StateData, 1)
	hub.OnState(func(_ string, state *protocol.StateData) {
		got <- state
	})

	ws := dialUnit(t, base, "state-unit")

	msg, _ := protocol.NewStateMessage(true, &protocol.BatteryState{Percent: 81}, nil)
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	select {
	case state := <-got:
		if !state.Connected {
			t.Error("state.Connected = false")
		}
		if state.Battery == nil || state.Battery.Percent != 81 {
			t.Errorf("battery = %+v, want 81%%", state.Battery)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("state callback never fired")
	}
}

func TestSendSpeak(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	ws := dialUnit(t, base, "spk-unit")
	waitFor(t, "unit to register", func() bool { return hub.UnitCount() == 1 })

	audio := bytes.Repeat([]byte{0x7F, 0x00}, 240)
	if err := hub.SendSpeak("spk-unit", audio, "pcm16", 24000, true); err != nil {
		t.Fatalf("SendSpeak: %v", err)
	}

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, data, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != protocol.TypeSpeak {
		t.Fatalf("type = %s, want speak", msg.Type)
	}

	speak, err := msg.GetSpeakData()
	if err != nil {
		t.Fatalf("GetSpeakData: %v", err)
	}
	if speak.SampleRate != 24000 || !speak.Final {
		t.Errorf("speak = rate %d final %v, want 24000 true", speak.SampleRate, speak.Final)
	}
	decoded, err := speak.DecodeSpeakData()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !bytes.Equal(decoded, audio) {
		t.Errorf("audio = %d bytes, want %d", len(decoded), len(audio))
	}
}

func TestSendToUnknownUnit(t *testing.T) {
	hub := newTestHub(t)

	err := hub.SendConfig("ghost", &protocol.CameraConfig{Quality: 70}, nil)
	if err == nil {
		t.Error("expected error for unknown unit")
	}
}

func TestPingPong(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	ws := dialUnit(t, base, "ping-unit")

	msg, _ := protocol.NewMessage(protocol.TypePing, nil)
	data, _ := msg.Bytes()
	ws.WriteMessage(websocket.TextMessage, data)

	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, respData, err := ws.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	resp, err := protocol.ParseMessage(respData)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if resp.Type != protocol.TypePong {
		t.Errorf("type = %s, want pong", resp.Type)
	}
}

func TestBroadcast(t *testing.T) {
	hub := newTestHub(t)
	base := startHub(t, hub)

	first := dialUnit(t, base, "bc-1")
	second := dialUnit(t, base, "bc-2")
	waitFor(t, "both units", func() bool { return hub.UnitCount() == 2 })

	msg, _ := protocol.NewConfigMessage(nil, &protocol.AudioConfig{Volume: 40})
	hub.Broadcast(msg)

	for _, ws := range []*websocket.Conn{first, second} {
		ws.SetReadDeadline(time.Now().Add(3 * time.Second))
		_, data, err := ws.ReadMessage()
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		got, err := protocol.ParseMessage(data)
		if err != nil || got.Type != protocol.TypeConfig {
			t.Errorf("broadcast message type = %v err = %v", got.Type, err)
		}
	}

	if hub.GetStats().MessagesSent != 2 {
		t.Errorf("messages sent = %d, want 2", hub.GetStats().MessagesSent)
	}
}

func TestAPIRoutes(t *testing.T) {
	hub := newTestHub(t)
	app := fiber.New(fiber.Config{DisableStartupMessage: true})
	hub.RegisterRoutes(app)
	hub.RegisterAPIRoutes(app.Group("/api"))

	resp, err := app.Test(httptest.NewRequest("GET", "/api/units/", nil))
	if err != nil {
		t.Fatalf("list request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("list status = %d, want 200", resp.StatusCode)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "units") {
		t.Error("list response missing units field")
	}

	resp, err = app.Test(httptest.NewRequest("GET", "/api/units/stats", nil))
	if err != nil {
		t.Fatalf("stats request: %v", err)
	}
	if resp.StatusCode != 200 {
		t.Errorf("stats status = %d, want 200", resp.StatusCode)
	}

	req := httptest.NewRequest("POST", "/api/units/ghost/config",
		strings.NewReader(`{"camera":{"quality":60}}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	if err != nil {
		t.Fatalf("config request: %v", err)
	}
	if resp.StatusCode != fiber.StatusNotFound {
		t.Errorf("config to unknown unit = %d, want 404", resp.StatusCode)
	}
}

func TestFrameSource(t *testing.T) {
	src := NewFrameSource()
	defer src.Close()

	fixture := solidJPEG(t, 32, 24)
	err := src.Offer(&protocol.FrameData{
		Format: "jpeg",
		Data:   base64.StdEncoding.EncodeToString(fixture),
	})
	if err != nil {
		t.Fatalf("Offer: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	frame, err := src.CaptureFrame(ctx)
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if frame.Seq != 1 {
		t.Errorf("seq = %d, want 1", frame.Seq)
	}
	if frame.Corrupt() {
		t.Error("frame flagged corrupt")
	}
	if frame.Width != 32 || frame.Height != 24 {
		t.Errorf("dimensions = %dx%d, want 32x24", frame.Width, frame.Height)
	}
}

func TestFrameSourceBlocksUntilOffer(t *testing.T) {
	src := NewFrameSource()
	defer src.Close()

	done := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, err := src.CaptureFrame(ctx)
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	if err := src.Offer(&protocol.FrameData{
		Data: base64.StdEncoding.EncodeToString(solidJPEG(t, 16, 16)),
	}); err != nil {
		t.Fatalf("Offer: %v", err)
	}

	if err := <-done; err != nil {
		t.Fatalf("CaptureFrame after offer: %v", err)
	}
}

func TestFrameSourceErrors(t *testing.T) {
	src := NewFrameSource()

	if err := src.Offer(&protocol.FrameData{Data: "не-base64!"}); err == nil {
		t.Error("expected error for invalid base64")
	}

	src.Close()
	src.Close()

	if err := src.Offer(&protocol.FrameData{}); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("Offer after close = %v, want ErrSourceClosed", err)
	}
	if _, err := src.CaptureFrame(context.Background()); !errors.Is(err, ErrSourceClosed) {
		t.Errorf("CaptureFrame after close = %v, want ErrSourceClosed", err)
	}
}
