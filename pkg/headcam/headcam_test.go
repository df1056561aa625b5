package headcam

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pion/rtp"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func solidJPEG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.RGBA{R: 80, G: 120, B: 160, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    []Option
		wantErr bool
	}{
		{"valid", []Option{WithSignallingURL("ws://head:8443")}, false},
		{"missing URL", nil, true},
		{"empty producer", []Option{WithSignallingURL("ws://head:8443"), WithProducer("")}, true},
		{"zero connect timeout", []Option{WithSignallingURL("ws://head:8443"), WithConnectTimeout(0)}, true},
		{"zero decode interval", []Option{WithSignallingURL("ws://head:8443"), WithDecodeInterval(0)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewReceiver(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewReceiver() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestFunctionalOptions(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Apply(
		WithSignallingURL("ws://10.0.0.5:8443"),
		WithProducer("bench-rig"),
		WithDecodeInterval(time.Second),
		WithICEServers("stun:stun.example.org:3478"),
	)

	if cfg.SignallingURL != "ws://10.0.0.5:8443" {
		t.Errorf("signalling URL = %q", cfg.SignallingURL)
	}
	if cfg.Producer != "bench-rig" {
		t.Errorf("producer = %q, want bench-rig", cfg.Producer)
	}
	if cfg.DecodeInterval != time.Second {
		t.Errorf("decode interval = %v, want 1s", cfg.DecodeInterval)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("ice servers = %d, want 1", len(cfg.ICEServers))
	}
}

func singleNAL(header byte, body ...byte) []byte {
	return append([]byte{header}, body...)
}

func TestAccessUnitAssembly(t *testing.T) {
	var asm auAssembler

	// Two single-NAL packets in one access unit; the marker closes it.
	au, ok := asm.push(&rtp.Packet{
		Header:  rtp.Header{Marker: false},
		Payload: singleNAL(0x67, 0xAA, 0xBB),
	})
	if ok {
		t.Fatalf("unexpected access unit before marker: %x", au)
	}

	au, ok = asm.push(&rtp.Packet{
		Header:  rtp.Header{Marker: true},
		Payload: singleNAL(0x65, 0xCC, 0xDD),
	})
	if !ok {
		t.Fatal("expected access unit on marker")
	}

	want := []byte{
		0, 0, 0, 1, 0x67, 0xAA, 0xBB,
		0, 0, 0, 1, 0x65, 0xCC, 0xDD,
	}
	if !bytes.Equal(au, want) {
		t.Errorf("access unit = %x, want %x", au, want)
	}

	// The next unit starts clean.
	au, ok = asm.push(&rtp.Packet{
		Header:  rtp.Header{Marker: true},
		Payload: singleNAL(0x41, 0x01, 0x02),
	})
	if !ok {
		t.Fatal("expected second access unit")
	}
	if want := []byte{0, 0, 0, 1, 0x41, 0x01, 0x02}; !bytes.Equal(au, want) {
		t.Errorf("access unit = %x, want %x", au, want)
	}
}

func TestScanParams(t *testing.T) {
	sps := singleNAL(0x67, 0x42, 0x00)
	pps := singleNAL(0x68, 0xCE, 0x38)
	idr := singleNAL(0x65, 0x88, 0x84)

	var au []byte
	for _, nal := range [][]byte{sps, pps, idr} {
		au = append(au, 0, 0, 0, 1)
		au = append(au, nal...)
	}

	params := scanParams(au)
	var want []byte
	for _, nal := range [][]byte{sps, pps} {
		want = append(want, 0, 0, 0, 1)
		want = append(want, nal...)
	}
	if !bytes.Equal(params, want) {
		t.Errorf("params = %x, want %x", params, want)
	}
	if !hasParams(au) {
		t.Error("hasParams = false for access unit with SPS")
	}

	sliceOnly := append([]byte{0, 0, 0, 1}, idr...)
	if p := scanParams(sliceOnly); p != nil {
		t.Errorf("params from slice-only unit = %x, want nil", p)
	}
	if hasParams(sliceOnly) {
		t.Error("hasParams = true for slice-only unit")
	}
}

func TestForEachNAL(t *testing.T) {
	// Mixed 3- and 4-byte start codes.
	data := []byte{
		0, 0, 1, 0x41, 0xFF,
		0, 0, 0, 1, 0x42, 0x01, 0x02,
		0, 0, 1, 0x43,
	}

	var nals [][]byte
	forEachNAL(data, func(nal []byte) {
		nals = append(nals, append([]byte(nil), nal...))
	})

	want := [][]byte{{0x41, 0xFF}, {0x42, 0x01, 0x02}, {0x43}}
	if len(nals) != len(want) {
		t.Fatalf("nal count = %d, want %d", len(nals), len(want))
	}
	for i := range want {
		if !bytes.Equal(nals[i], want[i]) {
			t.Errorf("nal %d = %x, want %x", i, nals[i], want[i])
		}
	}
}

func TestDecodeJPEGRejectsGarbage(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	garbage := bytes.Repeat([]byte{0xDE, 0xAD, 0xBE, 0xEF}, 64)
	if _, err := decodeJPEG(garbage); err == nil {
		t.Error("expected error decoding garbage")
	}
}

// newSignallingServer runs a scripted webrtcsink signalling endpoint. It
// reports every client message on the returned channel; assertions happen
// on the test goroutine.
func newSignallingServer(t *testing.T, producerName string) (string, <-chan signalMessage) {
	t.Helper()
	got := make(chan signalMessage, 8)
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conn, err := upgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(map[string]string{"type": "welcome", "peerId": "peer-42"})

		for {
			var msg signalMessage
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			select {
			case got <- msg:
			default:
			}

			switch msg.Type {
			case msgList:
				conn.WriteJSON(map[string]any{
					"type": "list",
					"producers": []map[string]any{
						{"id": "prod-1", "meta": map[string]string{"name": producerName}},
					},
				})
			case msgStartSession:
				conn.WriteJSON(map[string]string{"type": "sessionStarted", "sessionId": "sess-1"})
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http"), got
}

func TestConnectHandshake(t *testing.T) {
	url, got := newSignallingServer(t, DefaultProducer)

	recv, err := NewReceiver(
		WithSignallingURL(url),
		WithConnectTimeout(300*time.Millisecond),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}
	defer recv.Close()

	// No producer ever offers an SDP here, so Connect must give up at the
	// track-wait stage after completing the handshake.
	err = recv.Connect(context.Background())
	if err == nil {
		t.Fatal("expected Connect to time out waiting for video")
	}
	if !strings.Contains(err.Error(), "no video track") {
		t.Errorf("error = %v, want track timeout", err)
	}

	var seen []signalMessage
	for len(seen) < 2 {
		select {
		case msg := <-got:
			seen = append(seen, msg)
		case <-time.After(2 * time.Second):
			t.Fatalf("saw %d signalling messages, want 2", len(seen))
		}
	}

	if seen[0].Type != msgList {
		t.Errorf("first message = %q, want list", seen[0].Type)
	}
	if seen[1].Type != msgStartSession {
		t.Errorf("second message = %q, want startSession", seen[1].Type)
	}
	if seen[1].PeerID != "prod-1" {
		t.Errorf("startSession peer = %q, want prod-1", seen[1].PeerID)
	}
}

func TestConnectUnknownProducer(t *testing.T) {
	url, _ := newSignallingServer(t, "someone-else")

	recv, err := NewReceiver(
		WithSignallingURL(url),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}
	defer recv.Close()

	err = recv.Connect(context.Background())
	if err == nil {
		t.Fatal("expected error for unknown producer")
	}
	if !strings.Contains(err.Error(), "producer") {
		t.Errorf("error = %v, want producer mismatch", err)
	}
}

func TestCaptureFrameLifecycle(t *testing.T) {
	recv, err := NewReceiver(
		WithSignallingURL("ws://head:8443"),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}

	if _, err := recv.CaptureFrame(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("CaptureFrame before connect = %v, want ErrNotConnected", err)
	}

	if err := recv.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := recv.Close(); err != nil {
		t.Errorf("second Close = %v, want nil", err)
	}

	if _, err := recv.CaptureFrame(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("CaptureFrame after close = %v, want ErrClosed", err)
	}
}

func TestCaptureFrameWakesOnDecode(t *testing.T) {
	recv, err := NewReceiver(
		WithSignallingURL("ws://head:8443"),
		WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("NewReceiver failed: %v", err)
	}
	defer recv.Close()
	recv.connected.Store(true)

	type result struct {
		seq uint64
		err error
	}
	done := make(chan result, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		frame, err := recv.CaptureFrame(ctx)
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{seq: frame.Seq}
	}()

	time.Sleep(50 * time.Millisecond)
	recv.storeFrame(solidJPEG(t, 64, 48))

	res := <-done
	if res.err != nil {
		t.Fatalf("CaptureFrame failed: %v", res.err)
	}
	if res.seq != 1 {
		t.Errorf("seq = %d, want 1", res.seq)
	}

	stats := recv.Stats()
	if stats.FramesDecoded != 1 {
		t.Errorf("frames decoded = %d, want 1", stats.FramesDecoded)
	}
}
