package listen_test

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/irisware/go-iris/pkg/listen"
	"github.com/irisware/go-iris/pkg/sense"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const frameBytes = 960 // 30ms of 16kHz mono S16LE

// frame builds one analysis frame at constant amplitude. RMS of a
// constant signal is amplitude/32768, so 4000 ≈ 0.12, well over the
// default threshold.
func frame(amp int16) []byte {
	data := make([]byte, frameBytes)
	for i := 0; i < len(data); i += 2 {
		data[i] = byte(amp)
		data[i+1] = byte(amp >> 8)
	}
	return data
}

func feedFrames(s *listen.Segmenter, amp int16, n int) {
	f := frame(amp)
	for i := 0; i < n; i++ {
		s.Process(f)
	}
}

func collector() (*[]*sense.AudioSegment, func(*sense.AudioSegment)) {
	var segs []*sense.AudioSegment
	return &segs, func(seg *sense.AudioSegment) { segs = append(segs, seg) }
}

func TestSegmenterEmitsUtterance(t *testing.T) {
	seg, err := listen.NewSegmenter(listen.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs, onSeg := collector()
	voiceCalls := 0
	seg.OnVoice = func() { voiceCalls++ }
	seg.OnSegment = onSeg

	feedFrames(seg, 4000, 5) // opens on the 2nd frame
	if !seg.Active() {
		t.Fatal("expected an open utterance after voiced frames")
	}
	feedFrames(seg, 0, 33) // default 1s hangover = 33 frames

	if len(*segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(*segs))
	}
	got := (*segs)[0]

	if voiceCalls != 1 {
		t.Errorf("voice onsets = %d, want 1", voiceCalls)
	}
	if seg.Active() {
		t.Error("expected idle after hangover")
	}
	if got.Seq != 1 {
		t.Errorf("seq = %d, want 1", got.Seq)
	}
	if got.SampleRate != sense.SampleRate {
		t.Errorf("sample rate = %d, want %d", got.SampleRate, sense.SampleRate)
	}
	// 5 voiced + 33 hangover frames, leading silence none.
	if want := 38 * frameBytes; len(got.PCM) != want {
		t.Errorf("pcm = %d bytes, want %d", len(got.PCM), want)
	}
	if got.Duration() != 38*30*time.Millisecond {
		t.Errorf("duration = %v, want %v", got.Duration(), 38*30*time.Millisecond)
	}
}

func TestSegmenterRejectsShortBlip(t *testing.T) {
	seg, err := listen.NewSegmenter(listen.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs, onSeg := collector()
	voiceCalls := 0
	seg.OnVoice = func() { voiceCalls++ }
	seg.OnSegment = onSeg

	// One voiced frame is a click, not speech.
	feedFrames(seg, 4000, 1)
	feedFrames(seg, 0, 40)

	if voiceCalls != 0 {
		t.Errorf("voice onsets = %d, want 0", voiceCalls)
	}
	if len(*segs) != 0 {
		t.Errorf("segments = %d, want 0", len(*segs))
	}
	if seg.Active() {
		t.Error("expected segmenter to stay idle")
	}
}

func TestSegmenterBridgesShortGaps(t *testing.T) {
	seg, err := listen.NewSegmenter(listen.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs, onSeg := collector()
	voiceCalls := 0
	seg.OnVoice = func() { voiceCalls++ }
	seg.OnSegment = onSeg

	feedFrames(seg, 4000, 2) // open
	feedFrames(seg, 0, 10)   // pause shorter than the hangover
	feedFrames(seg, 4000, 2) // resume
	feedFrames(seg, 0, 33)   // close

	if len(*segs) != 1 {
		t.Fatalf("segments = %d, want one segment bridging the pause", len(*segs))
	}
	if voiceCalls != 1 {
		t.Errorf("voice onsets = %d, want 1", voiceCalls)
	}
	if want := 47 * frameBytes; len((*segs)[0].PCM) != want {
		t.Errorf("pcm = %d bytes, want %d", len((*segs)[0].PCM), want)
	}
}

func TestSegmenterDropsLeadingSilence(t *testing.T) {
	seg, err := listen.NewSegmenter(listen.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs, onSeg := collector()
	seg.OnSegment = onSeg

	feedFrames(seg, 0, 20)
	feedFrames(seg, 4000, 2)
	feedFrames(seg, 0, 33)

	if len(*segs) != 1 {
		t.Fatalf("segments = %d, want 1", len(*segs))
	}
	if want := 35 * frameBytes; len((*segs)[0].PCM) != want {
		t.Errorf("pcm = %d bytes, want %d (leading silence excluded)", len((*segs)[0].PCM), want)
	}
}

func TestSegmenterMaxUtteranceCap(t *testing.T) {
	seg, err := listen.NewSegmenter(
		listen.WithHangover(90*time.Millisecond),    // 3 frames
		listen.WithMaxUtterance(300*time.Millisecond), // 10 frames
		listen.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	segs, onSeg := collector()
	voiceCalls := 0
	seg.OnVoice = func() { voiceCalls++ }
	seg.OnSegment = onSeg

	feedFrames(seg, 4000, 25) // continuous speech past two caps
	feedFrames(seg, 0, 3)     // close the remainder

	if len(*segs) != 3 {
		t.Fatalf("segments = %d, want 3", len(*segs))
	}
	wantFrames := []int{10, 10, 8}
	for i, want := range wantFrames {
		if got := len((*segs)[i].PCM) / frameBytes; got != want {
			t.Errorf("segment %d = %d frames, want %d", i, got, want)
		}
	}
	if voiceCalls != 3 {
		t.Errorf("voice onsets = %d, want 3", voiceCalls)
	}
	for i, s := range *segs {
		if s.Seq != uint64(i+1) {
			t.Errorf("segment %d seq = %d, want %d", i, s.Seq, i+1)
		}
	}
}

func TestSegmenterChunkedFeed(t *testing.T) {
	build := func(feed func(*listen.Segmenter)) *sense.AudioSegment {
		seg, err := listen.NewSegmenter(listen.WithLogger(testLogger()))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		segs, onSeg := collector()
		seg.OnSegment = onSeg
		feed(seg)
		if len(*segs) != 1 {
			t.Fatalf("segments = %d, want 1", len(*segs))
		}
		return (*segs)[0]
	}

	var stream []byte
	for i := 0; i < 2; i++ {
		stream = append(stream, frame(4000)...)
	}
	for i := 0; i < 33; i++ {
		stream = append(stream, frame(0)...)
	}

	whole := build(func(s *listen.Segmenter) { s.Process(stream) })

	// Same bytes in awkward 100-byte writes must segment identically.
	chunked := build(func(s *listen.Segmenter) {
		for off := 0; off < len(stream); off += 100 {
			end := off + 100
			if end > len(stream) {
				end = len(stream)
			}
			s.Process(stream[off:end])
		}
	})

	if !bytes.Equal(whole.PCM, chunked.PCM) {
		t.Errorf("chunked feed produced different audio: %d vs %d bytes",
			len(chunked.PCM), len(whole.PCM))
	}
}

func TestSegmenterStats(t *testing.T) {
	seg, err := listen.NewSegmenter(listen.WithLogger(testLogger()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	seg.OnSegment = func(*sense.AudioSegment) {}

	feedFrames(seg, 4000, 2)
	feedFrames(seg, 0, 33)

	stats := seg.Stats()
	if stats.FramesProcessed != 35 {
		t.Errorf("frames processed = %d, want 35", stats.FramesProcessed)
	}
	if stats.SegmentsEmitted != 1 {
		t.Errorf("segments emitted = %d, want 1", stats.SegmentsEmitted)
	}
	if stats.Active {
		t.Error("expected idle")
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    []listen.Option
		wantErr bool
	}{
		{"defaults pass", nil, false},
		{"zero sample rate", []listen.Option{listen.WithSampleRate(0)}, true},
		{"zero threshold", []listen.Option{listen.WithThreshold(0)}, true},
		{"threshold at full scale", []listen.Option{listen.WithThreshold(1)}, true},
		{"zero activation", []listen.Option{listen.WithActivationFrames(0)}, true},
		{"hangover under one frame", []listen.Option{listen.WithHangover(10 * time.Millisecond)}, true},
		{"cap under hangover", []listen.Option{listen.WithMaxUtterance(500 * time.Millisecond)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := listen.NewSegmenter(tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewSegmenter() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
