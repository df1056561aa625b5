package local

import (
	"context"
	"math"

	"github.com/irisware/go-iris/pkg/capability"
)

const providerCanned = "canned"

// Canned is the capability provider of last resort. It answers instantly
// from fixed data so the device keeps talking when both the gateway and the
// sidecar are gone. Fields may be adjusted before first use.
type Canned struct {
	// Detections returned by Detect.
	Detections []capability.Detection

	// CaptionText returned by Caption.
	CaptionText string

	// Transcript returned by Transcribe. Empty means transcription is
	// unsupported, which surfaces as an error result upstream.
	Transcript string

	// Reply returned by Chat.
	Reply string
}

var _ capability.Provider = (*Canned)(nil)

// NewCanned creates a canned provider with the stock offline answers.
func NewCanned() *Canned {
	return &Canned{
		Detections: []capability.Detection{
			{Label: "person", Confidence: 0.90},
			{Label: "car", Confidence: 0.80},
		},
		CaptionText: "a scene with a person and a car",
		Reply:       "I am offline right now, but I am still listening.",
	}
}

// Detect returns the canned detections.
func (c *Canned) Detect(ctx context.Context, image []byte) ([]capability.Detection, error) {
	dets := make([]capability.Detection, len(c.Detections))
	copy(dets, c.Detections)
	return dets, nil
}

// Caption returns the canned caption.
func (c *Canned) Caption(ctx context.Context, image []byte) (string, error) {
	return c.CaptionText, nil
}

// OCR is not available offline.
func (c *Canned) OCR(ctx context.Context, image []byte) (*capability.OCRText, error) {
	return nil, capability.WrapError(providerCanned, capability.ErrUnsupported)
}

// Transcribe returns the canned transcript, or an unsupported error when
// none is configured.
func (c *Canned) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error) {
	if c.Transcript == "" {
		return "", capability.WrapError(providerCanned, capability.ErrUnsupported)
	}
	return c.Transcript, nil
}

// Chat returns the canned reply.
func (c *Canned) Chat(ctx context.Context, req *capability.ChatRequest) (string, error) {
	return c.Reply, nil
}

// Synthesize renders a fixed acknowledgement tone: without a speech model
// the wearer still hears that the device responded.
func (c *Canned) Synthesize(ctx context.Context, text string) (*capability.Clip, error) {
	return &capability.Clip{
		PCM:        ackTone(),
		SampleRate: 16000,
		Channels:   1,
	}, nil
}

// Health always succeeds; the canned provider has nothing to probe.
func (c *Canned) Health(ctx context.Context) error { return nil }

// Name identifies the provider in logs and errors.
func (c *Canned) Name() string { return providerCanned }

// Close is a no-op.
func (c *Canned) Close() error { return nil }

// ackTone is a double beep: two 120ms 440Hz tones with an 80ms gap,
// 16kHz mono S16LE.
func ackTone() []byte {
	const (
		rate     = 16000
		toneLen  = rate * 120 / 1000
		gapLen   = rate * 80 / 1000
		freq     = 440.0
		amplitud = 0.3 * 32767
	)

	total := toneLen*2 + gapLen
	pcm := make([]byte, total*2)

	write := func(offset, n int) {
		for i := 0; i < n; i++ {
			s := int16(amplitud * math.Sin(2*math.Pi*freq*float64(i)/rate))
			pcm[(offset+i)*2] = byte(s)
			pcm[(offset+i)*2+1] = byte(s >> 8)
		}
	}
	write(0, toneLen)
	write(toneLen+gapLen, toneLen)

	return pcm
}
