// Package capability defines the inference capabilities the dispatcher can
// invoke, the provider interface every backend implements, and the result
// envelope that flows back to the composer and coordinator.
//
// Backends live in the remote (cloud gateway) and local (loopback sidecar,
// canned fallback) subpackages; the dispatcher picks between them per event
// based on connectivity.
package capability

import (
	"context"
	"time"
)

// Capability identifies one inference operation.
type Capability string

const (
	// CapDetection locates and labels objects in a frame.
	CapDetection Capability = "detection"

	// Caption produces a one-sentence scene description for a frame.
	Caption Capability = "caption"

	// OCR extracts visible text from a frame.
	OCR Capability = "ocr"

	// ASR transcribes a voice segment to text.
	ASR Capability = "asr"

	// Dialogue generates an assistant reply for a prompt.
	Dialogue Capability = "dialogue"

	// Speech synthesizes audio for an utterance.
	Speech Capability = "speech"
)

// VisionCaps is the default capability set for a gated frame.
var VisionCaps = []Capability{CapDetection, Caption, OCR}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	switch c {
	case CapDetection, Caption, OCR, ASR, Dialogue, Speech:
		return true
	}
	return false
}

// Target identifies which backend served a request.
type Target string

const (
	// TargetRemote is the cloud inference gateway.
	TargetRemote Target = "remote"

	// TargetLocal is the on-device fallback (sidecar or canned).
	TargetLocal Target = "local"
)

// Status is the terminal outcome of one capability invocation. Every
// dispatched capability resolves to exactly one status; there is no
// "pending" on the wire.
type Status string

const (
	StatusOK      Status = "ok"
	StatusTimeout Status = "timeout"
	StatusError   Status = "error"
)

// Box is a pixel-space bounding box.
type Box struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one located object.
type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// TextRegion is one block of recognized text.
type TextRegion struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
	Box        Box     `json:"box"`
}

// OCRText is the recognized text of a frame. Coverage is the fraction of
// the frame area occupied by text regions, in [0,1]; the composer uses it
// to decide whether the scene is "mostly text".
type OCRText struct {
	Text     string       `json:"text"`
	Regions  []TextRegion `json:"regions,omitempty"`
	Coverage float64      `json:"coverage"`
}

// Clip is synthesized speech audio, S16LE PCM.
type Clip struct {
	PCM        []byte `json:"-"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	if c == nil || c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	samples := len(c.PCM) / 2 / c.Channels
	return time.Duration(samples) * time.Second / time.Duration(c.SampleRate)
}

// ChatRequest is one dialogue turn sent to the assistant backend.
// Context carries what the wearer is currently looking at, so replies
// can reference the scene.
type ChatRequest struct {
	Prompt      string  `json:"prompt"`
	Context     string  `json:"context,omitempty"`
	UserID      string  `json:"user_id,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Result is the envelope for one resolved capability. Exactly one Result
// is produced per dispatched capability; on TIMEOUT or ERROR the payload
// fields are empty and Err carries the detail.
type Result struct {
	EventID    string        `json:"event_id"`
	Capability Capability    `json:"capability"`
	Target     Target        `json:"target"`
	Status     Status        `json:"status"`
	Latency    time.Duration `json:"latency"`
	Err        string        `json:"error,omitempty"`

	// Payload, one field per capability.
	Detections []Detection `json:"detections,omitempty"`
	Caption    string      `json:"caption,omitempty"`
	OCR        *OCRText    `json:"ocr,omitempty"`
	Transcript string      `json:"transcript,omitempty"`
	Reply      string      `json:"reply,omitempty"`
	Clip       *Clip       `json:"clip,omitempty"`
}

// OK reports whether the capability resolved successfully.
func (r Result) OK() bool { return r.Status == StatusOK }

// Provider serves inference capabilities. Implementations must honor the
// context deadline on every call; the dispatcher derives per-capability
// deadlines from the event budget and treats overruns as timeouts.
//
// A provider that does not support an operation returns ErrUnsupported.
type Provider interface {
	// Detect locates objects in an encoded image.
	Detect(ctx context.Context, image []byte) ([]Detection, error)

	// Caption describes an encoded image in one sentence.
	Caption(ctx context.Context, image []byte) (string, error)

	// OCR extracts text from an encoded image.
	OCR(ctx context.Context, image []byte) (*OCRText, error)

	// Transcribe converts S16LE mono PCM to text.
	Transcribe(ctx context.Context, pcm []byte, sampleRate int) (string, error)

	// Chat generates an assistant reply.
	Chat(ctx context.Context, req *ChatRequest) (string, error)

	// Synthesize renders an utterance as audio.
	Synthesize(ctx context.Context, text string) (*Clip, error)

	// Health probes provider reachability.
	Health(ctx context.Context) error

	// Name identifies the provider in logs and errors.
	Name() string

	// Close releases underlying connections.
	Close() error
}
