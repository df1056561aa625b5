package dispatch

import (
	"time"

	"github.com/google/uuid"

	"github.com/irisware/go-iris/pkg/capability"
	"github.com/irisware/go-iris/pkg/sense"
)

// Kind discriminates what a sensing event carries.
type Kind string

const (
	// KindVision events carry a gated camera frame.
	KindVision Kind = "vision"

	// KindVoice events carry a voice-activity-gated audio segment or a
	// conversational payload derived from one.
	KindVoice Kind = "voice"
)

// Event is one unit of perception work: a gated frame or voice segment
// plus the capability set to resolve for it. Events are created when the
// acquisition gate or the segmenter accepts input and are dead once every
// capability has produced its result.
type Event struct {
	ID        string
	Kind      Kind
	CreatedAt time.Time

	// Payload, by kind. Exactly one of these is set for sensor events;
	// Chat and Utterance carry the conversational single-shot paths.
	Frame     *sense.Frame
	Segment   *sense.AudioSegment
	Chat      *capability.ChatRequest
	Utterance string

	// Caps is the capability set to fan out.
	Caps []capability.Capability

	// ReadIntent hints that the user asked to read text; the composer
	// prioritizes OCR output over the caption when set.
	ReadIntent bool
}

// NewVisionEvent creates an event for a gated frame. With no explicit
// capabilities it requests the standard vision set.
func NewVisionEvent(f *sense.Frame, caps ...capability.Capability) *Event {
	if len(caps) == 0 {
		caps = capability.VisionCaps
	}
	return &Event{
		ID:        uuid.NewString(),
		Kind:      KindVision,
		CreatedAt: time.Now(),
		Frame:     f,
		Caps:      caps,
	}
}

// NewVoiceEvent creates an ASR event for a voice segment.
func NewVoiceEvent(seg *sense.AudioSegment) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      KindVoice,
		CreatedAt: time.Now(),
		Segment:   seg,
		Caps:      []capability.Capability{capability.ASR},
	}
}

// newChatEvent creates a single-shot dialogue event.
func newChatEvent(req *capability.ChatRequest) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      KindVoice,
		CreatedAt: time.Now(),
		Chat:      req,
		Caps:      []capability.Capability{capability.Dialogue},
	}
}

// newSpeechEvent creates a single-shot synthesis event.
func newSpeechEvent(text string) *Event {
	return &Event{
		ID:        uuid.NewString(),
		Kind:      KindVoice,
		CreatedAt: time.Now(),
		Utterance: text,
		Caps:      []capability.Capability{capability.Speech},
	}
}
