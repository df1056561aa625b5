package sense

import "context"

// FrameSource supplies encoded camera frames on demand. Implementations own
// the sequence counter; frames from one source have strictly increasing Seq.
type FrameSource interface {
	// CaptureFrame returns the most recent frame, blocking up to the
	// context deadline when none is available yet.
	CaptureFrame(ctx context.Context) (*Frame, error)

	// Close releases the underlying device or connection.
	Close() error
}

// AudioChunkSource delivers raw microphone PCM (S16LE mono, SampleRate) in
// capture-order chunks. The channel closes when the source shuts down.
type AudioChunkSource interface {
	Chunks() <-chan []byte
	Close() error
}
