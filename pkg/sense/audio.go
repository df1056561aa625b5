package sense

import "time"

// Audio format of the microphone path. The head unit ships 16 kHz mono
// S16LE; everything downstream assumes it.
const (
	SampleRate     = 16000
	BytesPerSample = 2
	Channels       = 1
)

// AudioSegment is one voice-activity-gated utterance from the microphone.
type AudioSegment struct {
	Seq        uint64
	Start      time.Time
	PCM        []byte // S16LE mono
	SampleRate int
}

// Duration returns the playback length of the segment.
func (s *AudioSegment) Duration() time.Duration {
	if s == nil || s.SampleRate <= 0 {
		return 0
	}
	samples := len(s.PCM) / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// Empty reports whether the segment carries no audio.
func (s *AudioSegment) Empty() bool {
	return s == nil || len(s.PCM) < BytesPerSample
}
