package turn

// State is the conversational phase of the device. The coordinator's
// run loop is the only writer; everyone else gets snapshot reads.
type State int32

const (
	// Idle means nothing is in flight. Proactive scene descriptions are
	// spoken only from here.
	Idle State = iota

	// Listening means the wearer is talking and the segmenter is
	// collecting their utterance.
	Listening

	// Thinking means a turn owns the slot: transcription, intent
	// parsing and the backend round trip are in flight.
	Thinking

	// Speaking means synthesized audio is playing on the sink.
	Speaking
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Thinking:
		return "thinking"
	case Speaking:
		return "speaking"
	default:
		return "unknown"
	}
}
