package turn

import (
	"strings"
	"unicode"
)

// Intent is what the wearer asked for. Command intents short-circuit
// the dialogue backend; IntentChat is the fall-through.
type Intent int

const (
	// IntentChat forwards the transcript to the dialogue capability.
	IntentChat Intent = iota

	// IntentDescribe asks for a fresh scene description.
	IntentDescribe

	// IntentRead asks for the text in view to be read aloud.
	IntentRead

	// IntentStop ends the current turn silently.
	IntentStop

	// IntentRepeat replays the last spoken utterance.
	IntentRepeat

	// IntentHelp lists the available commands.
	IntentHelp
)

func (i Intent) String() string {
	switch i {
	case IntentChat:
		return "chat"
	case IntentDescribe:
		return "describe"
	case IntentRead:
		return "read"
	case IntentStop:
		return "stop"
	case IntentRepeat:
		return "repeat"
	case IntentHelp:
		return "help"
	default:
		return "unknown"
	}
}

// Ordered so that overlap resolves predictably; exact phrases are
// checked before the verb-led prefixes below.
var phraseTable = []struct {
	intent  Intent
	phrases []string
}{
	{IntentStop, []string{
		"stop", "stop talking", "be quiet", "quiet", "shut up",
		"never mind", "nevermind", "cancel", "forget it",
	}},
	{IntentRepeat, []string{
		"repeat", "repeat that", "say that again", "say it again",
		"what did you say", "come again", "pardon",
	}},
	{IntentHelp, []string{
		"help", "what can you do", "what can i say", "what can i ask",
	}},
	{IntentRead, []string{
		"read", "read this", "read that", "read it", "read it to me",
		"read this to me", "whats written", "whats written here",
		"what does it say", "what does this say", "what does that say",
	}},
	{IntentDescribe, []string{
		"describe", "describe the scene", "describe this",
		"what do you see", "what can you see", "what do we have here",
		"whats in front of me", "whats around me", "whats there",
		"look around", "look", "where am i",
	}},
}

// Leading filler stripped before matching; "hey iris describe" and
// "describe" parse the same.
var fillers = map[string]bool{
	"hey": true, "ok": true, "okay": true, "iris": true,
	"um": true, "uh": true, "so": true,
}

// ParseIntent classifies a transcript. Unmatched transcripts fall
// through to IntentChat and go to the dialogue backend verbatim.
func ParseIntent(transcript string) Intent {
	norm := normalize(transcript)
	if norm == "" {
		return IntentChat
	}

	for _, row := range phraseTable {
		for _, p := range row.phrases {
			if norm == p {
				return row.intent
			}
		}
	}

	// Verb-led commands with a trailing object ("read the sign",
	// "describe the room for me") still count.
	switch {
	case strings.HasPrefix(norm, "read "):
		return IntentRead
	case strings.HasPrefix(norm, "describe "):
		return IntentDescribe
	}
	return IntentChat
}

// normalize lowercases, strips punctuation, drops politeness and
// leading filler so phrase matching sees only the command words.
func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			b.WriteRune(r)
		}
	}

	fields := strings.Fields(b.String())
	kept := fields[:0]
	leading := true
	for _, f := range fields {
		if f == "please" {
			continue
		}
		if leading && fillers[f] {
			continue
		}
		leading = false
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
