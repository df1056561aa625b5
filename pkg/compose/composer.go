// Package compose turns a sensing event's result set into one spoken
// utterance.
//
// Composition is deterministic and total: the same result set always
// yields the same text, and every result set yields something: partial
// failures are omitted, and a fully failed event falls back to a fixed
// apology rather than silence. Transcripts and dialogue replies never
// pass through here; they are conversational and the coordinator routes
// them directly.
package compose

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/irisware/go-iris/pkg/capability"
)

// FallbackUtterance is spoken when every capability for an event
// failed. The user always hears something.
const FallbackUtterance = "I could not process that, please try again"

// Source names what dominated a composed utterance.
type Source string

const (
	// SourceText means recognized text won the priority rules.
	SourceText Source = "text"

	// SourceScene means the caption/detection merge produced the text.
	SourceScene Source = "scene"

	// SourceFallback means every capability failed.
	SourceFallback Source = "fallback"
)

// Utterance is the composed spoken response for one sensing event.
type Utterance struct {
	EventID string `json:"event_id"`
	Text    string `json:"text"`
	Source  Source `json:"source"`
}

// Composer merges inference results into utterances.
type Composer struct {
	cfg Config
	log *slog.Logger
}

// NewComposer creates a composer.
func NewComposer(opts ...Option) (*Composer, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("compose: %w", err)
	}
	return &Composer{
		cfg: *cfg,
		log: cfg.Logger.With("component", "compose"),
	}, nil
}

// Compose merges the result set for one event into a single utterance.
// readIntent marks that the user asked to read text, which lowers the
// OCR coverage bar. Results may arrive in any order; failed results are
// skipped. Pure function of its inputs.
func (c *Composer) Compose(results []capability.Result, readIntent bool) Utterance {
	var (
		eventID    string
		ocr        *capability.OCRText
		caption    string
		detections []capability.Detection
	)
	for _, r := range results {
		if eventID == "" {
			eventID = r.EventID
		}
		if !r.OK() {
			continue
		}
		switch r.Capability {
		case capability.OCR:
			if r.OCR != nil && strings.TrimSpace(r.OCR.Text) != "" {
				ocr = r.OCR
			}
		case capability.Caption:
			caption = strings.TrimSpace(r.Caption)
		case capability.CapDetection:
			detections = r.Detections
		}
	}

	// Recognized text wins when it dominates the frame outright, or
	// when the user asked for it and there is enough of it.
	if ocr != nil &&
		(ocr.Coverage >= c.cfg.DominantCoverage ||
			(readIntent && ocr.Coverage >= c.cfg.MinCoverage)) {
		return c.utter(eventID, "It says: "+flatten(ocr.Text), SourceText)
	}

	if scene := c.scene(caption, detections); scene != "" {
		return c.utter(eventID, scene, SourceScene)
	}

	// Text that did not qualify for priority is still better than an
	// apology when it is all we have.
	if ocr != nil {
		return c.utter(eventID, "It says: "+flatten(ocr.Text), SourceText)
	}

	c.log.Debug("composed fallback", "event", eventID)
	return Utterance{EventID: eventID, Text: FallbackUtterance, Source: SourceFallback}
}

func (c *Composer) utter(eventID, text string, source Source) Utterance {
	c.log.Debug("composed utterance",
		"event", eventID,
		"source", source,
		"chars", len(text))
	return Utterance{EventID: eventID, Text: sentence(text), Source: source}
}

// scene merges the caption and salient detections into one sentence.
// The caption is the backbone; detections it already mentions are
// dropped rather than repeated.
func (c *Composer) scene(caption string, detections []capability.Detection) string {
	extras := c.salient(caption, detections)

	switch {
	case caption != "" && len(extras) > 0:
		return sentence(caption) + " I can also see " + joinLabels(extras)
	case caption != "":
		return caption
	case len(extras) > 0:
		return "I can see " + joinLabels(extras)
	default:
		return ""
	}
}

// salient filters detections to the confident, deduplicated labels not
// already implied by the caption, ordered best-first for a stable text.
func (c *Composer) salient(caption string, detections []capability.Detection) []string {
	lower := strings.ToLower(caption)

	kept := make([]capability.Detection, 0, len(detections))
	seen := make(map[string]bool)
	for _, d := range detections {
		label := strings.ToLower(strings.TrimSpace(d.Label))
		if label == "" || d.Confidence < c.cfg.MinConfidence {
			continue
		}
		if seen[label] || strings.Contains(lower, label) {
			continue
		}
		seen[label] = true
		kept = append(kept, capability.Detection{Label: label, Confidence: d.Confidence})
	}

	sort.Slice(kept, func(i, j int) bool {
		if kept[i].Confidence != kept[j].Confidence {
			return kept[i].Confidence > kept[j].Confidence
		}
		return kept[i].Label < kept[j].Label
	})
	if len(kept) > c.cfg.MaxDetections {
		kept = kept[:c.cfg.MaxDetections]
	}

	labels := make([]string, len(kept))
	for i, d := range kept {
		labels[i] = article(d.Label) + " " + d.Label
	}
	return labels
}

// joinLabels renders "a person", "a person and a car",
// "a person, a car and a dog".
func joinLabels(labels []string) string {
	switch len(labels) {
	case 0:
		return ""
	case 1:
		return labels[0]
	default:
		return strings.Join(labels[:len(labels)-1], ", ") + " and " + labels[len(labels)-1]
	}
}

// article picks the indefinite article for a label.
func article(label string) string {
	if label == "" {
		return "a"
	}
	switch label[0] {
	case 'a', 'e', 'i', 'o', 'u':
		return "an"
	}
	return "a"
}

// flatten collapses OCR line breaks and runs of whitespace so the text
// reads as one spoken string.
func flatten(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// sentence ensures the fragment ends with terminal punctuation.
func sentence(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return s
	}
	switch s[len(s)-1] {
	case '.', '!', '?':
		return s
	}
	return s + "."
}
