package alert

import "time"

// TriggerSource identifies how a distress trigger was produced.
type TriggerSource string

const (
	// SourceButtonTriple is a triple button press within the configured window.
	SourceButtonTriple TriggerSource = "button_triple"
	// SourceVoicePhrase is a detected emergency voice phrase.
	SourceVoicePhrase TriggerSource = "voice_phrase"
)

// TriggerEvent is the canonical form of a distress trigger.
// It is immutable once created and consumed by the confirmation state
// machine; only an audit record outlives it.
type TriggerEvent struct {
	// Source is the input kind the trigger was normalized from.
	Source TriggerSource
	// Timestamp is when the triggering input happened (monotonic per source).
	Timestamp time.Time
	// Confidence is the recognition confidence for voice triggers.
	// Always zero for button triggers.
	Confidence float64
}
