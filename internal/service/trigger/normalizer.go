package trigger

import (
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/guardian-engine/internal/domain/alert"
)

// requiredPresses is the button pattern length: exactly three presses.
const requiredPresses = 3

// Normalizer converts heterogeneous raw inputs into canonical TriggerEvents.
// Button presses are aggregated per user; voice detections are checked
// against the confidence floor.
type Normalizer struct {
	// window is the period within which three presses count as a trigger.
	window time.Duration
	// minConfidence is the floor below which voice inputs are rejected.
	minConfidence float64
	// mu protects the press buffers.
	mu sync.Mutex
	// presses holds recent press timestamps per user, newest last.
	presses map[string][]time.Time
}

// NewNormalizer creates a normalizer with the given press window and
// voice confidence floor.
func NewNormalizer(window time.Duration, minConfidence float64) *Normalizer {
	return &Normalizer{
		window:        window,
		minConfidence: minConfidence,
		presses:       make(map[string][]time.Time),
	}
}

// Press records one button press for the user. It returns a TriggerEvent and
// true when the press completes the triple-press pattern within the window.
// Fewer or slower presses are normal non-triggering use, not an error.
func (n *Normalizer) Press(userID string, pressedAt time.Time) (alert.TriggerEvent, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	buffer := append(n.presses[userID], pressedAt)

	// Age out presses that can no longer be part of the pattern.
	cutoff := pressedAt.Add(-n.window)
	for len(buffer) > 0 && buffer[0].Before(cutoff) {
		buffer = buffer[1:]
	}

	if len(buffer) < requiredPresses {
		n.presses[userID] = buffer

		return alert.TriggerEvent{}, false
	}

	// Pattern complete; the buffer resets so a fourth press starts over.
	delete(n.presses, userID)

	return alert.TriggerEvent{
		Source:    alert.SourceButtonTriple,
		Timestamp: pressedAt,
	}, true
}

// NormalizeVoice converts a voice-phrase detection into a TriggerEvent.
// Detections below the confidence floor fail with ErrInvalidTriggerInput to
// avoid spurious activations.
func (n *Normalizer) NormalizeVoice(detectedAt time.Time, confidence float64) (alert.TriggerEvent, error) {
	if confidence < n.minConfidence {
		return alert.TriggerEvent{}, fmt.Errorf(
			"%w: confidence %.2f below floor %.2f",
			alert.ErrInvalidTriggerInput, confidence, n.minConfidence,
		)
	}

	return alert.TriggerEvent{
		Source:     alert.SourceVoicePhrase,
		Timestamp:  detectedAt,
		Confidence: confidence,
	}, nil
}
