package trigger

import "strings"

// MaxTranscriptLength is the longest transcript the detector accepts.
const MaxTranscriptLength = 10000

// confidencePerKeyword is the weight each matched keyword contributes,
// capped at 1.0 overall.
const confidencePerKeyword = 0.3

// emergencyKeywords are the phrases that mark a transcript as a possible
// distress signal. Matching is case-insensitive substring search.
//
//nolint:gochecknoglobals // Immutable keyword list shared by every detection.
var emergencyKeywords = []string{
	"help",
	"emergency",
	"danger",
	"attacked",
	"threat",
	"scared",
	"in trouble",
	"omi help",
}

// Detection describes an emergency found in a transcript.
type Detection struct {
	// Confidence grows with the number of matched keywords, capped at 1.0.
	Confidence float64
	// Keywords lists the phrases that matched.
	Keywords []string
}

// DetectEmergency scans a transcript for emergency keywords. It returns the
// detection and true when at least one keyword matched; a transcript with no
// matches produces no trigger at all.
func DetectEmergency(transcript string) (Detection, bool) {
	normalized := strings.ToLower(transcript)

	var matched []string

	for _, keyword := range emergencyKeywords {
		if strings.Contains(normalized, keyword) {
			matched = append(matched, keyword)
		}
	}

	if len(matched) == 0 {
		return Detection{}, false
	}

	confidence := confidencePerKeyword * float64(len(matched))
	if confidence > 1.0 {
		confidence = 1.0
	}

	return Detection{
		Confidence: confidence,
		Keywords:   matched,
	}, true
}
